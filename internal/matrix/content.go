package matrix

// HTMLFormat is the format value for HTML formatted bodies
const HTMLFormat = "org.matrix.custom.html"

// TextContent builds a plain m.text message
func TextContent(body string) map[string]any {
	return map[string]any{
		"msgtype": MsgText,
		"body":    body,
	}
}

// NoticeContent builds a plain m.notice message
func NoticeContent(body string) map[string]any {
	return map[string]any{
		"msgtype": MsgNotice,
		"body":    body,
	}
}

// HTMLContent builds a message of msgtype with an HTML formatted body and
// its plain text fallback
func HTMLContent(msgtype, html, plain string) map[string]any {
	return map[string]any{
		"msgtype":        msgtype,
		"body":           plain,
		"format":         HTMLFormat,
		"formatted_body": html,
	}
}
