package command

// Response is what a handler sends back. Each text goes out as its own
// message; Content, when set, goes out as one event after the texts.
type Response struct {
	Texts   []string
	Content map[string]any
}

// Text builds a response of one or more plain messages
func Text(texts ...string) Response {
	return Response{Texts: texts}
}

// Content builds a response carrying one structured message event
func Content(content map[string]any) Response {
	return Response{Content: content}
}

// Empty reports whether there is nothing to send
func (r Response) Empty() bool {
	return len(r.Texts) == 0 && r.Content == nil
}
