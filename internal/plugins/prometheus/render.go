package prometheus

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// DefaultTemplate renders one alert as markdown
const DefaultTemplate = `**[{{upper .Status}}] {{index .Labels "alertname"}}**{{with index .Annotations "summary"}}: {{.}}{{end}}
{{with index .Annotations "description"}}{{.}}
{{end}}{{with .GeneratorURL}}[Source]({{.}}){{end}}`

// raw HTML in alert text is escaped, not passed through
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Alert is the template data for one alert
type Alert struct {
	Status       string
	Labels       map[string]string
	Annotations  map[string]string
	StartsAt     string
	EndsAt       string
	GeneratorURL string
	// Raw is the whole alert object, reachable with {{field .Raw "path"}}
	Raw gjson.Result
}

// extractAlerts returns the alerts of an Alertmanager payload. The legacy
// "alert" key is accepted too.
func extractAlerts(body []byte) []Alert {
	list := gjson.GetBytes(body, "alerts")
	if !list.Exists() {
		list = gjson.GetBytes(body, "alert")
	}
	if !list.IsArray() {
		return nil
	}

	var alerts []Alert
	list.ForEach(func(_, a gjson.Result) bool {
		if !a.IsObject() {
			return true
		}
		alerts = append(alerts, Alert{
			Status:       a.Get("status").String(),
			Labels:       stringMap(a.Get("labels")),
			Annotations:  stringMap(a.Get("annotations")),
			StartsAt:     a.Get("startsAt").String(),
			EndsAt:       a.Get("endsAt").String(),
			GeneratorURL: a.Get("generatorURL").String(),
			Raw:          a,
		})
		return true
	})
	return alerts
}

func stringMap(r gjson.Result) map[string]string {
	m := make(map[string]string)
	r.ForEach(func(k, v gjson.Result) bool {
		m[k.String()] = v.String()
		return true
	})
	return m
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"field": func(r gjson.Result, path string) string {
		return r.Get(path).String()
	},
	// ago renders an RFC 3339 timestamp relative to now
	"ago": func(ts string) string {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return ts
		}
		return humanize.Time(t)
	},
}

func parseTemplate(text string) (*template.Template, error) {
	return template.New("alert").Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
}

// render returns the markdown source and its HTML rendering
func render(tmpl *template.Template, alert Alert) (string, string, error) {
	var src bytes.Buffer
	if err := tmpl.Execute(&src, alert); err != nil {
		return "", "", fmt.Errorf("failed to execute template: %w", err)
	}
	plain := strings.TrimSpace(src.String())

	var out bytes.Buffer
	if err := markdown.Convert([]byte(plain), &out); err != nil {
		return "", "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return plain, strings.TrimSpace(out.String()), nil
}
