// Package b64 converts text to and from base64.
package b64

import (
	"context"
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/internal/plugin"
)

// Name is the plugin and command name
const Name = "b64"

// Plugin has no state
type Plugin struct{}

func New(env plugin.Env) (*Plugin, error) {
	return &Plugin{}, nil
}

func (p *Plugin) Name() string { return Name }

// Commands exposes "b64 encode" and "b64 decode"
func (p *Plugin) Commands() []*command.Table {
	return []*command.Table{
		command.NewTable(Name, "Encode and decode base64.").MustBind(
			command.Binding{
				Path:     []string{"encode"},
				Params:   []command.Param{{Name: "text"}},
				Variadic: true,
				Help:     "Encode as base64.",
				Handler:  p.cmdEncode,
			},
			command.Binding{
				Path:    []string{"decode"},
				Params:  []command.Param{{Name: "text"}},
				Help:    "Decode from base64.",
				Handler: p.cmdDecode,
			},
		),
	}
}

func (p *Plugin) cmdEncode(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	text := strings.Join(inv.Strings(), " ")
	return command.Text(base64.StdEncoding.EncodeToString([]byte(text))), nil
}

func (p *Plugin) cmdDecode(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	value := inv.Arg(0).String()
	out, ok := decode(value)
	if !ok {
		return command.Text("Cannot convert " + value), nil
	}
	return command.Text(out), nil
}

// decode accepts padded and unpadded input in both alphabets. Output that is
// not valid UTF-8 is refused since it cannot be sent as a message body.
func decode(s string) (string, bool) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if !utf8.Valid(b) {
			return "", false
		}
		return string(b), true
	}
	return "", false
}
