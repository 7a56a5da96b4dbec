// Package timeconv converts between dates and unix timestamps. It is
// registered as the "time" plugin.
package timeconv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	// zones must resolve on hosts without a zoneinfo database
	_ "time/tzdata"

	"github.com/araddon/dateparse"
	"github.com/dustin/go-humanize"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/internal/plugin"
)

// Name is the plugin and command name
const Name = "time"

const (
	dateLayout   = "2006-01-02 15:04:05"
	millisLayout = "2006-01-02 15:04:05.000000"
)

// Plugin converts times. now is replaceable for tests.
type Plugin struct {
	now func() time.Time
}

func New(env plugin.Env) (*Plugin, error) {
	return &Plugin{now: time.Now}, nil
}

func (p *Plugin) Name() string { return Name }

// Commands exposes "time encode" and "time decode"
func (p *Plugin) Commands() []*command.Table {
	return []*command.Table{
		command.NewTable(Name, "Encode and decode unix timestamps.").MustBind(
			command.Binding{
				Path:     []string{"encode"},
				Params:   []command.Param{{Name: "date"}},
				Variadic: true,
				Help:     "Encode <date> as a unix timestamp. Accepts 'now' and most common date formats.",
				Handler:  p.cmdEncode,
			},
			command.Binding{
				Path:    []string{"decode"},
				Params:  []command.Param{{Name: "timestamp"}, {Name: "zone", Optional: true}},
				Help:    "Decode a unix timestamp in seconds or milliseconds.",
				Handler: p.cmdDecode,
			},
		),
	}
}

func (p *Plugin) cmdEncode(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	// the raw text keeps spacing the tokenizer would collapse
	date := rawArgs(inv.Raw)
	if strings.EqualFold(date, "now") {
		now := p.now().UTC()
		return command.Text(fmt.Sprintf("Parsed as %s\n%d", now.Format(dateLayout), now.Unix())), nil
	}

	t, ok := parseDate(date)
	if !ok {
		return command.Text(fmt.Sprintf("Failed to parse '%s'", date)), nil
	}
	return command.Text(fmt.Sprintf("Parsed as %s\n%d", t.UTC().Format(dateLayout), t.Unix())), nil
}

func (p *Plugin) cmdDecode(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	raw := inv.Arg(0).String()
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return command.Text(fmt.Sprintf("Failed to parse '%s'", raw)), nil
	}

	zone := inv.Arg(1).Or("UTC")
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return command.Text(fmt.Sprintf("Unknown time zone '%s'", zone)), nil
	}

	// more than 10 digits cannot be seconds before the year 2286
	var t time.Time
	layout := dateLayout
	if len(strings.TrimPrefix(raw, "-")) > 10 {
		t = time.UnixMilli(ts)
		layout = millisLayout
	} else {
		t = time.Unix(ts, 0)
	}
	t = t.In(loc)

	rel := humanize.RelTime(t, p.now(), "ago", "from now")
	return command.Text(fmt.Sprintf("%s %s\n%s", t.Format(layout), t.Format("MST"), rel)), nil
}

// parseDate reads a free-form date. Dates without a zone are taken as UTC;
// ambiguous numeric dates are month first.
func parseDate(s string) (time.Time, bool) {
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// rawArgs drops the subcommand word from the raw command text
func rawArgs(raw string) string {
	s := strings.TrimLeftFunc(raw, unicode.IsSpace)
	idx := strings.IndexFunc(s, unicode.IsSpace)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(s[idx:])
}
