package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keepmind9/neb/internal/matrix"
)

// recorder captures the invocation it was called with
type recorder struct {
	calls []*Invocation
}

func (r *recorder) handler(reply string) Handler {
	return func(ctx context.Context, inv *Invocation) (Response, error) {
		r.calls = append(r.calls, inv)
		return Text(reply), nil
	}
}

func (r *recorder) last(t *testing.T) *Invocation {
	t.Helper()
	require.NotEmpty(t, r.calls)
	return r.calls[len(r.calls)-1]
}

func message(body string) matrix.Event {
	return matrix.Event{
		ID:      "$1",
		Type:    matrix.EventMessage,
		RoomID:  "!room:example.org",
		Sender:  "@alice:example.org",
		Content: matrix.TextContent(body),
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"blank", "   ", nil},
		{"plain words", "track alpha beta", []string{"track", "alpha", "beta"}},
		{"extra spaces", "  track   alpha ", []string{"track", "alpha"}},
		{"double quotes", `say "hello world"`, []string{"say", "hello world"}},
		{"single quotes", `say 'it "works"'`, []string{"say", `it "works"`}},
		{"escaped quote", `say "a \"b\""`, []string{"say", `a "b"`}},
		{"escaped space", `a\ b c`, []string{"a b", "c"}},
		{"empty quoted arg", `set ""`, []string{"set", ""}},
		{"room alias survives", "track #ops:example.org", []string{"track", "#ops:example.org"}},
		{"room alias mid line", "track #ops:example.org now", []string{"track", "#ops:example.org", "now"}},
		{"quoted alias and words", `pair "#ops:example.org" 'b c'`, []string{"pair", "#ops:example.org", "b c"}},
		{"unbalanced quote falls back", `say "oops`, []string{`say "oops`}},
		{"trailing backslash falls back", `say oops\`, []string{`say oops\`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}

func TestResolve_ProgressiveMatching(t *testing.T) {
	rec := &recorder{}
	p := NewTable("p", "p does things").MustBind(
		Binding{Path: []string{"track"}, Variadic: true, Handler: rec.handler("track")},
		Binding{Path: []string{"track", "list"}, Handler: rec.handler("track list")},
	)

	resp, err := Run(context.Background(), p, message("!p track alpha beta"), "track alpha beta")
	require.NoError(t, err)
	assert.Equal(t, []string{"track"}, resp.Texts)

	inv := rec.last(t)
	assert.Equal(t, []string{"track"}, inv.Path)
	assert.Equal(t, []string{"alpha", "beta"}, inv.Strings())
	assert.Equal(t, "track alpha beta", inv.Raw)

	resp, err = Run(context.Background(), p, message("!p track list"), "track list")
	require.NoError(t, err)
	assert.Equal(t, []string{"track list"}, resp.Texts, "most specific path wins")
	assert.Empty(t, rec.last(t).Args)
}

func TestResolve_Deterministic(t *testing.T) {
	p := NewTable("p", "").MustBind(
		Binding{Path: []string{"a"}, Variadic: true, Handler: (&recorder{}).handler("a")},
		Binding{Path: []string{"a", "b"}, Variadic: true, Handler: (&recorder{}).handler("a b")},
		Binding{Variadic: true, Handler: (&recorder{}).handler("root")},
	)
	tokens := []string{"a", "b", "c"}

	first, firstArgs, err := Resolve(p, tokens)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		b, args, err := Resolve(p, tokens)
		require.NoError(t, err)
		assert.Same(t, first, b)
		assert.Equal(t, firstArgs, args)
	}
	assert.Equal(t, []string{"a", "b"}, first.Path)
	assert.Equal(t, []Arg{Value("c")}, firstArgs)
}

func TestResolve_OptionalTrailingArgIsAbsent(t *testing.T) {
	rec := &recorder{}
	p := NewTable("time", "").MustBind(Binding{
		Path:    []string{"decode"},
		Params:  []Param{{Name: "timestamp"}, {Name: "zone", Optional: true}},
		Handler: rec.handler("ok"),
	})

	_, err := Run(context.Background(), p, message(""), "decode 1700000000")
	require.NoError(t, err)

	inv := rec.last(t)
	require.Len(t, inv.Args, 2)
	assert.Equal(t, Value("1700000000"), inv.Arg(0))
	assert.False(t, inv.Arg(1).Present())
	assert.Equal(t, Absent, inv.Arg(1))
	assert.Equal(t, "UTC", inv.Arg(1).Or("UTC"))

	_, err = Run(context.Background(), p, message(""), `decode 1700000000 ""`)
	require.NoError(t, err)
	inv = rec.last(t)
	assert.True(t, inv.Arg(1).Present(), "an empty string is not absent")
	assert.Equal(t, "", inv.Arg(1).String())
}

func TestResolve_ArgumentMismatch(t *testing.T) {
	p := NewTable("time", "").MustBind(Binding{
		Path:    []string{"decode"},
		Params:  []Param{{Name: "timestamp"}, {Name: "zone", Optional: true}},
		Help:    "Decode a unix timestamp",
		Handler: (&recorder{}).handler("ok"),
	})

	for _, raw := range []string{"decode", "decode 1 UTC extra"} {
		t.Run(raw, func(t *testing.T) {
			_, err := Run(context.Background(), p, message(""), raw)

			var argErr *ArgumentError
			require.True(t, errors.As(err, &argErr))
			assert.Contains(t, argErr.UserMessage(), "time decode <timestamp> [zone]")
			assert.Contains(t, argErr.UserMessage(), "Decode a unix timestamp")

			var userErr UserError
			assert.True(t, errors.As(err, &userErr))
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	p := NewTable("p", "p does things").MustBind(
		Binding{Path: []string{"track"}, Help: "Track a project", Handler: (&recorder{}).handler("ok")},
	)

	for _, raw := range []string{"", "untrack alpha"} {
		_, err := Run(context.Background(), p, message(""), raw)

		var nf *CommandNotFoundError
		require.True(t, errors.As(err, &nf), raw)
		assert.Contains(t, nf.UserMessage(), "p does things")
		assert.Contains(t, nf.UserMessage(), "p track : Track a project")
	}
}

func TestResolve_NotFoundWithoutHelp(t *testing.T) {
	p := NewTable("p", "")
	_, err := Run(context.Background(), p, message(""), "x")

	var nf *CommandNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, UnknownCommandText, nf.UserMessage())
}

func TestTable_BindValidation(t *testing.T) {
	h := (&recorder{}).handler("ok")
	tests := []struct {
		name    string
		binding Binding
	}{
		{"nil handler", Binding{Path: []string{"a"}}},
		{"underscore token", Binding{Path: []string{"a_b"}, Handler: h}},
		{"empty token", Binding{Path: []string{""}, Handler: h}},
		{"required after optional", Binding{Params: []Param{{Name: "a", Optional: true}, {Name: "b"}}, Handler: h}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, NewTable("p", "").Bind(tt.binding))
		})
	}

	table := NewTable("p", "")
	require.NoError(t, table.Bind(Binding{Path: []string{"a"}, Handler: h}))
	assert.Error(t, table.Bind(Binding{Path: []string{"a"}, Handler: h}), "duplicate path")
	assert.Panics(t, func() { table.MustBind(Binding{Path: []string{"a"}, Handler: h}) })
}

func TestRouter_HelpListsAllCommands(t *testing.T) {
	r := NewRouter("!")
	require.NoError(t, r.Register(NewTable("foo", "Foo things")))
	require.NoError(t, r.Register(NewTable("bar", "Bar things")))

	resp, err := r.Dispatch(context.Background(), message("!help"))
	require.NoError(t, err)
	require.Len(t, resp.Texts, 1)
	assert.Contains(t, resp.Texts[0], "bar")
	assert.Contains(t, resp.Texts[0], "foo")

	resp, err = r.Dispatch(context.Background(), message("!help foo"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo things"}, resp.Texts)

	resp, err = r.Dispatch(context.Background(), message("!help nope"))
	require.NoError(t, err)
	assert.Contains(t, resp.Texts[0], "Commands: bar, foo")
}

func TestRouter_Register(t *testing.T) {
	r := NewRouter("")
	assert.Equal(t, "!", r.Prefix())

	require.NoError(t, r.Register(NewTable("b64", "")))
	assert.ErrorIs(t, r.Register(NewTable("b64", "")), ErrDuplicateCommand)
	assert.ErrorIs(t, r.Register(NewTable("help", "")), ErrDuplicateCommand)
	assert.Error(t, r.Register(NewTable("two words", "")))
	assert.Error(t, r.Register(NewTable("", "")))
	assert.Equal(t, []string{"b64"}, r.Names())
}

func TestRouter_Dispatch(t *testing.T) {
	rec := &recorder{}
	r := NewRouter("!")
	require.NoError(t, r.Register(NewTable("b64", "").MustBind(
		Binding{Path: []string{"encode"}, Variadic: true, Handler: rec.handler("encoded")},
	)))

	resp, err := r.Dispatch(context.Background(), message("!b64 encode hello there"))
	require.NoError(t, err)
	assert.Equal(t, []string{"encoded"}, resp.Texts)
	inv := rec.last(t)
	assert.Equal(t, "b64", inv.Command)
	assert.Equal(t, "@alice:example.org", inv.Sender())
	assert.Equal(t, "!room:example.org", inv.RoomID())

	_, err = r.Dispatch(context.Background(), message("!nope"))
	var nf *CommandNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Contains(t, nf.UserMessage(), "!help")
}

func TestRouter_SplitAndIsCommand(t *testing.T) {
	r := NewRouter("!")

	assert.True(t, r.IsCommand("!b64 encode x"))
	assert.False(t, r.IsCommand("!"))
	assert.False(t, r.IsCommand("b64 encode"))

	name, raw := r.Split("!b64   encode  x ")
	assert.Equal(t, "b64", name)
	assert.Equal(t, "encode  x", raw)

	name, raw = r.Split("!help")
	assert.Equal(t, "help", name)
	assert.Equal(t, "", raw)
}

func TestBinding_Usage(t *testing.T) {
	b := Binding{
		Path:     []string{"template", "set"},
		Params:   []Param{{Name: "name"}, {Name: "body", Optional: true}},
		Variadic: true,
	}
	assert.Equal(t, "prometheus template set <name> [body] ...", b.Usage("prometheus"))
}
