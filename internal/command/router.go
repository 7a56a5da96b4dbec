package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/keepmind9/neb/internal/matrix"
	"github.com/keepmind9/neb/pkg/constants"
)

// ErrDuplicateCommand is returned when two tables share a name
var ErrDuplicateCommand = errors.New("duplicate command")

// Resolve matches tokens against t, most specific path first, and binds the
// leftover tokens to the winning binding's params
func Resolve(t *Table, tokens []string) (*Binding, []Arg, error) {
	n := len(tokens)
	for index := 0; index <= n; index++ {
		b, ok := t.bindings[pathKey(tokens[:n-index])]
		if !ok {
			continue
		}
		args, err := bindArgs(t.name, b, tokens[n-index:])
		if err != nil {
			return nil, nil, err
		}
		return b, args, nil
	}
	return nil, nil, &CommandNotFoundError{Command: t.name, Help: t.FullHelp()}
}

func bindArgs(name string, b *Binding, rest []string) ([]Arg, error) {
	if len(rest) < b.required() || (len(rest) > len(b.Params) && !b.Variadic) {
		return nil, &ArgumentError{
			Command: strings.TrimSpace(name + " " + strings.Join(b.Path, " ")),
			Usage:   usageWithHelp(name, b),
			Got:     len(rest),
		}
	}

	args := make([]Arg, 0, len(rest))
	for i := range b.Params {
		if i < len(rest) {
			args = append(args, Value(rest[i]))
		} else {
			args = append(args, Absent)
		}
	}
	if len(rest) > len(b.Params) {
		for _, v := range rest[len(b.Params):] {
			args = append(args, Value(v))
		}
	}
	return args, nil
}

func usageWithHelp(name string, b *Binding) string {
	if b.Help == "" {
		return b.Usage(name)
	}
	return b.Usage(name) + " : " + b.Help
}

// Run tokenizes raw, resolves it in t and calls the handler
func Run(ctx context.Context, t *Table, ev matrix.Event, raw string) (Response, error) {
	tokens := Tokenize(raw)
	b, args, err := Resolve(t, tokens)
	if err != nil {
		return Response{}, err
	}
	inv := &Invocation{
		Event:   ev,
		Command: t.name,
		Path:    b.Path,
		Args:    args,
		Raw:     raw,
	}
	return b.Handler(ctx, inv)
}

// Router owns every top-level command and the reserved help command
type Router struct {
	prefix string

	mu     sync.RWMutex
	tables map[string]*Table
}

// NewRouter creates a router for messages starting with prefix
func NewRouter(prefix string) *Router {
	if prefix == "" {
		prefix = constants.DefaultCommandPrefix
	}
	return &Router{
		prefix: prefix,
		tables: make(map[string]*Table),
	}
}

// Prefix returns the command prefix
func (r *Router) Prefix() string {
	return r.prefix
}

// Register adds a top-level command. Names are unique and help is reserved.
func (r *Router) Register(t *Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if name == "" || strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("invalid command name %q", name)
	}
	if name == constants.HelpCommand {
		return fmt.Errorf("%w: %s is reserved", ErrDuplicateCommand, name)
	}
	if _, exists := r.tables[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	r.tables[name] = t
	return nil
}

// Names returns the registered command names, sorted
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the table for a command name
func (r *Router) Lookup(name string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	return t, ok
}

// IsCommand reports whether body starts with the prefix
func (r *Router) IsCommand(body string) bool {
	return strings.HasPrefix(body, r.prefix) && len(body) > len(r.prefix)
}

// Split separates a command body into the command name and its raw argument
// string
func (r *Router) Split(body string) (string, string) {
	body = strings.TrimPrefix(body, r.prefix)
	body = strings.TrimLeftFunc(body, unicode.IsSpace)
	idx := strings.IndexFunc(body, unicode.IsSpace)
	if idx < 0 {
		return body, ""
	}
	return body[:idx], strings.TrimSpace(body[idx:])
}

// Dispatch runs the command in a message event. The returned error is a
// UserError when the problem lies in what the user typed.
func (r *Router) Dispatch(ctx context.Context, ev matrix.Event) (Response, error) {
	body := ev.Body()
	if len(body) > constants.MaxCommandInputLength {
		return Response{}, &CommandNotFoundError{Help: "Command is too long"}
	}

	name, raw := r.Split(body)
	if name == constants.HelpCommand {
		return Text(r.Help(strings.TrimSpace(raw))), nil
	}

	t, ok := r.Lookup(name)
	if !ok {
		return Response{}, &CommandNotFoundError{
			Command: name,
			Help:    fmt.Sprintf("%s: %s. Try %s%s", UnknownCommandText, name, r.prefix, constants.HelpCommand),
		}
	}
	return Run(ctx, t, ev, raw)
}

// Help lists every command, or describes one when name is given
func (r *Router) Help(name string) string {
	if name != "" {
		name = strings.TrimPrefix(name, r.prefix)
		if t, ok := r.Lookup(name); ok {
			if text := t.FullHelp(); text != "" {
				return text
			}
			return "No help available for " + name
		}
	}

	names := r.Names()
	if len(names) == 0 {
		return "No commands are registered."
	}
	return fmt.Sprintf("Commands: %s. Type %s%s <command> for details.",
		strings.Join(names, ", "), r.prefix, constants.HelpCommand)
}
