// Package command resolves chat commands against explicit registration tables.
//
// A Table belongs to one top-level command, such as "prometheus". Each
// Binding in it names a token path under that command, for example
// ["template", "set"], the parameters it accepts and its handler.
//
// Resolution is progressive: with N argument tokens the router first looks
// for a binding whose path is all N tokens, then N-1, and so on down to the
// empty path. The first hit wins and the remaining tokens become its
// arguments.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/keepmind9/neb/internal/matrix"
)

// Handler runs a resolved command
type Handler func(ctx context.Context, inv *Invocation) (Response, error)

// Param is a positional parameter. Optional params must trail the required
// ones.
type Param struct {
	Name     string
	Optional bool
}

// Binding attaches a handler to a token path
type Binding struct {
	Path   []string
	Params []Param
	// Variadic accepts any number of arguments after Params
	Variadic bool
	Help     string
	Handler  Handler
}

func (b *Binding) key() string {
	return pathKey(b.Path)
}

func (b *Binding) required() int {
	n := 0
	for _, p := range b.Params {
		if !p.Optional {
			n++
		}
	}
	return n
}

// Usage renders the binding as "name path <required> [optional]"
func (b *Binding) Usage(name string) string {
	parts := append([]string{name}, b.Path...)
	for _, p := range b.Params {
		if p.Optional {
			parts = append(parts, "["+p.Name+"]")
		} else {
			parts = append(parts, "<"+p.Name+">")
		}
	}
	if b.Variadic {
		parts = append(parts, "...")
	}
	return strings.Join(parts, " ")
}

// Table is the set of bindings of one top-level command
type Table struct {
	name     string
	help     string
	bindings map[string]*Binding
	order    []*Binding
}

// NewTable creates an empty table for the command name
func NewTable(name, help string) *Table {
	return &Table{
		name:     name,
		help:     help,
		bindings: make(map[string]*Binding),
	}
}

// Name is the top-level command name
func (t *Table) Name() string {
	return t.name
}

// Help is the top-level help text
func (t *Table) Help() string {
	return t.help
}

// Bind adds a binding. Paths are unique within a table.
func (t *Table) Bind(b Binding) error {
	if b.Handler == nil {
		return fmt.Errorf("command %s %s: nil handler", t.name, strings.Join(b.Path, " "))
	}
	for _, tok := range b.Path {
		if tok == "" || strings.ContainsAny(tok, " \t_") {
			return fmt.Errorf("command %s: invalid path token %q", t.name, tok)
		}
	}
	optional := false
	for _, p := range b.Params {
		if p.Optional {
			optional = true
		} else if optional {
			return fmt.Errorf("command %s: required param %s follows an optional one", t.name, p.Name)
		}
	}

	key := b.key()
	if _, exists := t.bindings[key]; exists {
		return fmt.Errorf("command %s: duplicate binding %q", t.name, key)
	}
	bound := b
	t.bindings[key] = &bound
	t.order = append(t.order, &bound)
	return nil
}

// MustBind is Bind for tables built from literals at construction time
func (t *Table) MustBind(bindings ...Binding) *Table {
	for _, b := range bindings {
		if err := t.Bind(b); err != nil {
			panic(err)
		}
	}
	return t
}

// FullHelp is the top-level help followed by one usage line per binding
func (t *Table) FullHelp() string {
	var sb strings.Builder
	sb.WriteString(t.help)
	for _, b := range t.order {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Usage(t.name))
		if b.Help != "" {
			sb.WriteString(" : ")
			sb.WriteString(b.Help)
		}
	}
	return sb.String()
}

func pathKey(path []string) string {
	return strings.Join(path, "_")
}

// Invocation is one resolved command call
type Invocation struct {
	Event   matrix.Event
	Command string
	Path    []string
	Args    []Arg
	// Raw is the argument string after the command name, untokenized
	Raw string
}

// Arg returns the i-th bound argument, Absent when out of range
func (inv *Invocation) Arg(i int) Arg {
	if i < 0 || i >= len(inv.Args) {
		return Absent
	}
	return inv.Args[i]
}

// Strings returns the values of all present arguments
func (inv *Invocation) Strings() []string {
	out := make([]string, 0, len(inv.Args))
	for _, a := range inv.Args {
		if a.Present() {
			out = append(out, a.String())
		}
	}
	return out
}

// Sender is the user who sent the command
func (inv *Invocation) Sender() string {
	return inv.Event.Sender
}

// RoomID is the room the command arrived in
func (inv *Invocation) RoomID() string {
	return inv.Event.RoomID
}
