package command

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// Arg is a bound argument. The zero value is Absent.
type Arg struct {
	value   string
	present bool
}

// Absent fills optional params the caller did not supply
var Absent = Arg{}

// Value wraps a supplied argument, which may be the empty string
func Value(s string) Arg {
	return Arg{value: s, present: true}
}

// Present reports whether the caller supplied the argument
func (a Arg) Present() bool {
	return a.present
}

// String returns the value, or "" for Absent
func (a Arg) String() string {
	return a.value
}

// Or returns the value, or def for Absent
func (a Arg) Or(def string) string {
	if !a.present {
		return def
	}
	return a.value
}

// Tokenize splits s with POSIX shell quoting rules and no comment syntax,
// so room aliases like #ops:example.org stay intact. Input that cannot be
// split, such as an unbalanced quote, becomes a single token holding the
// whole string.
func Tokenize(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	tokens, err := shellquote.Split(s)
	if err != nil {
		return []string{s}
	}
	return tokens
}
