package command

import "fmt"

// UnknownCommandText is shown when a command has no help of its own
const UnknownCommandText = "Unknown command"

// CommandNotFoundError means no binding matched. Help is safe to show to the
// user.
type CommandNotFoundError struct {
	Command string
	Help    string
}

func (e *CommandNotFoundError) Error() string {
	return fmt.Sprintf("command not found: %s", e.Command)
}

// UserMessage is the notice sent back to the room
func (e *CommandNotFoundError) UserMessage() string {
	if e.Help == "" {
		return UnknownCommandText
	}
	return e.Help
}

// ArgumentError means a binding matched but the argument count did not fit
// its parameters
type ArgumentError struct {
	Command string
	Usage   string
	Got     int
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("wrong number of arguments for %s: got %d", e.Command, e.Got)
}

// UserMessage is the notice sent back to the room
func (e *ArgumentError) UserMessage() string {
	return "Usage: " + e.Usage
}

// UserError is implemented by errors whose message is meant for the room
type UserError interface {
	error
	UserMessage() string
}
