package command

import (
	"errors"
	"strings"
)

// MaxArgs bounds the argument vector, including the slot reserved for the end-of-arguments sentinel.
// Tokens past MaxArgs-1 are dropped.
const MaxArgs = 64

// QuitToken is the line a client sends to end its session.
const QuitToken = "quit"

// ErrEmptyCommand is returned when a command has no program name.
var ErrEmptyCommand = errors.New("empty command")

// Command is a single line submitted by a client.
type Command struct {
	// Raw is the text as received, after the line terminator was trimmed.
	Raw string
	// Args is the program name followed by its arguments.
	Args []string
}

// Parse tokenizes raw on runs of space and tab characters.
func Parse(raw string) Command {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == '\t' })
	if len(fields) > MaxArgs-1 {
		fields = fields[:MaxArgs-1]
	}
	return Command{Raw: raw, Args: fields}
}

// Program returns the name of the program to run, or ErrEmptyCommand if the command has no tokens.
func (c Command) Program() (string, error) {
	if len(c.Args) == 0 {
		return "", ErrEmptyCommand
	}
	return c.Args[0], nil
}

// ProgramArgs returns the arguments following the program name.
func (c Command) ProgramArgs() []string {
	if len(c.Args) < 2 {
		return nil
	}
	return c.Args[1:]
}

// TrimLine converts bytes from a single receive into command text.
// Everything from the first newline on is discarded, as is a carriage return left in front of it.
func TrimLine(b []byte) string {
	s := string(b)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, "\r")
}

// IsQuit reports whether text asks the agent to end the session.
func IsQuit(text string) bool {
	return text == QuitToken
}
