package agent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/guseggert/osh/agent/command"
	"go.uber.org/zap"
)

const DefaultPrompt = "osh> "

// Conn is the part of a Client used by a Shell.
type Conn interface {
	Send(text string) error
	Receive() error
}

// Shell reads command lines from a user and sends them to an agent, one at a time.
type Shell struct {
	log  *zap.SugaredLogger
	conn Conn
	in   *bufio.Reader
	out  io.Writer

	prompt        string
	maxLineLength int
}

type ShellOption func(s *Shell)

// WithPrompt sets the prompt printed before each line is read. An empty prompt prints nothing.
func WithPrompt(p string) ShellOption {
	return func(s *Shell) {
		s.prompt = p
	}
}

// WithShellMaxLineLength sets the longest line the shell will send. Longer lines are rejected locally.
func WithShellMaxLineLength(n int) ShellOption {
	return func(s *Shell) {
		s.maxLineLength = n
	}
}

func WithShellLogger(l *zap.Logger) ShellOption {
	return func(s *Shell) {
		s.log = l.Named("shell").Sugar()
	}
}

func NewShell(conn Conn, in io.Reader, out io.Writer, opts ...ShellOption) *Shell {
	s := &Shell{
		log:           zap.NewNop().Sugar(),
		conn:          conn,
		in:            bufio.NewReader(in),
		out:           out,
		prompt:        DefaultPrompt,
		maxLineLength: DefaultMaxLineLength,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run prompts for and sends lines until the input ends, the user quits, or the agent closes the connection.
func (s *Shell) Run() error {
	for {
		if s.prompt != "" {
			fmt.Fprint(s.out, s.prompt)
		}

		line, err := s.readLine()
		if errors.Is(err, io.EOF) {
			s.log.Debug("end of input")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		if line == "" {
			continue
		}
		if len(line) > s.maxLineLength {
			fmt.Fprintf(s.out, "Error: command longer than %d bytes, not sent\n", s.maxLineLength)
			continue
		}

		if command.IsQuit(line) {
			fmt.Fprintln(s.out, "Disconnecting from server...")
			return s.conn.Send(line)
		}

		if err := s.conn.Send(line); err != nil {
			return err
		}
		err = s.conn.Receive()
		if errors.Is(err, ErrServerClosed) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// readLine returns the next line without its terminator. A final line with no newline is still returned.
func (s *Shell) readLine() (string, error) {
	line, err := s.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}
