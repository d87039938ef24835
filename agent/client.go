package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/guseggert/osh/agent/process"
	"go.uber.org/zap"
)

const (
	// DefaultWaitInterval is how long Receive waits for more output before deciding a response is complete.
	DefaultWaitInterval = 100 * time.Millisecond

	defaultDialTimeout     = 5 * time.Second
	defaultGreetingTimeout = 5 * time.Second
)

var (
	ErrServerClosed = errors.New("server closed connection")
	ErrBadGreeting  = errors.New("unexpected greeting from server")
)

// Client is a connection to an agent.
type Client struct {
	Logger *zap.SugaredLogger

	conn net.Conn
	out  io.Writer

	waitInterval    time.Duration
	dialTimeout     time.Duration
	greetingTimeout time.Duration
	bufferSize      int
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("client").Sugar()
	}
}

// WithClientOutput sets where command output is written. Defaults to stdout.
func WithClientOutput(w io.Writer) ClientOption {
	return func(c *Client) {
		c.out = w
	}
}

// Dial connects to the agent at host:port. The host may be a name or an IP address.
func Dial(ctx context.Context, host string, port int, opts ...ClientOption) (*Client, error) {
	c := &Client{
		Logger:          zap.NewNop().Sugar(),
		out:             os.Stdout,
		waitInterval:    DefaultWaitInterval,
		dialTimeout:     defaultDialTimeout,
		greetingTimeout: defaultGreetingTimeout,
		bufferSize:      process.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c.Logger.Debugw("dialing agent", "Addr", addr)
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	c.conn = conn
	return c, nil
}

func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadGreeting waits for the agent to confirm the connection.
func (c *Client) ReadGreeting() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.greetingTimeout)); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, len(Greeting))
	_, err := io.ReadFull(c.conn, buf)
	if err != nil {
		return fmt.Errorf("reading greeting: %w", err)
	}
	if string(buf) != Greeting {
		return fmt.Errorf("%w: %q", ErrBadGreeting, buf)
	}
	return nil
}

// Send writes text to the agent as-is, without a line terminator.
func (c *Client) Send(text string) error {
	_, err := io.WriteString(c.conn, text)
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	c.Logger.Debugw("sent command", "Command", text)
	return nil
}

// Receive writes the response to the last command to the output as it arrives.
//
// A response is considered complete when either a chunk consisting of a single newline arrives,
// or no data arrives for the wait interval. The second rule is a heuristic: a command that pauses
// for longer than the wait interval between writes has the rest of its output cut off here, and
// that tail is printed ahead of the next command's output instead.
//
// If the agent closes or resets the connection, Receive reports it on the output and returns ErrServerClosed.
func (c *Client) Receive() error {
	defer c.conn.SetReadDeadline(time.Time{})
	buf := make([]byte, c.bufferSize)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.waitInterval)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			if _, werr := c.out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing output: %w", werr)
			}
			if n == 1 && buf[0] == '\n' {
				c.Logger.Debug("got end marker")
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				c.Logger.Debugf("no output for %s, treating response as complete", c.waitInterval)
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
				c.Logger.Debugf("connection ended: %s", err)
				fmt.Fprintln(c.out, "Server closed connection")
				return ErrServerClosed
			}
			return fmt.Errorf("receiving output: %w", err)
		}
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
