package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultPort = 8080
	// DefaultMaxLineLength is the longest command line a session accepts in a single receive.
	DefaultMaxLineLength = 4095

	// Greeting is sent to every client as soon as its connection is accepted.
	Greeting = "CONNECTED\n"
)

// endMarker follows the output of every command.
var endMarker = []byte{'\n'}

// Agent is a TCP server that executes the command lines its clients send.
// Each accepted connection is served by its own goroutine and shares no state with the others.
type Agent struct {
	logger *zap.SugaredLogger

	listenAddr    string
	maxLineLength int
	bufferSize    int

	listener  net.Listener
	closed    chan struct{}
	closeOnce sync.Once
}

type Option func(a *Agent)

func WithListenAddr(s string) Option {
	return func(a *Agent) {
		a.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l.Named("agent").Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

func WithMaxLineLength(n int) Option {
	return func(a *Agent) {
		a.maxLineLength = n
	}
}

// WithBufferSize sets the transfer unit used when forwarding command output.
func WithBufferSize(n int) Option {
	return func(a *Agent) {
		a.bufferSize = n
	}
}

// NewAgent constructs a new agent. It does not listen until Listen or Run is called.
func NewAgent(opts ...Option) (*Agent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &Agent{
		logger:        logger.Named("agent").Sugar(),
		listenAddr:    fmt.Sprintf("0.0.0.0:%d", DefaultPort),
		maxLineLength: DefaultMaxLineLength,
		closed:        make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.maxLineLength <= 0 {
		return nil, fmt.Errorf("max line length must be positive, got %d", a.maxLineLength)
	}
	return a, nil
}

// Listen binds the listening socket with address reuse enabled.
func (a *Agent) Listen() error {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	a.listener = ln
	a.logger.Debugw("listening", "Addr", ln.Addr().String())
	return nil
}

// Addr returns the address the agent is listening on, or nil before Listen.
func (a *Agent) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Serve accepts connections until Stop is called, starting a session for each one.
// Accept errors are logged and do not end the loop.
func (a *Agent) Serve() error {
	if a.listener == nil {
		return errors.New("agent is not listening")
	}
	var delay time.Duration
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			a.logger.Warnf("error accepting connection, retrying in %s: %s", delay, err)
			select {
			case <-a.closed:
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s := a.newSession(conn)
		go s.run()
	}
}

// Run listens and then serves, returning once the agent has stopped.
func (a *Agent) Run() error {
	if err := a.Listen(); err != nil {
		return err
	}
	return a.Serve()
}

// Stop closes the listener. Sessions already running are left to finish on their own.
func (a *Agent) Stop() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)
		if a.listener != nil {
			err = a.listener.Close()
		}
	})
	return err
}

func (a *Agent) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}
