package agent

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/osh/agent/command"
	"github.com/guseggert/osh/agent/process"
	"go.uber.org/zap"
)

// overflowDrainWindow bounds how long a session keeps discarding the remainder of an oversized line.
const overflowDrainWindow = 50 * time.Millisecond

// session owns one accepted connection.
// At most one command runs at a time: the next line is not read until the previous command's end marker is sent.
type session struct {
	log  *zap.SugaredLogger
	conn net.Conn
	peer string

	runner        *process.Runner
	maxLineLength int
}

func (a *Agent) newSession(conn net.Conn) *session {
	peer := conn.RemoteAddr().String()
	log := a.logger.Named("session").With("SessionID", uuid.NewString(), "RemoteAddr", peer)
	return &session{
		log:  log,
		conn: conn,
		peer: peer,
		runner: &process.Runner{
			Log:        log.Named("runner"),
			BufferSize: a.bufferSize,
		},
		maxLineLength: a.maxLineLength,
	}
}

func (s *session) run() {
	defer s.close()
	s.log.Infof("Client (%s) Connected to the server successfully", s.peer)

	if err := s.send([]byte(Greeting)); err != nil {
		s.log.Warnf("error sending greeting: %s", err)
		return
	}

	buf := make([]byte, s.maxLineLength+1)
	for {
		line, overflow, err := s.readLine(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Infof("Client (%s) disconnected", s.peer)
			} else {
				s.log.Warnf("error receiving data: %s", err)
			}
			return
		}

		if overflow {
			s.log.Warnf("Client (%s) sent a command line longer than %d bytes", s.peer, s.maxLineLength)
			err = s.reply([]byte(fmt.Sprintf("Error: command line exceeds %d bytes\n", s.maxLineLength)))
		} else if command.IsQuit(line) {
			s.log.Infof("Client (%s) sent quit command", s.peer)
			return
		} else {
			err = s.execute(line)
		}
		if err != nil {
			s.log.Warnf("error sending data: %s", err)
			return
		}
	}
}

// readLine performs a single receive. A receive that fills buf without a newline is an overflow,
// in which case the rest of the oversized line is discarded.
func (s *session) readLine(buf []byte) (string, bool, error) {
	n, err := s.conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return "", false, err
	}
	if n > s.maxLineLength && bytes.IndexByte(buf[:n], '\n') < 0 {
		return "", true, s.discardOverflow(buf)
	}
	return command.TrimLine(buf[:n]), false, nil
}

func (s *session) discardOverflow(buf []byte) error {
	defer s.conn.SetReadDeadline(time.Time{})
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(overflowDrainWindow)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}
		n, err := s.conn.Read(buf)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		if err != nil {
			return err
		}
		if n < len(buf) || bytes.IndexByte(buf[:n], '\n') >= 0 {
			return nil
		}
	}
}

func (s *session) execute(line string) error {
	cmd := command.Parse(line)
	res, err := s.runner.Run(cmd, s.conn)
	if res != nil {
		s.log.Debugw("command finished",
			"Command", cmd.Raw,
			"ExitCode", res.ExitCode,
			"TimeMS", res.TimeMS,
			"Bytes", res.Bytes,
			"Error", res.Err,
		)
	}
	if err != nil {
		return err
	}
	return s.send(endMarker)
}

// reply sends b as a complete response, end marker included.
func (s *session) reply(b []byte) error {
	if err := s.send(b); err != nil {
		return err
	}
	return s.send(endMarker)
}

func (s *session) send(b []byte) error {
	_, err := s.conn.Write(b)
	if err != nil {
		return fmt.Errorf("writing to %s: %w", s.peer, err)
	}
	return nil
}

func (s *session) close() {
	if err := s.conn.Close(); err != nil {
		s.log.Debugf("error closing conn: %s", err)
	}
	s.log.Debug("session closed")
}
