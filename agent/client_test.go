package agent

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts one connection and hands it to serve.
func fakeServer(t *testing.T, serve func(conn net.Conn)) (string, int) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func dialFake(t *testing.T, host string, port int, out *bytes.Buffer, wait time.Duration) *Client {
	c, err := Dial(context.Background(), host, port,
		WithClientLogger(rawLog),
		WithClientOutput(out),
		WithClientWaitInterval(wait),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReceiveStopsAtEndMarker(t *testing.T) {
	done := make(chan struct{})
	host, port := fakeServer(t, func(conn net.Conn) {
		conn.Write([]byte("out\n"))
		time.Sleep(20 * time.Millisecond)
		conn.Write([]byte("\n"))
		<-done
	})
	defer close(done)

	var out bytes.Buffer
	c := dialFake(t, host, port, &out, 5*time.Second)

	start := time.Now()
	require.NoError(t, c.Receive())
	assert.True(t, time.Since(start) < 2*time.Second, "Receive waited for the silence bound instead of stopping at the marker")
	assert.Equal(t, "out\n\n", out.String())
}

func TestReceiveStopsOnSilence(t *testing.T) {
	done := make(chan struct{})
	host, port := fakeServer(t, func(conn net.Conn) {
		conn.Write([]byte("part1"))
		<-done
	})
	defer close(done)

	var out bytes.Buffer
	c := dialFake(t, host, port, &out, 100*time.Millisecond)
	require.NoError(t, c.Receive())
	assert.Equal(t, "part1", out.String())
}

func TestReceiveTruncatesSlowOutput(t *testing.T) {
	// output that pauses for longer than the wait interval is cut off; the tail arrives with the next receive
	done := make(chan struct{})
	host, port := fakeServer(t, func(conn net.Conn) {
		conn.Write([]byte("part1"))
		time.Sleep(400 * time.Millisecond)
		conn.Write([]byte("part2"))
		<-done
	})
	defer close(done)

	var out bytes.Buffer
	c := dialFake(t, host, port, &out, 100*time.Millisecond)
	require.NoError(t, c.Receive())
	assert.Equal(t, "part1", out.String())

	time.Sleep(500 * time.Millisecond)
	out.Reset()
	require.NoError(t, c.Receive())
	assert.Equal(t, "part2", out.String())
}

func TestReceiveServerClosed(t *testing.T) {
	cases := []struct {
		name  string
		serve func(conn net.Conn)
	}{
		{
			name:  "orderly close",
			serve: func(conn net.Conn) {},
		},
		{
			// a zero linger makes the deferred Close send RST instead of FIN
			name: "connection reset",
			serve: func(conn net.Conn) {
				conn.(*net.TCPConn).SetLinger(0)
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			host, port := fakeServer(t, c.serve)

			var out bytes.Buffer
			client := dialFake(t, host, port, &out, 2*time.Second)
			err := client.Receive()
			require.ErrorIs(t, err, ErrServerClosed)
			assert.Equal(t, "Server closed connection\n", out.String())
		})
	}
}

func TestReadGreeting(t *testing.T) {
	cases := []struct {
		name     string
		greeting string
		expErr   error
	}{
		{
			name:     "valid greeting",
			greeting: Greeting,
		},
		{
			name:     "wrong greeting",
			greeting: "HELLOTHERE",
			expErr:   ErrBadGreeting,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			done := make(chan struct{})
			host, port := fakeServer(t, func(conn net.Conn) {
				conn.Write([]byte(c.greeting))
				<-done
			})
			defer close(done)

			var out bytes.Buffer
			client := dialFake(t, host, port, &out, DefaultWaitInterval)
			err := client.ReadGreeting()
			if c.expErr != nil {
				assert.ErrorIs(t, err, c.expErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSendIsVerbatim(t *testing.T) {
	got := make(chan []byte, 1)
	host, port := fakeServer(t, func(conn net.Conn) {
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		got <- buf[:n]
	})

	var out bytes.Buffer
	c := dialFake(t, host, port, &out, DefaultWaitInterval)
	require.NoError(t, c.Send("ls -la /tmp"))

	select {
	case b := <-got:
		assert.Equal(t, "ls -la /tmp", string(b))
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the command")
	}
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), "127.0.0.1", port, WithClientDialTimeout(time.Second))
	require.ErrorContains(t, err, "connecting to")
}
