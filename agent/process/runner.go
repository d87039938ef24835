package process

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/guseggert/osh/agent/command"
	"go.uber.org/zap"
)

// DefaultBufferSize is the transfer unit used when reading a child's output.
const DefaultBufferSize = 4096

const (
	msgEmptyCommand = "Error: empty command\n"
	msgPipe         = "Error: Could not create pipe\n"
	msgFork         = "Error: Could not fork process\n"
	exitNotFound    = 127
)

// Runner runs commands, forwarding their combined output to a writer.
type Runner struct {
	Log        *zap.SugaredLogger
	BufferSize int
}

func (r *Runner) log() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}

func (r *Runner) bufferSize() int {
	if r.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return r.BufferSize
}

// Run executes cmd and forwards its combined output to sink until the child exits.
// The returned error is non-nil only when writing to sink failed.
// Problems running the command itself are written to sink and recorded in Result.Err.
func (r *Runner) Run(cmd command.Command, sink io.Writer) (*Result, error) {
	prog, err := cmd.Program()
	if err != nil {
		return r.fail(sink, &Result{ExitCode: -1, Err: err}, msgEmptyCommand)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		r.log().Warnf("error creating pipe: %s", err)
		return r.fail(sink, &Result{ExitCode: -1, Err: fmt.Errorf("creating pipe: %w", err)}, msgPipe)
	}

	c := exec.Command(prog, cmd.ProgramArgs()...)
	c.Stdout = pw
	c.Stderr = pw

	startTime := time.Now()
	err = c.Start()
	if err != nil {
		pr.Close()
		pw.Close()
		code, msg := startFailure(prog, err)
		if code != exitNotFound {
			r.log().Warnf("error starting process: %s", err)
		}
		return r.fail(sink, &Result{ExitCode: code, Err: fmt.Errorf("starting %q: %w", prog, err)}, msg)
	}
	r.log().Debugw("process started", "PID", c.Process.Pid, "Args", cmd.Args)

	// the child holds its own copy; ours must go away or the read below never sees EOF
	pw.Close()

	n, sinkErr := r.forward(sink, pr)
	pr.Close()

	err = c.Wait()
	res := &Result{
		ExitCode: c.ProcessState.ExitCode(),
		TimeMS:   time.Since(startTime).Milliseconds(),
		Bytes:    n,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			r.log().Debugf("unexpected wait error: %s", err)
		}
	}
	r.log().Debugf("process %d exited with code %d after forwarding %d bytes", c.Process.Pid, res.ExitCode, n)

	return res, sinkErr
}

// forward copies src to sink one chunk at a time.
// After a sink write fails the rest of src is drained and dropped so the child is not blocked on a full pipe.
func (r *Runner) forward(sink io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, r.bufferSize())
	var (
		total   int64
		sinkErr error
	)
	for {
		n, err := src.Read(buf)
		if n > 0 && sinkErr == nil {
			w, werr := sink.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				r.log().Debugf("sink write error, discarding remaining output: %s", werr)
				sinkErr = fmt.Errorf("forwarding output: %w", werr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log().Debugf("pipe read error: %s", err)
			}
			return total, sinkErr
		}
	}
}

func (r *Runner) fail(sink io.Writer, res *Result, msg string) (*Result, error) {
	r.log().Debugw("command did not run", "Error", res.Err)
	n, err := io.WriteString(sink, msg)
	res.Bytes = int64(n)
	if err != nil {
		return res, fmt.Errorf("reporting error to client: %w", err)
	}
	return res, nil
}

// startFailure maps an error from starting prog to the exit code recorded for it
// and the message the client sees in place of output.
func startFailure(prog string, err error) (int, string) {
	if isNotFound(err) {
		return exitNotFound, fmt.Sprintf("Error: Command '%s' not found or failed to execute\n", prog)
	}
	return -1, msgFork
}

// execErrnos are the errors from the exec step that mean the program itself could not be run.
// Anything else, EAGAIN or ENOMEM from fork for example, is a spawn failure.
var execErrnos = []syscall.Errno{
	syscall.ENOENT,
	syscall.EACCES,
	syscall.ENOEXEC,
	syscall.ENOTDIR,
	syscall.EISDIR,
	syscall.ELOOP,
	syscall.E2BIG,
}

func isNotFound(err error) bool {
	var execErr *exec.Error
	if errors.Is(err, exec.ErrNotFound) || errors.As(err, &execErr) {
		return true
	}
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		return false
	}
	for _, errno := range execErrnos {
		if errors.Is(pathErr.Err, errno) {
			return true
		}
	}
	return false
}
