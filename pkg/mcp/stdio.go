package mcp

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// maxFrameSize caps a single newline-delimited frame on stdout.
const maxFrameSize = 4 * 1024 * 1024

// StdioTransport runs an MCP server as a subprocess and frames the
// protocol as newline-delimited JSON on stdin/stdout. The transport
// exclusively owns the process handle and both pipe ends; Close is the
// only way to release them.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger zerolog.Logger
	env    []string

	// writeMu serializes writers so request bytes never interleave.
	writeMu sync.Mutex

	frames chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	errMu sync.Mutex
	err   error

	stderrMu sync.Mutex
	stderr   []string
}

// StdioOption customizes a StdioTransport.
type StdioOption func(*StdioTransport)

// WithStdioLogger sets the logger for subprocess diagnostics.
func WithStdioLogger(logger zerolog.Logger) StdioOption {
	return func(t *StdioTransport) {
		t.logger = logger
	}
}

// WithStdioEnv appends KEY=VALUE pairs to the subprocess environment.
func WithStdioEnv(env []string) StdioOption {
	return func(t *StdioTransport) {
		t.env = append(t.env, env...)
	}
}

// NewStdioTransport spawns the server subprocess and starts the frame
// and stderr readers.
func NewStdioTransport(command string, args []string, opts ...StdioOption) (*StdioTransport, error) {
	t := &StdioTransport{
		logger: zerolog.Nop(),
		frames: make(chan []byte, 8),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	cmd := exec.Command(command, args...)
	if len(t.env) > 0 {
		cmd.Env = append(os.Environ(), t.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &TransportError{Op: "spawn", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Op: "spawn", Err: err}
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.readFrames(stdout)
	go t.readStderr(stderr)

	return t, nil
}

// Send writes one frame followed by a newline through the single
// serialized writer.
func (t *StdioTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	if _, err := t.stdin.Write(buf); err != nil {
		return err
	}
	return nil
}

// Frames returns the server-to-client frame stream.
func (t *StdioTransport) Frames() <-chan []byte {
	return t.frames
}

// Err reports why the frame stream ended. Nil after an orderly Close or
// a clean process exit.
func (t *StdioTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close kills the subprocess and releases both pipes.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.stdin.Close()
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
	})
	return nil
}

// Stderr returns captured subprocess diagnostics.
func (t *StdioTransport) Stderr() string {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()
	return strings.Join(t.stderr, "\n")
}

// readFrames scans newline-delimited frames until stdout closes, then
// reaps the process and closes the frame channel.
func (t *StdioTransport) readFrames(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		select {
		case t.frames <- frame:
		case <-t.closed:
		}
	}

	scanErr := scanner.Err()
	waitErr := t.cmd.Wait()

	select {
	case <-t.closed:
		// Orderly close; the kill-induced exit error is expected.
	default:
		cause := scanErr
		if cause == nil && waitErr != nil {
			cause = waitErr
		}
		if cause != nil {
			t.errMu.Lock()
			t.err = &TransportError{Op: "read", Err: cause}
			t.errMu.Unlock()
		}
	}

	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.stdin.Close()
	})
	close(t.frames)
}

// readStderr captures diagnostics; stderr is never protocol data.
func (t *StdioTransport) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		t.logger.Debug().Str("stderr", line).Msg("MCP server diagnostic")
		t.stderrMu.Lock()
		t.stderr = append(t.stderr, line)
		if len(t.stderr) > 100 {
			t.stderr = t.stderr[len(t.stderr)-100:]
		}
		t.stderrMu.Unlock()
	}
}
