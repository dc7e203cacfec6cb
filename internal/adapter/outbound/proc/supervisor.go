// Package proc supervises the gateway's single child process: it owns the
// child's stdin/stdout/stderr, frames stdout into lines, and publishes the
// child's exit so the gateway can terminate with the same code.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/mcpgate/mcpgate/internal/port/outbound"
)

// readBufSize is the stdout read chunk size.
const readBufSize = 32 * 1024

// lineChanSize buffers stdout lines between the read loop and the
// correlator. Ordering is preserved; the buffer only absorbs bursts.
const lineChanSize = 64

// Supervisor spawns and owns the child process. Exactly one child exists
// for the lifetime of the gateway; when it exits, the gateway has no useful
// state left and must terminate with the child's exit code.
type Supervisor struct {
	command string
	args    []string
	logger  *slog.Logger

	// mu serializes stdin writes so each message plus its newline lands
	// contiguously; the newline is the only framing the child has.
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines chan []byte
	exit  chan int
	wg    sync.WaitGroup
}

// NewSupervisor creates a supervisor for the given child command.
// The child inherits the gateway's environment.
func NewSupervisor(command string, args []string, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		command: command,
		args:    args,
		logger:  logger,
		lines:   make(chan []byte, lineChanSize),
		exit:    make(chan int, 1),
	}
}

// Start launches the child and begins pumping its stdout and stderr.
// Cancelling ctx kills the child.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return errors.New("child already started")
	}

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return fmt.Errorf("failed to start child: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.logger.Info("child started", "command", s.command, "pid", cmd.Process.Pid)

	s.wg.Add(2)
	go s.readStdout(stdout)
	go s.readStderr(stderr)

	go func() {
		// Drain both pipes before Wait; Wait closes the pipes and would
		// otherwise race with unread child output.
		s.wg.Wait()
		err := cmd.Wait()
		code := cmd.ProcessState.ExitCode()
		if code < 0 {
			// Killed by signal; no exit code available.
			code = 1
		}
		if err != nil {
			s.logger.Error("child exited", "error", err, "code", code)
		} else {
			s.logger.Info("child exited", "code", code)
		}
		s.exit <- code
	}()

	return nil
}

// readStdout frames the child's stdout into lines and publishes them in
// arrival order.
func (s *Supervisor) readStdout(stdout io.Reader) {
	defer s.wg.Done()
	defer close(s.lines)

	var framer LineFramer
	buf := make([]byte, readBufSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, line := range framer.Split(buf[:n]) {
				s.lines <- line
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("child stdout closed", "error", err)
			}
			if framer.Pending() > 0 {
				s.logger.Warn("child stdout ended mid-line", "bytes", framer.Pending())
			}
			return
		}
	}
}

// readStderr forwards the child's stderr to the logger line by line.
func (s *Supervisor) readStderr(stderr io.Reader) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		s.logger.Info("child stderr", "line", scanner.Text())
	}
}

// WriteLine appends '\n' to msg and writes it to the child's stdin as a
// single write. Concurrent callers are serialized.
func (s *Supervisor) WriteLine(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		return errors.New("child not started")
	}
	buf := make([]byte, 0, len(msg)+1)
	buf = append(buf, msg...)
	buf = append(buf, '\n')
	if _, err := s.stdin.Write(buf); err != nil {
		return fmt.Errorf("write to child stdin: %w", err)
	}
	return nil
}

// Lines returns the channel of framed stdout lines. The channel is closed
// when the child's stdout reaches EOF.
func (s *Supervisor) Lines() <-chan []byte {
	return s.lines
}

// Exited returns a channel that receives the child's exit code once.
func (s *Supervisor) Exited() <-chan int {
	return s.exit
}

// Close closes the child's stdin and kills the process if still running.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	// Close stdin first to signal EOF to the child.
	if s.stdin != nil {
		if err := s.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
		s.stdin = nil
	}

	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil {
			if !errors.Is(err, os.ErrProcessDone) {
				errs = append(errs, fmt.Errorf("kill child: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Compile-time check that Supervisor implements the ChildWriter port.
var _ outbound.ChildWriter = (*Supervisor)(nil)
