// Package resource holds the handles the pipeline steps share: the external
// process runner, the DuckDB database and the dbt CLI.
package resource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// stderrTailLines is how many trailing stderr lines a CommandError keeps.
const stderrTailLines = 20

// Stream identifies which output stream a line came from.
type Stream int

// Output streams of an external process.
const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Command describes an external process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the current process environment.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// LineFunc receives process output one line at a time. Calls are serialized.
type LineFunc func(stream Stream, line string)

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine LineFunc) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command, onLine LineFunc) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd Command, onLine LineFunc) error {
	return f(ctx, cmd, onLine)
}

// CommandError is returned when an external process fails to start or exits
// with a non-zero status.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	}
	if len(e.Stderr) > 0 {
		msg += ":\n  " + strings.Join(e.Stderr, "\n  ")
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec, streaming both output pipes.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner. A nil logger discards output.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecRunner{logger: logger}
}

// Run starts the command and blocks until it exits and its output is drained.
func (r *ExecRunner) Run(ctx context.Context, c Command, onLine LineFunc) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) //nolint:gosec // commands come from project configuration
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &CommandError{Command: c.String(), Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &CommandError{Command: c.String(), Err: err}
	}

	r.logger.Debug("starting command", slog.String("command", c.String()), slog.String("dir", c.Dir))
	if err := cmd.Start(); err != nil {
		return &CommandError{Command: c.String(), Err: err}
	}

	var (
		mu   sync.Mutex
		tail []string
	)
	emit := func(stream Stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		if stream == Stderr {
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		}
		if onLine != nil {
			onLine(stream, line)
		}
	}

	var g errgroup.Group
	g.Go(func() error { return pump(stdout, Stdout, emit) })
	g.Go(func() error { return pump(stderr, Stderr, emit) })
	pumpErr := g.Wait()

	if err := cmd.Wait(); err != nil {
		cmdErr := &CommandError{Command: c.String(), Stderr: tail, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return cmdErr
	}
	if pumpErr != nil {
		return fmt.Errorf("failed to read output of %q: %w", c.String(), pumpErr)
	}
	return nil
}

func pump(r io.Reader, stream Stream, emit LineFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		emit(stream, scanner.Text())
	}
	return scanner.Err()
}
