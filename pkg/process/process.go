// Package process runs external commands and captures their outcome.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Result is the outcome of one finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether the command exited with status zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Command describes an invocation. Env entries are appended to the current environment.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return fmt.Sprint(append([]string{c.Path}, c.Args...))
}

// Runner executes commands. A non-zero exit status is reported through Result, not as an error;
// the error is reserved for commands that could not be started or waited on.
type Runner interface {
	Run(ctx context.Context, command Command) (*Result, error)
}

const (
	// DefaultWaitDelay bounds how long Run waits for output after the process exited or was
	// killed, e.g. when a grandchild still holds the pipes.
	DefaultWaitDelay = 10 * time.Second

	maxLoggedLine = 64 * 1024
)

// ExecRunner runs commands with os/exec and streams every output line to the logger at info
// level, tagged with the stream it came from.
type ExecRunner struct {
	logger    *slog.Logger
	waitDelay time.Duration
}

func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{
		logger:    logger.With("module", "process"),
		waitDelay: DefaultWaitDelay,
	}
}

// WithWaitDelay overrides DefaultWaitDelay.
func (r *ExecRunner) WithWaitDelay(delay time.Duration) *ExecRunner {
	r.waitDelay = delay

	return r
}

func (r *ExecRunner) Run(ctx context.Context, command Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, command.Path, command.Args...) // #nosec G204 -- command comes from configuration
	cmd.Dir = command.Dir
	cmd.WaitDelay = r.waitDelay

	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}

	stdout := r.newLineWriter(ctx, "stdout")
	stderr := r.newLineWriter(ctx, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command, err)
	}

	err = cmd.Wait()

	stdout.flush()
	stderr.flush()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return result, fmt.Errorf("%s interrupted: %w", command, ctx.Err())
			}

			return result, fmt.Errorf("failed to wait for %s: %w", command, err)
		}

		result.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return result, fmt.Errorf("%s interrupted: %w", command, ctx.Err())
		}
	}

	return result, nil
}

// lineWriter keeps everything written to it and logs each complete line. Lines have no length
// limit; only the logged copy is truncated.
type lineWriter struct {
	ctx     context.Context
	logger  *slog.Logger
	name    string
	output  bytes.Buffer
	partial []byte
}

func (r *ExecRunner) newLineWriter(ctx context.Context, name string) *lineWriter {
	return &lineWriter{ctx: ctx, logger: r.logger, name: name}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.output.Write(p)
	w.partial = append(w.partial, p...)

	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}

		w.log(w.partial[:i])
		w.partial = w.partial[i+1:]
	}

	return len(p), nil
}

// flush logs a trailing line without a newline.
func (w *lineWriter) flush() {
	if len(w.partial) > 0 {
		w.log(w.partial)
		w.partial = nil
	}
}

func (w *lineWriter) log(line []byte) {
	line = bytes.TrimRight(line, "\r")

	attrs := []any{"stream", w.name}
	if len(line) > maxLoggedLine {
		attrs = append(attrs, "bytes", len(line))
		line = line[:maxLoggedLine]
	}

	w.logger.InfoContext(w.ctx, string(line), attrs...)
}

func (w *lineWriter) String() string {
	return w.output.String()
}
