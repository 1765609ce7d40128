// Package converter wraps the external page-counting and rendering tools.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const (
	maxCapturedOutput = 64 << 10
	waitDelay         = 2 * time.Second
)

// ErrTimeout is returned by Runner when a command exceeds its deadline
var ErrTimeout = errors.New("command timed out")

// Command describes one tool invocation
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Output is what a tool printed, truncated to a bounded size
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns stdout and stderr in a form suitable for diagnostics
func (o Output) Combined() string {
	switch {
	case o.Stdout == "":
		return o.Stderr
	case o.Stderr == "":
		return o.Stdout
	default:
		return "stdout: " + o.Stdout + "\nstderr: " + o.Stderr
	}
}

// Runner executes external commands
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs commands with os/exec. On timeout the whole process group is killed.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner creates a Runner backed by os/exec
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run executes c and waits for it to exit
func (r *ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	stdout := &cappedBuffer{limit: maxCapturedOutput}
	stderr := &cappedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	start := time.Now()
	err := cmd.Run()
	out := Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	r.logger.Debug("external command finished",
		zap.String("command", c.Name),
		zap.Int("exit_code", out.ExitCode),
		zap.Duration("duration", out.Duration),
	)

	if err == nil {
		return out, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%s after %s: %w", c.Name, c.Timeout, ErrTimeout)
	}
	if ctx.Err() != nil {
		return out, fmt.Errorf("%s: %w", c.Name, ctx.Err())
	}
	return out, fmt.Errorf("%s: %w", c.Name, err)
}

// cappedBuffer keeps the first limit bytes and discards the rest
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

var _ Runner = (*ExecRunner)(nil)
