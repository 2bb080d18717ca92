package tool

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultRunTimeout = 30 * time.Second
	defaultWaitDelay  = time.Second
)

// RunResult is the captured outcome of a single child process.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	NotFound bool  // executable could not be resolved
	TimedOut bool  // killed after the runner timeout elapsed
	Err      error // any other start or wait failure
	Elapsed  time.Duration
}

// Runner executes an argument vector. Implementations must never go through a shell.
type Runner interface {
	Run(ctx context.Context, argv []string) RunResult
}

// ExecRunner runs programs with os/exec, capturing stdout and stderr as text.
type ExecRunner struct {
	timeout time.Duration
	env     []string
	logger  *slog.Logger
}

type ExecConfig struct {
	Timeout time.Duration // 0 uses the 30s default, negative disables the limit
	Env     []string      // extra KEY=VALUE pairs appended to the inherited environment
	Logger  *slog.Logger
}

func NewExecRunner(cfg ExecConfig) *ExecRunner {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRunTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ExecRunner{
		timeout: cfg.Timeout,
		env:     cfg.Env,
		logger:  cfg.Logger,
	}
}

// Timeout reports the per-process limit; zero or negative means unbounded.
func (r *ExecRunner) Timeout() time.Duration {
	return r.timeout
}

func (r *ExecRunner) Run(ctx context.Context, argv []string) RunResult {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return RunResult{NotFound: true, ExitCode: -1}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Pagers and other grandchildren can hold the pipes open after a kill.
	cmd.WaitDelay = defaultWaitDelay
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}

	start := time.Now()
	err := cmd.Run()
	res := RunResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
		res.Err = ctx.Err()
	case ctx.Err() != nil:
		res.ExitCode = -1
		res.Err = ctx.Err()
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		res.NotFound = true
		res.ExitCode = -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}

	r.logger.Debug("process finished",
		"argv", argv,
		"exit", res.ExitCode,
		"not_found", res.NotFound,
		"timed_out", res.TimedOut,
		"stdout_len", len(res.Stdout),
		"duration", res.Elapsed.Round(time.Millisecond),
	)
	return res
}
