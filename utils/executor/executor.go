// Package executor runs the external VM-control executable.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"nfcunha/fcvmd/utils/sanitize"
)

// waitDelay bounds how long Execute waits for output pipes after the process
// has been killed.
const waitDelay = 5 * time.Second

// Result is the outcome of a single invocation. Stdout and Stderr are always
// sanitized.
type Result struct {
	Success  bool          `json:"success"`
	ExitCode int           `json:"returncode"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"-"`
}

// Executor invokes a fixed binary from a fixed working directory.
//
// Thread Safety: Safe for concurrent use. Each call spawns its own process and
// no state is shared between calls.
type Executor struct {
	binary  string
	workDir string
	logger  *slog.Logger
}

// New creates an executor for binary. It returns an error if the binary does
// not exist or is not an executable regular file.
func New(binary, workDir string, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(binary)
	if err != nil {
		return nil, fmt.Errorf("VM control executable not found: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("VM control executable %s is a directory", binary)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return nil, fmt.Errorf("VM control executable %s is not executable", binary)
	}

	return &Executor{
		binary:  binary,
		workDir: workDir,
		logger:  logger,
	}, nil
}

// Binary returns the path of the wrapped executable.
func (e *Executor) Binary() string {
	return e.binary
}

// Execute runs the executable with args and waits at most timeout for it to
// finish. It never returns an error: spawn failures, non-zero exits and
// timeouts are all reported through Result with ExitCode -1 for the first and
// last.
func (e *Executor) Execute(ctx context.Context, timeout time.Duration, args ...string) Result {
	e.logger.Info("Executing command", "command", sanitize.Command(e.binary, args), "timeout", timeout)

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, e.binary, args...)
	cmd.Dir = e.workDir
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := Result{
		Stdout:   sanitize.Sanitize(stdout.String()),
		Stderr:   sanitize.Sanitize(stderr.String()),
		Duration: duration,
	}

	switch {
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
		result.ExitCode = -1
		result.Stdout = ""
		result.Stderr = "Command timed out after " + strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64) + " seconds"
		e.logger.Warn("Command timed out", "command", sanitize.Command(e.binary, args), "timeout", timeout)
	case err == nil:
		result.Success = true
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Stdout = ""
			result.Stderr = sanitize.Sanitize(err.Error())
		}
	}

	e.logger.Debug("Command finished",
		"args", sanitize.Args(args),
		"success", result.Success,
		"exit_code", result.ExitCode,
		"duration", duration)

	return result
}
