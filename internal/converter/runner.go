package converter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// stderrLimit bounds the tool output quoted in an error, in runes
const stderrLimit = 200

// Runner invokes external tools
type Runner interface {
	// Run executes name with args and returns its standard output
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookPath reports where name is installed
	LookPath(name string) (string, error)
}

// ExecRunner runs tools as child processes, each bounded by a timeout
type ExecRunner struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecRunner creates a new ExecRunner. A zero timeout disables the bound.
func NewExecRunner(timeout time.Duration, logger *zap.Logger) *ExecRunner {
	return &ExecRunner{
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes the command and fails on a non-zero exit status
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("Tool finished",
		zap.String("tool", name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	if err != nil {
		msg := truncateRunes(strings.TrimSpace(stderr.String()), stderrLimit)
		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// LookPath searches PATH for the tool
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func truncateRunes(s string, limit int) string {
	if runes := []rune(s); len(runes) > limit {
		return string(runes[:limit])
	}
	return s
}
