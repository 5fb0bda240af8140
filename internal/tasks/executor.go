package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/stone-age-io/remediator/internal/utils"
	"go.uber.org/zap"
)

// DefaultCommandTimeout bounds a single command when no timeout is configured
const DefaultCommandTimeout = 30 * time.Second

// TimedOutMessage is the stderr text of a result killed by its deadline
const TimedOutMessage = "timed out"

// waitDelay bounds how long Wait blocks on inherited pipes after the process is killed
const waitDelay = 2 * time.Second

// CommandResult is the outcome of one command execution.
// ExitCode is -1 when the command timed out or could not be started.
type CommandResult struct {
	Succeeded bool          `json:"success"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"-"`
	Attempts  int           `json:"attempts"`
}

// ExecFailed reports whether the command never produced an answer of its own
// (timeout, spawn failure, killed by signal) as opposed to exiting non-zero.
func (r CommandResult) ExecFailed() bool {
	return r.ExitCode == -1
}

// RetryPolicy is the bounded retry applied to executor-level failures.
// MaxAttempts of 0 or 1 means a single attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	BackoffRate float64
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) nextDelay(d time.Duration) time.Duration {
	if p.BackoffRate <= 1 {
		return d
	}
	return time.Duration(float64(d) * p.BackoffRate)
}

// Budget returns the worst-case wall time of one command under this policy
func (p RetryPolicy) Budget(timeout time.Duration) time.Duration {
	total := time.Duration(0)
	delay := p.Delay
	for attempt := 1; attempt <= p.attempts(); attempt++ {
		total += timeout
		if attempt < p.attempts() {
			total += delay
			delay = p.nextDelay(delay)
		}
	}
	return total
}

// Executor runs shell commands with a hard timeout and never returns an error:
// every failure is folded into the CommandResult.
type Executor struct {
	logger         *zap.Logger
	commandTimeout time.Duration
	retry          RetryPolicy
	stats          *ExecutorStats
	shell          func(ctx context.Context, command string) *exec.Cmd
}

// ExecutorStats tracks executor statistics for the lifetime of the process
type ExecutorStats struct {
	mu                sync.RWMutex
	startTime         time.Time
	commandsProcessed int64
	commandsErrored   int64
	lastError         string
	lastErrorTime     time.Time
}

// ExecutorMetrics is a snapshot of ExecutorStats
type ExecutorMetrics struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	CommandsProcessed int64   `json:"commands_processed"`
	CommandsErrored   int64   `json:"commands_errored"`
	LastError         string  `json:"last_error,omitempty"`
	LastErrorTime     string  `json:"last_error_time,omitempty"`
}

// NewExecutor creates a new command executor
func NewExecutor(logger *zap.Logger, commandTimeout time.Duration, retry RetryPolicy) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}

	return &Executor{
		logger:         logger,
		commandTimeout: commandTimeout,
		retry:          retry,
		stats:          &ExecutorStats{startTime: time.Now()},
		shell:          shellCommand,
	}
}

// CommandTimeout returns the per-command timeout used when callers pass zero
func (e *Executor) CommandTimeout() time.Duration {
	return e.commandTimeout
}

// Execute runs command through the platform shell. A timeout of zero uses the
// executor default. Only executor-level failures are retried.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration) CommandResult {
	if timeout <= 0 {
		timeout = e.commandTimeout
	}

	var result CommandResult
	delay := e.retry.Delay
	attempts := e.retry.attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		result = e.runOnce(ctx, command, timeout)
		result.Attempts = attempt

		if !result.ExecFailed() || attempt == attempts || ctx.Err() != nil {
			break
		}

		e.logger.Warn("Command failed to execute, retrying",
			zap.String("command", command),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("stderr", result.Stderr))

		if !sleepContext(ctx, delay) {
			break
		}
		delay = e.retry.nextDelay(delay)
	}

	if result.Succeeded {
		e.RecordCommandSuccess()
	} else {
		e.RecordCommandError(fmt.Errorf("%s: exit %d: %s", command, result.ExitCode, result.Stderr))
	}

	return result
}

func (e *Executor) runOnce(ctx context.Context, command string, timeout time.Duration) CommandResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := e.shell(runCtx, command)
	cmd.WaitDelay = waitDelay
	if kill := cmd.Cancel; kill != nil {
		// Children elevated through sudo may refuse the signal
		cmd.Cancel = func() error {
			err := kill()
			if err != nil && !errors.Is(err, os.ErrProcessDone) {
				e.logger.Warn("Failed to kill timed out command",
					zap.String("command", command),
					zap.Error(err))
			}
			return err
		}
	}

	// Capture stdout and stderr
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("Executing command",
		zap.String("command", command),
		zap.Duration("timeout", timeout))

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := CommandResult{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: elapsed,
	}

	if runCtx.Err() != nil {
		e.logger.Warn("Command timed out",
			zap.String("command", command),
			zap.Duration("timeout", timeout))
		result.Stderr = TimedOutMessage
		result.ExitCode = -1
		return result
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if result.ExitCode == notFoundExitCode {
				// The shell ran but the tool itself is missing
				result.ExitCode = -1
				if result.Stderr == "" {
					result.Stderr = "command not found"
				}
			}
		} else {
			result.ExitCode = -1
			result.Stderr = err.Error()
		}
		e.logger.Debug("Command exited with error",
			zap.String("command", command),
			zap.Int("exit_code", result.ExitCode),
			zap.String("stderr", result.Stderr))
		return result
	}

	result.Succeeded = true
	return result
}

// GetStats returns a snapshot of executor statistics
func (e *Executor) GetStats() *ExecutorMetrics {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	metrics := &ExecutorMetrics{
		UptimeSeconds:     utils.Seconds(time.Since(e.stats.startTime)),
		CommandsProcessed: e.stats.commandsProcessed,
		CommandsErrored:   e.stats.commandsErrored,
	}

	if !e.stats.lastErrorTime.IsZero() {
		metrics.LastError = e.stats.lastError
		metrics.LastErrorTime = e.stats.lastErrorTime.Format(time.RFC3339)
	}

	return metrics
}

// RecordCommandSuccess increments success counter
func (e *Executor) RecordCommandSuccess() {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.commandsProcessed++
}

// RecordCommandError increments error counter and stores last error
func (e *Executor) RecordCommandError(err error) {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()

	e.stats.commandsErrored++
	e.stats.commandsProcessed++ // Still counts as processed
	e.stats.lastError = err.Error()
	e.stats.lastErrorTime = time.Now()
}

// sleepContext waits for d or until ctx is done; it reports whether the full wait elapsed
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
