package remediation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stone-age-io/remediator/internal/platform"
	"go.uber.org/zap"
)

// Prober determines whether any of a set of candidate services is running
type Prober struct {
	adapter platform.Adapter
	runner  Runner
	timeout time.Duration
	logger  *zap.Logger
}

// NewProber creates a prober that issues the adapter's detection commands through runner
func NewProber(adapter platform.Adapter, runner Runner, timeout time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		adapter: adapter,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
}

// Probe tries candidates in order and returns the first one running. If none is
// running, the result is NotRunning unless some probe failed to execute, in which
// case the state cannot be confirmed and the result is Unknown.
func (p *Prober) Probe(ctx context.Context, candidates []string) ServiceStatus {
	var failures []string

	for _, probe := range p.adapter.DetectProbes(candidates) {
		result := p.runner.Execute(ctx, probe.Command, p.timeout)

		if result.ExecFailed() {
			p.logger.Warn("Service probe failed to execute",
				zap.String("service", probe.Service),
				zap.String("error", result.Stderr))
			failures = append(failures, fmt.Sprintf("%s: %s", probe.Service, result.Stderr))
			continue
		}

		if result.Succeeded && probe.Running(result.Stdout) {
			p.logger.Debug("Service detected running", zap.String("service", probe.Service))
			return ServiceStatus{
				State:   StateRunning,
				Service: probe.Service,
				Details: result.Stdout,
			}
		}
	}

	if len(failures) > 0 {
		return ServiceStatus{
			State: StateUnknown,
			Error: strings.Join(failures, "; "),
		}
	}

	return ServiceStatus{State: StateNotRunning}
}
