package remediation

import (
	"context"
	"fmt"
	"time"

	"github.com/stone-age-io/remediator/internal/platform"
	"github.com/stone-age-io/remediator/internal/tasks"
	"github.com/stone-age-io/remediator/internal/utils"
	"go.uber.org/zap"
)

// Settle defaults. Services start more slowly than they stop.
const (
	DefaultStopSettle  = 3 * time.Second
	DefaultStartSettle = 5 * time.Second
)

// Action log step names
const (
	stepRestartInitiated    = "restart_initiated"
	stepUnsupportedPlatform = "unsupported_platform"
	stepInitialStatus       = "initial_status"
	stepVPNDetected         = "vpn_detected"
	stepVPNNotRunning       = "vpn_not_running"
	stepStatusUnknown       = "status_unknown"
	stepVPNStopped          = "vpn_stopped"
	stepStopFailed          = "stop_failed"
	stepVPNStarted          = "vpn_started"
	stepStartFailed         = "start_failed"
	stepSettle              = "settle"
	stepConnectivityCheck   = "connectivity_check"
	stepFinalStatus         = "final_status"
	stepRestartSuccess      = "restart_success"
	stepRestartFailed       = "restart_failed"
	stepStatusCheck         = "status_check"
	stepNetworkCheck        = "network_check"
)

// Options configure an Orchestrator. Platform is the OS family, normally
// runtime.GOOS. Candidates replaces the family default candidate list when set.
// Zero settle times disable the waits.
type Options struct {
	Platform       string
	Adapter        platform.Options
	CommandTimeout time.Duration
	StopSettle     time.Duration
	StartSettle    time.Duration
	Candidates     []string
	Targets        []string
	PingCount      int
	DNSHost        string
	Retry          tasks.RetryPolicy
}

// Orchestrator runs the remediation workflows for one process. It holds no
// per-run state: every call builds its own action log and outcome.
type Orchestrator struct {
	opts       Options
	adapter    platform.Adapter
	adapterErr error
	runner     Runner
	prober     *Prober
	verifier   *Verifier
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) bool
	now        func() time.Time
}

// New creates an orchestrator. An unsupported platform is not an error here:
// every workflow then returns a failure outcome without issuing commands.
func New(runner Runner, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = tasks.DefaultCommandTimeout
	}

	o := &Orchestrator{
		opts:   opts,
		runner: runner,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}

	adapter, err := platform.Lookup(opts.Platform, opts.Adapter)
	if err != nil {
		logger.Error("No platform adapter available",
			zap.String("platform", opts.Platform),
			zap.Error(err))
		o.adapterErr = err
		return o
	}

	o.adapter = adapter
	o.prober = NewProber(adapter, runner, opts.CommandTimeout, logger)
	o.verifier = NewVerifier(adapter, runner, opts.CommandTimeout, opts.Targets, opts.PingCount, opts.DNSHost, logger)
	return o
}

// Supported reports whether the platform has an adapter
func (o *Orchestrator) Supported() bool {
	return o.adapterErr == nil
}

// Budget returns the worst-case wall time of a restart of service with config:
// the initial and final probes, stop, start, every ping, DNS, and both settle waits
func (o *Orchestrator) Budget(service, config string) time.Duration {
	if o.adapterErr != nil {
		return o.opts.Retry.Budget(o.opts.CommandTimeout)
	}
	initial := o.candidates(service, config)

	// the final probe follows the started service, which detection picks under "auto"
	final := len(initial)
	if service == "" || service == platform.AutoService {
		for _, target := range append([]string{o.adapter.DefaultService()}, initial...) {
			if n := len(o.candidates(target, config)); n > final {
				final = n
			}
		}
	}

	commands := len(initial) + final + 2 + len(o.verifier.Targets()) + 1
	return time.Duration(commands)*o.opts.Retry.Budget(o.opts.CommandTimeout) + o.opts.StopSettle + o.opts.StartSettle
}

// Restart runs the restart workflow: probe, stop if running, start, settle,
// verify connectivity, probe again. Success is decided by the final probe only.
func (o *Orchestrator) Restart(ctx context.Context, service, config string) *Outcome {
	started := o.now()
	log := NewActionLog(o.logger, o.now)
	outcome := o.newOutcome(ActionRestart)
	defer o.finish(outcome, log, started)

	log.Append(stepRestartInitiated, fmt.Sprintf("service=%s config=%s", service, config))

	if o.adapterErr != nil {
		o.unsupported(outcome, log)
		return outcome
	}

	initial := o.prober.Probe(ctx, o.candidates(service, config))
	outcome.InitialStatus = &initial
	log.Append(stepInitialStatus, describeStatus(initial))

	stopped := false
	switch initial.State {
	case StateRunning:
		log.Append(stepVPNDetected, initial.Service)

		result := o.runner.Execute(ctx, o.adapter.StopCommand(initial.Service), o.opts.CommandTimeout)
		if !result.Succeeded {
			// Never start on top of a service that refused to stop
			log.Append(stepStopFailed, fmt.Sprintf("%s: %s", initial.Service, describeFailure(result)))
			outcome.Error = fmt.Sprintf("failed to stop %s: %s", initial.Service, describeFailure(result))
			log.Append(stepRestartFailed, outcome.Error)
			return outcome
		}
		log.Append(stepVPNStopped, initial.Service)
		stopped = true

	case StateUnknown:
		log.Append(stepStatusUnknown, initial.Error)

	default:
		log.Append(stepVPNNotRunning, "no running VPN service detected")
	}

	if stopped {
		o.settle(ctx, log, "stop", o.opts.StopSettle)
	}

	target := o.serviceToStart(service, initial)
	outcome.ServiceUsed = o.adapter.ServiceInstance(target, config)

	result := o.runner.Execute(ctx, o.adapter.StartCommand(target, config), o.opts.CommandTimeout)
	if !result.Succeeded {
		log.Append(stepStartFailed, fmt.Sprintf("%s: %s", target, describeFailure(result)))
		outcome.Error = fmt.Sprintf("failed to start %s: %s", target, describeFailure(result))
		log.Append(stepRestartFailed, outcome.Error)
		return outcome
	}
	log.Append(stepVPNStarted, target)

	o.settle(ctx, log, "start", o.opts.StartSettle)

	report := o.verifier.Verify(ctx)
	outcome.Connectivity = &report
	log.Append(stepConnectivityCheck, describeConnectivity(report))

	final := o.prober.Probe(ctx, o.candidates(target, config))
	outcome.FinalStatus = &final
	log.Append(stepFinalStatus, describeStatus(final))

	outcome.Success = final.Running()
	if outcome.Success {
		log.Append(stepRestartSuccess, fmt.Sprintf("%s is running", final.Service))
	} else {
		outcome.Error = fmt.Sprintf("%s is not running after restart", outcome.ServiceUsed)
		log.Append(stepRestartFailed, outcome.Error)
	}

	return outcome
}

// Status probes the candidates once. Success means a VPN service is running.
func (o *Orchestrator) Status(ctx context.Context, service string) *Outcome {
	started := o.now()
	log := NewActionLog(o.logger, o.now)
	outcome := o.newOutcome(ActionStatus)
	defer o.finish(outcome, log, started)

	if o.adapterErr != nil {
		o.unsupported(outcome, log)
		return outcome
	}

	status := o.prober.Probe(ctx, o.candidates(service, ""))
	outcome.InitialStatus = &status
	outcome.ServiceUsed = status.Service
	log.Append(stepStatusCheck, describeStatus(status))

	outcome.Success = status.Running()
	if !outcome.Success {
		outcome.Error = "no running VPN service detected"
		if status.State == StateUnknown {
			outcome.Error = "VPN service state unknown: " + status.Error
		}
	}
	return outcome
}

// CheckNetwork runs connectivity verification only. Success means DNS works or
// at least one target is reachable.
func (o *Orchestrator) CheckNetwork(ctx context.Context) *Outcome {
	started := o.now()
	log := NewActionLog(o.logger, o.now)
	outcome := o.newOutcome(ActionCheckNetwork)
	defer o.finish(outcome, log, started)

	if o.adapterErr != nil {
		o.unsupported(outcome, log)
		return outcome
	}

	report := o.verifier.Verify(ctx)
	outcome.Connectivity = &report
	log.Append(stepNetworkCheck, describeConnectivity(report))

	outcome.Success = report.Healthy()
	if !outcome.Success {
		outcome.Error = "no network connectivity"
	}
	return outcome
}

func (o *Orchestrator) newOutcome(action string) *Outcome {
	return &Outcome{
		Action:   action,
		Platform: o.opts.Platform,
		Actions:  []ActionLogEntry{},
	}
}

func (o *Orchestrator) finish(outcome *Outcome, log *ActionLog, started time.Time) {
	end := o.now()
	outcome.Actions = log.Entries()
	outcome.DurationSeconds = utils.Seconds(end.Sub(started))
	outcome.Timestamp = end.UTC()
}

func (o *Orchestrator) unsupported(outcome *Outcome, log *ActionLog) {
	log.Append(stepUnsupportedPlatform, fmt.Sprintf("no VPN management available for platform %q: %v", o.opts.Platform, o.adapterErr))
	outcome.InitialStatus = &ServiceStatus{State: StateUnknown, Error: o.adapterErr.Error()}
	outcome.Error = o.adapterErr.Error()
}

// candidates lists the services to probe for service started with config,
// the concrete instance first
func (o *Orchestrator) candidates(service, config string) []string {
	return platform.Candidates(o.adapter, o.adapter.ServiceInstance(service, config), o.opts.Candidates)
}

// serviceToStart prefers the caller's service, then the detected one, then the family default
func (o *Orchestrator) serviceToStart(requested string, initial ServiceStatus) string {
	if requested != "" && requested != platform.AutoService {
		return requested
	}
	if initial.Service != "" {
		return initial.Service
	}
	return o.adapter.DefaultService()
}

func (o *Orchestrator) settle(ctx context.Context, log *ActionLog, after string, d time.Duration) {
	if d <= 0 {
		return
	}
	log.Append(stepSettle, fmt.Sprintf("waiting %s after %s", d, after))
	if !o.sleep(ctx, d) {
		o.logger.Warn("Settle wait interrupted",
			zap.String("after", after),
			zap.Error(ctx.Err()))
	}
}

func describeStatus(s ServiceStatus) string {
	switch s.State {
	case StateRunning:
		return fmt.Sprintf("%s (%s)", s.State, s.Service)
	case StateUnknown:
		return fmt.Sprintf("%s: %s", s.State, s.Error)
	default:
		return string(s.State)
	}
}

func describeFailure(r tasks.CommandResult) string {
	if r.ExecFailed() {
		return r.Stderr
	}
	if r.Stderr != "" {
		return fmt.Sprintf("exit code %d: %s", r.ExitCode, r.Stderr)
	}
	return fmt.Sprintf("exit code %d", r.ExitCode)
}

func describeConnectivity(r ConnectivityReport) string {
	return fmt.Sprintf("%d/%d targets reachable, dns %s", r.ReachableCount(), len(r.Results), r.DNS)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
