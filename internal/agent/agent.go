package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/google/uuid"
	"github.com/kardianos/service"
	"github.com/stone-age-io/remediator/internal/config"
	"github.com/stone-age-io/remediator/internal/errors"
	"github.com/stone-age-io/remediator/internal/metrics"
	natsclient "github.com/stone-age-io/remediator/internal/nats"
	"github.com/stone-age-io/remediator/internal/platform"
	"github.com/stone-age-io/remediator/internal/privilege"
	"github.com/stone-age-io/remediator/internal/remediation"
	"github.com/stone-age-io/remediator/internal/request"
	"github.com/stone-age-io/remediator/internal/tasks"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Agent runs one remediation request per process
type Agent struct {
	config         *config.Config
	logger         *zap.Logger
	executor       *tasks.Executor
	orchestrator   *remediation.Orchestrator
	version        string
	elevated       bool
	serviceManager string
}

// New creates an agent from the config file at configPath (empty for defaults and environment only)
func New(configPath string, version string) (*Agent, error) {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, errors.NewConfigError("failed to initialize logger", err)
	}

	executor := tasks.NewExecutor(logger, cfg.Commands.Timeout, retryPolicy(cfg.Commands.Retry))

	return newAgent(cfg, logger, executor, executor, runtime.GOOS, privilege.IsElevated(), version), nil
}

// newAgent wires an agent around runner. executor may be nil when runner is not
// an executor; it only supplies command statistics.
func newAgent(cfg *config.Config, logger *zap.Logger, runner remediation.Runner, executor *tasks.Executor, goos string, elevated bool, version string) *Agent {
	sudo := privilege.UseSudo(cfg.Platform.Sudo, elevated)

	logger.Info("Starting remediator",
		zap.String("version", version),
		zap.String("platform", goos),
		zap.String("service_manager", service.Platform()),
		zap.Bool("elevated", elevated),
		zap.Bool("sudo", sudo))

	orchestrator := remediation.New(runner, logger, remediation.Options{
		Platform:       goos,
		Adapter:        platform.Options{Sudo: sudo},
		CommandTimeout: cfg.Commands.Timeout,
		StopSettle:     cfg.Restart.StopSettle,
		StartSettle:    cfg.Restart.StartSettle,
		Candidates:     cfg.Restart.Candidates,
		Targets:        cfg.Connectivity.Targets,
		PingCount:      cfg.Connectivity.PingCount,
		DNSHost:        cfg.Connectivity.DNSHost,
		Retry:          retryPolicy(cfg.Commands.Retry),
	})

	return &Agent{
		config:         cfg,
		logger:         logger,
		executor:       executor,
		orchestrator:   orchestrator,
		version:        version,
		elevated:       elevated,
		serviceManager: service.Platform(),
	}
}

// Logger returns the agent logger
func (a *Agent) Logger() *zap.Logger {
	return a.logger
}

// Handle runs req under the overall run deadline and returns its outcome.
// Metrics and reporting failures are logged and never change the outcome.
func (a *Agent) Handle(ctx context.Context, req *request.Request) (*remediation.Outcome, error) {
	runID := uuid.NewString()
	budget := a.orchestrator.Budget(req.Service, req.Config)

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	logger := a.logger.With(zap.String("run_id", runID))
	logger.Info("Remediation started",
		zap.String("action", req.Action),
		zap.String("service", req.Service),
		zap.String("config", req.Config),
		zap.Duration("deadline", budget))

	var outcome *remediation.Outcome
	switch req.Action {
	case remediation.ActionRestart:
		outcome = a.orchestrator.Restart(ctx, req.Service, req.Config)
	case remediation.ActionStatus:
		outcome = a.orchestrator.Status(ctx, req.Service)
	case remediation.ActionCheckNetwork:
		outcome = a.orchestrator.CheckNetwork(ctx)
	default:
		return nil, errors.NewValidationError("unknown action", nil).WithContext("action", req.Action)
	}

	outcome.RunID = runID
	outcome.ServiceManager = a.serviceManager
	outcome.Elevated = a.elevated

	var stats *tasks.ExecutorMetrics
	if a.executor != nil {
		stats = a.executor.GetStats()
	}

	logger.Info("Remediation finished",
		zap.String("action", outcome.Action),
		zap.Bool("success", outcome.Success),
		zap.Float64("duration_seconds", outcome.DurationSeconds),
		zap.String("error", outcome.Error))
	if stats != nil {
		logger.Debug("Command statistics",
			zap.Int64("processed", stats.CommandsProcessed),
			zap.Int64("errored", stats.CommandsErrored),
			zap.String("last_error", stats.LastError))
	}

	if path := a.config.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path, metrics.Families(outcome, stats)); err != nil {
			logger.Warn("Failed to write metrics textfile", zap.String("path", path), zap.Error(err))
		} else {
			logger.Debug("Metrics textfile written", zap.String("path", path))
		}
	}

	if a.config.Report.Enabled {
		if err := a.report(outcome); err != nil {
			if errors.IsNetworkError(err) {
				logger.Warn("NATS unreachable, outcome not reported", zap.Error(err))
			} else {
				logger.Error("Failed to report outcome", zap.Error(err))
			}
		}
	}

	return outcome, nil
}

// report publishes the outcome document to NATS
func (a *Agent) report(outcome *remediation.Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	client, err := natsclient.NewClient(&a.config.Report.NATS, a.config.Report.Timeout, a.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	subject := natsclient.Subject(a.config.Report.SubjectPrefix, a.config.Report.DeviceID, outcome.Action)
	if err := client.Publish(subject, data, a.config.Report.Timeout); err != nil {
		return err
	}

	a.logger.Info("Outcome reported", zap.String("subject", subject))
	return nil
}

// Shutdown flushes the logger
func (a *Agent) Shutdown() {
	a.logger.Sync()
}

func retryPolicy(cfg config.RetryConfig) tasks.RetryPolicy {
	return tasks.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Delay:       cfg.Delay,
		BackoffRate: cfg.BackoffRate,
	}
}

// initLogger creates a logger writing to stderr and, when a file is configured,
// a rotating JSON log file. Stdout is reserved for the result document.
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	// Parse log level
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	// Create encoder config
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		// Setup log rotation with lumberjack
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     28, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logger, nil
}
