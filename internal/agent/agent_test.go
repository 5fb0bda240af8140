package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stone-age-io/remediator/internal/config"
	"github.com/stone-age-io/remediator/internal/errors"
	"github.com/stone-age-io/remediator/internal/remediation"
	"github.com/stone-age-io/remediator/internal/request"
	"github.com/stone-age-io/remediator/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// failingRunner records commands and fails every one with exit code 1
type failingRunner struct {
	calls []string
}

func (r *failingRunner) Execute(ctx context.Context, command string, timeout time.Duration) tasks.CommandResult {
	r.calls = append(r.calls, command)
	if _, ok := ctx.Deadline(); !ok {
		return tasks.CommandResult{ExitCode: -1, Stderr: "no run deadline"}
	}
	return tasks.CommandResult{ExitCode: 1, Attempts: 1}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "remediator.prom")
	return cfg
}

func TestHandleUnsupportedPlatform(t *testing.T) {
	cfg := testConfig(t)
	runner := &failingRunner{}
	a := newAgent(cfg, zap.NewNop(), runner, nil, "plan9", true, "test")

	outcome, err := a.Handle(context.Background(), &request.Request{Action: remediation.ActionRestart, Service: "auto"})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Empty(t, runner.calls)
	assert.Equal(t, "plan9", outcome.Platform)
	assert.True(t, outcome.Elevated)
	assert.NotEmpty(t, outcome.ServiceManager)
	_, parseErr := uuid.Parse(outcome.RunID)
	assert.NoError(t, parseErr, "run_id should be a UUID")

	_, statErr := os.Stat(cfg.Metrics.Textfile)
	assert.NoError(t, statErr, "metrics textfile should be written")
}

func TestHandleRestartUsesSudoWhenNotElevated(t *testing.T) {
	cfg := testConfig(t)
	runner := &failingRunner{}
	a := newAgent(cfg, zap.NewNop(), runner, nil, "linux", false, "test")

	outcome, err := a.Handle(context.Background(), &request.Request{Action: remediation.ActionRestart, Service: "auto"})
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.Equal(t, "openvpn", outcome.ServiceUsed)
	assert.Contains(t, runner.calls, "sudo -n systemctl start 'openvpn'")
	for _, call := range runner.calls {
		assert.False(t, strings.HasPrefix(call, "sudo -n systemctl is-active"), "probes are never elevated")
	}
}

func TestHandleNeverSudo(t *testing.T) {
	cfg := testConfig(t)
	cfg.Platform.Sudo = config.SudoNever
	runner := &failingRunner{}
	a := newAgent(cfg, zap.NewNop(), runner, nil, "linux", false, "test")

	_, err := a.Handle(context.Background(), &request.Request{Action: remediation.ActionRestart, Service: "strongswan"})
	require.NoError(t, err)

	assert.Contains(t, runner.calls, "systemctl start 'strongswan'")
}

func TestHandleOtherActions(t *testing.T) {
	cfg := testConfig(t)
	runner := &failingRunner{}
	a := newAgent(cfg, zap.NewNop(), runner, nil, "linux", true, "test")

	status, err := a.Handle(context.Background(), &request.Request{Action: remediation.ActionStatus, Service: "auto"})
	require.NoError(t, err)
	assert.Equal(t, remediation.ActionStatus, status.Action)
	assert.False(t, status.Success)

	network, err := a.Handle(context.Background(), &request.Request{Action: remediation.ActionCheckNetwork, Service: "auto"})
	require.NoError(t, err)
	assert.Equal(t, remediation.ActionCheckNetwork, network.Action)
	require.NotNil(t, network.Connectivity)
	assert.Len(t, network.Connectivity.Results, len(cfg.Connectivity.Targets))
	assert.NotEqual(t, status.RunID, network.RunID)
}

func TestHandleUnknownAction(t *testing.T) {
	a := newAgent(testConfig(t), zap.NewNop(), &failingRunner{}, nil, "linux", true, "test")

	_, err := a.Handle(context.Background(), &request.Request{Action: "clear_cache", Service: "auto"})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestHandleReportFailureKeepsOutcome(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.Enabled = true
	cfg.Report.DeviceID = "test-device"
	cfg.Report.Timeout = time.Second
	cfg.Report.NATS.URLs = []string{"nats://127.0.0.1:1"}
	a := newAgent(cfg, zap.NewNop(), &failingRunner{}, nil, "plan9", true, "test")

	outcome, err := a.Handle(context.Background(), &request.Request{Action: remediation.ActionStatus, Service: "auto"})
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "unsupported platform")

	err = a.report(outcome)
	assert.True(t, errors.IsNetworkError(err), "unreachable server should be a network error, got %v", err)
}

func TestInitLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "remediator.log")

	logger, err := initLogger(config.LoggingConfig{Level: "debug", File: logFile, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)
	logger.Info("hello", zap.String("k", "v"))
	logger.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"timestamp"`)

	_, err = initLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
