package metrics

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stone-age-io/remediator/internal/remediation"
	"github.com/stone-age-io/remediator/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restartOutcome() *remediation.Outcome {
	return &remediation.Outcome{
		Success:         true,
		Action:          remediation.ActionRestart,
		InitialStatus:   &remediation.ServiceStatus{State: remediation.StateRunning, Service: "openvpn"},
		FinalStatus:     &remediation.ServiceStatus{State: remediation.StateRunning, Service: "openvpn"},
		ServiceUsed:     "openvpn",
		DurationSeconds: 9.5,
		Timestamp:       time.Unix(1700000000, 0),
		Connectivity: &remediation.ConnectivityReport{
			Results: map[string]string{
				"8.8.8.8":  remediation.Reachable,
				"10.0.0.1": remediation.Unreachable,
				"1.1.1.1":  "error: timed out",
			},
			DNS: remediation.DNSWorking,
		},
	}
}

func readTextfile(t *testing.T, path string) map[string]*dto.MetricFamily {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	decoder := expfmt.NewDecoder(f, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		err := decoder.Decode(mf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		families[mf.GetName()] = mf
	}
	return families
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.Label {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remediator.prom")
	stats := &tasks.ExecutorMetrics{CommandsProcessed: 12, CommandsErrored: 3}

	require.NoError(t, WriteTextfile(path, Families(restartOutcome(), stats)))

	families := readTextfile(t, path)

	success := families[NameSuccess]
	require.NotNil(t, success)
	assert.Equal(t, 1.0, success.Metric[0].GetGauge().GetValue())
	assert.Equal(t, "vpn_restart", labelValue(success.Metric[0], "action"))

	assert.Equal(t, 9.5, families[NameDuration].Metric[0].GetGauge().GetValue())
	assert.Equal(t, 1700000000.0, families[NameTimestamp].Metric[0].GetGauge().GetValue())

	up := families[NameServiceUp]
	require.NotNil(t, up)
	assert.Equal(t, "openvpn", labelValue(up.Metric[0], "service"))
	assert.Equal(t, 1.0, up.Metric[0].GetGauge().GetValue())

	reachable := map[string]float64{}
	for _, m := range families[NameTargetReachable].Metric {
		reachable[labelValue(m, "target")] = m.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"8.8.8.8": 1, "10.0.0.1": 0, "1.1.1.1": 0}, reachable)
	assert.Equal(t, 1.0, families[NameDNSWorking].Metric[0].GetGauge().GetValue())

	assert.Equal(t, 12.0, families[NameCommands].Metric[0].GetCounter().GetValue())
	assert.Equal(t, 3.0, families[NameCommandErrors].Metric[0].GetCounter().GetValue())

	leftovers, err := filepath.Glob(path + ".tmp*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFamiliesPartialOutcome(t *testing.T) {
	outcome := &remediation.Outcome{
		Action:        remediation.ActionRestart,
		Platform:      "plan9",
		InitialStatus: &remediation.ServiceStatus{State: remediation.StateUnknown, Error: "unsupported platform"},
		Timestamp:     time.Now(),
	}

	names := map[string]bool{}
	for _, mf := range Families(outcome, nil) {
		names[mf.GetName()] = true
	}

	assert.True(t, names[NameSuccess])
	assert.False(t, names[NameServiceUp], "unknown state is not exported as down")
	assert.False(t, names[NameTargetReachable])
	assert.False(t, names[NameCommands])
}

func TestWriteTextfileMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "remediator.prom")
	assert.Error(t, WriteTextfile(path, Families(restartOutcome(), nil)))
}
