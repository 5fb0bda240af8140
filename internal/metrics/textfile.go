// Package metrics renders remediation outcomes as Prometheus metrics for the
// node_exporter / windows_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stone-age-io/remediator/internal/remediation"
	"github.com/stone-age-io/remediator/internal/tasks"
	"google.golang.org/protobuf/proto"
)

// Metric names written to the textfile
const (
	NameSuccess         = "remediator_last_run_success"
	NameDuration        = "remediator_last_run_duration_seconds"
	NameTimestamp       = "remediator_last_run_timestamp_seconds"
	NameServiceUp       = "remediator_vpn_service_up"
	NameTargetReachable = "remediator_target_reachable"
	NameDNSWorking      = "remediator_dns_working"
	NameCommands        = "remediator_commands_total"
	NameCommandErrors   = "remediator_command_errors_total"
)

// Families builds the metric families for one outcome. stats may be nil.
func Families(outcome *remediation.Outcome, stats *tasks.ExecutorMetrics) []*dto.MetricFamily {
	action := label("action", outcome.Action)

	families := []*dto.MetricFamily{
		gauge(NameSuccess, "Whether the last remediation run succeeded (1) or failed (0).",
			sample(boolValue(outcome.Success), action)),
		gauge(NameDuration, "Wall time of the last remediation run.",
			sample(outcome.DurationSeconds, action)),
		gauge(NameTimestamp, "Unix time the last remediation run finished.",
			sample(float64(outcome.Timestamp.Unix()), action)),
	}

	// The most recent probe is the best view of the service
	status := outcome.FinalStatus
	if status == nil {
		status = outcome.InitialStatus
	}
	if status != nil && status.State != remediation.StateUnknown {
		service := status.Service
		if service == "" {
			service = outcome.ServiceUsed
		}
		families = append(families, gauge(NameServiceUp, "Whether the VPN service was running when last probed.",
			sample(boolValue(status.Running()), label("service", service))))
	}

	if report := outcome.Connectivity; report != nil {
		targets := make([]string, 0, len(report.Results))
		for target := range report.Results {
			targets = append(targets, target)
		}
		sort.Strings(targets)

		var samples []*dto.Metric
		for _, target := range targets {
			samples = append(samples, sample(boolValue(report.Results[target] == remediation.Reachable), label("target", target)))
		}
		families = append(families,
			gauge(NameTargetReachable, "Whether a connectivity target answered ping.", samples...),
			gauge(NameDNSWorking, "Whether DNS resolution worked.", sample(boolValue(report.DNS == remediation.DNSWorking))),
		)
	}

	if stats != nil {
		families = append(families,
			counter(NameCommands, "External commands run during the last remediation run.", float64(stats.CommandsProcessed)),
			counter(NameCommandErrors, "External commands that failed during the last remediation run.", float64(stats.CommandsErrored)),
		)
	}

	return families
}

// WriteTextfile writes families in the text exposition format. The file is
// written next to path and renamed into place so the collector never reads a
// partial file.
func WriteTextfile(path string, families []*dto.MetricFamily) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	encoder := expfmt.NewEncoder(tmp, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move textfile into place: %w", err)
	}
	return nil
}

func gauge(name, help string, samples ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: samples,
	}
}

func counter(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Counter: &dto.Counter{Value: proto.Float64(value)},
		}},
	}
}

func sample(value float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: proto.Float64(value)},
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
