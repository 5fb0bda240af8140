package remediation

import (
	"context"
	"time"

	"github.com/stone-age-io/remediator/internal/tasks"
)

// Action names accepted in a remediation request
const (
	ActionRestart      = "vpn_restart"
	ActionStatus       = "vpn_status"
	ActionCheckNetwork = "check_network"
)

// State is the point-in-time state of the managed service
type State string

const (
	StateRunning    State = "running"
	StateNotRunning State = "not_running"
	StateUnknown    State = "unknown"
)

// Runner executes one command. *tasks.Executor is the production implementation.
type Runner interface {
	Execute(ctx context.Context, command string, timeout time.Duration) tasks.CommandResult
}

// ServiceStatus is a snapshot produced by one probe pass; it is never updated,
// only replaced by probing again
type ServiceStatus struct {
	State   State  `json:"status"`
	Service string `json:"service,omitempty"`
	Details string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Running reports whether the service was observed running
func (s ServiceStatus) Running() bool {
	return s.State == StateRunning
}

// Target reachability values. Executor-level failures are reported as "error: <text>".
const (
	Reachable   = "reachable"
	Unreachable = "unreachable"
)

// DNS resolution values
const (
	DNSWorking = "working"
	DNSFailed  = "failed"
	DNSError   = "error"
)

// ConnectivityReport is the result of one verification pass
type ConnectivityReport struct {
	Results    map[string]string `json:"results"`
	DNS        string            `json:"dns"`
	DNSError   string            `json:"dns_error,omitempty"`
	Interfaces []string          `json:"interfaces"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ReachableCount returns the number of targets that answered
func (r ConnectivityReport) ReachableCount() int {
	n := 0
	for _, v := range r.Results {
		if v == Reachable {
			n++
		}
	}
	return n
}

// Healthy reports whether DNS works or at least one target answered
func (r ConnectivityReport) Healthy() bool {
	return r.DNS == DNSWorking || r.ReachableCount() > 0
}

// Outcome is the terminal document of one remediation run
type Outcome struct {
	Success         bool                `json:"success"`
	Action          string              `json:"action"`
	RunID           string              `json:"run_id,omitempty"`
	Platform        string              `json:"platform"`
	ServiceManager  string              `json:"service_manager,omitempty"`
	Elevated        bool                `json:"elevated"`
	InitialStatus   *ServiceStatus      `json:"initial_status,omitempty"`
	FinalStatus     *ServiceStatus      `json:"final_status,omitempty"`
	Connectivity    *ConnectivityReport `json:"connectivity_test,omitempty"`
	ServiceUsed     string              `json:"service_used,omitempty"`
	Error           string              `json:"error,omitempty"`
	Actions         []ActionLogEntry    `json:"actions"`
	DurationSeconds float64             `json:"duration_seconds"`
	Timestamp       time.Time           `json:"timestamp"`
}

// ErrorDocument is written instead of an Outcome when a request cannot be run at all
type ErrorDocument struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorDocument builds a failure document for err
func NewErrorDocument(err error) ErrorDocument {
	return ErrorDocument{
		Success:   false,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
}
