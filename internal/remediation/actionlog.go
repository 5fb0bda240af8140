package remediation

import (
	"time"

	"go.uber.org/zap"
)

// ActionLogEntry records one step of a run
type ActionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// ActionLog is the append-only step record of a single run. Every entry is
// also written to the logger as a progress line.
type ActionLog struct {
	logger  *zap.Logger
	now     func() time.Time
	entries []ActionLogEntry
}

// NewActionLog creates an empty log
func NewActionLog(logger *zap.Logger, now func() time.Time) *ActionLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &ActionLog{logger: logger, now: now}
}

// Append records a step
func (l *ActionLog) Append(action, details string) {
	l.entries = append(l.entries, ActionLogEntry{
		Timestamp: l.now().UTC(),
		Action:    action,
		Details:   details,
	})
	l.logger.Info("Remediation step",
		zap.String("action", action),
		zap.String("details", details))
}

// Entries returns a copy of the recorded steps in order
func (l *ActionLog) Entries() []ActionLogEntry {
	out := make([]ActionLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
