// Package audit records the decision and remediation trail of analysis
// sessions as append-only JSON lines. Every plan, skipped action, and
// applied fix lands here so an operator can reconstruct exactly what the
// engine did and why.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"apiguardian/types"
)

// Event constants define the lifecycle events that can be logged.
const (
	EventSessionStarted = "session.started"
	EventPlanGenerated  = "plan.generated"
	EventActionExecuted = "action.executed"
	EventActionSkipped  = "action.skipped"
	EventActionFailed   = "action.failed"
	EventReportReady    = "report.ready"
	EventError          = "error"
)

// Entry is a single audit record. Fields beyond Event are populated
// depending on what the event describes.
type Entry struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Event     string    `json:"event"`

	// PlanSource and ActionCount describe plan.generated events.
	PlanSource  types.PlanSource `json:"plan_source,omitempty"`
	ActionCount int              `json:"action_count,omitempty"`

	// Action details accompany action.* events.
	ActionKind types.ActionKind `json:"action_kind,omitempty"`
	Target     string           `json:"target,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	BackupPath string           `json:"backup_path,omitempty"`

	// Report totals accompany report.ready events.
	FixesApplied         int `json:"fixes_applied,omitempty"`
	VulnerabilitiesFound int `json:"vulnerabilities_found,omitempty"`

	Error string `json:"error,omitempty"`
}

// Logger records audit entries. Implementations must be safe for
// concurrent use.
type Logger interface {
	Log(entry Entry) error
	Close() error
}

// NoOpLogger discards all entries. Used when no audit path is configured.
type NoOpLogger struct{}

func (l *NoOpLogger) Log(_ Entry) error { return nil }
func (l *NoOpLogger) Close() error      { return nil }

var _ Logger = (*NoOpLogger)(nil)

// FileLogger appends entries as JSON lines to a file. Sequence numbers
// are assigned per process, starting at 1.
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	sequence int64
}

// NewFileLogger opens (or creates) the audit log at path for appending.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open log file: %w", err)
	}
	return &FileLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Log writes one entry as a JSON line. The Sequence and Timestamp fields
// are set here; callers only fill the event payload.
func (l *FileLogger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit: logger is closed")
	}

	l.sequence++
	entry.Sequence = l.sequence
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := l.encoder.Encode(entry); err != nil {
		return fmt.Errorf("audit: failed to encode entry: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	_ = l.file.Sync()
	err := l.file.Close()
	l.file = nil
	return err
}

var _ Logger = (*FileLogger)(nil)

// ForReport builds the audit entries describing a finished execution
// report: one entry per action result plus the report.ready summary.
func ForReport(sessionID string, report *types.ExecutionReport) []Entry {
	entries := make([]Entry, 0, len(report.Results)+1)
	for _, result := range report.Results {
		event := EventActionExecuted
		switch result.Status {
		case types.StatusSkipped, types.StatusUnsupported:
			event = EventActionSkipped
		case types.StatusFailed:
			event = EventActionFailed
		}
		entries = append(entries, Entry{
			SessionID:  sessionID,
			Endpoint:   report.Endpoint,
			Event:      event,
			ActionKind: result.Action.Kind,
			Target:     result.Action.Target,
			Reason:     result.Reason,
			BackupPath: result.BackupPath,
		})
	}
	entries = append(entries, Entry{
		SessionID:            sessionID,
		Endpoint:             report.Endpoint,
		Event:                EventReportReady,
		PlanSource:           report.PlanSource,
		FixesApplied:         report.FixesApplied,
		VulnerabilitiesFound: report.VulnerabilitiesFound,
	})
	return entries
}
