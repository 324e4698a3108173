package models

import "encoding/json"

// JobStatus is the server-side lifecycle state of an asynchronous job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"

	// StatusDisconnected is synthesized by the client, never sent by the
	// server. It reports that every transport is currently failing and is
	// not terminal.
	StatusDisconnected JobStatus = "disconnected"
)

// IsKnown reports whether s is one of the five statuses the backend emits.
func (s JobStatus) IsKnown() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether s ends a subscription.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ProgressDetail describes how far a processing job has come.
type ProgressDetail struct {
	CurrentStep               int      `json:"current_step"`
	TotalSteps                int      `json:"total_steps"`
	StepName                  string   `json:"step_name"`
	Message                   string   `json:"message"`
	Percentage                float64  `json:"percentage"`
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds,omitempty"`
}

// ProgressMessage is the canonical update delivered to subscribers,
// whichever transport it arrived on.
type ProgressMessage struct {
	JobID     string          `json:"job_id" yaml:"job_id"`
	Status    JobStatus       `json:"status" yaml:"status"`
	Progress  *ProgressDetail `json:"progress,omitempty" yaml:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty" yaml:"-"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp string          `json:"timestamp" yaml:"timestamp"`
}

// ConnectionState is the single authoritative transport state of one
// subscription.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateSocketOpening
	StateSocketOpen
	StatePolling
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSocketOpening:
		return "socket_opening"
	case StateSocketOpen:
		return "socket_open"
	case StatePolling:
		return "polling"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
