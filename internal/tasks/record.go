// Package tasks tracks and runs background jobs outside the request path.
package tasks

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for an unknown task or client id.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTransition is returned when a status change breaks the
	// queued → processing → completed|failed lifecycle.
	ErrInvalidTransition = errors.New("invalid task transition")
	// ErrUnknownType is returned when queueing a type with no registered body.
	ErrUnknownType = errors.New("unknown task type")
)

// Type identifies a kind of background job.
type Type string

const (
	TypeIngestEmails       Type = "ingest-emails"
	TypeSummarizeEmails    Type = "summarize-emails"
	TypeGenerateEmbeddings Type = "generate-embeddings"
)

// ValidTypes is the closed set of task types.
var ValidTypes = []Type{TypeIngestEmails, TypeSummarizeEmails, TypeGenerateEmbeddings}

// IsValidType reports whether t is one of ValidTypes.
func IsValidType(t Type) bool {
	for _, v := range ValidTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition encodes the lifecycle. processing → processing is a
// progress update, not a transition, and goes through Store.Update.
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Record is a snapshot of one task. Values handed out by the Store are
// copies; mutating them has no effect on the store.
type Record struct {
	ID              string    `json:"task_id"`
	Type            Type      `json:"task_type"`
	ClientID        string    `json:"client_id,omitempty"`
	Status          Status    `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	TotalUnits      int       `json:"total_units"`
	ProcessedUnits  int       `json:"processed_units"`
	StartTime       time.Time `json:"start_time"`
	LastUpdateTime  time.Time `json:"last_update_time"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// IsFailed reports whether the task ended in failure.
func (r Record) IsFailed() bool {
	return r.Status == StatusFailed
}

// Age is the time since the record last changed.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.LastUpdateTime)
}

// Progress is a partial update applied atomically by Store.Update.
// Nil fields are left unchanged.
type Progress struct {
	TotalUnits     *int
	ProcessedUnits *int
}

func percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := processed * 100 / total
	return max(0, min(p, 100))
}
