package models

import (
	"time"
)

// ProcessType identifies what kind of generation a job performs.
const (
	ProcessFlashcards = "flashcards"
	ProcessTest       = "test"
	ProcessChat       = "chat"
	ProcessUpload     = "upload"
)

// ValidProcessType reports whether t is one of the supported process types.
func ValidProcessType(t string) bool {
	switch t {
	case ProcessFlashcards, ProcessTest, ProcessChat, ProcessUpload:
		return true
	}
	return false
}

// JobStatus enumerates lifecycle states persisted in Postgres.
const (
	StatusQueued     = "queued"
	StatusGenerating = "generating"
	StatusComplete   = "complete"
	StatusError      = "error"
	StatusCancelled  = "cancelled"
)

// Job represents one asynchronous generation task persisted in Postgres.
// Channel is assigned exactly once at creation and never reused by another job.
type Job struct {
	ID          string         `json:"id"`
	Channel     string         `json:"channel"`
	ProcessType string         `json:"process_type"`
	Tenant      string         `json:"tenant"`
	Payload     map[string]any `json:"payload"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Event types published on a job's channel, in the order a well-behaved
// worker emits them. Progress events may repeat; a terminal event may arrive
// without any progress event before it.
const (
	EventJobStarted = "job_started"
	EventProgress   = "progress"
	EventComplete   = "complete"
	EventError      = "error"
)

// Event is one message on a job channel. Unknown Type values are ignored by
// consumers. Progress is advisory; only the terminal events are authoritative.
type Event struct {
	Type      string         `json:"type"`
	JobID     string         `json:"jobId,omitempty"`
	Progress  *int           `json:"progress,omitempty"`
	Content   string         `json:"content,omitempty"`
	Error     string         `json:"error,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Answer is one recorded answer inside a session checkpoint. Value holds a
// string, []string, bool, or nil depending on the question kind.
type Answer struct {
	ItemIndex  int       `json:"item_index"`
	Value      any       `json:"value,omitempty"`
	Feedback   any       `json:"feedback,omitempty"`
	AnsweredAt time.Time `json:"answered_at"`
}

// Checkpoint is the resumable state of one test attempt, keyed by the
// attempt's instance id in the local progress store.
type Checkpoint struct {
	InstanceID       string    `json:"instance_id"`
	CurrentItemIndex int       `json:"current_item_index"`
	Answers          []Answer  `json:"answers"`
	LastUpdated      time.Time `json:"last_updated"`
}
