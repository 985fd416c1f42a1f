package jobs

import (
	"encoding/json"
	"time"
)

// Job is one unit of webhook processing work. The payload is the event
// data object as delivered by the provider.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	EventID     string          `json:"event_id"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// summary is what retention lists keep after a job leaves the queue.
type summary struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	Attempts   int       `json:"attempts"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}
