package model

import "time"

// Progress stream message types
const (
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeError     = "error"
	EventTypeHeartbeat = "heartbeat"
	EventTypePong      = "pong"
)

// ProgressEvent is one message on a job's progress stream. Events are
// ephemeral; the last delivered value is mirrored into the job record.
type ProgressEvent struct {
	Type           string      `json:"type"`
	JobID          string      `json:"jobId"`
	Progress       *int        `json:"progress,omitempty"`
	Stage          Stage       `json:"stage,omitempty"`
	Message        string      `json:"message,omitempty"`
	ResultLocation string      `json:"resultLocation,omitempty"`
	Error          *EventError `json:"error,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// EventError carries failure details on a terminal error event
type EventError struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// IsTerminal reports whether this event ends the stream for its job.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == EventTypeCompleted || e.Type == EventTypeError
}

// ClientMessage is what subscribers send back over the socket (heartbeat acks)
type ClientMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ProgressOf builds a progress event for a stage checkpoint.
func ProgressOf(jobID string, stage Stage, progress int, message string) ProgressEvent {
	return ProgressEvent{
		Type:      EventTypeProgress,
		JobID:     jobID,
		Progress:  &progress,
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// CompletedOf builds the terminal success event.
func CompletedOf(jobID, resultLocation string) ProgressEvent {
	full := 100
	return ProgressEvent{
		Type:           EventTypeCompleted,
		JobID:          jobID,
		Progress:       &full,
		ResultLocation: resultLocation,
		Timestamp:      time.Now(),
	}
}

// ErrorOf builds the terminal failure event.
func ErrorOf(jobID, message string, retryable bool) ProgressEvent {
	return ProgressEvent{
		Type:      EventTypeError,
		JobID:     jobID,
		Error:     &EventError{Message: message, Retryable: retryable},
		Timestamp: time.Now(),
	}
}
