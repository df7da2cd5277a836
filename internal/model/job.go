package model

import "time"

// Job represents one end-to-end transcription request tracked through the
// pipeline. A job is mutated exclusively by the worker that claimed it and is
// never deleted by this service; retention is handled externally.
type Job struct {
	ID              string     `json:"id"`
	Status          JobStatus  `json:"status"`
	Stage           Stage      `json:"stage,omitempty"`
	Progress        int        `json:"progress"`
	Attempts        int        `json:"attempts"`
	Warning         string     `json:"warning,omitempty"`
	ErrorKind       *ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage    *string    `json:"errorMessage,omitempty"`
	Retryable       *bool      `json:"retryable,omitempty"`
	ResultLocation  *string    `json:"resultLocation,omitempty"`
	CancelRequested bool       `json:"cancelRequested,omitempty"`
	Payload         []byte     `json:"-"` // Stored as JSON
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	FailedAt        *time.Time `json:"failedAt,omitempty"`
}

// TranscriptionJobPayload contains the data for a transcription job
type TranscriptionJobPayload struct {
	SourceURL string               `json:"sourceUrl"`
	Options   TranscriptionOptions `json:"options"`
}

// TranscriptionOptions tunes a single submission
type TranscriptionOptions struct {
	InstrumentHint string  `json:"instrumentHint,omitempty"`
	TempoHint      float64 `json:"tempoHint,omitempty"`
	CPUOnly        bool    `json:"cpuOnly,omitempty"`
	Priority       int     `json:"priority,omitempty"`
}
