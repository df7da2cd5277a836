package model

import "time"

// TranscribeRequest starts a new transcription job
type TranscribeRequest struct {
	SourceURL      string  `json:"sourceUrl" validate:"required,url"`
	InstrumentHint string  `json:"instrumentHint,omitempty" validate:"omitempty,oneof=piano guitar vocal"`
	TempoHint      float64 `json:"tempoHint,omitempty" validate:"omitempty,gte=20,lte=400"`
	CPUOnly        bool    `json:"cpuOnly,omitempty"`
	Priority       int     `json:"priority,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// TranscribeResponse acknowledges a queued submission
type TranscribeResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse is the polling snapshot of a job
type JobStatusResponse struct {
	JobID          string     `json:"jobId"`
	Status         JobStatus  `json:"status"`
	Stage          Stage      `json:"stage,omitempty"`
	Progress       int        `json:"progress"`
	Attempts       int        `json:"attempts"`
	Warning        string     `json:"warning,omitempty"`
	ErrorKind      *ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	Retryable      *bool      `json:"retryable,omitempty"`
	ResultLocation *string    `json:"resultLocation,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	FailedAt       *time.Time `json:"failedAt,omitempty"`
}

// StatusOf projects a job record into its public snapshot.
func StatusOf(job *Job) *JobStatusResponse {
	return &JobStatusResponse{
		JobID:          job.ID,
		Status:         job.Status,
		Stage:          job.Stage,
		Progress:       job.Progress,
		Attempts:       job.Attempts,
		Warning:        job.Warning,
		ErrorKind:      job.ErrorKind,
		ErrorMessage:   job.ErrorMessage,
		Retryable:      job.Retryable,
		ResultLocation: job.ResultLocation,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		FailedAt:       job.FailedAt,
	}
}

// CancelResponse acknowledges a cancellation request
type CancelResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}
