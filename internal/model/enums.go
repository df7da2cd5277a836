package model

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is a final state. Terminal jobs are
// never transitioned again, even by a stale worker holding a redelivered task.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Pipeline stages, executed strictly in this order
type Stage string

const (
	StageDownload      Stage = "download"
	StageSeparation    Stage = "separation"
	StageDetection     Stage = "detection"
	StageRefinement    Stage = "refinement"
	StageSerialization Stage = "serialization"
)

// Error kinds recorded on failed jobs
type ErrorKind string

const (
	ErrorKindTransient    ErrorKind = "transient"
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindCanceled     ErrorKind = "canceled"
	ErrorKindInternal     ErrorKind = "internal"
)

// Queue names. GPU-bound work runs at concurrency one per worker instance,
// CPU-bound work may run wider.
const (
	QueueGPU = "gpu"
	QueueCPU = "cpu"
)
