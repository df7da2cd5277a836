// Package queue wraps asynq for job dispatch. Acknowledgment is late by
// construction: asynq re-delivers a crashed worker's task after its lease
// expires, and the store's terminal-transition guard makes redelivery of a
// finished job a no-op.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/scoreleaf/api/internal/model"
)

// TaskTypeTranscribe is the single task type processed by pipeline workers.
const TaskTypeTranscribe = "transcription:process"

// TaskPayload is the envelope placed on the queue
type TaskPayload struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// RetryPolicy is an explicit value object for retry behavior: bounded
// attempts with capped exponential backoff. Passed into the worker rather
// than configured through task annotations.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns the delay before the given retry (attempt is 1-based: the
// first retry waits BaseDelay, doubling each attempt up to MaxDelay).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Client enqueues transcription tasks.
type Client struct {
	client      *asynq.Client
	policy      RetryPolicy
	hardTimeout time.Duration
	retention   time.Duration
}

func NewClient(ac *asynq.Client, policy RetryPolicy, hardTimeout, retention time.Duration) *Client {
	return &Client{client: ac, policy: policy, hardTimeout: hardTimeout, retention: retention}
}

// Enqueue places a job on the GPU or CPU queue. The asynq timeout is the hard
// execution limit: when it fires the task context is canceled and the worker
// marks the job failed, non-retryable.
func (c *Client) Enqueue(ctx context.Context, jobID string, payload []byte, opts model.TranscriptionOptions) error {
	envelope, err := json.Marshal(TaskPayload{JobID: jobID, Payload: payload})
	if err != nil {
		return errors.Wrap(err, "marshal task payload")
	}

	base := model.QueueGPU
	if opts.CPUOnly {
		base = model.QueueCPU
	}
	queueName := queueFor(base, opts.Priority)

	task := asynq.NewTask(TaskTypeTranscribe, envelope)
	_, err = c.client.Enqueue(task,
		asynq.Queue(queueName),
		asynq.MaxRetry(c.policy.MaxAttempts-1),
		asynq.Timeout(c.hardTimeout),
		asynq.Retention(c.retention),
	)
	if err != nil {
		return errors.Wrap(err, "enqueue task")
	}
	return nil
}

// queueFor maps the submission priority onto a tier of the base queue.
// Priority zero is the unset default.
func queueFor(base string, priority int) string {
	switch {
	case priority >= 7:
		return base + ":high"
	case priority >= 1 && priority <= 3:
		return base + ":low"
	default:
		return base
	}
}

// queueTiers weights the priority tiers of one base queue. Weighted (not
// strict) so a flood of high-priority work cannot starve the lower tiers.
func queueTiers(base string) map[string]int {
	return map[string]int{
		base + ":high": 6,
		base:           3,
		base + ":low":  1,
	}
}

// GPUServerConfig builds the asynq config for the GPU-bound worker server:
// one in-flight job per GPU slot, enforced by configuration rather than
// implicit locking. A dedicated server per resource class keeps the cap exact.
func GPUServerConfig(gpuSlots int, policy RetryPolicy, logger *zap.Logger) asynq.Config {
	cfg := serverConfig(policy, logger)
	cfg.Concurrency = gpuSlots
	cfg.Queues = queueTiers(model.QueueGPU)
	return cfg
}

// CPUServerConfig builds the asynq config for CPU-only workers, which may run
// wider concurrency.
func CPUServerConfig(concurrency int, policy RetryPolicy, logger *zap.Logger) asynq.Config {
	cfg := serverConfig(policy, logger)
	cfg.Concurrency = concurrency
	cfg.Queues = queueTiers(model.QueueCPU)
	return cfg
}

func serverConfig(policy RetryPolicy, logger *zap.Logger) asynq.Config {
	return asynq.Config{
		RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
			return policy.Backoff(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("task attempt failed",
				zap.String("type", task.Type()),
				zap.Error(err))
		}),
	}
}
