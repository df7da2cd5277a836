package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/scoreleaf/api/internal/errs"
	"github.com/scoreleaf/api/internal/model"
	"github.com/scoreleaf/api/internal/pipeline"
	"github.com/scoreleaf/api/internal/queue"
	"github.com/scoreleaf/api/internal/store"
)

// Pipeline runs all stages for a claimed job and returns the result location.
type Pipeline interface {
	Run(ctx context.Context, job *model.Job) (string, error)
}

// TranscribeWorker processes transcription tasks. It owns the terminal
// decision for every attempt: retryable errors go back to the queue with
// backoff, everything else marks the job failed exactly once.
type TranscribeWorker struct {
	store       store.JobStore
	pub         pipeline.Publisher
	pipeline    Pipeline
	policy      queue.RetryPolicy
	softTimeout time.Duration
	logger      *zap.Logger
}

func NewTranscribeWorker(
	jobStore store.JobStore,
	pub pipeline.Publisher,
	pl Pipeline,
	policy queue.RetryPolicy,
	softTimeout time.Duration,
	logger *zap.Logger,
) *TranscribeWorker {
	return &TranscribeWorker{
		store:       jobStore,
		pub:         pub,
		pipeline:    pl,
		policy:      policy,
		softTimeout: softTimeout,
		logger:      logger,
	}
}

// ProcessTask handles one delivery of a transcription task. The task context
// carries the hard execution deadline; the soft timeout is derived from it so
// the runner can abort cooperatively before termination is forced.
func (w *TranscribeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var tp queue.TaskPayload
	if err := json.Unmarshal(t.Payload(), &tp); err != nil {
		return fmt.Errorf("unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With(zap.String("jobId", tp.JobID))

	job, err := w.store.Get(ctx, tp.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("job %s not found: %w", tp.JobID, asynq.SkipRetry)
		}
		return err
	}
	if job.Status.IsTerminal() {
		// Redelivery of a finished job (lease expired after the terminal
		// write, or a stale worker raced us). Nothing to do.
		log.Debug("skipping redelivered terminal job", zap.String("status", string(job.Status)))
		return nil
	}

	attempt := job.Attempts + 1
	if job.Status == model.JobStatusQueued {
		if _, err := w.store.TransitionStatus(ctx, job.ID, model.JobStatusQueued, model.JobStatusProcessing); err != nil {
			if errors.Is(err, store.ErrConflict) {
				log.Warn("lost claim race for job")
				return nil
			}
			return err
		}
	}
	job, err = w.store.UpdateFields(ctx, job.ID, store.Fields{Attempts: &attempt})
	if err != nil {
		return err
	}
	job.Payload = tp.Payload

	log.Info("starting transcription", zap.Int("attempt", attempt))

	runCtx, cancel := context.WithTimeout(ctx, w.softTimeout)
	defer cancel()

	location, runErr := w.pipeline.Run(runCtx, job)
	if runErr == nil {
		return w.complete(ctx, job.ID, location, log)
	}

	kind, retryable := errs.Classify(runErr)
	if retryable && attempt < w.policy.MaxAttempts {
		log.Warn("attempt failed, requeueing",
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(runErr))
		// The pre-run snapshot is stale: the failed attempt may have moved
		// the record through several checkpoints.
		if current, err := w.store.Get(ctx, job.ID); err == nil {
			job = current
		}
		w.pub.Publish(job.ID, model.ProgressOf(job.ID, job.Stage, job.Progress,
			fmt.Sprintf("transient failure on attempt %d, retrying", attempt)))
		return runErr
	}

	return w.fail(ctx, job.ID, kind, runErr, log)
}

// terminalWriteTimeout bounds the detached context used for terminal store
// writes.
const terminalWriteTimeout = 30 * time.Second

func (w *TranscribeWorker) complete(ctx context.Context, jobID, location string, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	done := 100
	if _, err := w.store.UpdateFields(ctx, jobID, store.Fields{
		Progress:       &done,
		ResultLocation: &location,
	}); err != nil {
		return err
	}
	if _, err := w.store.TransitionStatus(ctx, jobID, model.JobStatusProcessing, model.JobStatusCompleted); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("job reached terminal state under us, not completing")
			return nil
		}
		return err
	}
	w.pub.Publish(jobID, model.CompletedOf(jobID, location))
	log.Info("transcription completed", zap.String("result", location))
	return nil
}

// fail records the terminal failure and emits the error event exactly once.
// Terminal jobs always carry retryable=false: the bounded attempts are spent.
func (w *TranscribeWorker) fail(ctx context.Context, jobID string, kind model.ErrorKind, cause error, log *zap.Logger) error {
	// On a hard timeout the task context is already past its deadline; the
	// terminal write must still land or the task just redelivers forever.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	msg := cause.Error()
	retryable := false
	if _, err := w.store.UpdateFields(ctx, jobID, store.Fields{
		ErrorKind:    &kind,
		ErrorMessage: &msg,
		Retryable:    &retryable,
	}); err != nil {
		return err
	}
	if _, err := w.store.TransitionStatus(ctx, jobID, model.JobStatusProcessing, model.JobStatusFailed); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("job reached terminal state under us, not failing")
			return nil
		}
		return err
	}
	w.pub.Publish(jobID, model.ErrorOf(jobID, msg, retryable))
	log.Error("transcription failed",
		zap.String("kind", string(kind)),
		zap.Error(cause))
	return fmt.Errorf("job %s failed (%s): %v: %w", jobID, kind, cause, asynq.SkipRetry)
}
