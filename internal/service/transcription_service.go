package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scoreleaf/api/internal/model"
	"github.com/scoreleaf/api/internal/queue"
	"github.com/scoreleaf/api/internal/store"
)

// TranscriptionService is the submission surface: it creates job records and
// places tasks on the queue. Reads go straight to the store; the websocket
// hub handles the push path.
type TranscriptionService struct {
	store  store.JobStore
	queue  *queue.Client
	logger *zap.Logger
}

func NewTranscriptionService(jobStore store.JobStore, qc *queue.Client, logger *zap.Logger) *TranscriptionService {
	return &TranscriptionService{store: jobStore, queue: qc, logger: logger}
}

// Submit creates a queued job for the source and enqueues it.
func (s *TranscriptionService) Submit(ctx context.Context, req *model.TranscribeRequest) (*model.TranscribeResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	opts := model.TranscriptionOptions{
		InstrumentHint: req.InstrumentHint,
		TempoHint:      req.TempoHint,
		CPUOnly:        req.CPUOnly,
		Priority:       req.Priority,
	}
	payload, err := json.Marshal(&model.TranscriptionJobPayload{
		SourceURL: req.SourceURL,
		Options:   opts,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	job := &model.Job{
		ID:        jobID,
		Status:    model.JobStatusQueued,
		Progress:  0,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, errors.Wrap(err, "create job")
	}

	if err := s.queue.Enqueue(ctx, jobID, payload, opts); err != nil {
		return nil, errors.Wrap(err, "enqueue job")
	}

	s.logger.Info("job submitted",
		zap.String("jobId", jobID),
		zap.Bool("cpuOnly", opts.CPUOnly))

	return &model.TranscribeResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current job snapshot (the polling interface, distinct
// from the push stream).
func (s *TranscriptionService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return model.StatusOf(job), nil
}

// GetJob returns the raw job record, used to seed new subscriptions.
func (s *TranscriptionService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Cancel flags the job for cancellation. The owning worker honors the flag at
// the next stage boundary; in-flight model calls are abandoned, not
// interrupted.
func (s *TranscriptionService) Cancel(ctx context.Context, jobID string) (*model.CancelResponse, error) {
	job, err := s.store.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("cancellation requested", zap.String("jobId", jobID))
	return &model.CancelResponse{JobID: job.ID, Status: job.Status}, nil
}
