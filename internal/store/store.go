// Package store persists job records. Mutations are guarded so a stale worker
// holding a redelivered task can never resurrect a job that already reached a
// terminal state, and progress never moves backwards.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/scoreleaf/api/internal/model"
)

var (
	// ErrNotFound is returned when no job exists under the given id.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when a guarded transition loses to another
	// writer or targets a terminal job.
	ErrConflict = errors.New("job transition conflict")
)

// Fields is a partial job update. Nil members are left unchanged. Status is
// deliberately absent: status only moves through TransitionStatus so the
// terminal guard cannot be bypassed.
type Fields struct {
	Stage          *model.Stage
	Progress       *int
	Attempts       *int
	Warning        *string
	ErrorKind      *model.ErrorKind
	ErrorMessage   *string
	Retryable      *bool
	ResultLocation *string
}

// JobStore is the persistence contract for job state. Every successful
// mutation returns the updated snapshot so the caller can mirror it to the
// progress broadcaster after persisting.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	UpdateFields(ctx context.Context, id string, f Fields) (*model.Job, error)
	TransitionStatus(ctx context.Context, id string, from, to model.JobStatus) (*model.Job, error)
	RequestCancel(ctx context.Context, id string) (*model.Job, error)
}

// applyFields mutates job in place. Progress is clamped to be non-decreasing
// so no reader ever observes it move backwards.
func applyFields(job *model.Job, f Fields) {
	if f.Stage != nil {
		job.Stage = *f.Stage
	}
	if f.Progress != nil && *f.Progress > job.Progress {
		job.Progress = *f.Progress
	}
	if f.Attempts != nil {
		job.Attempts = *f.Attempts
	}
	if f.Warning != nil {
		job.Warning = *f.Warning
	}
	if f.ErrorKind != nil {
		job.ErrorKind = f.ErrorKind
	}
	if f.ErrorMessage != nil {
		job.ErrorMessage = f.ErrorMessage
	}
	if f.Retryable != nil {
		job.Retryable = f.Retryable
	}
	if f.ResultLocation != nil {
		job.ResultLocation = f.ResultLocation
	}
}

// applyTransition enforces the status guard and stamps lifecycle timestamps.
func applyTransition(job *model.Job, from, to model.JobStatus) error {
	if job.Status.IsTerminal() || job.Status != from {
		return errors.Wrapf(ErrConflict, "cannot move job %s from %s to %s (current %s)",
			job.ID, from, to, job.Status)
	}
	job.Status = to
	now := time.Now()
	switch to {
	case model.JobStatusProcessing:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case model.JobStatusCompleted:
		job.CompletedAt = &now
	case model.JobStatusFailed:
		job.FailedAt = &now
	}
	return nil
}
