package store

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/scoreleaf/api/internal/model"
)

// MemoryStore implements JobStore in process memory with the same guard
// semantics as the Redis store. Used by tests and single-process deployments.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.Job)}
}

func (s *MemoryStore) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return errors.Wrapf(ErrConflict, "job %s already exists", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) UpdateFields(_ context.Context, id string, f Fields) (*model.Job, error) {
	return s.mutate(id, func(job *model.Job) error {
		applyFields(job, f)
		return nil
	})
}

func (s *MemoryStore) TransitionStatus(_ context.Context, id string, from, to model.JobStatus) (*model.Job, error) {
	return s.mutate(id, func(job *model.Job) error {
		return applyTransition(job, from, to)
	})
}

func (s *MemoryStore) RequestCancel(_ context.Context, id string) (*model.Job, error) {
	return s.mutate(id, func(job *model.Job) error {
		if job.Status.IsTerminal() {
			return errors.Wrapf(ErrConflict, "job %s already %s", job.ID, job.Status)
		}
		job.CancelRequested = true
		return nil
	})
}

func (s *MemoryStore) mutate(id string, fn func(*model.Job) error) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}
