package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/scoreleaf/api/internal/model"
)

// Job records live under job:<id> as JSON blobs with no TTL; retention and
// cleanup belong to an external process.
func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}

// maxTxRetries bounds WATCH retries when another writer races a mutation.
const maxTxRetries = 5

// RedisJobStore implements JobStore on Redis with optimistic (WATCH) guards.
type RedisJobStore struct {
	rdb *redis.Client
}

func NewRedisJobStore(rdb *redis.Client) *RedisJobStore {
	return &RedisJobStore{rdb: rdb}
}

func (s *RedisJobStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), data, 0).Result()
	if err != nil {
		return errors.Wrap(err, "create job")
	}
	if !ok {
		return errors.Wrapf(ErrConflict, "job %s already exists", job.ID)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get job")
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrap(err, "unmarshal job")
	}
	return &job, nil
}

func (s *RedisJobStore) UpdateFields(ctx context.Context, id string, f Fields) (*model.Job, error) {
	return s.mutate(ctx, id, func(job *model.Job) error {
		applyFields(job, f)
		return nil
	})
}

func (s *RedisJobStore) TransitionStatus(ctx context.Context, id string, from, to model.JobStatus) (*model.Job, error) {
	return s.mutate(ctx, id, func(job *model.Job) error {
		return applyTransition(job, from, to)
	})
}

func (s *RedisJobStore) RequestCancel(ctx context.Context, id string) (*model.Job, error) {
	return s.mutate(ctx, id, func(job *model.Job) error {
		if job.Status.IsTerminal() {
			return errors.Wrapf(ErrConflict, "job %s already %s", job.ID, job.Status)
		}
		job.CancelRequested = true
		return nil
	})
}

// mutate runs a read-modify-write under WATCH so concurrent writers to the
// same record cannot interleave. The job keyspace is per-job isolated, so
// contention is limited to one record.
func (s *RedisJobStore) mutate(ctx context.Context, id string, fn func(*model.Job) error) (*model.Job, error) {
	key := jobKey(id)
	var updated *model.Job

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return errors.Wrap(err, "get job")
		}
		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return errors.Wrap(err, "unmarshal job")
		}
		if err := fn(&job); err != nil {
			return err
		}
		out, err := json.Marshal(&job)
		if err != nil {
			return errors.Wrap(err, "marshal job")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = &job
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, errors.Wrapf(ErrConflict, "job %s: too many concurrent writers", id)
}
