package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/cuongbtq/transcript-relay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// maxCASAttempts bounds optimistic retries. States never repeat, so a job can
// change under us at most a handful of times.
const maxCASAttempts = 5

// listBatch is how many index entries List reads per round trip
const listBatch = 100

// KEYS[1] job hash, KEYS[2] submitted index; ARGV state, data, score, job id
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'data', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// KEYS[1] job hash; ARGV expected state, new state, data
var transitionScript = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'state')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'data', ARGV[3])
return 1
`)

// KEYS[1] job hash; ARGV expected data, new data
var swapScript = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'data')
if not current then
	return -1
end
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2])
return 1
`)

// RedisStore keeps jobs in Redis hashes. Transitions compare-and-set the
// state field inside a Lua script, which Redis runs atomically.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore creates a new RedisStore; keys are namespaced by prefix
func NewRedisStore(rdb *goredis.Client, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "transcribe"
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) jobKey(jobID string) string {
	return s.prefix + ":job:" + jobID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":jobs:submitted"
}

func (s *RedisStore) Create(ctx context.Context, jobID string, source domain.SourceRef, requester string) (*domain.Job, error) {
	job := newJob(jobID, source, requester, s.now())

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	created, err := createScript.Run(ctx, s.rdb,
		[]string{s.jobKey(jobID), s.indexKey()},
		string(job.State), data, job.SubmittedAt.UnixMilli(), jobID,
	).Int()
	if err != nil {
		return nil, domain.NewStorageError("create job", err)
	}
	if created == 0 {
		return nil, fmt.Errorf("create job %s: %w", jobID, domain.ErrJobExists)
	}

	s.logger.Info("Job created",
		slog.String("job_id", jobID),
		slog.String("source", source.String()),
	)

	return clone(job), nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	_, job, err := s.load(ctx, jobID)
	return job, err
}

// load returns the stored document with its decoded job
func (s *RedisStore) load(ctx context.Context, jobID string) ([]byte, *domain.Job, error) {
	data, err := s.rdb.HGet(ctx, s.jobKey(jobID), "data").Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil, fmt.Errorf("get job %s: %w", jobID, domain.ErrJobNotFound)
		}
		return nil, nil, domain.NewStorageError("get job", err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, nil, domain.NewStorageError("decode job", err)
	}
	return data, &job, nil
}

// swap replaces the document if nobody changed it since it was loaded.
// It reports false when the caller must reload and retry.
func (s *RedisStore) swap(ctx context.Context, jobID string, loaded []byte, next domain.Job) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("marshal job: %w", err)
	}

	swapped, err := swapScript.Run(ctx, s.rdb, []string{s.jobKey(jobID)}, loaded, data).Int()
	if err != nil {
		return false, domain.NewStorageError("update job", err)
	}
	if swapped == -1 {
		return false, fmt.Errorf("update job %s: %w", jobID, domain.ErrJobNotFound)
	}
	return swapped == 1, nil
}

func (s *RedisStore) Transition(ctx context.Context, jobID string, to domain.State, fields domain.TransitionFields) (*domain.Job, error) {
	if fields.At.IsZero() {
		fields.At = s.now()
	}

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		current, err := s.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if !domain.CanTransition(current.State, to) {
			s.logger.Warn("Job transition rejected",
				slog.String("job_id", jobID),
				slog.String("from", current.State.String()),
				slog.String("to", to.String()),
			)
			return nil, fmt.Errorf("transition job %s from %s to %s: %w", jobID, current.State, to, domain.ErrInvalidTransition)
		}

		next := current.Apply(to, fields)
		data, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("marshal job: %w", err)
		}

		swapped, err := transitionScript.Run(ctx, s.rdb,
			[]string{s.jobKey(jobID)},
			string(current.State), string(to), data,
		).Int()
		if err != nil {
			return nil, domain.NewStorageError("transition job", err)
		}

		switch swapped {
		case 1:
			s.logger.Info("Job state updated",
				slog.String("job_id", jobID),
				slog.String("state", to.String()),
			)
			return &next, nil
		case -1:
			return nil, fmt.Errorf("transition job %s: %w", jobID, domain.ErrJobNotFound)
		}

		s.logger.Debug("Job changed concurrently, retrying transition",
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt),
		)
	}

	return nil, domain.NewStorageError("transition job", fmt.Errorf("job %s kept changing after %d attempts", jobID, maxCASAttempts))
}

func (s *RedisStore) Claim(ctx context.Context, jobID, owner string, lease time.Duration) (*domain.Job, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		loaded, current, err := s.load(ctx, jobID)
		if err != nil {
			return nil, err
		}

		now := s.now()
		next, err := current.Claim(owner, now, now.Add(lease))
		if err != nil {
			return nil, err
		}

		ok, err := s.swap(ctx, jobID, loaded, next)
		if err != nil {
			return nil, err
		}
		if ok {
			s.logger.Debug("Publish claimed",
				slog.String("job_id", jobID),
				slog.String("owner", owner),
			)
			return &next, nil
		}
	}

	return nil, domain.NewStorageError("claim job", fmt.Errorf("job %s kept changing after %d attempts", jobID, maxCASAttempts))
}

func (s *RedisStore) Release(ctx context.Context, jobID, owner string) error {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		loaded, current, err := s.load(ctx, jobID)
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		next, held := current.Release(owner, s.now())
		if !held {
			return nil
		}

		ok, err := s.swap(ctx, jobID, loaded, next)
		if err != nil || ok {
			return err
		}
	}

	return domain.NewStorageError("release job", fmt.Errorf("job %s kept changing after %d attempts", jobID, maxCASAttempts))
}

func (s *RedisStore) List(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	limit := filter.limit()

	bound := "+inf"
	if filter.OldestFirst {
		bound = "-inf"
	}
	if filter.Cursor != nil {
		bound = strconv.FormatInt(filter.Cursor.SubmittedAt.UnixMilli(), 10)
	}

	var jobs []*domain.Job
	for offset := int64(0); len(jobs) < limit; offset += listBatch {
		var ids []string
		var err error
		if filter.OldestFirst {
			ids, err = s.rdb.ZRangeByScore(ctx, s.indexKey(), &goredis.ZRangeBy{
				Min: bound, Max: "+inf", Offset: offset, Count: listBatch,
			}).Result()
		} else {
			ids, err = s.rdb.ZRevRangeByScore(ctx, s.indexKey(), &goredis.ZRangeBy{
				Max: bound, Min: "-inf", Offset: offset, Count: listBatch,
			}).Result()
		}
		if err != nil {
			return nil, domain.NewStorageError("list jobs", err)
		}

		for _, id := range ids {
			job, err := s.Get(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrJobNotFound) {
					continue
				}
				return nil, err
			}
			if filter.matches(job) && filter.after(job) {
				jobs = append(jobs, job)
			}
		}

		if len(ids) < listBatch {
			break
		}
	}

	// Scores are millisecond precision; restore the exact (submitted_at, job_id) order.
	sort.SliceStable(jobs, func(a, b int) bool { return filter.less(jobs[a], jobs[b]) })

	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
