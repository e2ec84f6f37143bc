package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/transcript-relay/internal/domain"
)

// MemoryStore keeps jobs in process memory. It is atomic only within one process
// and is meant for local development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, jobID string, source domain.SourceRef, requester string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; ok {
		return nil, fmt.Errorf("create job %s: %w", jobID, domain.ErrJobExists)
	}

	job := newJob(jobID, source, requester, s.now())
	s.jobs[jobID] = job
	return clone(job), nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", jobID, domain.ErrJobNotFound)
	}
	return clone(job), nil
}

func (s *MemoryStore) Transition(_ context.Context, jobID string, to domain.State, fields domain.TransitionFields) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("transition job %s: %w", jobID, domain.ErrJobNotFound)
	}
	if !domain.CanTransition(job.State, to) {
		return nil, fmt.Errorf("transition job %s from %s to %s: %w", jobID, job.State, to, domain.ErrInvalidTransition)
	}

	if fields.At.IsZero() {
		fields.At = s.now()
	}
	next := job.Apply(to, fields)
	s.jobs[jobID] = next
	return clone(next), nil
}

func (s *MemoryStore) Claim(_ context.Context, jobID, owner string, lease time.Duration) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("claim job %s: %w", jobID, domain.ErrJobNotFound)
	}

	now := s.now()
	next, err := job.Claim(owner, now, now.Add(lease))
	if err != nil {
		return nil, err
	}
	s.jobs[jobID] = next
	return clone(next), nil
}

func (s *MemoryStore) Release(_ context.Context, jobID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	if next, ok := job.Release(owner, s.now()); ok {
		s.jobs[jobID] = next
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter JobFilter) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*domain.Job
	for _, job := range s.jobs {
		j := job
		if filter.matches(&j) && filter.after(&j) {
			jobs = append(jobs, clone(j))
		}
	}

	sort.Slice(jobs, func(a, b int) bool { return filter.less(jobs[a], jobs[b]) })

	if limit := filter.limit(); len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
