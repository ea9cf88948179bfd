package queue

import (
	"context"
	"sync"
	"time"

	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/pkg/uid"
)

type memoryJob struct {
	job   model.Job
	score uint64
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*memoryJob
	seq    uint64
	paused bool
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memoryJob),
		now:  time.Now,
	}
}

// SetClock replaces the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	job := j.job
	return &job, nil
}

func (s *MemoryStore) Add(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}

	s.seq++
	stored := *job
	stored.AttemptsMade = 0
	stored.FailedReason = ""
	stored.State = model.JobWaiting
	if stored.DelayUntil.After(s.now()) {
		stored.State = model.JobDelayed
	} else {
		stored.DelayUntil = time.Time{}
	}
	s.jobs[job.ID] = &memoryJob{job: stored, score: waitScore(stored.Priority, s.seq)}
	job.State = stored.State
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string, state model.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.job.State != state {
		return ErrJobState
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Promote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.job.State != model.JobDelayed {
		return ErrJobState
	}
	j.job.State = model.JobWaiting
	j.job.DelayUntil = time.Time{}
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, lock time.Duration) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.recoverStalled(now)
	for _, j := range s.jobs {
		if j.job.State == model.JobDelayed && !j.job.DelayUntil.After(now) {
			j.job.State = model.JobWaiting
			j.job.DelayUntil = time.Time{}
		}
	}
	if s.paused {
		return nil, nil
	}

	var next *memoryJob
	for _, j := range s.jobs {
		if j.job.State != model.JobWaiting {
			continue
		}
		if next == nil || j.score < next.score {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	next.job.State = model.JobActive
	next.job.LockedUntil = now.Add(lock)
	next.job.LockToken = uid.New()
	job := next.job
	return &job, nil
}

func (s *MemoryStore) RecoverStalled(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recoverStalled(s.now()), nil
}

// recoverStalled counts every expired lock as a failed attempt. Callers hold s.mu.
func (s *MemoryStore) recoverStalled(now time.Time) int {
	n := 0
	for id, j := range s.jobs {
		if j.job.State != model.JobActive || j.job.LockedUntil.After(now) {
			continue
		}
		n++
		j.job.AttemptsMade++
		j.job.FailedReason = StalledReason
		j.job.LockedUntil = time.Time{}
		j.job.LockToken = ""
		switch {
		case j.job.AttemptsMade < j.job.MaxAttempts:
			j.job.State = model.JobWaiting
		case j.job.RemoveOnFail:
			delete(s.jobs, id)
		default:
			j.job.State = model.JobFailed
		}
	}
	return n
}

func (s *MemoryStore) ExtendLock(ctx context.Context, id, token string, lock time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeJob(id, token)
	if err != nil {
		return err
	}
	j.job.LockedUntil = s.now().Add(lock)
	return nil
}

// activeJob returns the job only while it is active under token. Callers hold s.mu.
func (s *MemoryStore) activeJob(id, token string) (*memoryJob, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.job.State != model.JobActive || j.job.LockToken != token {
		return nil, ErrJobState
	}
	return j, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeJob(id, token)
	if err != nil {
		return err
	}
	if j.job.RemoveOnComplete {
		delete(s.jobs, id)
		return nil
	}
	j.job.LockedUntil = time.Time{}
	j.job.LockToken = ""
	j.job.State = model.JobCompleted
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id, token, reason string) (model.JobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.activeJob(id, token)
	if err != nil {
		return "", err
	}

	j.job.AttemptsMade++
	j.job.FailedReason = reason
	j.job.LockedUntil = time.Time{}
	j.job.LockToken = ""
	if j.job.AttemptsMade < j.job.MaxAttempts {
		j.job.State = model.JobDelayed
		j.job.DelayUntil = s.now().Add(j.job.BackoffFor(j.job.AttemptsMade))
		return model.JobDelayed, nil
	}
	if j.job.RemoveOnFail {
		delete(s.jobs, id)
		return model.JobFailed, nil
	}
	j.job.State = model.JobFailed
	return model.JobFailed, nil
}

func (s *MemoryStore) Counts(ctx context.Context) (model.JobCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c model.JobCounts
	for _, j := range s.jobs {
		switch j.job.State {
		case model.JobWaiting:
			c.Waiting++
		case model.JobDelayed:
			c.Delayed++
		case model.JobActive:
			c.Active++
		case model.JobCompleted:
			c.Completed++
		case model.JobFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (s *MemoryStore) Pause(ctx context.Context) error {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Resume(ctx context.Context) error {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsPaused(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
