// Package scheduler admits refresh requests into the job queue, keeping at
// most one job per SKU.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"listing-snapshot-api/internal/keylock"
	"listing-snapshot-api/internal/metrics"
	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/internal/queue"
	"listing-snapshot-api/internal/sku"

	"go.uber.org/zap"
)

// Job defaults for new refresh jobs.
const (
	DefaultAttempts  = 5
	DefaultBackoff   = 5000 * time.Millisecond
	DefaultOpTimeout = 5 * time.Second
)

// ErrInvalidOptions is returned for negative delays or out of range priorities.
var ErrInvalidOptions = errors.New("scheduler: invalid refresh options")

// Options tune a refresh request. A nil Delay means "run as soon as possible".
type Options struct {
	Delay    *time.Duration
	Priority int
	Replace  bool
}

// Result reports whether a new job was created and the state of the job
// that now represents the key.
type Result struct {
	Enqueued bool           `json:"enqueued"`
	State    model.JobState `json:"state"`
}

// Config holds scheduler settings.
type Config struct {
	Attempts  int
	Backoff   time.Duration
	OpTimeout time.Duration
}

// Scheduler decides, per key, whether a refresh request creates, replaces,
// promotes or leaves the existing job.
type Scheduler struct {
	store   queue.Store
	locks   *keylock.Locker
	config  Config
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// New creates a scheduler over store.
func New(store queue.Store, config Config, m *metrics.Metrics, log *zap.Logger) *Scheduler {
	if config.Attempts <= 0 {
		config.Attempts = DefaultAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultBackoff
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = DefaultOpTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store:   store,
		locks:   keylock.New(),
		config:  config,
		metrics: m,
		log:     log.Named("scheduler"),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for delay comparisons.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// RequestRefresh applies the admission table for key:
//
//	existing   replace=false  replace=true
//	absent     add            add
//	active     no-op          no-op
//	terminal   no-op          remove, add
//	waiting    no-op          remove, add if priority differs
//	delayed    no-op          promote if no delay or already retried;
//	                          remove, add if it fires after now+delay
func (s *Scheduler) RequestRefresh(ctx context.Context, key string, opts Options) (Result, error) {
	if _, err := sku.Parse(key); err != nil {
		return Result{}, err
	}
	if opts.Priority < 0 || opts.Priority > queue.MaxPriority {
		return Result{}, fmt.Errorf("%w: priority %d", ErrInvalidOptions, opts.Priority)
	}
	if opts.Delay != nil && *opts.Delay < 0 {
		return Result{}, fmt.Errorf("%w: delay %v", ErrInvalidOptions, *opts.Delay)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", queue.ErrUnavailable, err)
	}
	defer unlock()

	res, outcome, err := s.admit(ctx, key, opts)
	if err != nil {
		s.metrics.IncRefreshRequest("error")
		s.log.Warn("refresh admission failed", zap.String("sku", key), zap.Error(err))
		return Result{}, err
	}
	s.metrics.IncRefreshRequest(outcome)
	s.log.Debug("refresh admitted",
		zap.String("sku", key),
		zap.String("outcome", outcome),
		zap.String("state", string(res.State)),
		zap.Bool("replace", opts.Replace),
	)
	return res, nil
}

// errJobMoved reports that the job left the state a decision was based on,
// typically because a worker claimed it between Get and the write.
var errJobMoved = errors.New("scheduler: job moved during admission")

// admitPasses bounds how often a decision is re-evaluated after a race.
const admitPasses = 2

func (s *Scheduler) admit(ctx context.Context, key string, opts Options) (Result, string, error) {
	for pass := 1; ; pass++ {
		res, outcome, err := s.decide(ctx, key, opts)
		if !errors.Is(err, errJobMoved) {
			return res, outcome, err
		}
		s.log.Debug("job moved during admission", zap.String("sku", key), zap.Int("pass", pass))
		if pass == admitPasses {
			return s.observe(ctx, key, opts)
		}
	}
}

// observe reports the current job without touching it, adding one only
// when the key has no job left.
func (s *Scheduler) observe(ctx context.Context, key string, opts Options) (Result, string, error) {
	existing, err := s.store.Get(ctx, key)
	if errors.Is(err, queue.ErrNotFound) {
		return s.add(ctx, key, opts)
	}
	if err != nil {
		return Result{}, "", err
	}
	return Result{Enqueued: false, State: existing.State}, "noop", nil
}

func (s *Scheduler) decide(ctx context.Context, key string, opts Options) (Result, string, error) {
	existing, err := s.store.Get(ctx, key)
	if errors.Is(err, queue.ErrNotFound) {
		return s.add(ctx, key, opts)
	}
	if err != nil {
		return Result{}, "", err
	}

	if existing.State == model.JobActive && lockExpired(existing, s.now()) {
		// The worker holding the job is gone; let the store apply its
		// stalled-job rule and decide again on the recovered state.
		n, err := s.store.RecoverStalled(ctx)
		if err != nil {
			return Result{}, "", err
		}
		if n > 0 {
			s.log.Info("recovered stalled job", zap.String("sku", key))
			return Result{}, "", errJobMoved
		}
	}

	noop := Result{Enqueued: false, State: existing.State}
	if !opts.Replace {
		return noop, "noop", nil
	}

	switch existing.State {
	case model.JobActive:
		return noop, "noop", nil

	case model.JobCompleted, model.JobFailed:
		return s.replace(ctx, existing, opts)

	case model.JobWaiting:
		if existing.Priority != opts.Priority {
			return s.replace(ctx, existing, opts)
		}
		return noop, "noop", nil

	case model.JobDelayed:
		if opts.Delay == nil || existing.AttemptsMade >= 1 {
			if err := s.store.Promote(ctx, key); err != nil {
				return Result{}, "", movedOr(err)
			}
			return Result{Enqueued: false, State: model.JobWaiting}, "promoted", nil
		}
		if existing.DelayUntil.After(s.now().Add(*opts.Delay)) {
			return s.replace(ctx, existing, opts)
		}
		return noop, "noop", nil
	}

	return noop, "noop", nil
}

// replace removes existing only while it is still in the observed state,
// so a job claimed in the meantime is never preempted.
func (s *Scheduler) replace(ctx context.Context, existing *model.Job, opts Options) (Result, string, error) {
	if err := s.store.Remove(ctx, existing.ID, existing.State); err != nil {
		return Result{}, "", movedOr(err)
	}
	return s.add(ctx, existing.ID, opts)
}

func lockExpired(job *model.Job, now time.Time) bool {
	return !job.LockedUntil.IsZero() && !job.LockedUntil.After(now)
}

func movedOr(err error) error {
	if errors.Is(err, queue.ErrJobState) || errors.Is(err, queue.ErrNotFound) {
		return fmt.Errorf("%w: %w", errJobMoved, err)
	}
	return err
}

func (s *Scheduler) add(ctx context.Context, key string, opts Options) (Result, string, error) {
	now := s.now()
	job := &model.Job{
		ID:               key,
		SKU:              key,
		Priority:         opts.Priority,
		Timestamp:        now,
		MaxAttempts:      s.config.Attempts,
		Backoff:          s.config.Backoff,
		RemoveOnComplete: true,
		RemoveOnFail:     true,
	}
	if opts.Delay != nil && *opts.Delay > 0 {
		job.DelayUntil = now.Add(*opts.Delay)
	}

	err := s.store.Add(ctx, job)
	if errors.Is(err, queue.ErrDuplicateJob) {
		// Another process won the race for this key.
		existing, getErr := s.store.Get(ctx, key)
		if getErr != nil {
			return Result{}, "", getErr
		}
		return Result{Enqueued: false, State: existing.State}, "noop", nil
	}
	if err != nil {
		return Result{}, "", err
	}
	return Result{Enqueued: true, State: job.State}, "enqueued", nil
}

func (s *Scheduler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.OpTimeout)
}

// Counts returns job counts per state.
func (s *Scheduler) Counts(ctx context.Context) (model.JobCounts, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Counts(ctx)
}

// Pause stops workers from claiming new jobs.
func (s *Scheduler) Pause(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.Pause(ctx); err != nil {
		return err
	}
	s.log.Info("queue paused")
	return nil
}

// Resume lets workers claim jobs again.
func (s *Scheduler) Resume(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.Resume(ctx); err != nil {
		return err
	}
	s.log.Info("queue resumed")
	return nil
}

func (s *Scheduler) IsPaused(ctx context.Context) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.IsPaused(ctx)
}

func (s *Scheduler) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Ping(ctx)
}
