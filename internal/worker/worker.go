// Package worker runs refresh jobs claimed from the job store.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"listing-snapshot-api/internal/metrics"
	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/internal/queue"

	"go.uber.org/zap"
)

// Defaults for Config.
const (
	DefaultConcurrency  = 1
	DefaultPollInterval = time.Second
	DefaultJobTimeout   = 2 * time.Minute
	DefaultLockDuration = 30 * time.Second
	settleTimeout       = 5 * time.Second
)

// Processor performs the work of one refresh job.
type Processor interface {
	Process(ctx context.Context, job *model.Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *model.Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *model.Job) error { return f(ctx, job) }

// Config holds worker pool settings. A claimed job is locked for
// LockDuration and the lock is renewed at half that interval while the
// job runs; a worker that dies lets the lock lapse and the store
// recovers the job on a later claim.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	LockDuration time.Duration
}

// Pool is a fixed set of goroutines that poll the store for jobs.
type Pool struct {
	store   queue.Store
	proc    Processor
	config  Config
	metrics *metrics.Metrics
	log     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool. Call Start to begin polling.
func NewPool(store queue.Store, proc Processor, config Config, m *metrics.Metrics, log *zap.Logger) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultJobTimeout
	}
	if config.LockDuration <= 0 {
		config.LockDuration = DefaultLockDuration
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		store:   store,
		proc:    proc,
		config:  config,
		metrics: m,
		log:     log.Named("worker"),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	p.log.Info("starting",
		zap.Int("concurrency", p.config.Concurrency),
		zap.Duration("poll_interval", p.config.PollInterval),
	)
	for i := 0; i < p.config.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("worker_id", id))

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("shutting down")
			return
		case <-ticker.C:
			p.drain(ctx, log)
		}
	}
}

// drain runs jobs until the queue has nothing runnable.
func (p *Pool) drain(ctx context.Context, log *zap.Logger) {
	for ctx.Err() == nil {
		ran, err := p.RunOnce(ctx)
		if err != nil {
			log.Warn("claim failed", zap.Error(err))
			return
		}
		if !ran {
			return
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job ran.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.store.Claim(ctx, p.config.LockDuration)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := p.log.With(zap.String("sku", job.SKU), zap.Int("attempt", job.AttemptsMade+1))
	log.Debug("processing job")

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	lockLost := make(chan bool, 1)
	go func() {
		lockLost <- p.renewLock(jobCtx, cancel, job, log)
	}()
	procErr := p.safeProcess(jobCtx, job)
	cancel()
	if <-lockLost {
		// The store recovered the job; its outcome belongs to whoever holds it now.
		p.metrics.IncJobProcessed("lock_lost")
		return true, nil
	}

	// The outcome is recorded even when the pool is shutting down.
	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancelSettle()

	if procErr == nil {
		if err := p.store.Complete(settleCtx, job.ID, job.LockToken); err != nil {
			p.metrics.IncJobProcessed("error")
			log.Error("failed to complete job", zap.Error(err))
			return true, nil
		}
		p.metrics.IncJobProcessed("completed")
		log.Info("job completed")
		return true, nil
	}

	state, err := p.store.Fail(settleCtx, job.ID, job.LockToken, procErr.Error())
	if err != nil {
		p.metrics.IncJobProcessed("error")
		log.Error("failed to record job failure", zap.NamedError("cause", procErr), zap.Error(err))
		return true, nil
	}
	if state == model.JobFailed {
		p.metrics.IncJobProcessed("failed")
		log.Warn("job failed permanently", zap.Error(procErr))
	} else {
		p.metrics.IncJobProcessed("retry")
		log.Info("job failed, will retry", zap.Error(procErr), zap.String("state", string(state)))
	}
	return true, nil
}

// renewLock extends the job lock until ctx is done. Losing the lock means
// the store already recovered the job, so the run is cancelled and
// renewLock reports true.
func (p *Pool) renewLock(ctx context.Context, cancel context.CancelFunc, job *model.Job, log *zap.Logger) bool {
	ticker := time.NewTicker(p.config.LockDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			err := p.store.ExtendLock(ctx, job.ID, job.LockToken, p.config.LockDuration)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrJobState), errors.Is(err, queue.ErrNotFound):
				log.Warn("job lock lost, cancelling run", zap.Error(err))
				cancel()
				return true
			case ctx.Err() != nil:
				return false
			default:
				log.Warn("failed to extend job lock", zap.Error(err))
			}
		}
	}
}

var errPanic = errors.New("processor panicked")

func (p *Pool) safeProcess(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("processor panic", zap.String("sku", job.SKU), zap.Any("panic", r))
			err = errPanic
		}
	}()
	return p.proc.Process(ctx, job)
}
