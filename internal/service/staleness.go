package service

import (
	"context"
	"sync"
	"time"

	"listing-snapshot-api/internal/repository"
	"listing-snapshot-api/internal/scheduler"

	"go.uber.org/zap"
)

// StalenessConfig holds configuration for the staleness scheduler.
type StalenessConfig struct {
	// StaleAfter is the snapshot age after which a refresh is requested.
	// Default: 1 hour
	StaleAfter time.Duration

	// CheckInterval is how often stale snapshots are looked for.
	// Default: 10 minutes
	CheckInterval time.Duration

	// BatchSize caps the number of SKUs requested per run.
	BatchSize int

	// Priority is given to refresh jobs created by the scheduler.
	Priority int

	// InitialDelay is the wait before the first run after Start.
	InitialDelay time.Duration
}

// DefaultStalenessConfig returns default staleness configuration.
func DefaultStalenessConfig() StalenessConfig {
	return StalenessConfig{
		StaleAfter:    1 * time.Hour,
		CheckInterval: 10 * time.Minute,
		BatchSize:     500,
		InitialDelay:  1 * time.Minute,
	}
}

// StalenessScheduler periodically requests refreshes for old snapshots.
// Requests never replace an existing job.
type StalenessScheduler struct {
	repo      repository.SnapshotRepository
	refresh   RefreshRequester
	config    StalenessConfig
	log       *zap.Logger
	now       func() time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewStalenessScheduler creates a new staleness scheduler.
func NewStalenessScheduler(repo repository.SnapshotRepository, refresh RefreshRequester, config StalenessConfig, log *zap.Logger) *StalenessScheduler {
	defaults := DefaultStalenessConfig()
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &StalenessScheduler{
		repo:    repo,
		refresh: refresh,
		config:  config,
		log:     log.Named("staleness"),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the staleness scheduler.
func (s *StalenessScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.CheckInterval)
	s.mu.Unlock()

	s.log.Info("started",
		zap.Duration("interval", s.config.CheckInterval),
		zap.Duration("stale_after", s.config.StaleAfter),
	)

	go func() {
		select {
		case <-time.After(s.config.InitialDelay):
			s.runCheck()
		case <-s.stopCh:
		}
	}()

	go s.run()
}

func (s *StalenessScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.runCheck()
		case <-s.stopCh:
			s.log.Info("stopped")
			return
		}
	}
}

func (s *StalenessScheduler) runCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	enqueued, err := s.RunNow(ctx)
	if err != nil {
		s.log.Error("staleness check failed", zap.Error(err))
		return
	}
	if enqueued > 0 {
		s.log.Info("refreshes requested for stale snapshots", zap.Int("enqueued", enqueued))
	} else {
		s.log.Debug("no stale snapshots")
	}
}

// Stop stops the staleness scheduler.
func (s *StalenessScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow requests a refresh for every stale SKU in one batch and returns
// how many new jobs were created. A failing SKU is logged and skipped
// unless the job store is down, which aborts the run.
func (s *StalenessScheduler) RunNow(ctx context.Context) (int, error) {
	before := s.now().Add(-s.config.StaleAfter)
	skus, err := s.repo.ListStale(ctx, before, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, key := range skus {
		res, err := s.refresh.RequestRefresh(ctx, key, scheduler.Options{
			Priority: s.config.Priority,
			Replace:  false,
		})
		if err != nil {
			if isUnavailable(err) || ctx.Err() != nil {
				return enqueued, err
			}
			s.log.Warn("refresh request failed", zap.String("sku", key), zap.Error(err))
			continue
		}
		if res.Enqueued {
			enqueued++
		}
	}
	return enqueued, nil
}
