package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/internal/queue"
	"listing-snapshot-api/internal/sku"
)

const testKey = "5021;6"

func delay(d time.Duration) *time.Duration { return &d }

type testEnv struct {
	store *queue.MemoryStore
	sched *Scheduler
	now   time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{store: queue.NewMemoryStore(), now: time.UnixMilli(1_700_000_000_000)}
	clock := func() time.Time { return env.now }
	env.store.SetClock(clock)
	env.sched = New(env.store, Config{}, nil, nil)
	env.sched.SetClock(clock)
	return env
}

func (e *testEnv) request(t *testing.T, opts Options) Result {
	t.Helper()
	res, err := e.sched.RequestRefresh(context.Background(), testKey, opts)
	if err != nil {
		t.Fatalf("request refresh: %v", err)
	}
	return res
}

func (e *testEnv) job(t *testing.T) *model.Job {
	t.Helper()
	job, err := e.store.Get(context.Background(), testKey)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func TestNewKeyIsEnqueuedOnce(t *testing.T) {
	env := newTestEnv()

	first := env.request(t, Options{})
	if !first.Enqueued || first.State != model.JobWaiting {
		t.Fatalf("expected new waiting job, got %+v", first)
	}

	second := env.request(t, Options{})
	if second.Enqueued || second.State != first.State {
		t.Fatalf("expected no-op with first job's state, got %+v", second)
	}

	job := env.job(t)
	if job.MaxAttempts != DefaultAttempts || job.Backoff != DefaultBackoff {
		t.Fatalf("unexpected job defaults %+v", job)
	}
	if !job.RemoveOnComplete || !job.RemoveOnFail {
		t.Fatalf("expected terminal jobs to be purged, got %+v", job)
	}
}

func TestDelayedJobReplacedOnlyBySoonerDelay(t *testing.T) {
	env := newTestEnv()

	res := env.request(t, Options{Delay: delay(10 * time.Second)})
	if !res.Enqueued || res.State != model.JobDelayed {
		t.Fatalf("expected delayed job, got %+v", res)
	}

	res = env.request(t, Options{Delay: delay(20 * time.Second), Replace: true})
	if res.Enqueued || res.State != model.JobDelayed {
		t.Fatalf("expected later delay to be a no-op, got %+v", res)
	}
	if want := env.now.Add(10 * time.Second); !env.job(t).DelayUntil.Equal(want) {
		t.Fatalf("job was touched: fires at %v", env.job(t).DelayUntil)
	}

	res = env.request(t, Options{Delay: delay(2 * time.Second), Replace: true})
	if !res.Enqueued || res.State != model.JobDelayed {
		t.Fatalf("expected sooner delay to re-enqueue, got %+v", res)
	}
	if want := env.now.Add(2 * time.Second); !env.job(t).DelayUntil.Equal(want) {
		t.Fatalf("expected job to fire at %v, got %v", want, env.job(t).DelayUntil)
	}
}

func TestDelayedJobWithoutReplaceIsUntouched(t *testing.T) {
	env := newTestEnv()
	env.request(t, Options{Delay: delay(10 * time.Second)})

	res := env.request(t, Options{Delay: delay(time.Second)})
	if res.Enqueued || res.State != model.JobDelayed {
		t.Fatalf("expected no-op, got %+v", res)
	}
}

func TestDelayedJobPromotedWhenNoDelayRequested(t *testing.T) {
	env := newTestEnv()
	env.request(t, Options{Delay: delay(time.Minute)})

	res := env.request(t, Options{Replace: true})
	if res.Enqueued || res.State != model.JobWaiting {
		t.Fatalf("expected promotion to waiting, got %+v", res)
	}
	if env.job(t).State != model.JobWaiting {
		t.Fatalf("store not promoted: %+v", env.job(t))
	}
}

func TestRetriedJobPromotedEvenWithDelay(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.request(t, Options{})

	claimed, err := env.store.Claim(ctx, time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %+v, %v", claimed, err)
	}
	if state, err := env.store.Fail(ctx, testKey, claimed.LockToken, "boom"); err != nil || state != model.JobDelayed {
		t.Fatalf("expected retry, got %s, %v", state, err)
	}

	res := env.request(t, Options{Delay: delay(time.Second), Replace: true})
	if res.Enqueued || res.State != model.JobWaiting {
		t.Fatalf("expected retried job promoted, got %+v", res)
	}
	if env.job(t).AttemptsMade != 1 {
		t.Fatalf("promotion must keep attempt count, got %+v", env.job(t))
	}
}

func TestActiveJobNeverPreempted(t *testing.T) {
	env := newTestEnv()
	env.request(t, Options{Priority: 2})
	if _, err := env.store.Claim(context.Background(), time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	for _, opts := range []Options{
		{},
		{Replace: true},
		{Replace: true, Priority: 7, Delay: delay(time.Second)},
	} {
		res := env.request(t, opts)
		if res.Enqueued || res.State != model.JobActive {
			t.Fatalf("%+v: expected active no-op, got %+v", opts, res)
		}
	}
}

func TestAbandonedActiveJobIsRecovered(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.request(t, Options{})

	// A worker claims the job and dies without completing it.
	if claimed, err := env.store.Claim(ctx, time.Minute); err != nil || claimed == nil {
		t.Fatalf("claim: %+v, %v", claimed, err)
	}
	if res := env.request(t, Options{Replace: true}); res.Enqueued || res.State != model.JobActive {
		t.Fatalf("expected a locked job to stay active, got %+v", res)
	}

	env.now = env.now.Add(72 * time.Hour)
	res := env.request(t, Options{Replace: true, Priority: 3})
	if !res.Enqueued || res.State != model.JobWaiting {
		t.Fatalf("expected abandoned job to be replaced, got %+v", res)
	}
	job := env.job(t)
	if job.State != model.JobWaiting || job.Priority != 3 {
		t.Fatalf("unexpected job after recovery %+v", job)
	}
}

func TestAbandonedActiveJobReportedWithoutReplace(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.request(t, Options{})
	if claimed, err := env.store.Claim(ctx, time.Minute); err != nil || claimed == nil {
		t.Fatalf("claim: %+v, %v", claimed, err)
	}

	env.now = env.now.Add(time.Hour)
	res := env.request(t, Options{})
	if res.Enqueued || res.State != model.JobWaiting {
		t.Fatalf("expected recovered waiting job, got %+v", res)
	}
	if job := env.job(t); job.AttemptsMade != 1 {
		t.Fatalf("stall must count as an attempt, got %+v", job)
	}
}

func TestTerminalJobReplacedOnlyWithReplace(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := &model.Job{ID: testKey, SKU: testKey, Timestamp: env.now, MaxAttempts: 1, Backoff: time.Second}
	if err := env.store.Add(ctx, job); err != nil {
		t.Fatalf("add: %v", err)
	}
	claimed, _ := env.store.Claim(ctx, time.Minute)
	if claimed == nil {
		t.Fatal("expected claim")
	}
	if err := env.store.Complete(ctx, testKey, claimed.LockToken); err != nil {
		t.Fatalf("complete: %v", err)
	}

	res := env.request(t, Options{})
	if res.Enqueued || res.State != model.JobCompleted {
		t.Fatalf("expected completed no-op, got %+v", res)
	}

	res = env.request(t, Options{Replace: true})
	if !res.Enqueued || res.State != model.JobWaiting {
		t.Fatalf("expected terminal job replaced, got %+v", res)
	}
}

func TestWaitingJobRepositionedOnPriorityChange(t *testing.T) {
	env := newTestEnv()
	env.request(t, Options{Priority: 4})

	res := env.request(t, Options{Priority: 4, Replace: true})
	if res.Enqueued {
		t.Fatalf("same priority must be a no-op, got %+v", res)
	}

	res = env.request(t, Options{Priority: 1, Replace: true})
	if !res.Enqueued || res.State != model.JobWaiting {
		t.Fatalf("expected re-enqueue with new priority, got %+v", res)
	}
	if env.job(t).Priority != 1 {
		t.Fatalf("expected priority 1, got %d", env.job(t).Priority)
	}

	res = env.request(t, Options{Priority: 9})
	if res.Enqueued || env.job(t).Priority != 1 {
		t.Fatalf("replace=false must not change priority, got %+v", res)
	}
}

func TestRejectsInvalidInput(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.sched.RequestRefresh(ctx, "5021;6;n12", Options{}); !errors.Is(err, sku.ErrInvalidSKU) {
		t.Fatalf("expected ErrInvalidSKU, got %v", err)
	}
	if _, err := env.sched.RequestRefresh(ctx, testKey, Options{Priority: -1}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for priority, got %v", err)
	}
	if _, err := env.sched.RequestRefresh(ctx, testKey, Options{Delay: delay(-time.Second)}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for delay, got %v", err)
	}
}

func TestConcurrentRequestsEnqueueOnce(t *testing.T) {
	env := newTestEnv()

	var wg sync.WaitGroup
	var mu sync.Mutex
	enqueued := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.sched.RequestRefresh(context.Background(), testKey, Options{Replace: true})
			if err != nil {
				t.Errorf("request: %v", err)
				return
			}
			if res.Enqueued {
				mu.Lock()
				enqueued++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if enqueued != 1 {
		t.Fatalf("expected exactly one enqueue, got %d", enqueued)
	}
}

// racingStore hides the job from the first Get, as if another process
// added it between the read and the write.
type racingStore struct {
	*queue.MemoryStore
	once sync.Once
}

func (s *racingStore) Get(ctx context.Context, id string) (*model.Job, error) {
	hidden := false
	s.once.Do(func() { hidden = true })
	if hidden {
		return nil, queue.ErrNotFound
	}
	return s.MemoryStore.Get(ctx, id)
}

func TestDuplicateFromStoreReportsWinner(t *testing.T) {
	mem := queue.NewMemoryStore()
	winner := &model.Job{ID: testKey, SKU: testKey, Timestamp: time.Now(), DelayUntil: time.Now().Add(time.Hour), MaxAttempts: 5}
	if err := mem.Add(context.Background(), winner); err != nil {
		t.Fatalf("add: %v", err)
	}

	sched := New(&racingStore{MemoryStore: mem}, Config{}, nil, nil)
	res, err := sched.RequestRefresh(context.Background(), testKey, Options{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.Enqueued || res.State != model.JobDelayed {
		t.Fatalf("expected winner's delayed state without enqueue, got %+v", res)
	}
}

// claimingStore lets a worker claim the job right before the scheduler's
// conditional write reaches the store.
type claimingStore struct {
	*queue.MemoryStore
	claimed bool
}

func (s *claimingStore) claim(ctx context.Context) {
	if !s.claimed {
		s.claimed = true
		_, _ = s.MemoryStore.Claim(ctx, time.Minute)
	}
}

func (s *claimingStore) Promote(ctx context.Context, id string) error {
	s.claim(ctx)
	return s.MemoryStore.Promote(ctx, id)
}

func (s *claimingStore) Remove(ctx context.Context, id string, state model.JobState) error {
	s.claim(ctx)
	return s.MemoryStore.Remove(ctx, id, state)
}

func TestPromoteRacingClaimReportsActive(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.request(t, Options{Delay: delay(time.Second)})

	// Make the delayed job due so Claim can take it.
	env.now = env.now.Add(2 * time.Second)
	store := &claimingStore{MemoryStore: env.store}
	sched := New(store, Config{}, nil, nil)
	sched.SetClock(func() time.Time { return env.now })

	res, err := sched.RequestRefresh(ctx, testKey, Options{Replace: true})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.Enqueued || res.State != model.JobActive {
		t.Fatalf("expected active no-op, got %+v", res)
	}
	if env.job(t).State != model.JobActive {
		t.Fatalf("claimed job was touched: %+v", env.job(t))
	}
}

func TestReplaceRacingClaimKeepsActiveJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.request(t, Options{Priority: 2})

	store := &claimingStore{MemoryStore: env.store}
	sched := New(store, Config{}, nil, nil)
	sched.SetClock(func() time.Time { return env.now })

	res, err := sched.RequestRefresh(ctx, testKey, Options{Replace: true, Priority: 9})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.Enqueued || res.State != model.JobActive {
		t.Fatalf("expected active no-op, got %+v", res)
	}
	job := env.job(t)
	if job.State != model.JobActive || job.Priority != 2 {
		t.Fatalf("active job was preempted: %+v", job)
	}
}

// vanishingStore drops the job right before the conditional write.
type vanishingStore struct {
	*queue.MemoryStore
	dropped bool
}

func (s *vanishingStore) Promote(ctx context.Context, id string) error {
	if !s.dropped {
		s.dropped = true
		_ = s.MemoryStore.Remove(ctx, id, model.JobDelayed)
	}
	return s.MemoryStore.Promote(ctx, id)
}

func TestPromoteRacingRemovalReAdds(t *testing.T) {
	env := newTestEnv()
	env.request(t, Options{Delay: delay(time.Minute)})

	sched := New(&vanishingStore{MemoryStore: env.store}, Config{}, nil, nil)
	sched.SetClock(func() time.Time { return env.now })

	res, err := sched.RequestRefresh(context.Background(), testKey, Options{Replace: true})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !res.Enqueued || res.State != model.JobWaiting {
		t.Fatalf("expected a fresh waiting job, got %+v", res)
	}
}

type downStore struct {
	*queue.MemoryStore
}

func (downStore) Get(ctx context.Context, id string) (*model.Job, error) {
	return nil, queue.ErrUnavailable
}

func TestStoreUnavailableSurfaces(t *testing.T) {
	sched := New(downStore{queue.NewMemoryStore()}, Config{}, nil, nil)
	if _, err := sched.RequestRefresh(context.Background(), testKey, Options{}); !errors.Is(err, queue.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDefaultTimeoutApplied(t *testing.T) {
	sched := New(queue.NewMemoryStore(), Config{OpTimeout: time.Second}, nil, nil)
	ctx, cancel := sched.withTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > time.Second {
		t.Fatalf("expected a deadline within 1s, got %v %v", deadline, ok)
	}
}
