package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/internal/queue"
)

func addJob(t *testing.T, store queue.Store, key string, maxAttempts int) {
	t.Helper()
	err := store.Add(context.Background(), &model.Job{
		ID:          key,
		SKU:         key,
		Timestamp:   time.Now(),
		MaxAttempts: maxAttempts,
		Backoff:     time.Second,
	})
	if err != nil {
		t.Fatalf("add %s: %v", key, err)
	}
}

func jobState(t *testing.T, store queue.Store, key string) model.JobState {
	t.Helper()
	job, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return job.State
}

func TestRunOnceCompletesJob(t *testing.T) {
	store := queue.NewMemoryStore()
	addJob(t, store, "5021;6", 5)

	var got string
	pool := NewPool(store, ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		got = job.SKU
		return nil
	}), Config{}, nil, nil)

	ran, err := pool.RunOnce(context.Background())
	if err != nil || !ran {
		t.Fatalf("expected a job to run, got ran=%v err=%v", ran, err)
	}
	if got != "5021;6" {
		t.Fatalf("expected processor to see 5021;6, got %q", got)
	}
	if state := jobState(t, store, "5021;6"); state != model.JobCompleted {
		t.Fatalf("expected completed, got %s", state)
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	pool := NewPool(queue.NewMemoryStore(), ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		t.Fatalf("processor must not run")
		return nil
	}), Config{}, nil, nil)

	ran, err := pool.RunOnce(context.Background())
	if err != nil || ran {
		t.Fatalf("expected no job, got ran=%v err=%v", ran, err)
	}
}

func TestRunOnceFailureRetriesThenFails(t *testing.T) {
	store := queue.NewMemoryStore()
	addJob(t, store, "5021;6", 2)

	boom := errors.New("upstream down")
	pool := NewPool(store, ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		return boom
	}), Config{}, nil, nil)

	if _, err := pool.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	job, err := store.Get(context.Background(), "5021;6")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != model.JobDelayed || job.AttemptsMade != 1 || job.FailedReason != "upstream down" {
		t.Fatalf("expected delayed retry, got %+v", job)
	}

	// Let the backoff elapse.
	store.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	if _, err := pool.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if state := jobState(t, store, "5021;6"); state != model.JobFailed {
		t.Fatalf("expected failed after last attempt, got %s", state)
	}
}

func TestRunOnceRecoversPanic(t *testing.T) {
	store := queue.NewMemoryStore()
	addJob(t, store, "5021;6", 1)

	pool := NewPool(store, ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		panic("bad job")
	}), Config{}, nil, nil)

	if _, err := pool.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if state := jobState(t, store, "5021;6"); state != model.JobFailed {
		t.Fatalf("expected failed, got %s", state)
	}
}

func TestRunOnceAppliesJobTimeout(t *testing.T) {
	store := queue.NewMemoryStore()
	addJob(t, store, "5021;6", 1)

	pool := NewPool(store, ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		<-ctx.Done()
		return ctx.Err()
	}), Config{JobTimeout: 20 * time.Millisecond}, nil, nil)

	if _, err := pool.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	job, err := store.Get(context.Background(), "5021;6")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != model.JobFailed || !strings.Contains(job.FailedReason, "deadline") {
		t.Fatalf("expected deadline failure, got %+v", job)
	}
}

func TestRunOnceRenewsLockWhileProcessing(t *testing.T) {
	store := queue.NewMemoryStore()
	addJob(t, store, "5021;6", 5)

	var recovered int
	pool := NewPool(store, ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		// Outlive the initial lock several times over.
		time.Sleep(500 * time.Millisecond)
		var err error
		recovered, err = store.RecoverStalled(ctx)
		return err
	}), Config{LockDuration: 200 * time.Millisecond}, nil, nil)

	if _, err := pool.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if recovered != 0 {
		t.Fatalf("renewed job was treated as stalled")
	}
	if state := jobState(t, store, "5021;6"); state != model.JobCompleted {
		t.Fatalf("expected completed, got %s", state)
	}
}

func TestRunOnceLockLostLeavesJobToNewOwner(t *testing.T) {
	store := queue.NewMemoryStore()
	addJob(t, store, "5021;6", 5)

	var next *model.Job
	pool := NewPool(store, ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		// The store gives up on this worker and hands the job to another.
		store.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
		var err error
		if next, err = store.Claim(context.Background(), time.Hour); err != nil || next == nil {
			t.Errorf("reclaim: %+v, %v", next, err)
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}), Config{LockDuration: 20 * time.Millisecond, JobTimeout: 5 * time.Second}, nil, nil)

	if _, err := pool.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	job, err := store.Get(context.Background(), "5021;6")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.State != model.JobActive || job.AttemptsMade != 1 || job.LockToken != next.LockToken {
		t.Fatalf("stale worker touched the reclaimed job: %+v", job)
	}
	if err := store.Complete(context.Background(), "5021;6", next.LockToken); err != nil {
		t.Fatalf("new owner complete: %v", err)
	}
}

func TestPoolProcessesAllJobs(t *testing.T) {
	store := queue.NewMemoryStore()
	keys := []string{"5021;6", "5002;6", "5001;6", "5000;6"}
	for _, k := range keys {
		addJob(t, store, k, 1)
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{})
	pool := NewPool(store, ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		mu.Lock()
		defer mu.Unlock()
		seen[job.SKU] = true
		if len(seen) == len(keys) {
			close(done)
		}
		return nil
	}), Config{Concurrency: 2, PollInterval: 10 * time.Millisecond}, nil, nil)

	pool.Start(context.Background())
	defer pool.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out, processed %v", seen)
	}
}

func TestPoolSkipsPausedQueue(t *testing.T) {
	store := queue.NewMemoryStore()
	addJob(t, store, "5021;6", 1)
	if err := store.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}

	pool := NewPool(store, ProcessorFunc(func(ctx context.Context, job *model.Job) error {
		t.Errorf("paused queue must not hand out jobs")
		return nil
	}), Config{PollInterval: 5 * time.Millisecond}, nil, nil)

	pool.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	pool.Stop()

	if state := jobState(t, store, "5021;6"); state != model.JobWaiting {
		t.Fatalf("expected job to stay waiting, got %s", state)
	}
}

func TestHTTPProcessorPostsSKU(t *testing.T) {
	var body refreshRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, time.Second)
	if err := p.Process(context.Background(), &model.Job{ID: "5021;6", SKU: "5021;6"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if body.SKU != "5021;6" {
		t.Fatalf("expected sku in body, got %+v", body)
	}
}

func TestHTTPProcessorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, time.Second)
	err := p.Process(context.Background(), &model.Job{ID: "5021;6", SKU: "5021;6"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}
