// Package queue is the keyed refresh job store. Job ids are unique, so the
// store itself is the last line of defence against two jobs for one key.
package queue

import (
	"context"
	"errors"
	"time"

	"listing-snapshot-api/internal/model"
)

var (
	// ErrDuplicateJob is returned by Add when a job with the same id exists.
	ErrDuplicateJob = errors.New("queue: job already exists")
	// ErrNotFound is returned when no job has the requested id.
	ErrNotFound = errors.New("queue: job not found")
	// ErrJobState is returned when a job is not in the state an operation needs.
	ErrJobState = errors.New("queue: job not in expected state")
	// ErrUnavailable wraps job store connectivity failures.
	ErrUnavailable = errors.New("queue: job store unavailable")
)

// MaxPriority is the largest accepted priority. Lower numbers run first,
// 0 means unprioritised and runs after every prioritised job.
const MaxPriority = 1 << 20

// StalledReason is recorded on jobs recovered from an expired lock.
const StalledReason = "job stalled: lock expired"

// Store is a durable keyed job queue. Every method is atomic on its own;
// callers that combine them must provide their own exclusion.
type Store interface {
	// Get returns the job with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Add stores a new job as waiting, or delayed when DelayUntil is in
	// the future. It returns ErrDuplicateJob when the id is taken.
	Add(ctx context.Context, job *model.Job) error
	// Remove deletes the job only while it is in state. It returns
	// ErrNotFound for a missing job and ErrJobState when the job has moved on.
	Remove(ctx context.Context, id string, state model.JobState) error
	// Promote moves a delayed job to waiting.
	Promote(ctx context.Context, id string) error

	// Claim promotes due delayed jobs, recovers stalled jobs and moves the
	// next waiting job to active, locked for lock under a fresh LockToken.
	// It returns nil when nothing is runnable or the queue is paused.
	//
	// An active job whose lock has expired is stalled: its worker died or
	// lost the store. The stall counts as an attempt; the job goes back to
	// waiting while attempts remain, otherwise it fails.
	Claim(ctx context.Context, lock time.Duration) (*model.Job, error)
	// RecoverStalled applies the stalled-job rule of Claim on its own and
	// reports how many jobs it recovered.
	RecoverStalled(ctx context.Context) (int, error)
	// ExtendLock renews the lock of an active job. ExtendLock, Complete and
	// Fail take the token handed out by Claim and return ErrJobState once
	// the job is no longer active under that token, e.g. after it was
	// recovered as stalled.
	ExtendLock(ctx context.Context, id, token string, lock time.Duration) error
	// Complete finishes an active job.
	Complete(ctx context.Context, id, token string) error
	// Fail records a failed attempt of an active job. The job is delayed
	// by its backoff while attempts remain, otherwise it becomes failed.
	// The returned state is the job's new state.
	Fail(ctx context.Context, id, token, reason string) (model.JobState, error)

	Counts(ctx context.Context) (model.JobCounts, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
}

// priorityRank maps a priority to its ordering rank.
func priorityRank(priority int) int64 {
	if priority <= 0 || priority > MaxPriority {
		return MaxPriority + 1
	}
	return int64(priority)
}

// waitScore orders waiting jobs by priority rank, then insertion order.
func waitScore(priority int, seq uint64) uint64 {
	return uint64(priorityRank(priority))<<32 | (seq & 0xffffffff)
}
