package model

import "time"

// JobState is the lifecycle state of a refresh job.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsTerminal reports whether the job has finished for good.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is a queued request to re-ingest the listings of one SKU. The job id
// is the SKU itself, which makes the queue hold at most one job per key.
type Job struct {
	ID               string        `json:"id"`
	SKU              string        `json:"sku"`
	Priority         int           `json:"priority,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
	DelayUntil       time.Time     `json:"delay_until,omitempty"`
	LockedUntil      time.Time     `json:"locked_until,omitempty"`
	LockToken        string        `json:"-"`
	AttemptsMade     int           `json:"attempts_made"`
	MaxAttempts      int           `json:"max_attempts"`
	Backoff          time.Duration `json:"backoff"`
	RemoveOnComplete bool          `json:"remove_on_complete"`
	RemoveOnFail     bool          `json:"remove_on_fail"`
	State            JobState      `json:"state"`
	FailedReason     string        `json:"failed_reason,omitempty"`
}

// BackoffFor returns the exponential retry delay after the given number
// of failed attempts: Backoff, 2*Backoff, 4*Backoff, ...
func (j *Job) BackoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return j.Backoff << (attempts - 1)
}

// JobCounts is the number of jobs per state.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
