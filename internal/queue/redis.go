package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"listing-snapshot-api/internal/model"
	"listing-snapshot-api/pkg/uid"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep each primitive atomic on the server. Times are passed
// in from the client as unix milliseconds.

var addScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 1 then
		return 0
	end
	local seq = redis.call("INCR", KEYS[4]) % 4294967296
	local score = string.format("%.0f", tonumber(ARGV[4]) * 4294967296 + seq)
	local state = "waiting"
	local delayUntil = ARGV[6]
	if tonumber(delayUntil) > tonumber(ARGV[11]) then
		state = "delayed"
	else
		delayUntil = "0"
	end
	redis.call("HSET", KEYS[1],
		"id", ARGV[1], "sku", ARGV[2], "priority", ARGV[3],
		"timestamp", ARGV[5], "delay_until", delayUntil,
		"attempts_made", "0", "max_attempts", ARGV[7], "backoff", ARGV[8],
		"remove_on_complete", ARGV[9], "remove_on_fail", ARGV[10],
		"state", state, "wait_score", score)
	if state == "delayed" then
		redis.call("ZADD", KEYS[3], delayUntil, ARGV[1])
	else
		redis.call("ZADD", KEYS[2], score, ARGV[1])
	end
	return 1
`)

var removeScript = redis.NewScript(`
	local state = redis.call("HGET", KEYS[1], "state")
	if not state then
		return -1
	end
	if state ~= ARGV[2] then
		return 0
	end
	redis.call("ZREM", KEYS[2], ARGV[1])
	redis.call("ZREM", KEYS[3], ARGV[1])
	redis.call("ZREM", KEYS[4], ARGV[1])
	redis.call("SREM", KEYS[5], ARGV[1])
	redis.call("SREM", KEYS[6], ARGV[1])
	redis.call("DEL", KEYS[1])
	return 1
`)

var promoteScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return -1
	end
	if not redis.call("ZSCORE", KEYS[3], ARGV[1]) then
		return 0
	end
	redis.call("ZREM", KEYS[3], ARGV[1])
	redis.call("ZADD", KEYS[2], redis.call("HGET", KEYS[1], "wait_score"), ARGV[1])
	redis.call("HSET", KEYS[1], "state", "waiting", "delay_until", "0")
	return 1
`)

// stalledScript recovers active jobs whose lock expired. The active zset
// is scored by lock expiry, so every member at or below now has lost its
// worker.
var stalledScript = redis.NewScript(`
	local stalled = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
	for _, id in ipairs(stalled) do
		local jobKey = ARGV[2] .. id
		redis.call("ZREM", KEYS[2], id)
		if redis.call("EXISTS", jobKey) == 1 then
			local attempts = redis.call("HINCRBY", jobKey, "attempts_made", 1)
			redis.call("HSET", jobKey, "failed_reason", ARGV[3], "locked_until", "0", "lock_token", "")
			if attempts < tonumber(redis.call("HGET", jobKey, "max_attempts")) then
				redis.call("HSET", jobKey, "state", "waiting")
				redis.call("ZADD", KEYS[1], redis.call("HGET", jobKey, "wait_score"), id)
			elseif redis.call("HGET", jobKey, "remove_on_fail") == "1" then
				redis.call("DEL", jobKey)
			else
				redis.call("HSET", jobKey, "state", "failed", "finished_on", ARGV[1])
				redis.call("SADD", KEYS[3], id)
			end
		end
	end
	return #stalled
`)

var claimScript = redis.NewScript(`
	local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1])
	for _, id in ipairs(due) do
		local jobKey = ARGV[2] .. id
		redis.call("ZREM", KEYS[2], id)
		redis.call("ZADD", KEYS[1], redis.call("HGET", jobKey, "wait_score"), id)
		redis.call("HSET", jobKey, "state", "waiting", "delay_until", "0")
	end
	if redis.call("EXISTS", KEYS[4]) == 1 then
		return false
	end
	local head = redis.call("ZRANGE", KEYS[1], 0, 0)
	if #head == 0 then
		return false
	end
	local id = head[1]
	redis.call("ZREM", KEYS[1], id)
	redis.call("ZADD", KEYS[3], ARGV[3], id)
	redis.call("HSET", ARGV[2] .. id, "state", "active", "processed_on", ARGV[1], "locked_until", ARGV[3], "lock_token", ARGV[4])
	return id
`)

var extendScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return -1
	end
	if not redis.call("ZSCORE", KEYS[2], ARGV[1]) or redis.call("HGET", KEYS[1], "lock_token") ~= ARGV[3] then
		return 0
	end
	redis.call("ZADD", KEYS[2], "XX", ARGV[2], ARGV[1])
	redis.call("HSET", KEYS[1], "locked_until", ARGV[2])
	return 1
`)

var completeScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return -1
	end
	if not redis.call("ZSCORE", KEYS[2], ARGV[1]) or redis.call("HGET", KEYS[1], "lock_token") ~= ARGV[3] then
		return 0
	end
	redis.call("ZREM", KEYS[2], ARGV[1])
	if redis.call("HGET", KEYS[1], "remove_on_complete") == "1" then
		redis.call("DEL", KEYS[1])
	else
		redis.call("HSET", KEYS[1], "state", "completed", "finished_on", ARGV[2], "locked_until", "0", "lock_token", "")
		redis.call("SADD", KEYS[3], ARGV[1])
	end
	return 1
`)

var failScript = redis.NewScript(`
	if redis.call("EXISTS", KEYS[1]) == 0 then
		return "missing"
	end
	if not redis.call("ZSCORE", KEYS[2], ARGV[1]) or redis.call("HGET", KEYS[1], "lock_token") ~= ARGV[4] then
		return "invalid"
	end
	redis.call("ZREM", KEYS[2], ARGV[1])
	local attempts = redis.call("HINCRBY", KEYS[1], "attempts_made", 1)
	redis.call("HSET", KEYS[1], "failed_reason", ARGV[2], "locked_until", "0", "lock_token", "")
	local maxAttempts = tonumber(redis.call("HGET", KEYS[1], "max_attempts"))
	if attempts < maxAttempts then
		local backoff = tonumber(redis.call("HGET", KEYS[1], "backoff"))
		local due = string.format("%.0f", tonumber(ARGV[3]) + backoff * (2 ^ (attempts - 1)))
		redis.call("HSET", KEYS[1], "state", "delayed", "delay_until", due)
		redis.call("ZADD", KEYS[3], due, ARGV[1])
		return "delayed"
	end
	if redis.call("HGET", KEYS[1], "remove_on_fail") == "1" then
		redis.call("DEL", KEYS[1])
	else
		redis.call("HSET", KEYS[1], "state", "failed", "finished_on", ARGV[3])
		redis.call("SADD", KEYS[4], ARGV[1])
	end
	return "failed"
`)

// RedisStore is a Store backed by Redis. Each job is a hash; state
// membership lives in a wait zset (priority order), a delayed zset
// (fire time), an active zset (lock expiry), and completed and failed sets.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisStore creates a job store under keyPrefix.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "bull:snapshot"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// SetClock replaces the time source.
func (s *RedisStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *RedisStore) jobPrefix() string       { return s.keyPrefix + ":job:" }
func (s *RedisStore) jobKey(id string) string { return s.jobPrefix() + id }
func (s *RedisStore) waitKey() string         { return s.keyPrefix + ":wait" }
func (s *RedisStore) delayedKey() string      { return s.keyPrefix + ":delayed" }
func (s *RedisStore) activeKey() string       { return s.keyPrefix + ":active" }
func (s *RedisStore) completedKey() string    { return s.keyPrefix + ":completed" }
func (s *RedisStore) failedKey() string       { return s.keyPrefix + ":failed" }
func (s *RedisStore) pausedKey() string       { return s.keyPrefix + ":paused" }
func (s *RedisStore) seqKey() string          { return s.keyPrefix + ":seq" }

func (s *RedisStore) nowMillis() int64 {
	return s.now().UnixMilli()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeJob(fields)
}

func (s *RedisStore) Add(ctx context.Context, job *model.Job) error {
	delayUntil := int64(0)
	if !job.DelayUntil.IsZero() {
		delayUntil = job.DelayUntil.UnixMilli()
	}
	now := s.nowMillis()

	added, err := addScript.Run(ctx, s.client,
		[]string{s.jobKey(job.ID), s.waitKey(), s.delayedKey(), s.seqKey()},
		job.ID,
		job.SKU,
		job.Priority,
		priorityRank(job.Priority),
		job.Timestamp.UnixMilli(),
		delayUntil,
		job.MaxAttempts,
		job.Backoff.Milliseconds(),
		boolFlag(job.RemoveOnComplete),
		boolFlag(job.RemoveOnFail),
		now,
	).Int()
	if err != nil {
		return unavailable(err)
	}
	if added == 0 {
		return ErrDuplicateJob
	}

	job.AttemptsMade = 0
	if delayUntil > now {
		job.State = model.JobDelayed
	} else {
		job.State = model.JobWaiting
		job.DelayUntil = time.Time{}
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, id string, state model.JobState) error {
	res, err := removeScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.waitKey(), s.delayedKey(), s.activeKey(), s.completedKey(), s.failedKey()},
		id,
		string(state),
	).Int()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrJobState
	}
	return nil
}

func (s *RedisStore) Promote(ctx context.Context, id string) error {
	res, err := promoteScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.waitKey(), s.delayedKey()},
		id,
	).Int()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrJobState
	}
	return nil
}

func (s *RedisStore) RecoverStalled(ctx context.Context) (int, error) {
	n, err := stalledScript.Run(ctx, s.client,
		[]string{s.waitKey(), s.activeKey(), s.failedKey()},
		s.nowMillis(),
		s.jobPrefix(),
		StalledReason,
	).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *RedisStore) Claim(ctx context.Context, lock time.Duration) (*model.Job, error) {
	if _, err := s.RecoverStalled(ctx); err != nil {
		return nil, err
	}
	now := s.nowMillis()
	id, err := claimScript.Run(ctx, s.client,
		[]string{s.waitKey(), s.delayedKey(), s.activeKey(), s.pausedKey()},
		now,
		s.jobPrefix(),
		now+lock.Milliseconds(),
		uid.New(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) ExtendLock(ctx context.Context, id, token string, lock time.Duration) error {
	res, err := extendScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.activeKey()},
		id,
		s.nowMillis()+lock.Milliseconds(),
		token,
	).Int()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrJobState
	}
	return nil
}

func (s *RedisStore) Complete(ctx context.Context, id, token string) error {
	res, err := completeScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.activeKey(), s.completedKey()},
		id,
		s.nowMillis(),
		token,
	).Int()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrJobState
	}
	return nil
}

func (s *RedisStore) Fail(ctx context.Context, id, token, reason string) (model.JobState, error) {
	res, err := failScript.Run(ctx, s.client,
		[]string{s.jobKey(id), s.activeKey(), s.delayedKey(), s.failedKey()},
		id,
		reason,
		s.nowMillis(),
		token,
	).Text()
	if err != nil {
		return "", unavailable(err)
	}
	switch res {
	case "missing":
		return "", ErrNotFound
	case "invalid":
		return "", ErrJobState
	}
	return model.JobState(res), nil
}

func (s *RedisStore) Counts(ctx context.Context) (model.JobCounts, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.ZCard(ctx, s.waitKey())
	delayed := pipe.ZCard(ctx, s.delayedKey())
	active := pipe.ZCard(ctx, s.activeKey())
	completed := pipe.SCard(ctx, s.completedKey())
	failed := pipe.SCard(ctx, s.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return model.JobCounts{}, unavailable(err)
	}

	return model.JobCounts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (s *RedisStore) Pause(ctx context.Context) error {
	if err := s.client.Set(ctx, s.pausedKey(), "1", 0).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Resume(ctx context.Context) error {
	if err := s.client.Del(ctx, s.pausedKey()).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) IsPaused(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.pausedKey()).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func decodeJob(fields map[string]string) (*model.Job, error) {
	var err error
	num := func(key string) int64 {
		if err != nil {
			return 0
		}
		v := fields[key]
		if v == "" {
			return 0
		}
		var n int64
		n, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			err = fmt.Errorf("decode job field %s: %w", key, err)
		}
		return n
	}
	millis := func(key string) time.Time {
		ms := num(key)
		if ms == 0 {
			return time.Time{}
		}
		return time.UnixMilli(ms)
	}

	job := &model.Job{
		ID:               fields["id"],
		SKU:              fields["sku"],
		Priority:         int(num("priority")),
		Timestamp:        millis("timestamp"),
		DelayUntil:       millis("delay_until"),
		LockedUntil:      millis("locked_until"),
		LockToken:        fields["lock_token"],
		AttemptsMade:     int(num("attempts_made")),
		MaxAttempts:      int(num("max_attempts")),
		Backoff:          time.Duration(num("backoff")) * time.Millisecond,
		RemoveOnComplete: fields["remove_on_complete"] == "1",
		RemoveOnFail:     fields["remove_on_fail"] == "1",
		State:            model.JobState(fields["state"]),
		FailedReason:     fields["failed_reason"],
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}
