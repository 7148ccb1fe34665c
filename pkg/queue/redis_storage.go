package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStorage implements all queue repository interfaces on top of Redis.
// Layout per queue:
//
//   - <prefix>:<queue>:job:<id>  — job document (JSON)
//   - <prefix>:<queue>:ready     — ZSET of claimable IDs, score packs priority and enqueue sequence
//   - <prefix>:<queue>:delayed   — ZSET of delayed IDs scored by ready-at (unix ms)
//   - <prefix>:<queue>:active    — ZSET of claimed IDs scored by lock expiry (unix ms)
//   - <prefix>:<queue>:ids       — SET of all known IDs
//
// Enqueue dedup and claiming run as Lua scripts so the idempotency and
// at-most-one-claimer invariants hold across concurrent workers.
type RedisStorage struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisOption configures RedisStorage.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
}

// WithKeyPrefix overrides the default "queue" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// NewRedisStorage creates a Redis-backed storage implementation.
func NewRedisStorage(rdb redis.UniversalClient, opts ...RedisOption) (*RedisStorage, error) {
	if rdb == nil {
		return nil, ErrStorageNil
	}

	options := &redisOptions{prefix: "queue"}
	for _, opt := range opts {
		opt(options)
	}

	return &RedisStorage{rdb: rdb, prefix: options.prefix}, nil
}

func (rs *RedisStorage) jobKey(queueName, id string) string {
	return fmt.Sprintf("%s:%s:job:%s", rs.prefix, queueName, id)
}

func (rs *RedisStorage) queueKey(queueName, suffix string) string {
	return fmt.Sprintf("%s:%s:%s", rs.prefix, queueName, suffix)
}

// Score packs priority and enqueue sequence into one sortable number so a
// single ZPOPMIN yields lowest-priority-value-first, FIFO-within-tier order.
// 2^40 sequences per priority tier is far beyond any realistic backlog.
const scriptScore = "(job.priority * 2^40 + job.sequence)"

var upsertScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if raw then
	local job = cjson.decode(raw)
	local s = job.status
	if s ~= 'completed' and s ~= 'failed' and s ~= 'removed' then
		return {raw, 0}
	end
end
local seq = redis.call('INCR', KEYS[5])
local job = cjson.decode(ARGV[1])
job.sequence = seq
local encoded = cjson.encode(job)
redis.call('SET', KEYS[1], encoded)
redis.call('SADD', KEYS[4], ARGV[3])
if tonumber(ARGV[2]) > 0 then
	redis.call('ZREM', KEYS[2], ARGV[3])
	redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[3])
else
	redis.call('ZREM', KEYS[3], ARGV[3])
	redis.call('ZADD', KEYS[2], ` + scriptScore + `, ARGV[3])
end
return {encoded, 1}
`)

var claimScript = redis.NewScript(`
local function requeue(zset)
	local due = redis.call('ZRANGEBYSCORE', zset, '-inf', ARGV[1], 'LIMIT', 0, 100)
	for _, id in ipairs(due) do
		local raw = redis.call('GET', ARGV[3] .. id)
		if raw then
			local job = cjson.decode(raw)
			redis.call('ZADD', KEYS[1], ` + scriptScore + `, id)
		end
		redis.call('ZREM', zset, id)
	end
end
requeue(KEYS[2])
requeue(KEYS[3])
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
	return false
end
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), popped[1])
return popped[1]
`)

// UpsertJob implements EnqueuerRepository.
func (rs *RedisStorage) UpsertJob(ctx context.Context, job *Job) (*Job, bool, error) {
	if job == nil {
		return nil, false, errors.New("job cannot be nil")
	}

	toStore := cloneJob(job)
	if toStore.CreatedAt.IsZero() {
		toStore.CreatedAt = time.Now()
	}
	if toStore.ScheduledAt.IsZero() {
		toStore.ScheduledAt = toStore.CreatedAt
	}
	if toStore.Status == "" {
		toStore.Status = JobStatusWaiting
	}

	var readyAtMs int64
	if toStore.Status == JobStatusDelayed {
		readyAtMs = toStore.ScheduledAt.UnixMilli()
	}

	encoded, err := json.Marshal(toStore)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal job %q: %w", job.ID, err)
	}

	res, err := upsertScript.Run(ctx, rs.rdb,
		[]string{
			rs.jobKey(job.Queue, job.ID),
			rs.queueKey(job.Queue, "ready"),
			rs.queueKey(job.Queue, "delayed"),
			rs.queueKey(job.Queue, "ids"),
			fmt.Sprintf("%s:seq", rs.prefix),
		},
		string(encoded), readyAtMs, job.ID,
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert job %q in queue %q: %w", job.ID, job.Queue, err)
	}

	raw, ok := res[0].(string)
	if !ok {
		return nil, false, fmt.Errorf("unexpected upsert script reply for job %q", job.ID)
	}

	stored := &Job{}
	if err := json.Unmarshal([]byte(raw), stored); err != nil {
		return nil, false, fmt.Errorf("failed to decode stored job %q: %w", job.ID, err)
	}

	created, _ := res[1].(int64)
	return stored, created == 1, nil
}

// ClaimJob implements WorkerRepository. The script promotes due delayed
// jobs and requeues expired claims before popping the next eligible ID;
// the job document is then marked active. Claiming counts the attempt,
// so AttemptsMade covers the execution regardless of how it ends.
func (rs *RedisStorage) ClaimJob(ctx context.Context, workerID uuid.UUID, queueName string, lockDuration time.Duration) (*Job, error) {
	now := time.Now()
	lockUntil := now.Add(lockDuration)

	res, err := claimScript.Run(ctx, rs.rdb,
		[]string{
			rs.queueKey(queueName, "ready"),
			rs.queueKey(queueName, "delayed"),
			rs.queueKey(queueName, "active"),
		},
		now.UnixMilli(), lockUntil.UnixMilli(), fmt.Sprintf("%s:%s:job:", rs.prefix, queueName),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job in queue %q: %w", queueName, err)
	}

	id, ok := res.(string)
	if !ok || id == "" {
		return nil, ErrNoJobToClaim
	}

	job, err := rs.getJob(ctx, queueName, id)
	if err != nil {
		return nil, err
	}

	job.Status = JobStatusActive
	job.AttemptsMade++
	job.LockedUntil = &lockUntil
	job.LockedBy = &workerID

	if err := rs.setJob(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// CompleteJob implements WorkerRepository.
func (rs *RedisStorage) CompleteJob(ctx context.Context, queueName, id string, result Result) error {
	job, err := rs.getJob(ctx, queueName, id)
	if err != nil {
		return err
	}
	if job.Status != JobStatusActive {
		return ErrJobNotActive
	}

	now := time.Now()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Warnings = result.Warnings
	job.LockedUntil = nil
	job.LockedBy = nil

	if err := rs.setJob(ctx, job); err != nil {
		return err
	}

	return rs.rdb.ZRem(ctx, rs.queueKey(queueName, "active"), id).Err()
}

// FailJob implements WorkerRepository.
func (rs *RedisStorage) FailJob(ctx context.Context, queueName, id, errMsg string) (*Job, error) {
	job, err := rs.getJob(ctx, queueName, id)
	if err != nil {
		return nil, err
	}
	if job.Status != JobStatusActive {
		return nil, ErrJobNotActive
	}

	// The attempt was counted when the job was claimed
	job.Error = &errMsg
	job.LockedUntil = nil
	job.LockedBy = nil

	pipe := rs.rdb.TxPipeline()
	pipe.ZRem(ctx, rs.queueKey(queueName, "active"), id)

	if job.AttemptsMade >= job.MaxAttempts {
		now := time.Now()
		job.Status = JobStatusFailed
		job.CompletedAt = &now
	} else {
		job.Status = JobStatusDelayed
		job.ScheduledAt = time.Now().Add(job.Backoff.NextDelay(int(job.AttemptsMade)))
		pipe.ZAdd(ctx, rs.queueKey(queueName, "delayed"), redis.Z{
			Score:  float64(job.ScheduledAt.UnixMilli()),
			Member: id,
		})
	}

	encoded, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job %q: %w", id, err)
	}
	pipe.Set(ctx, rs.jobKey(queueName, id), encoded, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to fail job %q in queue %q: %w", id, queueName, err)
	}

	return job, nil
}

// DiscardJob implements WorkerRepository.
func (rs *RedisStorage) DiscardJob(ctx context.Context, queueName, id, errMsg string) error {
	job, err := rs.getJob(ctx, queueName, id)
	if err != nil {
		return err
	}
	if job.Status != JobStatusActive {
		return ErrJobNotActive
	}

	now := time.Now()
	job.Error = &errMsg
	job.Status = JobStatusFailed
	job.CompletedAt = &now
	job.LockedUntil = nil
	job.LockedBy = nil

	if err := rs.setJob(ctx, job); err != nil {
		return err
	}

	return rs.rdb.ZRem(ctx, rs.queueKey(queueName, "active"), id).Err()
}

// ExtendLock implements WorkerRepository.
func (rs *RedisStorage) ExtendLock(ctx context.Context, queueName, id string, duration time.Duration) error {
	job, err := rs.getJob(ctx, queueName, id)
	if err != nil {
		return err
	}
	if job.Status != JobStatusActive {
		return ErrJobNotActive
	}

	lockUntil := time.Now().Add(duration)
	job.LockedUntil = &lockUntil

	pipe := rs.rdb.TxPipeline()
	pipe.ZAdd(ctx, rs.queueKey(queueName, "active"), redis.Z{
		Score:  float64(lockUntil.UnixMilli()),
		Member: id,
	})
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %q: %w", id, err)
	}
	pipe.Set(ctx, rs.jobKey(queueName, id), encoded, 0)

	_, err = pipe.Exec(ctx)
	return err
}

// GetJob implements InspectorRepository.
func (rs *RedisStorage) GetJob(ctx context.Context, queueName, id string) (*Job, error) {
	return rs.getJob(ctx, queueName, id)
}

// ListJobs implements InspectorRepository.
func (rs *RedisStorage) ListJobs(ctx context.Context, queueName string, statuses ...JobStatus) ([]*Job, error) {
	ids, err := rs.rdb.SMembers(ctx, rs.queueKey(queueName, "ids")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs in queue %q: %w", queueName, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rs.jobKey(queueName, id)
	}

	raws, err := rs.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jobs in queue %q: %w", queueName, err)
	}

	var jobs []*Job
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		job := &Job{}
		if err := json.Unmarshal([]byte(s), job); err != nil {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, job.Status) {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Sequence < jobs[j].Sequence
	})

	return jobs, nil
}

// RemoveJob implements SweeperRepository. Membership in the ready/delayed
// sets is the authority: a job a worker already claimed is no longer in
// either set and is reported as not removed.
func (rs *RedisStorage) RemoveJob(ctx context.Context, queueName, id string) (bool, error) {
	pipe := rs.rdb.TxPipeline()
	readyRem := pipe.ZRem(ctx, rs.queueKey(queueName, "ready"), id)
	delayedRem := pipe.ZRem(ctx, rs.queueKey(queueName, "delayed"), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to remove job %q from queue %q: %w", id, queueName, err)
	}

	if readyRem.Val()+delayedRem.Val() == 0 {
		return false, nil
	}

	job, err := rs.getJob(ctx, queueName, id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	now := time.Now()
	job.Status = JobStatusRemoved
	job.CompletedAt = &now
	job.LockedUntil = nil
	job.LockedBy = nil

	if err := rs.setJob(ctx, job); err != nil {
		return false, err
	}

	return true, nil
}

// PruneJobs implements PrunerRepository.
func (rs *RedisStorage) PruneJobs(ctx context.Context, queueName string, policy RetentionPolicy) (int, error) {
	jobs, err := rs.ListJobs(ctx, queueName)
	if err != nil {
		return 0, err
	}

	byStatus := make(map[JobStatus][]*Job)
	for _, job := range jobs {
		if !job.Terminal() {
			continue
		}
		bucket := JobStatusCompleted
		if job.Status == JobStatusFailed {
			bucket = JobStatusFailed
		}
		byStatus[bucket] = append(byStatus[bucket], job)
	}

	now := time.Now()
	pruned := 0
	for status, terminal := range byStatus {
		rule := policy.rule(status)

		sort.Slice(terminal, func(i, j int) bool {
			return terminalAt(terminal[i]).After(terminalAt(terminal[j]))
		})

		for i, job := range terminal {
			if i < rule.Count || now.Sub(terminalAt(job)) <= rule.Age {
				continue
			}
			pipe := rs.rdb.TxPipeline()
			pipe.Del(ctx, rs.jobKey(queueName, job.ID))
			pipe.SRem(ctx, rs.queueKey(queueName, "ids"), job.ID)
			if _, err := pipe.Exec(ctx); err != nil {
				return pruned, fmt.Errorf("failed to prune job %q in queue %q: %w", job.ID, queueName, err)
			}
			pruned++
		}
	}

	return pruned, nil
}

func (rs *RedisStorage) getJob(ctx context.Context, queueName, id string) (*Job, error) {
	raw, err := rs.rdb.Get(ctx, rs.jobKey(queueName, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %q from queue %q: %w", id, queueName, err)
	}

	job := &Job{}
	if err := json.Unmarshal([]byte(raw), job); err != nil {
		return nil, fmt.Errorf("failed to decode job %q: %w", id, err)
	}

	return job, nil
}

func (rs *RedisStorage) setJob(ctx context.Context, job *Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %q: %w", job.ID, err)
	}
	return rs.rdb.Set(ctx, rs.jobKey(job.Queue, job.ID), encoded, 0).Err()
}
