package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements all queue repository interfaces for testing and
// local development. Jobs are keyed by (queue, id) so the idempotent
// enqueue invariant holds per queue.
type MemoryStorage struct {
	mu   sync.RWMutex
	jobs map[string]map[string]*Job // queue -> id -> job
	seq  uint64

	// Lock management
	lockTicker *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
}

// NewMemoryStorage creates a new in-memory storage implementation.
func NewMemoryStorage() *MemoryStorage {
	ms := &MemoryStorage{
		jobs: make(map[string]map[string]*Job),
		done: make(chan struct{}),
	}

	// Start lock expiration manager
	ms.lockTicker = time.NewTicker(time.Second)
	go ms.lockExpirationManager()

	return ms
}

// Close stops the background goroutines.
func (ms *MemoryStorage) Close() error {
	ms.closeOnce.Do(func() {
		close(ms.done)
		ms.lockTicker.Stop()
	})
	return nil
}

// UpsertJob implements EnqueuerRepository.
func (ms *MemoryStorage) UpsertJob(ctx context.Context, job *Job) (*Job, bool, error) {
	if job == nil {
		return nil, false, errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	byID, ok := ms.jobs[job.Queue]
	if !ok {
		byID = make(map[string]*Job)
		ms.jobs[job.Queue] = byID
	}

	// A non-terminal job with the same ID absorbs the call
	if existing, ok := byID[job.ID]; ok && !existing.Terminal() {
		existingCopy := cloneJob(existing)
		return existingCopy, false, nil
	}

	ms.seq++
	jobCopy := cloneJob(job)
	jobCopy.Sequence = ms.seq
	if jobCopy.CreatedAt.IsZero() {
		jobCopy.CreatedAt = time.Now()
	}
	if jobCopy.ScheduledAt.IsZero() {
		jobCopy.ScheduledAt = jobCopy.CreatedAt
	}
	if jobCopy.Status == "" {
		jobCopy.Status = JobStatusWaiting
	}
	byID[job.ID] = jobCopy

	return cloneJob(jobCopy), true, nil
}

// ClaimJob implements WorkerRepository.
func (ms *MemoryStorage) ClaimJob(ctx context.Context, workerID uuid.UUID, queueName string, lockDuration time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var best *Job

	// Lowest priority value first, enqueue order among ties. Delayed jobs
	// whose delay has elapsed are eligible without a separate promotion step.
	for _, job := range ms.jobs[queueName] {
		switch job.Status {
		case JobStatusWaiting:
		case JobStatusDelayed:
			if job.ScheduledAt.After(now) {
				continue
			}
		default:
			continue
		}

		if best == nil ||
			job.Priority < best.Priority ||
			(job.Priority == best.Priority && job.Sequence < best.Sequence) {
			best = job
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	// Claiming counts the attempt, so AttemptsMade reflects executions
	// whether the run ends in CompleteJob, FailJob, or DiscardJob.
	lockUntil := now.Add(lockDuration)
	best.AttemptsMade++
	best.Status = JobStatusActive
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID

	return cloneJob(best), nil
}

// CompleteJob implements WorkerRepository.
func (ms *MemoryStorage) CompleteJob(ctx context.Context, queueName, id string, result Result) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(queueName, id)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Warnings = result.Warnings
	job.LockedUntil = nil
	job.LockedBy = nil

	return nil
}

// FailJob implements WorkerRepository.
func (ms *MemoryStorage) FailJob(ctx context.Context, queueName, id, errMsg string) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(queueName, id)
	if err != nil {
		return nil, err
	}

	// The attempt was counted when the job was claimed
	job.Error = &errMsg
	job.LockedUntil = nil
	job.LockedBy = nil

	if job.AttemptsMade >= job.MaxAttempts {
		now := time.Now()
		job.Status = JobStatusFailed
		job.CompletedAt = &now
	} else {
		// Re-enter the delayed pool with the job's own backoff policy
		job.Status = JobStatusDelayed
		job.ScheduledAt = time.Now().Add(job.Backoff.NextDelay(int(job.AttemptsMade)))
	}

	return cloneJob(job), nil
}

// DiscardJob implements WorkerRepository.
func (ms *MemoryStorage) DiscardJob(ctx context.Context, queueName, id, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(queueName, id)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Error = &errMsg
	job.Status = JobStatusFailed
	job.CompletedAt = &now
	job.LockedUntil = nil
	job.LockedBy = nil

	return nil
}

// ExtendLock implements WorkerRepository.
func (ms *MemoryStorage) ExtendLock(ctx context.Context, queueName, id string, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.activeJob(queueName, id)
	if err != nil {
		return err
	}

	lockUntil := time.Now().Add(duration)
	job.LockedUntil = &lockUntil

	return nil
}

// GetJob implements InspectorRepository.
func (ms *MemoryStorage) GetJob(ctx context.Context, queueName, id string) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, ok := ms.jobs[queueName][id]
	if !ok {
		return nil, ErrJobNotFound
	}

	return cloneJob(job), nil
}

// ListJobs implements InspectorRepository.
func (ms *MemoryStorage) ListJobs(ctx context.Context, queueName string, statuses ...JobStatus) ([]*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var jobs []*Job
	for _, job := range ms.jobs[queueName] {
		if len(statuses) > 0 && !containsStatus(statuses, job.Status) {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Sequence < jobs[j].Sequence
	})

	return jobs, nil
}

// RemoveJob implements SweeperRepository. Active and terminal jobs are
// left untouched; removing nothing is not an error.
func (ms *MemoryStorage) RemoveJob(ctx context.Context, queueName, id string) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, ok := ms.jobs[queueName][id]
	if !ok {
		return false, nil
	}

	if job.Status != JobStatusWaiting && job.Status != JobStatusDelayed {
		return false, nil
	}

	now := time.Now()
	job.Status = JobStatusRemoved
	job.CompletedAt = &now
	job.LockedUntil = nil
	job.LockedBy = nil

	return true, nil
}

// PruneJobs implements PrunerRepository. A terminal job is deleted only
// once it falls outside the newest Count for its status and is older than
// the Age threshold.
func (ms *MemoryStorage) PruneJobs(ctx context.Context, queueName string, policy RetentionPolicy) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	byStatus := make(map[JobStatus][]*Job)
	for _, job := range ms.jobs[queueName] {
		if job.Terminal() {
			// Removed jobs share the completed retention rule
			bucket := JobStatusCompleted
			if job.Status == JobStatusFailed {
				bucket = JobStatusFailed
			}
			byStatus[bucket] = append(byStatus[bucket], job)
		}
	}

	now := time.Now()
	pruned := 0
	for status, jobs := range byStatus {
		rule := policy.rule(status)

		// Newest first by terminal timestamp
		sort.Slice(jobs, func(i, j int) bool {
			return terminalAt(jobs[i]).After(terminalAt(jobs[j]))
		})

		for i, job := range jobs {
			if i < rule.Count {
				continue
			}
			if now.Sub(terminalAt(job)) <= rule.Age {
				continue
			}
			delete(ms.jobs[queueName], job.ID)
			pruned++
		}
	}

	return pruned, nil
}

// Helper methods

// activeJob returns the job if it exists and is active.
// Callers must hold the write lock.
func (ms *MemoryStorage) activeJob(queueName, id string) (*Job, error) {
	job, ok := ms.jobs[queueName][id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != JobStatusActive {
		return nil, ErrJobNotActive
	}
	return job, nil
}

func terminalAt(job *Job) time.Time {
	if job.CompletedAt != nil {
		return *job.CompletedAt
	}
	return job.CreatedAt
}

func containsStatus(statuses []JobStatus, s JobStatus) bool {
	for _, status := range statuses {
		if status == s {
			return true
		}
	}
	return false
}

func cloneJob(job *Job) *Job {
	jobCopy := *job
	if job.Warnings != nil {
		jobCopy.Warnings = append([]string(nil), job.Warnings...)
	}
	return &jobCopy
}

// lockExpirationManager runs in background to recover jobs from dead
// workers. Without it, jobs locked by a crashed worker would be stuck in
// active forever. Expired claims are reset to waiting with their attempt
// count preserved, which is what makes at-least-once delivery hold across
// worker crashes.
func (ms *MemoryStorage) lockExpirationManager() {
	for {
		select {
		case <-ms.lockTicker.C:
			ms.expireLocks()
		case <-ms.done:
			return
		}
	}
}

// expireLocks scans active jobs and releases expired claims.
func (ms *MemoryStorage) expireLocks() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	for _, byID := range ms.jobs {
		for _, job := range byID {
			if job.Status == JobStatusActive && job.LockedUntil != nil && job.LockedUntil.Before(now) {
				job.Status = JobStatusWaiting
				job.LockedUntil = nil
				job.LockedBy = nil
			}
		}
	}
}
