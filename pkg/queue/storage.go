package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueuerRepository defines the interface for job creation.
type EnqueuerRepository interface {
	// UpsertJob persists the job unless a non-terminal job with the same
	// (queue, id) already exists, in which case it returns the stored job
	// untouched. The bool reports whether a new job was created.
	UpsertJob(ctx context.Context, job *Job) (*Job, bool, error)
}

// WorkerRepository defines the interface for job execution bookkeeping.
type WorkerRepository interface {
	// ClaimJob atomically claims the next eligible job in the queue:
	// lowest priority value first, FIFO among ties, excluding delayed
	// jobs whose delay has not elapsed. Returns ErrNoJobToClaim when the
	// queue has nothing eligible.
	ClaimJob(ctx context.Context, workerID uuid.UUID, queue string, lockDuration time.Duration) (*Job, error)

	// CompleteJob marks an active job completed and records the handler result.
	CompleteJob(ctx context.Context, queue, id string, result Result) error

	// FailJob records a failed attempt. The job re-enters the delayed pool
	// with its backoff delay if attempts remain, otherwise it becomes
	// terminally failed. Returns the updated job.
	FailJob(ctx context.Context, queue, id, errMsg string) (*Job, error)

	// DiscardJob fails an active job terminally regardless of remaining
	// attempts. Used for non-retryable errors.
	DiscardJob(ctx context.Context, queue, id, errMsg string) error

	// ExtendLock extends the lock timeout for long-running jobs.
	ExtendLock(ctx context.Context, queue, id string, duration time.Duration) error
}

// InspectorRepository defines read access used by status aggregation.
type InspectorRepository interface {
	// GetJob returns the job or ErrJobNotFound.
	GetJob(ctx context.Context, queue, id string) (*Job, error)

	// ListJobs returns jobs in the queue filtered by status
	// (all statuses when none given), ordered by enqueue sequence.
	ListJobs(ctx context.Context, queue string, statuses ...JobStatus) ([]*Job, error)
}

// SweeperRepository defines the interface used by cross-queue cancellation.
type SweeperRepository interface {
	InspectorRepository

	// RemoveJob removes a non-active job. Returns false without error
	// when the job is missing, active, or already terminal — removal is
	// best-effort by design.
	RemoveJob(ctx context.Context, queue, id string) (bool, error)
}

// PrunerRepository defines the interface for retention pruning.
type PrunerRepository interface {
	// PruneJobs deletes terminal jobs that exceed both the count and age
	// thresholds of the policy. Returns the number of jobs deleted.
	PruneJobs(ctx context.Context, queue string, policy RetentionPolicy) (int, error)
}

// Storage combines every repository interface. Backends implement Storage;
// components depend only on the slice they need.
type Storage interface {
	EnqueuerRepository
	WorkerRepository
	SweeperRepository
	PrunerRepository
}
