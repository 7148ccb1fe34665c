// Package queue provides a storage-agnostic, priority-ordered job queue
// with idempotent enqueueing, bounded-concurrency workers, retry with
// backoff, and retention pruning of terminal jobs.
//
// The package is organised around three main components:
//
//   - Enqueuer — adds jobs under caller-chosen idempotency keys
//   - Worker   — claims eligible jobs from one queue and dispatches them
//     to user supplied Handlers
//   - Pruner   — deletes terminal jobs per queue retention policies
//
// Components interact only through a set of small repository interfaces,
// keeping the business logic decoupled from persistence. Memory, Redis,
// and Postgres backends are included; any other storage engine works by
// implementing the same interfaces.
//
// # Delivery semantics
//
// Jobs are delivered at least once. A worker crash mid-execution releases
// the claim lock after it expires and the job is retried, so handlers must
// tolerate re-execution. Within a queue, eligible jobs are claimed lowest
// priority value first and FIFO among ties; there is no ordering across
// queues.
//
// The job ID is an idempotency key: enqueueing an ID that already has a
// non-terminal job in the same queue is a no-op returning the existing
// handle. This deduplicates racing enqueue calls but does not guarantee
// at-most-one concurrent execution of the same logical work across
// queues — handlers must tolerate that rare case too.
//
// # Usage
//
//	storage := queue.NewMemoryStorage()
//	defer storage.Close()
//
//	enq, _ := queue.NewEnqueuer(storage)
//
//	type ResizePayload struct {
//	    AssetID string `json:"asset_id"`
//	}
//
//	handle, err := enq.Enqueue(ctx, "thumbnail", "thumbnail-"+assetID,
//	    ResizePayload{AssetID: assetID},
//	    queue.WithPriority(queue.PriorityHigh),
//	    queue.WithMaxAttempts(3),
//	    queue.WithBackoff(queue.Backoff{Type: queue.BackoffExponential, BaseDelay: 30 * time.Second}),
//	)
//
//	w, _ := queue.NewWorker(storage, "thumbnail", queue.WithConcurrency(5))
//	_ = w.RegisterHandler(queue.NewJobHandler(func(ctx context.Context, p ResizePayload) (queue.Result, error) {
//	    // at-least-once: must be safe to re-execute
//	    return queue.Result{}, nil
//	}))
//	_ = w.Start(ctx)
//
// # Error handling
//
// A handler error is transient by default and triggers queue-level retry
// with the job's backoff policy until MaxAttempts is exhausted. Wrap an
// error with SkipRetry to fail the job terminally on the current attempt;
// use it for validation and business failures a retry cannot fix.
// Package-level sentinel errors (ErrJobNotFound, ErrNoHandlers, ...) can
// be checked with errors.Is.
package queue
