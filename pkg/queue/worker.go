package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mediapipe/pkg/logger"
)

// Worker processes jobs from exactly one queue with bounded concurrency.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queue    string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	// Configuration
	pullInterval time.Duration
	lockTimeout  time.Duration
	logger       *slog.Logger

	// State management
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a worker bound to the named queue.
func NewWorker(repo WorkerRepository, queueName string, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrStorageNil
	}
	if queueName == "" {
		return nil, ErrQueueNameEmpty
	}

	// Default options
	options := &workerOptions{
		pullInterval: time.Second,
		lockTimeout:  5 * time.Minute,
		concurrency:  5,
		logger:       slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		queue:        queueName,
		workerID:     uuid.New(),
		sem:          make(chan struct{}, options.concurrency),
		pullInterval: options.pullInterval,
		lockTimeout:  options.lockTimeout,
		logger:       options.logger,
	}, nil
}

// RegisterHandler registers a single job handler.
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[handler.Kind()] = handler
	return nil
}

// RegisterHandlers registers multiple job handlers.
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start begins processing jobs in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	// Reset stopping flag
	w.stopping.Store(false)

	// Start the main processing loop
	go w.run()

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID.String()),
		logger.Queue(w.queue),
		slog.Int("concurrency", cap(w.sem)))

	return nil
}

// Stop gracefully shuts down the worker. Active jobs run to completion.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	// Use stopMu to synchronize with run() goroutine
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	// Cancel context to stop claiming
	cancel()

	w.logger.Info("worker stopping, waiting for active jobs to complete",
		slog.String("worker_id", w.workerID.String()),
		logger.Queue(w.queue))

	w.wg.Wait()

	w.logger.Info("worker stopped",
		slog.String("worker_id", w.workerID.String()),
		logger.Queue(w.queue))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// run is the main processing loop. The loop itself never blocks on handler
// execution; it only waits on the poll ticker and the concurrency semaphore.
func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			// Drain eligible jobs up to the concurrency limit on each tick
			for {
				select {
				case w.sem <- struct{}{}:
					// Use stopMu to ensure we don't add to WaitGroup after Stop() starts
					w.stopMu.Lock()
					if w.stopping.Load() {
						w.stopMu.Unlock()
						<-w.sem // Release slot
						return
					}

					w.wg.Add(1)
					w.stopMu.Unlock()

					claimed, err := w.pullAndProcess()
					if err != nil && !errors.Is(err, ErrHandlerNotFound) {
						w.logger.Error("failed to process job",
							slog.String("worker_id", w.workerID.String()),
							logger.Queue(w.queue),
							logger.Error(err))
					}
					if !claimed {
						break
					}
					continue
				default:
					// All slots busy, wait for the next tick
					w.logger.Debug("all worker slots busy, skipping tick",
						slog.String("worker_id", w.workerID.String()),
						logger.Queue(w.queue))
				}
				break
			}
		}
	}
}

// pullAndProcess claims one job and dispatches it to a background
// goroutine. Returns whether a job was claimed so the loop knows to keep
// draining.
func (w *Worker) pullAndProcess() (bool, error) {
	release := func() {
		<-w.sem
		w.wg.Done()
	}

	job, err := w.repo.ClaimJob(w.ctx, w.workerID, w.queue, w.lockTimeout)
	if err != nil {
		release()
		// An empty queue is normal, not an error
		if errors.Is(err, ErrNoJobToClaim) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		release()
		return false, nil
	}

	w.logger.Debug("claimed job",
		slog.String("worker_id", w.workerID.String()),
		logger.JobID(job.ID),
		slog.String("kind", job.Kind),
		logger.Queue(job.Queue),
		logger.Attempt(int(job.AttemptsMade)))

	go func() {
		defer release()

		if err := w.processJob(job); err != nil && !errors.Is(err, ErrHandlerNotFound) {
			w.logger.Error("failed to process job",
				slog.String("worker_id", w.workerID.String()),
				logger.JobID(job.ID),
				logger.Error(err))
		}
	}()

	return true, nil
}

// processJob executes a job with its handler.
func (w *Worker) processJob(job *Job) (retErr error) {
	start := time.Now()

	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				slog.String("worker_id", w.workerID.String()),
				logger.JobID(job.ID),
				slog.String("kind", job.Kind),
				slog.Any("panic", r))
			// Treat panic as job failure
			duration := time.Since(start)
			_ = w.handleJobFailure(job, retErr, duration)
		}
	}()

	// Find handler
	w.mu.RLock()
	handler, ok := w.handlers[job.Kind]
	w.mu.RUnlock()

	if !ok {
		return w.handleMissingHandler(job)
	}

	// Create context with timeout that's not tied to worker lifecycle.
	// This allows graceful shutdown to let jobs complete.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	// Execute handler
	result, err := handler.Handle(ctx, job.Payload)
	duration := time.Since(start)

	if err != nil {
		return w.handleJobFailure(job, err, duration)
	}

	return w.handleJobSuccess(job, result, duration)
}

// handleMissingHandler discards jobs that have no registered handler.
// Retries cannot help without a handler, so the job fails terminally and
// stays inspectable until retention prunes it.
func (w *Worker) handleMissingHandler(job *Job) error {
	w.logger.Error("no handler registered for job kind",
		slog.String("worker_id", w.workerID.String()),
		logger.JobID(job.ID),
		slog.String("kind", job.Kind))

	errMsg := "no handler registered for job kind: " + job.Kind
	if err := w.repo.DiscardJob(w.ctx, job.Queue, job.ID, errMsg); err != nil {
		return fmt.Errorf("failed to discard job %s: %w", job.ID, err)
	}

	return ErrHandlerNotFound
}

// handleJobFailure processes failed job execution.
//
// Retry decision logic:
//  1. Errors wrapped with SkipRetry fail the job terminally on the spot —
//     validation and business failures don't consume backoff delay.
//  2. Everything else is treated as transient: FailJob records the error
//     and either reschedules with backoff or marks the job terminally
//     failed once the attempts counted at claim time are exhausted.
func (w *Worker) handleJobFailure(job *Job, execErr error, duration time.Duration) error {
	w.logger.Error("job failed",
		slog.String("worker_id", w.workerID.String()),
		logger.JobID(job.ID),
		slog.String("kind", job.Kind),
		logger.Attempt(int(job.AttemptsMade)),
		slog.Int("max_attempts", int(job.MaxAttempts)),
		logger.Duration(duration),
		logger.Error(execErr))

	if errors.Is(execErr, ErrSkipRetry) {
		if err := w.repo.DiscardJob(w.ctx, job.Queue, job.ID, execErr.Error()); err != nil {
			return fmt.Errorf("failed to discard job %s: %w", job.ID, err)
		}
		return nil
	}

	updated, err := w.repo.FailJob(w.ctx, job.Queue, job.ID, execErr.Error())
	if err != nil {
		return fmt.Errorf("failed to update job %s status to failed: %w", job.ID, err)
	}

	if updated != nil && updated.Status == JobStatusFailed {
		w.logger.Warn("job failed terminally, attempts exhausted",
			slog.String("worker_id", w.workerID.String()),
			logger.JobID(job.ID),
			slog.String("kind", job.Kind),
			logger.Attempt(int(updated.AttemptsMade)))
	}

	return nil
}

// handleJobSuccess processes successful job completion.
func (w *Worker) handleJobSuccess(job *Job, result Result, duration time.Duration) error {
	if err := w.repo.CompleteJob(w.ctx, job.Queue, job.ID, result); err != nil {
		return fmt.Errorf("failed to mark job %s as completed: %w", job.ID, err)
	}

	w.logger.Info("job completed",
		slog.String("worker_id", w.workerID.String()),
		logger.JobID(job.ID),
		slog.String("kind", job.Kind),
		logger.Queue(job.Queue),
		slog.Int("warnings", len(result.Warnings)),
		logger.Duration(duration))

	return nil
}

// ExtendLockForJob extends the lock timeout for a long-running job.
// This should be called periodically for jobs that take longer than lockTimeout.
func (w *Worker) ExtendLockForJob(ctx context.Context, jobID string, extension time.Duration) error {
	return w.repo.ExtendLock(ctx, w.queue, jobID, extension)
}

// Queue returns the queue this worker is bound to.
func (w *Worker) Queue() string {
	return w.queue
}
