package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Enqueuer handles idempotent job creation.
type Enqueuer struct {
	repo            EnqueuerRepository
	defaultPriority Priority
	defaultAttempts int8
	defaultBackoff  Backoff
}

// NewEnqueuer creates a new Enqueuer.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrStorageNil
	}

	options := &enqueuerOptions{
		defaultPriority: PriorityDefault,
		defaultAttempts: 3,
		defaultBackoff:  DefaultBackoff(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:            repo,
		defaultPriority: options.defaultPriority,
		defaultAttempts: options.defaultAttempts,
		defaultBackoff:  options.defaultBackoff,
	}, nil
}

// Enqueue adds a job to the named queue. The caller-chosen id is an
// idempotency key: if a non-terminal job with the same (queue, id) already
// exists, no new job is created and the returned handle has Created=false.
// Re-enqueueing after a terminal outcome starts a fresh job.
func (e *Enqueuer) Enqueue(ctx context.Context, queueName, id string, payload any, opts ...EnqueueOption) (*JobHandle, error) {
	if queueName == "" {
		return nil, ErrQueueNameEmpty
	}
	if id == "" {
		return nil, ErrJobIDEmpty
	}
	if payload == nil {
		return nil, ErrPayloadNil
	}

	options := &enqueueOptions{
		priority:    e.defaultPriority,
		maxAttempts: e.defaultAttempts,
		backoff:     e.defaultBackoff,
	}

	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return nil, ErrInvalidPriority
	}

	job, err := e.buildJob(queueName, id, payload, options)
	if err != nil {
		return nil, err
	}

	stored, created, err := e.repo.UpsertJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %q in queue %q: %w", id, queueName, err)
	}

	return &JobHandle{ID: stored.ID, Queue: stored.Queue, Created: created}, nil
}

// buildJob constructs a Job from payload and options.
func (e *Enqueuer) buildJob(queueName, id string, payload any, options *enqueueOptions) (*Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	kind := options.kind
	if kind == "" {
		kind = qualifiedStructName(payload)
	}

	now := time.Now()
	scheduledAt := now
	status := JobStatusWaiting
	if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
		status = JobStatusDelayed
	}

	return &Job{
		ID:          id,
		Queue:       queueName,
		Kind:        kind,
		Payload:     payloadBytes,
		Status:      status,
		Priority:    options.priority,
		MaxAttempts: options.maxAttempts,
		Backoff:     options.backoff,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}, nil
}
