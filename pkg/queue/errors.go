package queue

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrStorageNil is returned when a nil storage/repository is provided
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrQueueNameEmpty is returned when a queue name is missing
	ErrQueueNameEmpty = errors.New("queue name cannot be empty")

	// ErrJobIDEmpty is returned when a job ID is missing
	ErrJobIDEmpty = errors.New("job ID cannot be empty")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 1 and 99")

	// ErrNoJobToClaim is returned by storage when no eligible job exists.
	// Workers treat it as an idle tick, not a failure.
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrJobNotFound is returned when a job does not exist in the queue
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotActive is returned when a state transition requires an
	// active job (complete, fail, extend lock) but the job is not active
	ErrJobNotActive = errors.New("job is not active")

	// ErrHandlerNotFound is returned when no handler is registered for a job kind
	ErrHandlerNotFound = errors.New("no handler registered for job kind")

	// ErrNoHandlers is returned when worker has no handlers registered
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrSkipRetry marks a handler error as non-retryable. The worker
	// discards the job immediately instead of consuming backoff attempts.
	ErrSkipRetry = errors.New("job failed permanently")
)

// SkipRetry wraps err so the worker fails the job terminally on the
// current attempt. Use for validation and business failures where a
// retry cannot change the outcome.
func SkipRetry(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSkipRetry, err)
}
