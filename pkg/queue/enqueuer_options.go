package queue

import "time"

// EnqueuerOption is a functional option for configuring an Enqueuer.
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultPriority Priority
	defaultAttempts int8
	defaultBackoff  Backoff
}

// WithDefaultPriority sets the priority used when Enqueue receives none.
func WithDefaultPriority(priority Priority) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if priority.Valid() {
			o.defaultPriority = priority
		}
	}
}

// WithDefaultMaxAttempts sets the attempt budget used when Enqueue receives none.
func WithDefaultMaxAttempts(n int8) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if n > 0 && n <= 10 {
			o.defaultAttempts = n
		}
	}
}

// WithDefaultBackoff sets the backoff policy used when Enqueue receives none.
func WithDefaultBackoff(b Backoff) EnqueuerOption {
	return func(o *enqueuerOptions) {
		o.defaultBackoff = b
	}
}

// EnqueueOption is a functional option for the Enqueue method.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    Priority
	maxAttempts int8
	backoff     Backoff
	delay       time.Duration
	kind        string
}

// WithPriority sets the priority tier for the job.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithMaxAttempts sets the total attempt budget (1-10).
// Capped at 10 to prevent infinite retry loops on persistent failures.
func WithMaxAttempts(n int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 && n <= 10 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry delay policy for the job.
func WithBackoff(b Backoff) EnqueueOption {
	return func(o *enqueueOptions) {
		o.backoff = b
	}
}

// WithDelay holds the job out of the eligible pool for the given duration.
// Delay is a soft run-after hint, not a dependency edge: a delayed job may
// still complete before a nominally earlier one under load.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithKind sets a custom payload kind used to route the job to a handler.
// Defaults to the qualified struct name of the payload.
func WithKind(kind string) EnqueueOption {
	return func(o *enqueueOptions) {
		if kind != "" {
			o.kind = kind
		}
	}
}
