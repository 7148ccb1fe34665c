package queue

import (
	"math"
	"time"
)

// BackoffType selects the delay strategy applied between retry attempts.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff is the per-job retry delay configuration. It travels with the
// job so every storage backend applies the same policy.
type Backoff struct {
	Type      BackoffType   `json:"type"`
	BaseDelay time.Duration `json:"base_delay"`
	// MaxDelay caps exponential growth. Zero means the default cap.
	MaxDelay time.Duration `json:"max_delay,omitempty"`
}

// DefaultBackoff returns the policy used when a job carries none:
// exponential starting at 30 seconds, capped at 15 minutes.
func DefaultBackoff() Backoff {
	return Backoff{
		Type:      BackoffExponential,
		BaseDelay: 30 * time.Second,
		MaxDelay:  15 * time.Minute,
	}
}

// NextDelay returns the delay before the given retry attempt runs.
// Attempt starts at 1 for the first retry.
//
// Exponential: BaseDelay * 2^(attempt-1), capped at MaxDelay.
// Fixed: BaseDelay regardless of attempt.
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := b.BaseDelay
	if base <= 0 {
		base = 30 * time.Second
	}

	if b.Type == BackoffFixed {
		return base
	}

	max := b.MaxDelay
	if max <= 0 {
		max = 15 * time.Minute
	}

	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}

	return time.Duration(delay)
}
