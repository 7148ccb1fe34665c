package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/mediapipe/pkg/queue"
)

func TestBackoffNextDelay(t *testing.T) {
	t.Parallel()

	t.Run("exponential doubles per attempt", func(t *testing.T) {
		t.Parallel()

		b := queue.Backoff{
			Type:      queue.BackoffExponential,
			BaseDelay: 30 * time.Second,
			MaxDelay:  15 * time.Minute,
		}

		assert.Equal(t, 30*time.Second, b.NextDelay(1))
		assert.Equal(t, 60*time.Second, b.NextDelay(2))
		assert.Equal(t, 120*time.Second, b.NextDelay(3))
		assert.Equal(t, 240*time.Second, b.NextDelay(4))
	})

	t.Run("exponential caps at max delay", func(t *testing.T) {
		t.Parallel()

		b := queue.Backoff{
			Type:      queue.BackoffExponential,
			BaseDelay: 30 * time.Second,
			MaxDelay:  15 * time.Minute,
		}

		assert.Equal(t, 15*time.Minute, b.NextDelay(10))
		assert.Equal(t, 15*time.Minute, b.NextDelay(50))
	})

	t.Run("fixed ignores attempt number", func(t *testing.T) {
		t.Parallel()

		b := queue.Backoff{
			Type:      queue.BackoffFixed,
			BaseDelay: 5 * time.Second,
		}

		assert.Equal(t, 5*time.Second, b.NextDelay(1))
		assert.Equal(t, 5*time.Second, b.NextDelay(7))
	})

	t.Run("non-positive attempt yields no delay", func(t *testing.T) {
		t.Parallel()

		b := queue.DefaultBackoff()

		assert.Equal(t, time.Duration(0), b.NextDelay(0))
		assert.Equal(t, time.Duration(0), b.NextDelay(-1))
	})

	t.Run("zero values fall back to defaults", func(t *testing.T) {
		t.Parallel()

		var b queue.Backoff

		assert.Equal(t, 30*time.Second, b.NextDelay(1))
		assert.Equal(t, 15*time.Minute, b.NextDelay(20))
	})
}

func TestDefaultBackoff(t *testing.T) {
	t.Parallel()

	b := queue.DefaultBackoff()
	assert.Equal(t, queue.BackoffExponential, b.Type)
	assert.Equal(t, 30*time.Second, b.BaseDelay)
	assert.Equal(t, 15*time.Minute, b.MaxDelay)
}
