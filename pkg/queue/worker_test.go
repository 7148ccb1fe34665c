package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mediapipe/pkg/queue"
)

type thumbnailPayload struct {
	AssetID string `json:"asset_id"`
}

func TestNewWorker(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })

	t.Run("nil storage", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewWorker(nil, "media")
		assert.ErrorIs(t, err, queue.ErrStorageNil)
	})

	t.Run("empty queue name", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewWorker(storage, "")
		assert.ErrorIs(t, err, queue.ErrQueueNameEmpty)
	})

	t.Run("start requires handlers", func(t *testing.T) {
		t.Parallel()

		w, err := queue.NewWorker(storage, "media")
		require.NoError(t, err)
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrNoHandlers)
	})
}

func TestWorkerProcessesJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	var handled atomic.Int32
	w, err := queue.NewWorker(storage, "media",
		queue.WithPullInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandler(queue.NewJobHandler(
		func(ctx context.Context, p thumbnailPayload) (queue.Result, error) {
			handled.Add(1)
			return queue.Result{Warnings: []string{"low resolution source"}}, nil
		})))

	_, err = enq.Enqueue(ctx, "media", "job-1", thumbnailPayload{AssetID: "asset-1"})
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		job, err := storage.GetJob(ctx, "media", "job-1")
		return err == nil && job.Status == queue.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 1, handled.Load())

	job, err := storage.GetJob(ctx, "media", "job-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"low resolution source"}, job.Warnings)
}

func TestWorkerRetriesUntilExhausted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	var attempts atomic.Int32
	w, err := queue.NewWorker(storage, "media",
		queue.WithPullInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandler(queue.NewJobHandler(
		func(ctx context.Context, p thumbnailPayload) (queue.Result, error) {
			attempts.Add(1)
			return queue.Result{}, errors.New("transient failure")
		})))

	_, err = enq.Enqueue(ctx, "media", "job-1", thumbnailPayload{AssetID: "asset-1"},
		queue.WithMaxAttempts(3),
		queue.WithBackoff(queue.Backoff{Type: queue.BackoffFixed, BaseDelay: time.Millisecond}),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		job, err := storage.GetJob(ctx, "media", "job-1")
		return err == nil && job.Status == queue.JobStatusFailed
	}, 10*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 3, attempts.Load())

	job, err := storage.GetJob(ctx, "media", "job-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, job.AttemptsMade)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "transient failure")
}

func TestWorkerSucceedsAfterRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	var attempts atomic.Int32
	w, err := queue.NewWorker(storage, "media",
		queue.WithPullInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandler(queue.NewJobHandler(
		func(ctx context.Context, p thumbnailPayload) (queue.Result, error) {
			if attempts.Add(1) < 3 {
				return queue.Result{}, errors.New("transient failure")
			}
			return queue.Result{}, nil
		})))

	_, err = enq.Enqueue(ctx, "media", "job-1", thumbnailPayload{AssetID: "asset-1"},
		queue.WithMaxAttempts(5),
		queue.WithBackoff(queue.Backoff{Type: queue.BackoffFixed, BaseDelay: time.Millisecond}),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		job, err := storage.GetJob(ctx, "media", "job-1")
		return err == nil && job.Status == queue.JobStatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 3, attempts.Load())

	// The successful run counts like the failed ones
	job, err := storage.GetJob(ctx, "media", "job-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, job.AttemptsMade)
}

func TestWorkerSkipRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	var attempts atomic.Int32
	w, err := queue.NewWorker(storage, "media",
		queue.WithPullInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandler(queue.NewJobHandler(
		func(ctx context.Context, p thumbnailPayload) (queue.Result, error) {
			attempts.Add(1)
			return queue.Result{}, queue.SkipRetry(errors.New("malformed source"))
		})))

	_, err = enq.Enqueue(ctx, "media", "job-1", thumbnailPayload{AssetID: "asset-1"},
		queue.WithMaxAttempts(5),
		queue.WithBackoff(queue.Backoff{Type: queue.BackoffFixed, BaseDelay: time.Millisecond}),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		job, err := storage.GetJob(ctx, "media", "job-1")
		return err == nil && job.Status == queue.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	// Non-retryable failure consumes exactly one attempt
	assert.EqualValues(t, 1, attempts.Load())

	job, err := storage.GetJob(ctx, "media", "job-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, job.AttemptsMade)
}

func TestWorkerMissingHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	w, err := queue.NewWorker(storage, "media",
		queue.WithPullInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandler(queue.NewJobHandlerWithKind("media.other",
		func(ctx context.Context, p thumbnailPayload) (queue.Result, error) {
			return queue.Result{}, nil
		})))

	_, err = enq.Enqueue(ctx, "media", "job-1", thumbnailPayload{AssetID: "asset-1"},
		queue.WithKind("media.unknown"))
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		job, err := storage.GetJob(ctx, "media", "job-1")
		return err == nil && job.Status == queue.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	job, err := storage.GetJob(ctx, "media", "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "no handler registered")
}

func TestWorkerPanicRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	w, err := queue.NewWorker(storage, "media",
		queue.WithPullInterval(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandler(queue.NewJobHandler(
		func(ctx context.Context, p thumbnailPayload) (queue.Result, error) {
			panic("handler bug")
		})))

	_, err = enq.Enqueue(ctx, "media", "job-1", thumbnailPayload{AssetID: "asset-1"},
		queue.WithMaxAttempts(1))
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.Eventually(t, func() bool {
		job, err := storage.GetJob(ctx, "media", "job-1")
		return err == nil && job.Status == queue.JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	job, err := storage.GetJob(ctx, "media", "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.Error)
	assert.Contains(t, *job.Error, "panic")
}

func TestWorkerLifecycle(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })

	w, err := queue.NewWorker(storage, "media")
	require.NoError(t, err)
	require.NoError(t, w.RegisterHandler(queue.NewJobHandler(
		func(ctx context.Context, p thumbnailPayload) (queue.Result, error) {
			return queue.Result{}, nil
		})))

	assert.Equal(t, "media", w.Queue())

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	assert.Error(t, w.Stop())
}
