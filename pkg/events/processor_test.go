package events_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mediapipe/pkg/events"
	"github.com/dmitrymomot/mediapipe/pkg/mailer"
)

// recordingMailer captures alert emails instead of sending them.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.SendEmailParams
}

func (m *recordingMailer) SendEmail(ctx context.Context, params mailer.SendEmailParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, params)
	return nil
}

func (m *recordingMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func insertEvent(t *testing.T, store events.EventStore, id string, kind events.EventKind, payload json.RawMessage) {
	t.Helper()
	require.NoError(t, store.InsertEvent(context.Background(), &events.Event{
		ID:        id,
		Kind:      kind,
		Recipient: "user@example.com",
		Payload:   payload,
	}))
}

func TestNewProcessor(t *testing.T) {
	t.Parallel()

	_, err := events.NewProcessor(nil)
	assert.ErrorIs(t, err, events.ErrEventStoreNil)
}

func TestProcessDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := events.NewMemoryEventStore()
	proc, err := events.NewProcessor(store)
	require.NoError(t, err)

	insertEvent(t, store, "evt-1", events.KindDelivery, nil)

	outcome, err := proc.Process(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, outcome.NoOp)
	require.Len(t, outcome.Actions, 1)
	assert.Contains(t, outcome.Actions[0], "delivery recorded")

	event, err := store.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, event.Processed)
	require.NotNil(t, event.ProcessedAt)
}

func TestProcessRedelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := events.NewMemoryEventStore()
	audit := events.NewMemoryAuditStore()
	proc, err := events.NewProcessor(store, events.WithAuditStore(audit))
	require.NoError(t, err)

	insertEvent(t, store, "evt-1", events.KindDelivery, nil)

	first, err := proc.Process(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, first.NoOp)

	firstEvent, err := store.GetEvent(ctx, "evt-1")
	require.NoError(t, err)

	// Redelivery changes nothing and reports a no-op
	second, err := proc.Process(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, second.NoOp)
	assert.Empty(t, second.Actions)

	secondEvent, err := store.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, firstEvent.ProcessedAt, secondEvent.ProcessedAt)

	// Both runs appear in the audit trail
	entries, err := audit.ListEntries(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, events.AuditResultSuccess, entries[0].Result)
	assert.Equal(t, events.AuditResultNoOp, entries[1].Result)
}

func TestProcessBounce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("hard bounce suppresses the recipient", func(t *testing.T) {
		t.Parallel()

		store := events.NewMemoryEventStore()
		proc, err := events.NewProcessor(store)
		require.NoError(t, err)

		insertEvent(t, store, "evt-1", events.KindBounce,
			json.RawMessage(`{"type":"hard","description":"mailbox does not exist"}`))

		outcome, err := proc.Process(ctx, "evt-1")
		require.NoError(t, err)
		require.Len(t, outcome.Actions, 1)
		assert.Contains(t, outcome.Actions[0], "recipient suppressed")
		assert.Empty(t, outcome.Warnings)
	})

	t.Run("soft bounce is a warning, not an error", func(t *testing.T) {
		t.Parallel()

		store := events.NewMemoryEventStore()
		proc, err := events.NewProcessor(store)
		require.NoError(t, err)

		insertEvent(t, store, "evt-1", events.KindBounce,
			json.RawMessage(`{"type":"soft","description":"mailbox full"}`))

		outcome, err := proc.Process(ctx, "evt-1")
		require.NoError(t, err)
		assert.Empty(t, outcome.Actions)
		require.Len(t, outcome.Warnings, 1)
		assert.Contains(t, outcome.Warnings[0], "soft bounce")

		event, err := store.GetEvent(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, event.Processed)
	})

	t.Run("unknown bounce type is a warning", func(t *testing.T) {
		t.Parallel()

		store := events.NewMemoryEventStore()
		proc, err := events.NewProcessor(store)
		require.NoError(t, err)

		insertEvent(t, store, "evt-1", events.KindBounce,
			json.RawMessage(`{"type":"weird"}`))

		outcome, err := proc.Process(ctx, "evt-1")
		require.NoError(t, err)
		require.Len(t, outcome.Warnings, 1)
		assert.Contains(t, outcome.Warnings[0], "unrecognized bounce type")
	})

	t.Run("malformed bounce payload fails before marking processed", func(t *testing.T) {
		t.Parallel()

		store := events.NewMemoryEventStore()
		proc, err := events.NewProcessor(store)
		require.NoError(t, err)

		insertEvent(t, store, "evt-1", events.KindBounce, json.RawMessage(`{broken`))

		_, err = proc.Process(ctx, "evt-1")
		require.ErrorIs(t, err, events.ErrMalformedPayload)

		event, err := store.GetEvent(ctx, "evt-1")
		require.NoError(t, err)
		assert.False(t, event.Processed)
	})
}

func TestProcessComplaint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := events.NewMemoryEventStore()
	proc, err := events.NewProcessor(store)
	require.NoError(t, err)

	insertEvent(t, store, "evt-1", events.KindSpamComplaint, nil)

	outcome, err := proc.Process(ctx, "evt-1")
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Actions)
	assert.Contains(t, outcome.Actions[0], "recipient suppressed")
}

func TestProcessValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := events.NewMemoryEventStore()
	proc, err := events.NewProcessor(store)
	require.NoError(t, err)

	_, err = proc.Process(ctx, "")
	assert.ErrorIs(t, err, events.ErrEventIDEmpty)

	_, err = proc.Process(ctx, "missing")
	assert.ErrorIs(t, err, events.ErrEventNotFound)

	insertEvent(t, store, "evt-1", events.EventKind("mystery"), nil)
	_, err = proc.Process(ctx, "evt-1")
	assert.ErrorIs(t, err, events.ErrUnknownKind)
}

func TestThresholdAlerting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("breach dispatches an alert email", func(t *testing.T) {
		t.Parallel()

		store := events.NewMemoryEventStore()
		alerter := &recordingMailer{}
		proc, err := events.NewProcessor(store,
			events.WithAlerter(alerter, "ops@example.com"),
			events.WithAlertThresholds(events.AlertThresholds{
				Window:        time.Hour,
				BounceRate:    0.05,
				ComplaintRate: 0.005,
				MinSample:     2,
			}),
		)
		require.NoError(t, err)

		insertEvent(t, store, "d-1", events.KindDelivery, nil)
		insertEvent(t, store, "b-1", events.KindBounce,
			json.RawMessage(`{"type":"hard"}`))

		// 1 bounce of 2 events is a 50% rate, far over the limit
		outcome, err := proc.Process(ctx, "b-1")
		require.NoError(t, err)
		require.Len(t, outcome.Alerts, 1)
		assert.Equal(t, events.KindBounce, outcome.Alerts[0].Kind)
		assert.InDelta(t, 0.5, outcome.Alerts[0].Rate, 0.001)

		require.Equal(t, 1, alerter.sentCount())
		assert.Equal(t, "ops@example.com", alerter.sent[0].SendTo)
		assert.Contains(t, alerter.sent[0].Subject, "threshold breached")

		var found bool
		for _, action := range outcome.Actions {
			if strings.HasPrefix(action, "alert dispatched") {
				found = true
			}
		}
		assert.True(t, found, "alert dispatch recorded as an action")
	})

	t.Run("small sample suppresses alerts", func(t *testing.T) {
		t.Parallel()

		store := events.NewMemoryEventStore()
		alerter := &recordingMailer{}
		proc, err := events.NewProcessor(store,
			events.WithAlerter(alerter, "ops@example.com"))
		require.NoError(t, err)

		insertEvent(t, store, "b-1", events.KindBounce,
			json.RawMessage(`{"type":"hard"}`))

		outcome, err := proc.Process(ctx, "b-1")
		require.NoError(t, err)
		assert.Empty(t, outcome.Alerts)
		assert.Equal(t, 0, alerter.sentCount())
	})

	t.Run("delivery events never trigger the check", func(t *testing.T) {
		t.Parallel()

		store := events.NewMemoryEventStore()
		alerter := &recordingMailer{}
		proc, err := events.NewProcessor(store,
			events.WithAlerter(alerter, "ops@example.com"),
			events.WithAlertThresholds(events.AlertThresholds{
				Window:     time.Hour,
				BounceRate: 0.0,
				MinSample:  1,
			}),
		)
		require.NoError(t, err)

		insertEvent(t, store, "d-1", events.KindDelivery, nil)

		outcome, err := proc.Process(ctx, "d-1")
		require.NoError(t, err)
		assert.Empty(t, outcome.Alerts)
		assert.Equal(t, 0, alerter.sentCount())
	})

	t.Run("events outside the window are ignored", func(t *testing.T) {
		t.Parallel()

		store := events.NewMemoryEventStore()
		alerter := &recordingMailer{}

		// Clock two hours ahead of the stored events puts them all outside
		// the hourly window
		future := time.Now().Add(2 * time.Hour)
		proc, err := events.NewProcessor(store,
			events.WithAlerter(alerter, "ops@example.com"),
			events.WithAlertThresholds(events.AlertThresholds{
				Window:     time.Hour,
				BounceRate: 0.05,
				MinSample:  1,
			}),
			events.WithClock(func() time.Time { return future }),
		)
		require.NoError(t, err)

		insertEvent(t, store, "b-1", events.KindBounce,
			json.RawMessage(`{"type":"hard"}`))

		outcome, err := proc.Process(ctx, "b-1")
		require.NoError(t, err)
		assert.Empty(t, outcome.Alerts)
	})
}
