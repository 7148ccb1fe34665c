package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrymomot/mediapipe/pkg/queue"
)

// ProcessEventKind is the job kind event-processing jobs carry.
const ProcessEventKind = "events.process"

// ProcessEventPayload is the job payload: just the event ID. The event
// body lives in the EventStore; the queue only transports the reference.
type ProcessEventPayload struct {
	EventID string `json:"event_id"`
}

type eventHandler struct {
	processor *Processor
}

// NewEventHandler adapts the Processor to queue.Handler so event
// processing runs on the same worker contract as pipeline stages.
// Duplicate queue delivery collapses into the processed-flag no-op.
func NewEventHandler(processor *Processor) queue.Handler {
	return &eventHandler{processor: processor}
}

// Kind implements queue.Handler.
func (h *eventHandler) Kind() string {
	return ProcessEventKind
}

// Handle implements queue.Handler.
func (h *eventHandler) Handle(ctx context.Context, raw json.RawMessage) (queue.Result, error) {
	var payload ProcessEventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return queue.Result{}, queue.SkipRetry(fmt.Errorf("malformed event payload: %w", err))
	}
	if payload.EventID == "" {
		return queue.Result{}, queue.SkipRetry(ErrEventIDEmpty)
	}

	outcome, err := h.processor.Process(ctx, payload.EventID)
	if err != nil {
		// Classification failures cannot be fixed by retrying. Anything
		// else (store outage, missing event racing its insert) stays
		// retryable with backoff.
		if errors.Is(err, ErrUnknownKind) || errors.Is(err, ErrMalformedPayload) {
			return queue.Result{}, queue.SkipRetry(err)
		}
		return queue.Result{}, err
	}

	output, err := json.Marshal(outcome)
	if err != nil {
		return queue.Result{}, fmt.Errorf("failed to encode outcome for event %q: %w", payload.EventID, err)
	}

	result := queue.Result{Output: output, Warnings: outcome.Warnings}
	if outcome.NoOp {
		result.Logs = []string{"event already processed, no-op"}
	}

	return result, nil
}
