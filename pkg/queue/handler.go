package queue

import (
	"context"
	"encoding/json"
)

type (
	// Handler executes jobs of one payload kind. Handlers run under
	// at-least-once delivery and must be safe to re-execute: prefer
	// upsert-style side effects or an explicit idempotency check over
	// assuming single execution.
	Handler interface {
		Kind() string
		Handle(ctx context.Context, payload json.RawMessage) (Result, error)
	}

	JobHandlerFunc[T any] func(ctx context.Context, payload T) (Result, error)
)

// NewJobHandler wraps a typed function into a Handler. The kind defaults
// to the qualified struct name of T, matching what Enqueue derives from
// the payload.
func NewJobHandler[T any](handler JobHandlerFunc[T]) Handler {
	var payload T
	return &jobHandler[T]{
		kind:    qualifiedStructName(payload),
		handler: handler,
	}
}

// NewJobHandlerWithKind wraps a typed function into a Handler under an
// explicit kind, for payloads enqueued with WithKind.
func NewJobHandlerWithKind[T any](kind string, handler JobHandlerFunc[T]) Handler {
	return &jobHandler[T]{
		kind:    kind,
		handler: handler,
	}
}

type jobHandler[T any] struct {
	kind    string
	handler JobHandlerFunc[T]
}

func (h *jobHandler[T]) Kind() string {
	return h.kind
}

func (h *jobHandler[T]) Handle(ctx context.Context, payload json.RawMessage) (Result, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return Result{}, SkipRetry(err)
	}
	return h.handler(ctx, t)
}
