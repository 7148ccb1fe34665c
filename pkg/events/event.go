package events

import (
	"encoding/json"
	"time"
)

// EventKind identifies the delivery-webhook event type.
type EventKind string

const (
	KindDelivery      EventKind = "delivery"
	KindBounce        EventKind = "bounce"
	KindSpamComplaint EventKind = "spam-complaint"
	KindOpen          EventKind = "open"
	KindClick         EventKind = "click"
)

// Valid reports whether the kind is one the processor routes.
func (k EventKind) Valid() bool {
	switch k {
	case KindDelivery, KindBounce, KindSpamComplaint, KindOpen, KindClick:
		return true
	default:
		return false
	}
}

// Event is one received delivery-webhook event. The Processed flag is the
// idempotency guard: once true, reprocessing is a guaranteed no-op.
type Event struct {
	ID          string          `json:"id"`
	Kind        EventKind       `json:"kind"`
	Recipient   string          `json:"recipient"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Processed   bool            `json:"processed"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// BounceDetail is the kind-specific payload of a bounce event.
type BounceDetail struct {
	// Type distinguishes hard bounces (permanent, recipient suppressed)
	// from soft bounces (transient, expected in normal operation).
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

const (
	BounceTypeHard = "hard"
	BounceTypeSoft = "soft"
)
