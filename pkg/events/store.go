package events

import (
	"context"
	"time"
)

// EventStore persists received events and their processed flags.
type EventStore interface {
	// GetEvent returns the event or ErrEventNotFound.
	GetEvent(ctx context.Context, id string) (*Event, error)

	// InsertEvent stores a newly received event with Processed=false.
	// Inserting an already-stored ID returns ErrEventExists; webhook
	// receivers treat that as a duplicate delivery and drop it.
	InsertEvent(ctx context.Context, event *Event) error

	// MarkProcessed flips the processed flag. Idempotent.
	MarkProcessed(ctx context.Context, id string, at time.Time) error

	// CountByKindSince counts events of one kind received at or after the
	// cutoff. Feeds the rolling-window alert aggregates.
	CountByKindSince(ctx context.Context, kind EventKind, since time.Time) (int64, error)
}
