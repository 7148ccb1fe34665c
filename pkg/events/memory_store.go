package events

import (
	"context"
	"sync"
	"time"
)

// MemoryEventStore implements EventStore for testing and local development.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*Event
}

// NewMemoryEventStore creates a new in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]*Event)}
}

// GetEvent implements EventStore.
func (ms *MemoryEventStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	event, ok := ms.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}

	return cloneEvent(event), nil
}

// InsertEvent implements EventStore.
func (ms *MemoryEventStore) InsertEvent(ctx context.Context, event *Event) error {
	if event == nil || event.ID == "" {
		return ErrEventIDEmpty
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.events[event.ID]; exists {
		return ErrEventExists
	}

	eventCopy := cloneEvent(event)
	if eventCopy.ReceivedAt.IsZero() {
		eventCopy.ReceivedAt = time.Now()
	}
	eventCopy.Processed = false
	eventCopy.ProcessedAt = nil
	ms.events[event.ID] = eventCopy

	return nil
}

// MarkProcessed implements EventStore.
func (ms *MemoryEventStore) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	event, ok := ms.events[id]
	if !ok {
		return ErrEventNotFound
	}

	if !event.Processed {
		event.Processed = true
		processedAt := at
		event.ProcessedAt = &processedAt
	}

	return nil
}

// CountByKindSince implements EventStore.
func (ms *MemoryEventStore) CountByKindSince(ctx context.Context, kind EventKind, since time.Time) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var count int64
	for _, event := range ms.events {
		if event.Kind == kind && !event.ReceivedAt.Before(since) {
			count++
		}
	}

	return count, nil
}

func cloneEvent(event *Event) *Event {
	eventCopy := *event
	if event.ProcessedAt != nil {
		processedAt := *event.ProcessedAt
		eventCopy.ProcessedAt = &processedAt
	}
	if event.Payload != nil {
		eventCopy.Payload = append([]byte(nil), event.Payload...)
	}
	return &eventCopy
}
