package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditResult represents the outcome of an audited action
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultNoOp    AuditResult = "no-op"
)

// AuditEntry represents a single audit log entry. One entry is appended per
// processed event, including redeliveries (recorded as no-ops).
type AuditEntry struct {
	ID        string      `json:"id"`
	EventID   string      `json:"event_id"`
	Kind      EventKind   `json:"kind"`
	Result    AuditResult `json:"result"`
	Actions   []string    `json:"actions,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// AuditStore persists the processing audit trail.
type AuditStore interface {
	// AppendEntry stores one entry. Assigns ID and CreatedAt when unset.
	AppendEntry(ctx context.Context, entry *AuditEntry) error

	// ListEntries returns entries for one event, oldest first.
	ListEntries(ctx context.Context, eventID string) ([]AuditEntry, error)
}

// MemoryAuditStore implements AuditStore for testing and local development.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

// NewMemoryAuditStore creates a new in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// AppendEntry implements AuditStore.
func (ms *MemoryAuditStore) AppendEntry(ctx context.Context, entry *AuditEntry) error {
	if entry == nil || entry.EventID == "" {
		return ErrEventIDEmpty
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	entryCopy := *entry
	if entryCopy.ID == "" {
		entryCopy.ID = uuid.NewString()
	}
	if entryCopy.CreatedAt.IsZero() {
		entryCopy.CreatedAt = time.Now()
	}
	entryCopy.Actions = append([]string(nil), entry.Actions...)
	entryCopy.Warnings = append([]string(nil), entry.Warnings...)
	ms.entries = append(ms.entries, entryCopy)

	return nil
}

// ListEntries implements AuditStore.
func (ms *MemoryAuditStore) ListEntries(ctx context.Context, eventID string) ([]AuditEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var entries []AuditEntry
	for _, entry := range ms.entries {
		if entry.EventID == eventID {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}
