package events

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/mediapipe/pkg/pg"
)

// Migrations contains the schema for PostgresEventStore, in goose format.
// Apply with pg.Migrate before first use.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// PostgresEventStore implements EventStore on a single events table.
type PostgresEventStore struct {
	db *pgxpool.Pool
}

// NewPostgresEventStore creates a Postgres-backed event store.
func NewPostgresEventStore(db *pgxpool.Pool) (*PostgresEventStore, error) {
	if db == nil {
		return nil, ErrEventStoreNil
	}
	return &PostgresEventStore{db: db}, nil
}

const eventColumns = `id, kind, recipient, payload, processed, processed_at, received_at`

// GetEvent implements EventStore.
func (ps *PostgresEventStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := ps.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)

	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event %q: %w", id, err)
	}

	return event, nil
}

// InsertEvent implements EventStore.
func (ps *PostgresEventStore) InsertEvent(ctx context.Context, event *Event) error {
	if event == nil || event.ID == "" {
		return ErrEventIDEmpty
	}

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	_, err := ps.db.Exec(ctx, `
		INSERT INTO events (id, kind, recipient, payload, processed, received_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)`,
		event.ID, string(event.Kind), event.Recipient, event.Payload, receivedAt,
	)
	if err != nil {
		// Webhook providers redeliver; a duplicate ID is the dedup working
		if pg.IsDuplicateKeyError(err) {
			return ErrEventExists
		}
		return fmt.Errorf("failed to insert event %q: %w", event.ID, err)
	}

	return nil
}

// MarkProcessed implements EventStore. The WHERE clause makes it idempotent:
// an already-processed event keeps its original timestamp.
func (ps *PostgresEventStore) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	tag, err := ps.db.Exec(ctx, `
		UPDATE events SET processed = TRUE, processed_at = $2
		WHERE id = $1 AND processed = FALSE`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event %q processed: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		// Either already processed or missing; distinguish for the caller
		if _, err := ps.GetEvent(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// CountByKindSince implements EventStore.
func (ps *PostgresEventStore) CountByKindSince(ctx context.Context, kind EventKind, since time.Time) (int64, error) {
	var count int64
	err := ps.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM events WHERE kind = $1 AND received_at >= $2`,
		string(kind), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %q events: %w", kind, err)
	}

	return count, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var (
		event Event
		kind  string
	)
	if err := row.Scan(
		&event.ID, &kind, &event.Recipient, &event.Payload,
		&event.Processed, &event.ProcessedAt, &event.ReceivedAt,
	); err != nil {
		return nil, err
	}
	event.Kind = EventKind(kind)
	return &event, nil
}
