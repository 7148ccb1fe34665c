package queue

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations contains the schema for PostgresStorage, in goose format.
// Apply with pg.Migrate before first use.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// PostgresStorage implements all queue repository interfaces on a single
// jobs table. Claiming relies on FOR UPDATE SKIP LOCKED so concurrent
// workers never contend on the same row; expired locks make a job
// claimable again without a separate reaper.
type PostgresStorage struct {
	db *pgxpool.Pool
}

// NewPostgresStorage creates a Postgres-backed storage implementation.
func NewPostgresStorage(db *pgxpool.Pool) (*PostgresStorage, error) {
	if db == nil {
		return nil, ErrStorageNil
	}
	return &PostgresStorage{db: db}, nil
}

const jobColumns = `queue, id, kind, payload, status, priority, attempts_made, max_attempts,
	backoff_type, backoff_base_delay_ms, backoff_max_delay_ms, sequence,
	scheduled_at, locked_until, locked_by, completed_at, error, warnings, created_at`

// UpsertJob implements EnqueuerRepository. The insert overwrites terminal
// rows (fresh sequence, reset attempts) and leaves non-terminal rows
// untouched; the conflict-no-op case falls through to a read of the
// existing job.
func (ps *PostgresStorage) UpsertJob(ctx context.Context, job *Job) (*Job, bool, error) {
	if job == nil {
		return nil, false, errors.New("job cannot be nil")
	}

	now := time.Now()
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	scheduledAt := job.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = createdAt
	}
	status := job.Status
	if status == "" {
		status = JobStatusWaiting
	}

	rows, err := ps.db.Query(ctx, `
		INSERT INTO jobs (queue, id, kind, payload, status, priority, attempts_made, max_attempts,
			backoff_type, backoff_base_delay_ms, backoff_max_delay_ms, scheduled_at, warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, NULL, $12)
		ON CONFLICT (queue, id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			attempts_made = 0,
			max_attempts = EXCLUDED.max_attempts,
			backoff_type = EXCLUDED.backoff_type,
			backoff_base_delay_ms = EXCLUDED.backoff_base_delay_ms,
			backoff_max_delay_ms = EXCLUDED.backoff_max_delay_ms,
			sequence = nextval(pg_get_serial_sequence('jobs', 'sequence')),
			scheduled_at = EXCLUDED.scheduled_at,
			locked_until = NULL,
			locked_by = NULL,
			completed_at = NULL,
			error = NULL,
			warnings = NULL,
			created_at = EXCLUDED.created_at
		WHERE jobs.status IN ('completed', 'failed', 'removed')
		RETURNING `+jobColumns+`, (xmax = 0) AS inserted`,
		job.Queue, job.ID, job.Kind, job.Payload, status, job.Priority, job.MaxAttempts,
		string(job.Backoff.Type), job.Backoff.BaseDelay.Milliseconds(), job.Backoff.MaxDelay.Milliseconds(),
		scheduledAt, createdAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert job %q in queue %q: %w", job.ID, job.Queue, err)
	}
	defer rows.Close()

	if rows.Next() {
		stored, inserted, err := scanJobWithInserted(rows)
		if err != nil {
			return nil, false, err
		}
		return stored, inserted, nil
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to upsert job %q in queue %q: %w", job.ID, job.Queue, err)
	}

	// Conflict with a non-terminal job: return it unchanged
	existing, err := ps.GetJob(ctx, job.Queue, job.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ClaimJob implements WorkerRepository. Claiming counts the attempt, so
// attempts_made covers the execution regardless of how it ends.
func (ps *PostgresStorage) ClaimJob(ctx context.Context, workerID uuid.UUID, queueName string, lockDuration time.Duration) (*Job, error) {
	rows, err := ps.db.Query(ctx, `
		WITH candidate AS (
			SELECT queue, id FROM jobs
			WHERE queue = $1
			  AND (
				status = 'waiting'
				OR (status = 'delayed' AND scheduled_at <= now())
				OR (status = 'active' AND locked_until < now())
			  )
			ORDER BY priority, sequence
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j SET
			status = 'active',
			attempts_made = j.attempts_made + 1,
			locked_until = now() + $2::interval,
			locked_by = $3
		FROM candidate c
		WHERE j.queue = c.queue AND j.id = c.id
		RETURNING `+prefixedJobColumns("j")+``,
		queueName, lockDuration, workerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job in queue %q: %w", queueName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to claim job in queue %q: %w", queueName, err)
		}
		return nil, ErrNoJobToClaim
	}

	return scanJob(rows)
}

// CompleteJob implements WorkerRepository.
func (ps *PostgresStorage) CompleteJob(ctx context.Context, queueName, id string, result Result) error {
	tag, err := ps.db.Exec(ctx, `
		UPDATE jobs SET
			status = 'completed',
			completed_at = now(),
			warnings = $3,
			locked_until = NULL,
			locked_by = NULL
		WHERE queue = $1 AND id = $2 AND status = 'active'`,
		queueName, id, result.Warnings,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job %q in queue %q: %w", id, queueName, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotActive
	}
	return nil
}

// FailJob implements WorkerRepository. The terminal check and backoff
// reschedule happen in one statement; attempts_made was already counted
// when the job was claimed.
func (ps *PostgresStorage) FailJob(ctx context.Context, queueName, id, errMsg string) (*Job, error) {
	rows, err := ps.db.Query(ctx, `
		UPDATE jobs SET
			error = $3,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN attempts_made >= max_attempts THEN 'failed' ELSE 'delayed' END,
			completed_at = CASE WHEN attempts_made >= max_attempts THEN now() ELSE NULL END,
			scheduled_at = CASE
				WHEN attempts_made >= max_attempts THEN scheduled_at
				WHEN backoff_type = 'fixed' THEN now() + make_interval(secs => backoff_base_delay_ms / 1000.0)
				ELSE now() + make_interval(secs => LEAST(
					backoff_base_delay_ms * POWER(2, attempts_made - 1),
					COALESCE(NULLIF(backoff_max_delay_ms, 0), 900000)
				) / 1000.0)
			END
		WHERE queue = $1 AND id = $2 AND status = 'active'
		RETURNING `+jobColumns+``,
		queueName, id, errMsg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fail job %q in queue %q: %w", id, queueName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to fail job %q in queue %q: %w", id, queueName, err)
		}
		return nil, ErrJobNotActive
	}

	return scanJob(rows)
}

// DiscardJob implements WorkerRepository.
func (ps *PostgresStorage) DiscardJob(ctx context.Context, queueName, id, errMsg string) error {
	tag, err := ps.db.Exec(ctx, `
		UPDATE jobs SET
			error = $3,
			status = 'failed',
			completed_at = now(),
			locked_until = NULL,
			locked_by = NULL
		WHERE queue = $1 AND id = $2 AND status = 'active'`,
		queueName, id, errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to discard job %q in queue %q: %w", id, queueName, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotActive
	}
	return nil
}

// ExtendLock implements WorkerRepository.
func (ps *PostgresStorage) ExtendLock(ctx context.Context, queueName, id string, duration time.Duration) error {
	tag, err := ps.db.Exec(ctx, `
		UPDATE jobs SET locked_until = now() + $3::interval
		WHERE queue = $1 AND id = $2 AND status = 'active'`,
		queueName, id, duration,
	)
	if err != nil {
		return fmt.Errorf("failed to extend lock on job %q in queue %q: %w", id, queueName, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotActive
	}
	return nil
}

// GetJob implements InspectorRepository.
func (ps *PostgresStorage) GetJob(ctx context.Context, queueName, id string) (*Job, error) {
	rows, err := ps.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE queue = $1 AND id = $2`,
		queueName, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job %q from queue %q: %w", id, queueName, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to fetch job %q from queue %q: %w", id, queueName, err)
		}
		return nil, ErrJobNotFound
	}

	return scanJob(rows)
}

// ListJobs implements InspectorRepository.
func (ps *PostgresStorage) ListJobs(ctx context.Context, queueName string, statuses ...JobStatus) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE queue = $1`
	args := []any{queueName}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, s := range statuses {
			strs[i] = string(s)
		}
		query += ` AND status = ANY($2)`
		args = append(args, strs)
	}
	query += ` ORDER BY sequence`

	rows, err := ps.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs in queue %q: %w", queueName, err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs in queue %q: %w", queueName, err)
	}

	return jobs, nil
}

// RemoveJob implements SweeperRepository.
func (ps *PostgresStorage) RemoveJob(ctx context.Context, queueName, id string) (bool, error) {
	tag, err := ps.db.Exec(ctx, `
		UPDATE jobs SET
			status = 'removed',
			completed_at = now(),
			locked_until = NULL,
			locked_by = NULL
		WHERE queue = $1 AND id = $2 AND status IN ('waiting', 'delayed')`,
		queueName, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove job %q from queue %q: %w", id, queueName, err)
	}
	return tag.RowsAffected() > 0, nil
}

// PruneJobs implements PrunerRepository. Completed and removed jobs share
// one keep rule, failed jobs another; a job goes only when it is outside
// the newest Count and older than Age.
func (ps *PostgresStorage) PruneJobs(ctx context.Context, queueName string, policy RetentionPolicy) (int, error) {
	pruned := 0
	for _, group := range []struct {
		statuses []string
		rule     KeepRule
	}{
		{statuses: []string{"completed", "removed"}, rule: policy.Completed},
		{statuses: []string{"failed"}, rule: policy.Failed},
	} {
		tag, err := ps.db.Exec(ctx, `
			DELETE FROM jobs WHERE (queue, id) IN (
				SELECT queue, id FROM (
					SELECT queue, id, completed_at,
						row_number() OVER (ORDER BY completed_at DESC) AS rn
					FROM jobs
					WHERE queue = $1 AND status = ANY($2)
				) ranked
				WHERE rn > $3 AND completed_at < now() - $4::interval
			)`,
			queueName, group.statuses, group.rule.Count, group.rule.Age,
		)
		if err != nil {
			return pruned, fmt.Errorf("failed to prune queue %q: %w", queueName, err)
		}
		pruned += int(tag.RowsAffected())
	}

	return pruned, nil
}

// Helpers

func prefixedJobColumns(alias string) string {
	return alias + ".queue, " + alias + ".id, " + alias + ".kind, " + alias + ".payload, " +
		alias + ".status, " + alias + ".priority, " + alias + ".attempts_made, " + alias + ".max_attempts, " +
		alias + ".backoff_type, " + alias + ".backoff_base_delay_ms, " + alias + ".backoff_max_delay_ms, " +
		alias + ".sequence, " + alias + ".scheduled_at, " + alias + ".locked_until, " + alias + ".locked_by, " +
		alias + ".completed_at, " + alias + ".error, " + alias + ".warnings, " + alias + ".created_at"
}

func scanJob(row pgx.Rows) (*Job, error) {
	job := &Job{}
	var (
		status      string
		backoffType string
		baseDelayMs int64
		maxDelayMs  int64
	)
	if err := row.Scan(
		&job.Queue, &job.ID, &job.Kind, &job.Payload, &status, &job.Priority,
		&job.AttemptsMade, &job.MaxAttempts, &backoffType, &baseDelayMs, &maxDelayMs,
		&job.Sequence, &job.ScheduledAt, &job.LockedUntil, &job.LockedBy,
		&job.CompletedAt, &job.Error, &job.Warnings, &job.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}

	job.Status = JobStatus(status)
	job.Backoff = Backoff{
		Type:      BackoffType(backoffType),
		BaseDelay: time.Duration(baseDelayMs) * time.Millisecond,
		MaxDelay:  time.Duration(maxDelayMs) * time.Millisecond,
	}

	return job, nil
}

func scanJobWithInserted(row pgx.Rows) (*Job, bool, error) {
	job := &Job{}
	var (
		status      string
		backoffType string
		baseDelayMs int64
		maxDelayMs  int64
		inserted    bool
	)
	if err := row.Scan(
		&job.Queue, &job.ID, &job.Kind, &job.Payload, &status, &job.Priority,
		&job.AttemptsMade, &job.MaxAttempts, &backoffType, &baseDelayMs, &maxDelayMs,
		&job.Sequence, &job.ScheduledAt, &job.LockedUntil, &job.LockedBy,
		&job.CompletedAt, &job.Error, &job.Warnings, &job.CreatedAt, &inserted,
	); err != nil {
		return nil, false, fmt.Errorf("failed to scan job row: %w", err)
	}

	job.Status = JobStatus(status)
	job.Backoff = Backoff{
		Type:      BackoffType(backoffType),
		BaseDelay: time.Duration(baseDelayMs) * time.Millisecond,
		MaxDelay:  time.Duration(maxDelayMs) * time.Millisecond,
	}

	return job, inserted, nil
}
