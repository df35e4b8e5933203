// Package tracker persists per-(collection, key) synchronization state
// for the dual-write pipeline. All writes are idempotent upserts; when
// concurrent orchestrations race on the same key, a monotonic sequence
// number attached to each transition decides the winner instead of
// wall-clock time.
package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when no sync state exists for a key.
var ErrNotFound = fmt.Errorf("sync state not found")

// timeFormat is fixed-width so lexicographic comparison in SQL matches
// chronological order. RFC3339Nano trims trailing fractional zeros and
// breaks sub-second ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Tracker owns all sync-state and failure-record persistence.
type Tracker struct {
	db  *sql.DB
	seq atomic.Int64
}

// New creates a Tracker over a pool returned by secondary.Open.
// The sequence counter resumes above the highest persisted value so
// restarts never reuse sequence numbers.
func New(db *sql.DB) (*Tracker, error) {
	t := &Tracker{db: db}

	var maxSeq sql.NullInt64
	if err := db.QueryRow("SELECT MAX(seq) FROM sync_states").Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("load sequence: %w", err)
	}
	if maxSeq.Valid {
		t.seq.Store(maxSeq.Int64)
	}
	return t, nil
}

const upsertStateSQL = `
	INSERT INTO sync_states (collection, doc_id, status, last_error, last_synced_at, vacuous, seq, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(collection, doc_id) DO UPDATE SET
		status = excluded.status,
		last_error = excluded.last_error,
		last_synced_at = excluded.last_synced_at,
		vacuous = excluded.vacuous,
		seq = excluded.seq,
		updated_at = excluded.updated_at
	WHERE excluded.seq > sync_states.seq`

func (t *Tracker) transition(ctx context.Context, collection, key string, status types.SyncStatus, lastErr sql.NullString, syncedAt sql.NullString, vacuous bool) error {
	seq := t.seq.Add(1)
	now := time.Now().UTC().Format(timeFormat)
	_, err := t.db.ExecContext(ctx, upsertStateSQL,
		collection, key, string(status), lastErr, syncedAt, vacuous, seq, now)
	if err != nil {
		return fmt.Errorf("mark %s %s:%s: %w", status, collection, key, err)
	}
	return nil
}

// MarkPending records that a mutation for the key has been accepted.
func (t *Tracker) MarkPending(ctx context.Context, collection, key string) error {
	return t.transition(ctx, collection, key, types.StatusPending, sql.NullString{}, sql.NullString{}, false)
}

// MarkSynced records a confirmed secondary-store commit.
func (t *Tracker) MarkSynced(ctx context.Context, collection, key string, at time.Time) error {
	syncedAt := sql.NullString{String: at.UTC().Format(timeFormat), Valid: true}
	return t.transition(ctx, collection, key, types.StatusSynced, sql.NullString{}, syncedAt, false)
}

// MarkSyncedVacuous records a successful no-op for a collection that is
// intentionally not mirrored.
func (t *Tracker) MarkSyncedVacuous(ctx context.Context, collection, key string, at time.Time) error {
	syncedAt := sql.NullString{String: at.UTC().Format(timeFormat), Valid: true}
	return t.transition(ctx, collection, key, types.StatusSynced, sql.NullString{}, syncedAt, true)
}

// MarkFailed records an exhausted or non-retryable failure.
func (t *Tracker) MarkFailed(ctx context.Context, collection, key string, syncErr error) error {
	lastErr := sql.NullString{String: syncErr.Error(), Valid: true}
	return t.transition(ctx, collection, key, types.StatusFailed, lastErr, sql.NullString{}, false)
}

// IncrementRetry bumps the retry counter for a key. Retry counts are
// cumulative across attempt cycles and deliberately outside the
// last-writer-wins guard.
func (t *Tracker) IncrementRetry(ctx context.Context, collection, key string) error {
	res, err := t.db.ExecContext(ctx,
		"UPDATE sync_states SET retry_count = retry_count + 1 WHERE collection = ? AND doc_id = ?",
		collection, key)
	if err != nil {
		return fmt.Errorf("increment retry %s:%s: %w", collection, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// No state row yet; create one so the attempt is still accounted.
		if err := t.MarkPending(ctx, collection, key); err != nil {
			return err
		}
		_, err = t.db.ExecContext(ctx,
			"UPDATE sync_states SET retry_count = retry_count + 1 WHERE collection = ? AND doc_id = ?",
			collection, key)
		if err != nil {
			return fmt.Errorf("increment retry %s:%s: %w", collection, key, err)
		}
	}
	return nil
}

// GetStatus returns the sync state for one key.
func (t *Tracker) GetStatus(ctx context.Context, collection, key string) (*types.SyncState, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT collection, doc_id, status, last_error, last_synced_at, retry_count, vacuous, updated_at
		FROM sync_states
		WHERE collection = ? AND doc_id = ?
	`, collection, key)

	st, err := scanState(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan sync state: %w", err)
	}
	return st, nil
}

// ListFailed returns up to limit keys currently in FAILED state, oldest
// transitions first. Used by the scheduled replay worker.
func (t *Tracker) ListFailed(ctx context.Context, limit int) ([]types.SyncState, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT collection, doc_id, status, last_error, last_synced_at, retry_count, vacuous, updated_at
		FROM sync_states
		WHERE status = ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, string(types.StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("query failed states: %w", err)
	}
	defer rows.Close()

	var states []types.SyncState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

// AppendFailure appends one record to the failure log. Records are never
// mutated after creation.
func (t *Tracker) AppendFailure(ctx context.Context, rec types.FailureRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO sync_failures (id, collection, doc_id, operation, error, attempt_number, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Collection, rec.Key, string(rec.Operation), rec.Error, rec.AttemptNumber,
		rec.OccurredAt.UTC().Format(timeFormat))
	if err != nil {
		return "", fmt.Errorf("append failure record: %w", err)
	}
	return rec.ID, nil
}

// ListFailures returns up to limit failure records occurring at or after
// since, newest first. A zero since returns the most recent records.
func (t *Tracker) ListFailures(ctx context.Context, limit int, since time.Time) ([]types.FailureRecord, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, collection, doc_id, operation, error, attempt_number, occurred_at
		FROM sync_failures
		WHERE occurred_at >= ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, since.UTC().Format(timeFormat), limit)
	if err != nil {
		return nil, fmt.Errorf("query failure records: %w", err)
	}
	defer rows.Close()

	records := make([]types.FailureRecord, 0)
	for rows.Next() {
		var rec types.FailureRecord
		var op, occurredAt string
		if err := rows.Scan(&rec.ID, &rec.Collection, &rec.Key, &op, &rec.Error, &rec.AttemptNumber, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan failure record: %w", err)
		}
		rec.Operation = types.Operation(op)
		if ts, err := time.Parse(time.RFC3339Nano, occurredAt); err == nil {
			rec.OccurredAt = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneFailures deletes failure records older than the retention cutoff.
// Returns the number of records removed.
func (t *Tracker) PruneFailures(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx,
		"DELETE FROM sync_failures WHERE occurred_at < ?",
		olderThan.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("prune failure records: %w", err)
	}
	return res.RowsAffected()
}

// Metrics returns the aggregate sync counters.
func (t *Tracker) Metrics(ctx context.Context) (*types.Metrics, error) {
	m := &types.Metrics{}

	rows, err := t.db.QueryContext(ctx, `
		SELECT status, vacuous, COUNT(*), COALESCE(SUM(retry_count), 0)
		FROM sync_states
		GROUP BY status, vacuous
	`)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var vacuous bool
		var count, retries int64
		if err := rows.Scan(&status, &vacuous, &count, &retries); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		m.TotalRetries += retries
		switch types.SyncStatus(status) {
		case types.StatusPending:
			m.TotalPending += count
		case types.StatusSynced:
			m.TotalSynced += count
			if vacuous {
				m.TotalVacuous += count
			}
		case types.StatusFailed:
			m.TotalFailed += count
		}
	}
	return m, rows.Err()
}

func scanState(scanner interface{ Scan(...any) error }) (*types.SyncState, error) {
	var st types.SyncState
	var status string
	var lastErr, syncedAt sql.NullString
	var updatedAt string

	err := scanner.Scan(&st.Collection, &st.Key, &status, &lastErr, &syncedAt, &st.RetryCount, &st.Vacuous, &updatedAt)
	if err != nil {
		return nil, err
	}

	st.Status = types.SyncStatus(status)
	if lastErr.Valid {
		st.LastError = lastErr.String
	}
	if syncedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, syncedAt.String); err == nil {
			st.LastSyncedAt = &ts
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		st.UpdatedAt = ts
	}
	return &st, nil
}
