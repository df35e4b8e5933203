package tracker

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Real-Dev-Squad/todo-sync/internal/secondary"
	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

func newTestTracker(t *testing.T) (*Tracker, *sql.DB) {
	t.Helper()
	db, err := secondary.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	trk, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	return trk, db
}

func TestTransitions(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	if err := trk.MarkPending(ctx, "users", "u-1"); err != nil {
		t.Fatal(err)
	}
	st, err := trk.GetStatus(ctx, "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.StatusPending {
		t.Errorf("Expected PENDING, got %s", st.Status)
	}

	at := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	if err := trk.MarkSynced(ctx, "users", "u-1", at); err != nil {
		t.Fatal(err)
	}
	st, err = trk.GetStatus(ctx, "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.StatusSynced {
		t.Errorf("Expected SYNCED, got %s", st.Status)
	}
	if st.LastSyncedAt == nil || !st.LastSyncedAt.Equal(at) {
		t.Errorf("Expected last_synced_at %v, got %v", at, st.LastSyncedAt)
	}
	if st.LastError != "" {
		t.Errorf("Expected cleared last_error, got %q", st.LastError)
	}

	if err := trk.MarkFailed(ctx, "users", "u-1", errors.New("secondary down")); err != nil {
		t.Fatal(err)
	}
	st, err = trk.GetStatus(ctx, "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.StatusFailed {
		t.Errorf("Expected FAILED, got %s", st.Status)
	}
	if st.LastError != "secondary down" {
		t.Errorf("Expected last_error recorded, got %q", st.LastError)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	trk, _ := newTestTracker(t)

	_, err := trk.GetStatus(context.Background(), "users", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestMarkSyncedVacuous(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	if err := trk.MarkSyncedVacuous(ctx, "audit_logs", "a-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	st, err := trk.GetStatus(ctx, "audit_logs", "a-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.StatusSynced {
		t.Errorf("Expected SYNCED, got %s", st.Status)
	}
	if !st.Vacuous {
		t.Error("Expected vacuous flag set")
	}
}

func TestStaleTransitionLoses(t *testing.T) {
	trk, db := newTestTracker(t)
	ctx := context.Background()

	if err := trk.MarkPending(ctx, "users", "u-1"); err != nil {
		t.Fatal(err)
	}
	if err := trk.MarkSynced(ctx, "users", "u-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	// Force a stale sequence number onto a competing write: a transition
	// carrying a lower seq than the stored row must be ignored.
	_, err := db.Exec(`
		INSERT INTO sync_states (collection, doc_id, status, seq, updated_at)
		VALUES ('users', 'u-1', 'FAILED', 0, '2026-01-01T00:00:00Z')
		ON CONFLICT(collection, doc_id) DO UPDATE SET
			status = excluded.status, seq = excluded.seq
		WHERE excluded.seq > sync_states.seq`)
	if err != nil {
		t.Fatal(err)
	}

	st, err := trk.GetStatus(ctx, "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.StatusSynced {
		t.Errorf("Stale transition must lose; expected SYNCED, got %s", st.Status)
	}
}

func TestSequenceResumesAfterRestart(t *testing.T) {
	trk, db := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := trk.MarkPending(ctx, "users", "u-1"); err != nil {
			t.Fatal(err)
		}
	}

	// A tracker built over the same pool simulates a process restart.
	trk2, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := trk2.MarkSynced(ctx, "users", "u-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	st, err := trk2.GetStatus(ctx, "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != types.StatusSynced {
		t.Errorf("Post-restart transition must win; got %s", st.Status)
	}
}

func TestIncrementRetry(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	if err := trk.MarkPending(ctx, "users", "u-1"); err != nil {
		t.Fatal(err)
	}
	if err := trk.IncrementRetry(ctx, "users", "u-1"); err != nil {
		t.Fatal(err)
	}
	if err := trk.IncrementRetry(ctx, "users", "u-1"); err != nil {
		t.Fatal(err)
	}

	st, err := trk.GetStatus(ctx, "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.RetryCount != 2 {
		t.Errorf("Expected retry_count 2, got %d", st.RetryCount)
	}

	// Retry count survives later transitions.
	if err := trk.MarkSynced(ctx, "users", "u-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	st, err = trk.GetStatus(ctx, "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.RetryCount != 2 {
		t.Errorf("Expected retry_count preserved at 2, got %d", st.RetryCount)
	}
}

func TestIncrementRetry_CreatesMissingRow(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	if err := trk.IncrementRetry(ctx, "users", "ghost"); err != nil {
		t.Fatal(err)
	}
	st, err := trk.GetStatus(ctx, "users", "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if st.RetryCount != 1 {
		t.Errorf("Expected retry_count 1, got %d", st.RetryCount)
	}
}

func TestListFailed(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	if err := trk.MarkFailed(ctx, "users", "u-1", errors.New("x")); err != nil {
		t.Fatal(err)
	}
	if err := trk.MarkFailed(ctx, "tasks", "t-1", errors.New("y")); err != nil {
		t.Fatal(err)
	}
	if err := trk.MarkSynced(ctx, "users", "u-2", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	states, err := trk.ListFailed(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 2 {
		t.Fatalf("Expected 2 failed states, got %d", len(states))
	}
	for _, st := range states {
		if st.Status != types.StatusFailed {
			t.Errorf("Expected FAILED, got %s", st.Status)
		}
	}

	states, err = trk.ListFailed(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 {
		t.Errorf("Expected limit respected, got %d", len(states))
	}
}

func TestFailureLog(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	id, err := trk.AppendFailure(ctx, types.FailureRecord{
		Collection:    "users",
		Key:           "u-1",
		Operation:     types.OpUpdate,
		Error:         "secondary down",
		AttemptNumber: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("Expected generated record ID")
	}

	records, err := trk.ListFailures(ctx, 10, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != id {
		t.Errorf("Expected ID %s, got %s", id, rec.ID)
	}
	if rec.AttemptNumber != 3 {
		t.Errorf("Expected attempt_number 3, got %d", rec.AttemptNumber)
	}
	if rec.Operation != types.OpUpdate {
		t.Errorf("Expected UPDATE, got %s", rec.Operation)
	}
}

func TestListFailures_SinceFilter(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if _, err := trk.AppendFailure(ctx, types.FailureRecord{
		Collection: "users", Key: "u-old", Operation: types.OpCreate, Error: "x", OccurredAt: old,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := trk.AppendFailure(ctx, types.FailureRecord{
		Collection: "users", Key: "u-new", Operation: types.OpCreate, Error: "y", OccurredAt: recent,
	}); err != nil {
		t.Fatal(err)
	}

	records, err := trk.ListFailures(ctx, 10, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Key != "u-new" {
		t.Errorf("Expected only the recent record, got %v", records)
	}
}

func TestFailureOrdering_SubSecond(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	// A whole-second timestamp and one half a second later. Trailing-zero
	// trimming would make the later record sort lexicographically first.
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	half := base.Add(500 * time.Millisecond)

	if _, err := trk.AppendFailure(ctx, types.FailureRecord{
		Collection: "users", Key: "u-whole", Operation: types.OpCreate, Error: "x", OccurredAt: base,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := trk.AppendFailure(ctx, types.FailureRecord{
		Collection: "users", Key: "u-half", Operation: types.OpCreate, Error: "y", OccurredAt: half,
	}); err != nil {
		t.Fatal(err)
	}

	records, err := trk.ListFailures(ctx, 10, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Key != "u-half" || records[1].Key != "u-whole" {
		t.Errorf("Expected newest-first [u-half u-whole], got %v", records)
	}

	// A since cutoff between the two must keep only the later record.
	records, err = trk.ListFailures(ctx, 10, base.Add(250*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Key != "u-half" {
		t.Errorf("Expected only u-half past the cutoff, got %v", records)
	}

	// Pruning below the cutoff must remove only the earlier record.
	pruned, err := trk.PruneFailures(ctx, base.Add(250*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 pruned record, got %d", pruned)
	}
}

func TestPruneFailures(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Now().UTC()

	if _, err := trk.AppendFailure(ctx, types.FailureRecord{
		Collection: "users", Key: "u-old", Operation: types.OpCreate, Error: "x", OccurredAt: old,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := trk.AppendFailure(ctx, types.FailureRecord{
		Collection: "users", Key: "u-new", Operation: types.OpCreate, Error: "y", OccurredAt: recent,
	}); err != nil {
		t.Fatal(err)
	}

	pruned, err := trk.PruneFailures(ctx, recent.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Errorf("Expected 1 pruned record, got %d", pruned)
	}

	records, err := trk.ListFailures(ctx, 10, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Key != "u-new" {
		t.Errorf("Expected only the recent record to survive, got %v", records)
	}
}

func TestMetrics(t *testing.T) {
	trk, _ := newTestTracker(t)
	ctx := context.Background()

	if err := trk.MarkPending(ctx, "users", "u-1"); err != nil {
		t.Fatal(err)
	}
	if err := trk.MarkSynced(ctx, "users", "u-2", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if err := trk.MarkSyncedVacuous(ctx, "audit_logs", "a-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if err := trk.MarkFailed(ctx, "tasks", "t-1", errors.New("x")); err != nil {
		t.Fatal(err)
	}
	if err := trk.IncrementRetry(ctx, "tasks", "t-1"); err != nil {
		t.Fatal(err)
	}

	m, err := trk.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.TotalPending != 1 {
		t.Errorf("Expected 1 pending, got %d", m.TotalPending)
	}
	if m.TotalSynced != 2 {
		t.Errorf("Expected 2 synced (vacuous included), got %d", m.TotalSynced)
	}
	if m.TotalVacuous != 1 {
		t.Errorf("Expected 1 vacuous, got %d", m.TotalVacuous)
	}
	if m.TotalFailed != 1 {
		t.Errorf("Expected 1 failed, got %d", m.TotalFailed)
	}
	if m.TotalRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", m.TotalRetries)
	}
}
