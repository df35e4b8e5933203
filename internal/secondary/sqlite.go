package secondary

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
	_ "modernc.org/sqlite"
)

// Open opens the secondary store database, applies pragmas, and runs
// migrations. The returned pool is shared by the adapter and the tracker.
func Open(dbPath string) (*sql.DB, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to :memory: opens a distinct database, so the pool
	// must stay at a single connection for in-memory stores.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Adapter executes mapped records against the secondary store.
type Adapter interface {
	Apply(ctx context.Context, rec types.MappedRecord, op types.Operation) error
}

// SQLiteAdapter applies mapped records to the SQLite mirror store.
// Each Apply runs in a single transaction: the primary row and every
// auxiliary row commit together or not at all.
type SQLiteAdapter struct {
	db *sql.DB
}

// NewAdapter creates an adapter over a pool returned by Open.
func NewAdapter(db *sql.DB) *SQLiteAdapter {
	return &SQLiteAdapter{db: db}
}

// Apply executes one mapped record. Create and Update are both upserts
// keyed by the external-reference column, so replaying a request is
// idempotent and an Update arriving before its Create still lands.
// Delete of an absent row is a no-op success.
func (a *SQLiteAdapter) Apply(ctx context.Context, rec types.MappedRecord, op types.Operation) error {
	key, ok := rec.Columns[rec.RefColumn].(string)
	if !ok || key == "" {
		return &SchemaConflictError{Err: fmt.Errorf("record for table %s has no %s column", rec.Table, rec.RefColumn)}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback()

	switch op {
	case types.OpCreate, types.OpUpdate:
		err = upsert(ctx, tx, rec, key)
	case types.OpDelete:
		err = remove(ctx, tx, rec, key)
	default:
		return &SchemaConflictError{Err: fmt.Errorf("unknown operation %q", op)}
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func upsert(ctx context.Context, tx *sql.Tx, rec types.MappedRecord, key string) error {
	cols := make([]string, 0, len(rec.Columns))
	for c := range rec.Columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	var updates []string
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = rec.Columns[c]
		if c != rec.RefColumn {
			updates = append(updates, c+" = excluded."+c)
		}
	}

	// Table and column names come from the registered mapping, never from
	// request payloads.
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		rec.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if len(updates) > 0 {
		query += fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", rec.RefColumn, strings.Join(updates, ", "))
	} else {
		query += fmt.Sprintf(" ON CONFLICT(%s) DO NOTHING", rec.RefColumn)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Errorf("upsert %s:%s: %w", rec.Table, key, err))
	}

	// Auxiliary rows are replaced wholesale: stale junction/child rows for
	// this key are cleared even when the new payload carries none.
	for _, aux := range rec.Auxiliary {
		if err := replaceAuxiliary(ctx, tx, aux, key); err != nil {
			return err
		}
	}
	return nil
}

func replaceAuxiliary(ctx context.Context, tx *sql.Tx, aux types.AuxiliaryRows, key string) error {
	del := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", aux.Table, aux.ParentRef)
	if _, err := tx.ExecContext(ctx, del, key); err != nil {
		return classify(fmt.Errorf("clear %s for %s: %w", aux.Table, key, err))
	}

	for _, row := range aux.Rows {
		cols := make([]string, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		sort.Strings(cols)

		placeholders := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			placeholders[i] = "?"
			args[i] = row[c]
		}

		ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			aux.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
		if _, err := tx.ExecContext(ctx, ins, args...); err != nil {
			return classify(fmt.Errorf("insert into %s for %s: %w", aux.Table, key, err))
		}
	}
	return nil
}

func remove(ctx context.Context, tx *sql.Tx, rec types.MappedRecord, key string) error {
	// Cascade to auxiliary rows first, then the primary row.
	for _, aux := range rec.Auxiliary {
		del := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", aux.Table, aux.ParentRef)
		if _, err := tx.ExecContext(ctx, del, key); err != nil {
			return classify(fmt.Errorf("cascade delete %s for %s: %w", aux.Table, key, err))
		}
	}

	del := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", rec.Table, rec.RefColumn)
	if _, err := tx.ExecContext(ctx, del, key); err != nil {
		return classify(fmt.Errorf("delete %s:%s: %w", rec.Table, key, err))
	}
	return nil
}
