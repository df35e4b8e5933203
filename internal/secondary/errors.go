package secondary

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	sqlite "modernc.org/sqlite"
)

// TransientError wraps a retryable, environment-caused failure
// (connection loss, lock contention, timeout).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// SchemaConflictError wraps a non-retryable data/schema mismatch that
// needs operator attention.
type SchemaConflictError struct {
	Err error
}

func (e *SchemaConflictError) Error() string { return "schema conflict: " + e.Err.Error() }
func (e *SchemaConflictError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsConflict reports whether err is (or wraps) a SchemaConflictError.
func IsConflict(err error) bool {
	var ce *SchemaConflictError
	return errors.As(err, &ce)
}

// SQLite primary result codes. Only the ones classification cares about.
const (
	sqliteError      = 1  // SQL error or missing table/column
	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteNoMem      = 7
	sqliteIOErr      = 10
	sqliteCorrupt    = 11
	sqliteFull       = 13
	sqliteCantOpen   = 14
	sqliteProtocol   = 15
	sqliteConstraint = 19
	sqliteMismatch   = 20
)

// classify wraps a raw store error into the taxonomy. Constraint and
// schema errors are conflicts; everything environmental is transient.
// Unknown errors default to transient: the retry budget bounds the cost
// of a wrong guess, while a wrong "conflict" would strand the key.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) || IsConflict(err) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Err: err}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return &TransientError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqliteConstraint, sqliteMismatch, sqliteError, sqliteCorrupt:
			return &SchemaConflictError{Err: err}
		case sqliteBusy, sqliteLocked, sqliteNoMem, sqliteIOErr, sqliteFull, sqliteCantOpen, sqliteProtocol:
			return &TransientError{Err: err}
		}
	}

	return &TransientError{Err: err}
}
