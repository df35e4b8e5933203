package secondary

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		conflict  bool
	}{
		{"nil", nil, false, false},
		{"context canceled", context.Canceled, true, false},
		{"deadline exceeded", context.DeadlineExceeded, true, false},
		{"bad connection", driver.ErrBadConn, true, false},
		{"wrapped bad connection", fmt.Errorf("exec: %w", driver.ErrBadConn), true, false},
		{"unknown defaults transient", errors.New("disk on fire"), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("classify(nil) = %v", got)
				}
				return
			}
			if IsTransient(got) != tt.transient {
				t.Errorf("IsTransient = %v, want %v", IsTransient(got), tt.transient)
			}
			if IsConflict(got) != tt.conflict {
				t.Errorf("IsConflict = %v, want %v", IsConflict(got), tt.conflict)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error must wrap the original")
			}
		})
	}
}

func TestClassify_AlreadyClassifiedPassthrough(t *testing.T) {
	orig := &SchemaConflictError{Err: errors.New("bad column")}
	if got := classify(orig); got != orig {
		t.Errorf("Expected passthrough, got %v", got)
	}

	tr := &TransientError{Err: errors.New("locked")}
	if got := classify(fmt.Errorf("retry 2: %w", tr)); !IsTransient(got) || IsConflict(got) {
		t.Errorf("Wrapped transient must stay transient, got %v", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")

	var te error = &TransientError{Err: inner}
	if !errors.Is(te, inner) {
		t.Error("TransientError must unwrap to the cause")
	}

	var ce error = &SchemaConflictError{Err: inner}
	if !errors.Is(ce, inner) {
		t.Error("SchemaConflictError must unwrap to the cause")
	}
}
