package primary

import (
	"context"
	"errors"
	"testing"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()

	_, err := m.Get(context.Background(), "users", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	m.Put("users", "u-1", types.Document{"name": types.String("Ada")})

	doc, err := m.Get(context.Background(), "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if doc["name"].Str() != "Ada" {
		t.Errorf("Expected name Ada, got %q", doc["name"].Str())
	}

	// Returned document is a copy; mutating it must not affect the store.
	doc["name"] = types.String("Eve")
	again, err := m.Get(context.Background(), "users", "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if again["name"].Str() != "Ada" {
		t.Errorf("Stored document mutated through returned copy: %q", again["name"].Str())
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	m.Put("users", "u-1", types.Document{"name": types.String("Ada")})
	m.Delete("users", "u-1")

	if _, err := m.Get(context.Background(), "users", "u-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent document is a no-op.
	m.Delete("users", "never")
	m.Delete("ghost_collection", "never")
}
