// Package primary abstracts the authoritative document store. The sync
// core only ever reads from it: manual replay re-derives the mutation
// payload from the primary store instead of trusting cached request
// state, because the primary is the single source of truth.
package primary

import (
	"context"
	"errors"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

// ErrNotFound is returned when a document does not exist in the primary
// store. For replay this means the mirror must converge to absence.
var ErrNotFound = errors.New("document not found")

// DocumentStore is the capability the sync core needs from the primary
// store. Implementations are selected at construction time.
type DocumentStore interface {
	// Get returns the current payload of a document, or ErrNotFound.
	Get(ctx context.Context, collection, key string) (types.Document, error)
}
