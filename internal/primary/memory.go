package primary

import (
	"context"
	"sync"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

// Memory is an in-process document store. It backs tests and the
// embedded mode; writes exist so callers can seed and mutate it.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]map[string]types.Document
}

// NewMemory creates an empty in-memory document store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]types.Document)}
}

// Get returns the current payload of a document, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, collection, key string) (types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	// Shallow copy so callers cannot mutate stored state.
	out := make(types.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, nil
}

// Put stores or replaces a document.
func (m *Memory) Put(collection, key string, doc types.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]types.Document)
	}
	m.docs[collection][key] = doc
}

// Delete removes a document. Deleting an absent document is a no-op.
func (m *Memory) Delete(collection, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[collection], key)
}
