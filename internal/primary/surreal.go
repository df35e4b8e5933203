package primary

import (
	"context"
	"fmt"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
	surrealdb "github.com/surrealdb/surrealdb.go"
)

// Surreal reads documents from a SurrealDB instance over its websocket
// RPC connection.
type Surreal struct {
	db *surrealdb.DB
}

// SurrealConfig carries the connection settings for the primary store.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	User      string
	Pass      string
}

// NewSurreal connects, authenticates, and selects the namespace/database.
func NewSurreal(cfg SurrealConfig) (*Surreal, error) {
	db, err := surrealdb.New(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to primary store: %w", err)
	}
	if cfg.User != "" {
		if _, err := db.Signin(map[string]any{"user": cfg.User, "pass": cfg.Pass}); err != nil {
			db.Close()
			return nil, fmt.Errorf("sign in to primary store: %w", err)
		}
	}
	if _, err := db.Use(cfg.Namespace, cfg.Database); err != nil {
		db.Close()
		return nil, fmt.Errorf("select namespace %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}
	return &Surreal{db: db}, nil
}

// Get returns the current payload of a document, or ErrNotFound.
// The client has no context support; ctx is honored only as a fast-path
// cancellation check before the call.
func (s *Surreal) Get(ctx context.Context, collection, key string) (types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := s.db.Select(collection + ":" + key)
	if err != nil {
		return nil, fmt.Errorf("select %s:%s: %w", collection, key, err)
	}
	doc, ok := normalize(res)
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Close tears down the websocket connection.
func (s *Surreal) Close() {
	s.db.Close()
}

// normalize unwraps the RPC result shapes (single object or result list)
// into a Document.
func normalize(res any) (types.Document, bool) {
	switch t := res.(type) {
	case map[string]any:
		delete(t, "id")
		return types.DocumentFromMap(t), true
	case []any:
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				delete(m, "id")
				return types.DocumentFromMap(m), true
			}
		}
	}
	return nil, false
}
