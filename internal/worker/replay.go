package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

// FailureStore defines the tracker operations the replay worker needs.
type FailureStore interface {
	ListFailed(ctx context.Context, limit int) ([]types.SyncState, error)
	PruneFailures(ctx context.Context, olderThan time.Time) (int64, error)
}

// Retrier replays a single key from the current primary-store payload.
type Retrier interface {
	Retry(ctx context.Context, collection, key string) types.OrchestrationResult
}

// ReplayWorker periodically replays keys stuck in FAILED state and
// prunes failure records past the retention window.
type ReplayWorker struct {
	store     FailureStore
	retrier   Retrier
	interval  time.Duration
	batchSize int
	retention time.Duration
}

// NewReplayWorker creates a replay worker. A zero retention disables
// pruning.
func NewReplayWorker(s FailureStore, r Retrier, interval time.Duration, batchSize int, retention time.Duration) *ReplayWorker {
	if batchSize < 1 {
		batchSize = 1
	}
	return &ReplayWorker{
		store:     s,
		retrier:   r,
		interval:  interval,
		batchSize: batchSize,
		retention: retention,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *ReplayWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Process immediately on start, then on each tick
	w.processFailed(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processFailed(ctx)
		}
	}
}

func (w *ReplayWorker) processFailed(ctx context.Context) {
	states, err := w.store.ListFailed(ctx, w.batchSize)
	if err != nil {
		slog.Error("failed to list failed sync states",
			"error", err,
			"component", "worker",
		)
		return
	}

	var recovered int
	for _, st := range states {
		if ctx.Err() != nil {
			return
		}
		res := w.retrier.Retry(ctx, st.Collection, st.Key)
		if res.Outcome != types.OutcomeFailed {
			recovered++
		}
	}

	if len(states) > 0 {
		slog.Info("replayed failed keys",
			"action", "replay",
			"count", len(states),
			"recovered", recovered,
			"component", "worker",
		)
	}

	if w.retention > 0 {
		pruned, err := w.store.PruneFailures(ctx, time.Now().UTC().Add(-w.retention))
		if err != nil {
			slog.Error("failed to prune failure records",
				"error", err,
				"component", "worker",
			)
			return
		}
		if pruned > 0 {
			slog.Info("pruned failure records",
				"action", "prune",
				"count", pruned,
				"component", "worker",
			)
		}
	}
}
