package orchestrator

import (
	"context"
	"sync"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

// BatchCoordinator fans a batch of mutations out to the orchestrator.
// Items are fully independent: one item's failure never aborts or rolls
// back another, and there is deliberately no cross-item transaction —
// the secondary store's atomicity boundary is per mapped record.
type BatchCoordinator struct {
	orch        *Orchestrator
	concurrency int
}

// NewBatchCoordinator creates a coordinator running at most concurrency
// items at once.
func NewBatchCoordinator(o *Orchestrator, concurrency int) *BatchCoordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &BatchCoordinator{orch: o, concurrency: concurrency}
}

// ExecuteBatch runs every request and aggregates per-item outcomes.
// PerItem preserves input order regardless of completion order.
func (b *BatchCoordinator) ExecuteBatch(ctx context.Context, reqs []types.MutationRequest) types.BatchResult {
	perItem := make([]types.ItemResult, len(reqs))

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			r := b.orch.Execute(ctx, reqs[i])
			item := types.ItemResult{Key: reqs[i].Key, Outcome: r.Outcome}
			if r.Err != nil {
				item.Error = r.Err.Error()
			}
			perItem[i] = item
		}(i)
	}
	wg.Wait()

	res := types.BatchResult{Total: len(reqs), PerItem: perItem}
	for _, item := range perItem {
		if item.Outcome == types.OutcomeFailed {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}
	return res
}
