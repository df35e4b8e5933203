// Package orchestrator drives the dual-write pipeline: for each
// primary-store mutation that already committed, it maps the document,
// applies it to the secondary store with a bounded retry budget, and
// records the outcome in the sync state tracker. Failures never
// propagate to the primary write path; they surface only through sync
// state, failure records, and logs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Real-Dev-Squad/todo-sync/internal/mapper"
	"github.com/Real-Dev-Squad/todo-sync/internal/primary"
	"github.com/Real-Dev-Squad/todo-sync/internal/secondary"
	"github.com/Real-Dev-Squad/todo-sync/internal/types"
	"github.com/sethvargo/go-retry"
)

// Tracker is the sync-state surface the orchestrator needs.
type Tracker interface {
	MarkPending(ctx context.Context, collection, key string) error
	MarkSynced(ctx context.Context, collection, key string, at time.Time) error
	MarkSyncedVacuous(ctx context.Context, collection, key string, at time.Time) error
	MarkFailed(ctx context.Context, collection, key string, syncErr error) error
	IncrementRetry(ctx context.Context, collection, key string) error
	AppendFailure(ctx context.Context, rec types.FailureRecord) (string, error)
}

// Config holds the orchestrator's runtime settings. It is passed
// explicitly at construction, never read from ambient process state, so
// tests can run multiple configurations in isolation.
type Config struct {
	// Enabled gates the whole pipeline; when false, Execute is a no-op
	// success.
	Enabled bool
	// RetryAttempts is the total attempt ceiling per execution,
	// including the first attempt.
	RetryAttempts int
	// RetryBaseDelay is the backoff base; attempt n waits roughly
	// base * 2^(n-1), capped at RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Orchestrator coordinates mapper, adapter, and tracker for single
// mutations. Safe for concurrent use; overlapping executions for the
// same key rely on upsert idempotency rather than locking.
type Orchestrator struct {
	cfg     Config
	mapper  *mapper.Mapper
	adapter secondary.Adapter
	tracker Tracker
	docs    primary.DocumentStore
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the inter-attempt wait. Tests inject an immediate
// or recording sleep to keep backoff deterministic.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// New creates an Orchestrator. Zero config fields get safe defaults.
func New(cfg Config, m *mapper.Mapper, a secondary.Adapter, t Tracker, docs primary.DocumentStore, opts ...Option) *Orchestrator {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 50 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}

	o := &Orchestrator{
		cfg:     cfg,
		mapper:  m,
		adapter: a,
		tracker: t,
		docs:    docs,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute mirrors one committed primary-store mutation into the
// secondary store. It always returns a result; the error inside it is
// informational and must not be treated as a failure of the primary
// write.
func (o *Orchestrator) Execute(ctx context.Context, req types.MutationRequest) types.OrchestrationResult {
	res := types.OrchestrationResult{Collection: req.Collection, Key: req.Key}

	if !o.cfg.Enabled {
		res.Outcome = types.OutcomeSkipped
		return res
	}

	if err := o.tracker.MarkPending(ctx, req.Collection, req.Key); err != nil {
		slog.Error("mark pending failed",
			"component", "orchestrator",
			"collection", req.Collection,
			"doc_id", req.Key,
			"error", err,
		)
	}

	if !req.Operation.Valid() {
		err := fmt.Errorf("unknown operation %q", req.Operation)
		o.recordFailure(ctx, req, 0, err)
		res.Outcome = types.OutcomeFailed
		res.Err = err
		return res
	}

	rec, err := o.mapper.Map(req)
	if err != nil {
		if errors.Is(err, mapper.ErrUnmappedCollection) {
			// Allow-list decision, not a failure: the collection is
			// intentionally not mirrored.
			slog.Info("collection not mirrored, skipping",
				"component", "orchestrator",
				"action", "vacuous_sync",
				"collection", req.Collection,
				"doc_id", req.Key,
			)
			if terr := o.tracker.MarkSyncedVacuous(ctx, req.Collection, req.Key, time.Now().UTC()); terr != nil {
				slog.Error("mark vacuous-synced failed",
					"component", "orchestrator",
					"collection", req.Collection,
					"doc_id", req.Key,
					"error", terr,
				)
			}
			res.Outcome = types.OutcomeSkipped
			return res
		}
		o.recordFailure(ctx, req, 0, err)
		res.Outcome = types.OutcomeFailed
		res.Err = err
		return res
	}

	backoff := retry.WithCappedDuration(o.cfg.RetryMaxDelay, retry.NewExponential(o.cfg.RetryBaseDelay))

	var lastErr error
	for attempt := 1; attempt <= o.cfg.RetryAttempts; attempt++ {
		res.Attempts = attempt

		err := o.adapter.Apply(ctx, rec, req.Operation)
		if err == nil {
			if terr := o.tracker.MarkSynced(ctx, req.Collection, req.Key, time.Now().UTC()); terr != nil {
				slog.Error("mark synced failed",
					"component", "orchestrator",
					"collection", req.Collection,
					"doc_id", req.Key,
					"error", terr,
				)
			}
			slog.Info("synced",
				"component", "orchestrator",
				"action", "sync",
				"collection", req.Collection,
				"doc_id", req.Key,
				"operation", string(req.Operation),
				"attempts", attempt,
			)
			res.Outcome = types.OutcomeSynced
			return res
		}

		lastErr = err
		if !secondary.IsTransient(err) {
			// Schema conflicts and other hard errors need an operator,
			// not a retry.
			break
		}

		if terr := o.tracker.IncrementRetry(ctx, req.Collection, req.Key); terr != nil {
			slog.Error("increment retry failed",
				"component", "orchestrator",
				"collection", req.Collection,
				"doc_id", req.Key,
				"error", terr,
			)
		}

		if attempt == o.cfg.RetryAttempts {
			break
		}

		delay, _ := backoff.Next()
		slog.Warn("transient sync failure, backing off",
			"component", "orchestrator",
			"collection", req.Collection,
			"doc_id", req.Key,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if serr := o.sleep(ctx, delay); serr != nil {
			// Caller abandoned the retry sequence between attempts; the
			// key stays resumable via manual retry.
			lastErr = fmt.Errorf("retry abandoned after attempt %d: %w", attempt, err)
			break
		}
	}

	o.recordFailure(ctx, req, res.Attempts, lastErr)
	res.Outcome = types.OutcomeFailed
	res.Err = lastErr
	return res
}

// Retry replays one key. The current payload is re-fetched from the
// primary store; a document that no longer exists replays as a delete so
// the mirror converges to absence.
func (o *Orchestrator) Retry(ctx context.Context, collection, key string) types.OrchestrationResult {
	doc, err := o.docs.Get(ctx, collection, key)

	var req types.MutationRequest
	switch {
	case err == nil:
		req = types.MutationRequest{Collection: collection, Key: key, Operation: types.OpUpdate, Payload: doc}
	case errors.Is(err, primary.ErrNotFound):
		req = types.MutationRequest{Collection: collection, Key: key, Operation: types.OpDelete}
	default:
		slog.Error("primary store read failed, cannot replay",
			"component", "orchestrator",
			"action", "retry",
			"collection", collection,
			"doc_id", key,
			"error", err,
		)
		return types.OrchestrationResult{
			Collection: collection,
			Key:        key,
			Outcome:    types.OutcomeFailed,
			Err:        fmt.Errorf("read primary store: %w", err),
		}
	}

	return o.Execute(ctx, req)
}

func (o *Orchestrator) recordFailure(ctx context.Context, req types.MutationRequest, attempts int, err error) {
	// The caller's ctx may already be cancelled (abandoned retry sequence,
	// shutdown). The terminal state and the failure record must still land,
	// or the key is stranded PENDING and invisible to the replay worker.
	ctx = context.WithoutCancel(ctx)

	if terr := o.tracker.MarkFailed(ctx, req.Collection, req.Key, err); terr != nil {
		slog.Error("mark failed failed",
			"component", "orchestrator",
			"collection", req.Collection,
			"doc_id", req.Key,
			"error", terr,
		)
	}
	if _, terr := o.tracker.AppendFailure(ctx, types.FailureRecord{
		Collection:    req.Collection,
		Key:           req.Key,
		Operation:     req.Operation,
		Error:         err.Error(),
		AttemptNumber: attempts,
		OccurredAt:    time.Now().UTC(),
	}); terr != nil {
		slog.Error("append failure record failed",
			"component", "orchestrator",
			"collection", req.Collection,
			"doc_id", req.Key,
			"error", terr,
		)
	}
	slog.Error("sync failed",
		"component", "orchestrator",
		"action", "sync_failed",
		"collection", req.Collection,
		"doc_id", req.Key,
		"operation", string(req.Operation),
		"attempts", attempts,
		"error", err,
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
