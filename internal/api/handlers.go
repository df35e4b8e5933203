package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Real-Dev-Squad/todo-sync/internal/tracker"
	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

const (
	// DefaultFailureLimit bounds /sync/failures responses when the
	// caller does not pass a limit.
	DefaultFailureLimit = 50

	// MaxBatchMutations is the maximum mutations per request.
	MaxBatchMutations = 1000
)

// SyncStore is the read surface the handlers need from the tracker.
type SyncStore interface {
	GetStatus(ctx context.Context, collection, key string) (*types.SyncState, error)
	ListFailures(ctx context.Context, limit int, since time.Time) ([]types.FailureRecord, error)
	Metrics(ctx context.Context) (*types.Metrics, error)
}

// Executor is the orchestration surface the handlers need.
type Executor interface {
	Execute(ctx context.Context, req types.MutationRequest) types.OrchestrationResult
	Retry(ctx context.Context, collection, key string) types.OrchestrationResult
}

// Batcher runs a set of mutations with per-item independence.
type Batcher interface {
	ExecuteBatch(ctx context.Context, reqs []types.MutationRequest) types.BatchResult
}

// Diagnostics exposes the mapper's dropped-field counters.
type Diagnostics interface {
	Drops() map[string]int64
}

// Handler implements the operational API.
type Handler struct {
	store   SyncStore
	exec    Executor
	batch   Batcher
	diag    Diagnostics
	apiKey  string
	version string
}

// NewHandler creates a Handler.
func NewHandler(store SyncStore, exec Executor, batch Batcher, diag Diagnostics, apiKey, version string) *Handler {
	return &Handler{
		store:   store,
		exec:    exec,
		batch:   batch,
		diag:    diag,
		apiKey:  apiKey,
		version: version,
	}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Metrics *types.Metrics `json:"metrics,omitempty"`
}

// Health returns the health status plus the current sync counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.Metrics(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Metrics: m,
	})
}

// SyncStatus handles GET /api/v1/sync/status?collection=...&key=...
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	key := r.URL.Query().Get("key")
	if collection == "" || key == "" {
		WriteProblem(w, r, http.StatusBadRequest, "collection and key query parameters are required")
		return
	}

	st, err := h.store.GetStatus(r.Context(), collection, key)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("no sync state for %s:%s", collection, key))
			return
		}
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// SyncFailures handles GET /api/v1/sync/failures?limit=...&since=...
func (h *Handler) SyncFailures(w http.ResponseWriter, r *http.Request) {
	limit := DefaultFailureLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("invalid since timestamp %q", v))
			return
		}
		since = ts
	}

	records, err := h.store.ListFailures(r.Context(), limit, since)
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"failures": records})
}

// SyncMetrics handles GET /api/v1/sync/metrics
func (h *Handler) SyncMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.Metrics(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if h.diag != nil {
		m.DroppedFields = h.diag.Drops()
	}

	writeJSON(w, http.StatusOK, m)
}

// RetryRequest is the body of POST /api/v1/sync/retry.
type RetryRequest struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
}

// RetryResponse reports the outcome of a manual replay.
type RetryResponse struct {
	Collection string        `json:"collection"`
	Key        string        `json:"key"`
	Outcome    types.Outcome `json:"outcome"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// SyncRetry handles POST /api/v1/sync/retry. The payload is re-fetched
// from the primary store, never replayed from cached request state.
func (h *Handler) SyncRetry(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	if req.Collection == "" || req.Key == "" {
		WriteProblem(w, r, http.StatusBadRequest, "collection and key are required")
		return
	}

	res := h.exec.Retry(r.Context(), req.Collection, req.Key)

	resp := RetryResponse{
		Collection: res.Collection,
		Key:        res.Key,
		Outcome:    res.Outcome,
		Attempts:   res.Attempts,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// MutationPayload is one inbound mutation in wire form.
type MutationPayload struct {
	Collection string         `json:"collection"`
	Key        string         `json:"key"`
	Operation  string         `json:"operation"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// MutationsRequest is the body of POST /api/v1/sync/mutations.
type MutationsRequest struct {
	Mutations []MutationPayload `json:"mutations"`
}

// SyncMutations handles POST /api/v1/sync/mutations: the inbound edge
// the domain layer calls after its primary-store writes have committed.
func (h *Handler) SyncMutations(w http.ResponseWriter, r *http.Request) {
	var req MutationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	if len(req.Mutations) == 0 {
		WriteProblem(w, r, http.StatusBadRequest, "mutations must not be empty")
		return
	}
	if len(req.Mutations) > MaxBatchMutations {
		WriteProblem(w, r, http.StatusBadRequest,
			fmt.Sprintf("too many mutations: %d exceeds limit of %d", len(req.Mutations), MaxBatchMutations))
		return
	}

	reqs := make([]types.MutationRequest, len(req.Mutations))
	for i, m := range req.Mutations {
		mr, err := toMutationRequest(m)
		if err != nil {
			WriteProblem(w, r, http.StatusUnprocessableEntity,
				fmt.Sprintf("mutation %d: %s", i, err))
			return
		}
		reqs[i] = mr
	}

	result := h.batch.ExecuteBatch(r.Context(), reqs)
	writeJSON(w, http.StatusOK, result)
}

func toMutationRequest(m MutationPayload) (types.MutationRequest, error) {
	if m.Collection == "" || m.Key == "" {
		return types.MutationRequest{}, errors.New("collection and key are required")
	}
	op := types.Operation(strings.ToUpper(m.Operation))
	if !op.Valid() {
		return types.MutationRequest{}, fmt.Errorf("unknown operation %q", m.Operation)
	}
	if op == types.OpDelete && m.Payload != nil {
		return types.MutationRequest{}, errors.New("delete mutations must not carry a payload")
	}
	if op != types.OpDelete && m.Payload == nil {
		return types.MutationRequest{}, fmt.Errorf("%s mutations require a payload", strings.ToLower(string(op)))
	}

	return types.MutationRequest{
		Collection: m.Collection,
		Key:        m.Key,
		Operation:  op,
		Payload:    types.DocumentFromMap(m.Payload),
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
