package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation identifies the kind of primary-store mutation being mirrored.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Kind tags a Value with its runtime type.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindList
)

// Value is a tagged union over the loosely-typed field values a document
// payload can carry. Keeping the union closed lets the mapper's coercions
// switch exhaustively on Kind.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	obj  Document
	list []Value
}

// Document is a semi-structured payload: field name to Value.
type Document map[string]Value

func Null() Value             { return Value{kind: KindNull} }
func String(s string) Value   { return Value{kind: KindString, str: s} }
func Number(f float64) Value  { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Object(d Document) Value { return Value{kind: KindObject, obj: d} }
func List(vs ...Value) Value  { return Value{kind: KindList, list: vs} }

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsNull() bool     { return v.kind == KindNull }
func (v Value) Str() string      { return v.str }
func (v Value) Num() float64     { return v.num }
func (v Value) Bool() bool       { return v.b }
func (v Value) Object() Document { return v.obj }
func (v Value) List() []Value    { return v.list }

// FromAny converts a decoded-JSON-shaped Go value into a Value.
// Unrecognized types become their fmt string representation rather than
// failing; mapping must stay total.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case time.Time:
		return String(t.UTC().Format(time.RFC3339))
	case map[string]any:
		return Object(DocumentFromMap(t))
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromAny(e)
		}
		return List(vs...)
	case []string:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = String(e)
		}
		return List(vs...)
	case Value:
		return t
	case Document:
		return Object(t)
	default:
		return String(fmt.Sprint(t))
	}
}

// DocumentFromMap converts a map of loosely-typed values into a Document.
func DocumentFromMap(m map[string]any) Document {
	if m == nil {
		return nil
	}
	d := make(Document, len(m))
	for k, v := range m {
		d[k] = FromAny(v)
	}
	return d
}

// ToAny converts a Value back into a plain Go value (for JSON encoding).
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			m[k] = e.ToAny()
		}
		return m
	case KindList:
		s := make([]any, len(v.list))
		for i, e := range v.list {
			s[i] = e.ToAny()
		}
		return s
	}
	return nil
}

// MutationRequest is the core's only inbound operation: mirror one
// already-committed primary-store mutation. Payload is nil only for
// deletes. Treated as immutable once constructed.
type MutationRequest struct {
	Collection string
	Key        string
	Operation  Operation
	Payload    Document
}

// AuxiliaryRows is a set of rows destined for one auxiliary table
// (junction rows for array fields, child rows for routed nested objects).
// They commit in the same transaction as the primary mapped record.
type AuxiliaryRows struct {
	Table     string
	ParentRef string // column holding the parent's doc_id
	Rows      []map[string]any
}

// MappedRecord is the relational representation of one document mutation.
// Columns always include the external-reference column so the secondary
// row can be traced back to its primary-store origin.
type MappedRecord struct {
	Table       string
	RefColumn   string
	Columns     map[string]any
	ForeignKeys map[string]string
	Auxiliary   []AuxiliaryRows
}

// SyncStatus is the per-key synchronization status.
type SyncStatus string

const (
	StatusPending SyncStatus = "PENDING"
	StatusSynced  SyncStatus = "SYNCED"
	StatusFailed  SyncStatus = "FAILED"
)

// SyncState is the tracked state for one (collection, key) pair.
// Owned by the tracker; callers only ever read it.
type SyncState struct {
	Collection   string     `json:"collection"`
	Key          string     `json:"key"`
	Status       SyncStatus `json:"status"`
	LastError    string     `json:"last_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	RetryCount   int        `json:"retry_count"`
	// Vacuous marks a SYNCED state that wrote nothing because the
	// collection is intentionally not mirrored.
	Vacuous   bool      `json:"vacuous,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FailureRecord is one append-only entry in the failure log.
type FailureRecord struct {
	ID            string    `json:"id"`
	Collection    string    `json:"collection"`
	Key           string    `json:"key"`
	Operation     Operation `json:"operation"`
	Error         string    `json:"error"`
	AttemptNumber int       `json:"attempt_number"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Outcome classifies the result of one orchestrated mutation.
type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeSkipped Outcome = "skipped" // vacuous sync or dual-write disabled
	OutcomeFailed  Outcome = "failed"
)

// OrchestrationResult is returned by the orchestrator for a single request.
// Err is informational: failures are fully contained and never propagate
// to the primary write path.
type OrchestrationResult struct {
	Collection string
	Key        string
	Outcome    Outcome
	Attempts   int
	Err        error
}

// ItemResult is one entry of BatchResult.PerItem, in input order.
type ItemResult struct {
	Key     string  `json:"key"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// BatchResult aggregates per-item outcomes of one batch. Ephemeral.
type BatchResult struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	PerItem   []ItemResult `json:"per_item"`
}

// Metrics is the tracker's aggregate view plus mapper diagnostics.
type Metrics struct {
	TotalPending  int64            `json:"total_pending"`
	TotalSynced   int64            `json:"total_synced"`
	TotalFailed   int64            `json:"total_failed"`
	TotalRetries  int64            `json:"total_retries"`
	TotalVacuous  int64            `json:"total_vacuous"`
	DroppedFields map[string]int64 `json:"dropped_fields,omitempty"`
}
