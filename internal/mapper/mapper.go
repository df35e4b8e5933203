package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

// ErrUnmappedCollection is returned when a request names a collection
// absent from the registry. Callers treat this as an intentional skip,
// not a failure.
var ErrUnmappedCollection = errors.New("collection is not mapped")

// Mapper derives relational records from document mutations. Mapping is
// pure and deterministic; the only mutable state is the dropped-field
// diagnostics counter.
type Mapper struct {
	reg *Registry

	mu    sync.Mutex
	drops map[string]int64
}

// New creates a Mapper over the given registry.
func New(reg *Registry) *Mapper {
	return &Mapper{reg: reg, drops: make(map[string]int64)}
}

// Map derives the MappedRecord for a mutation request.
// Payload fields without a mapping rule are dropped and counted, never an
// error: additive schema drift on the primary side must not break sync.
func (m *Mapper) Map(req types.MutationRequest) (types.MappedRecord, error) {
	col, ok := m.reg.Lookup(req.Collection)
	if !ok {
		return types.MappedRecord{}, fmt.Errorf("%q: %w", req.Collection, ErrUnmappedCollection)
	}

	rec := types.MappedRecord{
		Table:       col.Table,
		RefColumn:   RefColumn,
		Columns:     map[string]any{RefColumn: req.Key},
		ForeignKeys: col.ForeignKeys,
	}

	// Auxiliary tables are always listed, even with zero rows, so the
	// adapter can clear stale junction/child rows in the same transaction.
	for _, j := range col.Junctions {
		rec.Auxiliary = append(rec.Auxiliary, types.AuxiliaryRows{Table: j.Table, ParentRef: j.ParentRef})
	}
	for _, c := range col.Children {
		rec.Auxiliary = append(rec.Auxiliary, types.AuxiliaryRows{Table: c.Table, ParentRef: c.ParentRef})
	}

	if req.Operation == types.OpDelete || req.Payload == nil {
		return rec, nil
	}

	consumed := make(map[string]bool, len(req.Payload))

	for _, f := range col.Fields {
		v, present := req.Payload[f.Field]
		if !present {
			continue
		}
		consumed[f.Field] = true
		rec.Columns[f.Column] = coerce(v, f.Coerce)
	}

	for _, fl := range col.Flatten {
		v, present := req.Payload[fl.Field]
		if !present {
			continue
		}
		consumed[fl.Field] = true
		if v.Kind() != types.KindObject {
			continue
		}
		nested := v.Object()
		for _, f := range fl.Fields {
			nv, ok := nested[f.Field]
			if !ok {
				continue
			}
			rec.Columns[fl.Prefix+f.Column] = coerce(nv, f.Coerce)
		}
	}

	for i, j := range col.Junctions {
		v, present := req.Payload[j.Field]
		if !present {
			continue
		}
		consumed[j.Field] = true
		if v.Kind() != types.KindList {
			continue
		}
		aux := &rec.Auxiliary[i]
		seen := make(map[any]bool)
		for idx, elem := range v.List() {
			ref := coerce(elem, CoerceRef)
			if ref == nil || ref == "" {
				continue
			}
			// Repeated values collapse to their first occurrence; junction
			// rows are unique per (parent, value).
			if seen[ref] {
				continue
			}
			seen[ref] = true
			row := map[string]any{
				j.ParentRef:   req.Key,
				j.ValueColumn: ref,
			}
			if j.IndexColumn != "" {
				row[j.IndexColumn] = int64(idx)
			}
			aux.Rows = append(aux.Rows, row)
		}
	}

	for ci, c := range col.Children {
		v, present := req.Payload[c.Field]
		if !present {
			continue
		}
		consumed[c.Field] = true
		if v.Kind() != types.KindObject {
			continue
		}
		nested := v.Object()
		row := map[string]any{c.ParentRef: req.Key}
		for _, f := range c.Fields {
			nv, ok := nested[f.Field]
			if !ok {
				continue
			}
			row[f.Column] = coerce(nv, f.Coerce)
		}
		rec.Auxiliary[len(col.Junctions)+ci].Rows = append(rec.Auxiliary[len(col.Junctions)+ci].Rows, row)
	}

	for field := range req.Payload {
		if !consumed[field] {
			m.recordDrop(req.Collection, field)
		}
	}

	return rec, nil
}

// Drops returns a copy of the dropped-field diagnostics counters, keyed
// by "collection.field".
func (m *Mapper) Drops() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.drops))
	for k, v := range m.drops {
		out[k] = v
	}
	return out
}

func (m *Mapper) recordDrop(collection, field string) {
	m.mu.Lock()
	m.drops[collection+"."+field]++
	m.mu.Unlock()
}

// coerce converts a payload value to a driver-ready column value.
// Coercions are total: every (Kind, Coerce) pair produces a value, falling
// back to a string rendering rather than failing.
func coerce(v types.Value, c Coerce) any {
	if v.IsNull() {
		return nil
	}

	switch c {
	case CoerceString:
		switch v.Kind() {
		case types.KindString:
			return v.Str()
		case types.KindNumber:
			return formatNumber(v.Num())
		case types.KindBool:
			return strconv.FormatBool(v.Bool())
		default:
			return jsonString(v)
		}

	case CoerceRef:
		switch v.Kind() {
		case types.KindString:
			return v.Str()
		case types.KindNumber:
			return formatNumber(v.Num())
		default:
			return jsonString(v)
		}

	case CoerceNumber:
		switch v.Kind() {
		case types.KindNumber:
			return v.Num()
		case types.KindString:
			if f, err := strconv.ParseFloat(v.Str(), 64); err == nil {
				return f
			}
			return nil
		case types.KindBool:
			if v.Bool() {
				return float64(1)
			}
			return float64(0)
		default:
			return nil
		}

	case CoerceBool:
		switch v.Kind() {
		case types.KindBool:
			return v.Bool()
		case types.KindNumber:
			return v.Num() != 0
		case types.KindString:
			b, err := strconv.ParseBool(v.Str())
			return err == nil && b
		default:
			return false
		}

	case CoerceTime:
		switch v.Kind() {
		case types.KindString:
			if t, err := time.Parse(time.RFC3339, v.Str()); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
			return v.Str()
		case types.KindNumber:
			return time.Unix(int64(v.Num()), 0).UTC().Format(time.RFC3339)
		default:
			return nil
		}

	case CoerceJSON:
		return jsonString(v)
	}

	return nil
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func jsonString(v types.Value) string {
	b, err := json.Marshal(v.ToAny())
	if err != nil {
		return fmt.Sprint(v.ToAny())
	}
	return string(b)
}
