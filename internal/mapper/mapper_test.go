package mapper

import (
	"errors"
	"testing"

	"github.com/Real-Dev-Squad/todo-sync/internal/types"
)

func TestMap_User(t *testing.T) {
	m := New(DefaultRegistry())

	rec, err := m.Map(types.MutationRequest{
		Collection: "users",
		Key:        "user-1",
		Operation:  types.OpCreate,
		Payload: types.Document{
			"google_id": types.String("g-123"),
			"email_id":  types.String("a@example.com"),
			"name":      types.String("Ada"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.Table != "postgres_users" {
		t.Errorf("Expected table postgres_users, got %q", rec.Table)
	}
	if rec.Columns[RefColumn] != "user-1" {
		t.Errorf("Expected doc_id user-1, got %v", rec.Columns[RefColumn])
	}
	if rec.Columns["google_id"] != "g-123" {
		t.Errorf("Expected google_id g-123, got %v", rec.Columns["google_id"])
	}
	if rec.Columns["name"] != "Ada" {
		t.Errorf("Expected name Ada, got %v", rec.Columns["name"])
	}
}

func TestMap_UnmappedCollection(t *testing.T) {
	m := New(DefaultRegistry())

	_, err := m.Map(types.MutationRequest{
		Collection: "audit_logs",
		Key:        "log-1",
		Operation:  types.OpCreate,
		Payload:    types.Document{"event": types.String("login")},
	})
	if !errors.Is(err, ErrUnmappedCollection) {
		t.Fatalf("Expected ErrUnmappedCollection, got %v", err)
	}
}

func TestMap_TaskLabelsJunction(t *testing.T) {
	m := New(DefaultRegistry())

	rec, err := m.Map(types.MutationRequest{
		Collection: "tasks",
		Key:        "task-1",
		Operation:  types.OpUpdate,
		Payload: types.Document{
			"title":  types.String("Write report"),
			"labels": types.List(types.String("label-a"), types.String("label-b")),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var junction *types.AuxiliaryRows
	for i := range rec.Auxiliary {
		if rec.Auxiliary[i].Table == "postgres_task_labels" {
			junction = &rec.Auxiliary[i]
		}
	}
	if junction == nil {
		t.Fatal("Expected postgres_task_labels auxiliary table")
	}
	if len(junction.Rows) != 2 {
		t.Fatalf("Expected 2 junction rows, got %d", len(junction.Rows))
	}
	if junction.Rows[0]["label_doc_id"] != "label-a" {
		t.Errorf("Expected first label label-a, got %v", junction.Rows[0]["label_doc_id"])
	}
	if junction.Rows[0]["position"] != int64(0) || junction.Rows[1]["position"] != int64(1) {
		t.Errorf("Expected positions 0 and 1, got %v and %v",
			junction.Rows[0]["position"], junction.Rows[1]["position"])
	}
	if junction.Rows[1]["task_doc_id"] != "task-1" {
		t.Errorf("Expected parent ref task-1, got %v", junction.Rows[1]["task_doc_id"])
	}
}

func TestMap_DuplicateLabelsCollapse(t *testing.T) {
	m := New(DefaultRegistry())

	rec, err := m.Map(types.MutationRequest{
		Collection: "tasks",
		Key:        "task-1",
		Operation:  types.OpUpdate,
		Payload: types.Document{
			"labels": types.List(types.String("l-1"), types.String("l-1"), types.String("l-2")),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var junction *types.AuxiliaryRows
	for i := range rec.Auxiliary {
		if rec.Auxiliary[i].Table == "postgres_task_labels" {
			junction = &rec.Auxiliary[i]
		}
	}
	if junction == nil {
		t.Fatal("Expected postgres_task_labels auxiliary table")
	}
	if len(junction.Rows) != 2 {
		t.Fatalf("Expected duplicates collapsed to 2 rows, got %d", len(junction.Rows))
	}
	if junction.Rows[0]["label_doc_id"] != "l-1" || junction.Rows[0]["position"] != int64(0) {
		t.Errorf("Expected first occurrence kept at position 0, got %v", junction.Rows[0])
	}
	if junction.Rows[1]["label_doc_id"] != "l-2" || junction.Rows[1]["position"] != int64(2) {
		t.Errorf("Expected l-2 kept at its original position 2, got %v", junction.Rows[1])
	}
}

func TestMap_EmptyLabelsStillListsJunctionTable(t *testing.T) {
	m := New(DefaultRegistry())

	rec, err := m.Map(types.MutationRequest{
		Collection: "tasks",
		Key:        "task-1",
		Operation:  types.OpUpdate,
		Payload:    types.Document{"title": types.String("No labels")},
	})
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, aux := range rec.Auxiliary {
		if aux.Table == "postgres_task_labels" {
			found = true
			if len(aux.Rows) != 0 {
				t.Errorf("Expected zero rows, got %d", len(aux.Rows))
			}
		}
	}
	if !found {
		t.Error("Expected junction table listed even with no label rows")
	}
}

func TestMap_DeferredDetailsChild(t *testing.T) {
	m := New(DefaultRegistry())

	rec, err := m.Map(types.MutationRequest{
		Collection: "tasks",
		Key:        "task-9",
		Operation:  types.OpUpdate,
		Payload: types.Document{
			"deferredDetails": types.Object(types.Document{
				"deferredAt":   types.String("2026-01-02T03:04:05Z"),
				"deferredTill": types.String("2026-02-01T00:00:00Z"),
				"deferredBy":   types.String("user-7"),
			}),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var child *types.AuxiliaryRows
	for i := range rec.Auxiliary {
		if rec.Auxiliary[i].Table == "postgres_deferred_details" {
			child = &rec.Auxiliary[i]
		}
	}
	if child == nil {
		t.Fatal("Expected postgres_deferred_details auxiliary table")
	}
	if len(child.Rows) != 1 {
		t.Fatalf("Expected 1 child row, got %d", len(child.Rows))
	}
	row := child.Rows[0]
	if row["task_doc_id"] != "task-9" {
		t.Errorf("Expected parent ref task-9, got %v", row["task_doc_id"])
	}
	if row["deferred_by"] != "user-7" {
		t.Errorf("Expected deferred_by user-7, got %v", row["deferred_by"])
	}
	if row["deferred_at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("Expected normalized deferred_at, got %v", row["deferred_at"])
	}
}

func TestMap_FlattenNestedObject(t *testing.T) {
	reg := NewRegistry(Collection{
		Name:  "profiles",
		Table: "mirror_profiles",
		Flatten: []FlattenRule{{
			Field:  "address",
			Prefix: "address_",
			Fields: []FieldRule{
				{Field: "city", Column: "city", Coerce: CoerceString},
				{Field: "zip", Column: "zip", Coerce: CoerceString},
			},
		}},
	})
	m := New(reg)

	rec, err := m.Map(types.MutationRequest{
		Collection: "profiles",
		Key:        "p-1",
		Operation:  types.OpCreate,
		Payload: types.Document{
			"address": types.Object(types.Document{
				"city": types.String("Pune"),
				"zip":  types.String("411001"),
			}),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if rec.Columns["address_city"] != "Pune" {
		t.Errorf("Expected flattened address_city, got %v", rec.Columns["address_city"])
	}
	if rec.Columns["address_zip"] != "411001" {
		t.Errorf("Expected flattened address_zip, got %v", rec.Columns["address_zip"])
	}
	if m.Drops()["profiles.address"] != 0 {
		t.Error("Flattened field must not count as dropped")
	}
}

func TestMap_DeleteIgnoresPayload(t *testing.T) {
	m := New(DefaultRegistry())

	rec, err := m.Map(types.MutationRequest{
		Collection: "users",
		Key:        "user-1",
		Operation:  types.OpDelete,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Columns) != 1 {
		t.Errorf("Expected only the ref column, got %v", rec.Columns)
	}
	if rec.Columns[RefColumn] != "user-1" {
		t.Errorf("Expected doc_id user-1, got %v", rec.Columns[RefColumn])
	}
}

func TestMap_DropsUnknownFields(t *testing.T) {
	m := New(DefaultRegistry())

	_, err := m.Map(types.MutationRequest{
		Collection: "users",
		Key:        "user-1",
		Operation:  types.OpCreate,
		Payload: types.Document{
			"name":         types.String("Ada"),
			"shadow_field": types.String("dropped"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	drops := m.Drops()
	if drops["users.shadow_field"] != 1 {
		t.Errorf("Expected one drop for users.shadow_field, got %v", drops)
	}
	if _, ok := drops["users.name"]; ok {
		t.Error("Mapped field must not be counted as dropped")
	}

	// Counter accumulates across calls.
	_, err = m.Map(types.MutationRequest{
		Collection: "users",
		Key:        "user-2",
		Operation:  types.OpUpdate,
		Payload:    types.Document{"shadow_field": types.String("again")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.Drops()["users.shadow_field"] != 2 {
		t.Errorf("Expected cumulative drop count 2, got %d", m.Drops()["users.shadow_field"])
	}
}

func TestMap_SameInputSameOutput(t *testing.T) {
	m := New(DefaultRegistry())
	req := types.MutationRequest{
		Collection: "teams",
		Key:        "team-1",
		Operation:  types.OpCreate,
		Payload: types.Document{
			"name":       types.String("Core"),
			"poc_id":     types.String("user-3"),
			"is_deleted": types.Bool(false),
		},
	}

	a, err := m.Map(req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Map(req)
	if err != nil {
		t.Fatal(err)
	}

	if len(a.Columns) != len(b.Columns) {
		t.Fatalf("Expected identical column sets, got %v and %v", a.Columns, b.Columns)
	}
	for k, v := range a.Columns {
		if b.Columns[k] != v {
			t.Errorf("Column %s differs: %v vs %v", k, v, b.Columns[k])
		}
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name   string
		value  types.Value
		coerce Coerce
		want   any
	}{
		{"null is nil", types.Null(), CoerceString, nil},
		{"string passthrough", types.String("x"), CoerceString, "x"},
		{"integral number to string", types.Number(42), CoerceString, "42"},
		{"bool to string", types.Bool(true), CoerceString, "true"},
		{"number passthrough", types.Number(2.5), CoerceNumber, 2.5},
		{"numeric string", types.String("7"), CoerceNumber, float64(7)},
		{"non-numeric string", types.String("abc"), CoerceNumber, nil},
		{"bool passthrough", types.Bool(true), CoerceBool, true},
		{"nonzero number is true", types.Number(3), CoerceBool, true},
		{"zero number is false", types.Number(0), CoerceBool, false},
		{"bool string", types.String("true"), CoerceBool, true},
		{"rfc3339 normalized", types.String("2026-01-02T03:04:05+05:30"), CoerceTime, "2026-01-01T21:34:05Z"},
		{"unix seconds", types.Number(0), CoerceTime, "1970-01-01T00:00:00Z"},
		{"unparseable time kept", types.String("yesterday"), CoerceTime, "yesterday"},
		{"ref string", types.String("id-1"), CoerceRef, "id-1"},
		{"json list", types.List(types.String("a")), CoerceJSON, `["a"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerce(tt.value, tt.coerce)
			if got != tt.want {
				t.Errorf("coerce(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
