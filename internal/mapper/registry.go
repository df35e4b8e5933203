package mapper

// RefColumn is the external-reference column every mirror table carries.
// It holds the primary-store document key and is the upsert/delete key on
// the secondary side.
const RefColumn = "doc_id"

// Coerce selects the target coercion for a mapped field.
type Coerce uint8

const (
	CoerceString Coerce = iota
	CoerceRef    // opaque document identifier, stored as a string reference
	CoerceNumber
	CoerceBool
	CoerceTime // normalized to RFC 3339 UTC
	CoerceJSON // serialized as a JSON text column
)

// FieldRule maps one payload field to one column.
type FieldRule struct {
	Field  string
	Column string
	Coerce Coerce
}

// FlattenRule maps a nested object into prefixed columns on the parent row.
type FlattenRule struct {
	Field  string
	Prefix string
	Fields []FieldRule
}

// ChildRule routes a nested object to a row in a registered child table.
type ChildRule struct {
	Field     string
	Table     string
	ParentRef string
	Fields    []FieldRule
}

// JunctionRule maps an array-valued field to junction rows keyed by
// (parent ref, index).
type JunctionRule struct {
	Field       string
	Table       string
	ParentRef   string
	ValueColumn string
	IndexColumn string
}

// Collection is the full mapping rule set for one primary-store collection.
type Collection struct {
	Name        string
	Table       string
	Fields      []FieldRule
	Flatten     []FlattenRule
	Children    []ChildRule
	Junctions   []JunctionRule
	ForeignKeys map[string]string
}

// Registry is the configured allow-list of mirrored collections.
// Collections absent from the registry are intentionally not mirrored.
type Registry struct {
	collections map[string]Collection
}

// NewRegistry builds a registry from the given collection rule sets.
func NewRegistry(cols ...Collection) *Registry {
	m := make(map[string]Collection, len(cols))
	for _, c := range cols {
		m[c.Name] = c
	}
	return &Registry{collections: m}
}

// Lookup returns the rule set for a collection name.
func (r *Registry) Lookup(name string) (Collection, bool) {
	c, ok := r.collections[name]
	return c, ok
}

// Names returns the registered collection names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for n := range r.collections {
		names = append(names, n)
	}
	return names
}

// DefaultRegistry returns the TODO backend's collection→table contract:
// users → postgres_users, tasks → postgres_tasks (labels junction,
// deferred-details child), and so on.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Collection{
			Name:  "users",
			Table: "postgres_users",
			Fields: []FieldRule{
				{Field: "google_id", Column: "google_id", Coerce: CoerceString},
				{Field: "email_id", Column: "email_id", Coerce: CoerceString},
				{Field: "name", Column: "name", Coerce: CoerceString},
				{Field: "picture", Column: "picture", Coerce: CoerceString},
				{Field: "created_at", Column: "created_at", Coerce: CoerceTime},
				{Field: "updated_at", Column: "updated_at", Coerce: CoerceTime},
			},
		},
		Collection{
			Name:  "tasks",
			Table: "postgres_tasks",
			Fields: []FieldRule{
				{Field: "displayId", Column: "display_id", Coerce: CoerceString},
				{Field: "title", Column: "title", Coerce: CoerceString},
				{Field: "description", Column: "description", Coerce: CoerceString},
				{Field: "priority", Column: "priority", Coerce: CoerceNumber},
				{Field: "status", Column: "status", Coerce: CoerceString},
				{Field: "isAcknowledged", Column: "is_acknowledged", Coerce: CoerceBool},
				{Field: "isDeleted", Column: "is_deleted", Coerce: CoerceBool},
				{Field: "startedAt", Column: "started_at", Coerce: CoerceTime},
				{Field: "dueAt", Column: "due_at", Coerce: CoerceTime},
				{Field: "createdAt", Column: "created_at", Coerce: CoerceTime},
				{Field: "updatedAt", Column: "updated_at", Coerce: CoerceTime},
				{Field: "createdBy", Column: "created_by", Coerce: CoerceRef},
				{Field: "updatedBy", Column: "updated_by", Coerce: CoerceRef},
			},
			Junctions: []JunctionRule{
				{
					Field:       "labels",
					Table:       "postgres_task_labels",
					ParentRef:   "task_doc_id",
					ValueColumn: "label_doc_id",
					IndexColumn: "position",
				},
			},
			Children: []ChildRule{
				{
					Field:     "deferredDetails",
					Table:     "postgres_deferred_details",
					ParentRef: "task_doc_id",
					Fields: []FieldRule{
						{Field: "deferredAt", Column: "deferred_at", Coerce: CoerceTime},
						{Field: "deferredTill", Column: "deferred_till", Coerce: CoerceTime},
						{Field: "deferredBy", Column: "deferred_by", Coerce: CoerceRef},
					},
				},
			},
			ForeignKeys: map[string]string{
				"created_by": "users",
				"updated_by": "users",
			},
		},
		Collection{
			Name:  "teams",
			Table: "postgres_teams",
			Fields: []FieldRule{
				{Field: "name", Column: "name", Coerce: CoerceString},
				{Field: "description", Column: "description", Coerce: CoerceString},
				{Field: "invite_code", Column: "invite_code", Coerce: CoerceString},
				{Field: "poc_id", Column: "poc_doc_id", Coerce: CoerceRef},
				{Field: "is_deleted", Column: "is_deleted", Coerce: CoerceBool},
				{Field: "created_by", Column: "created_by", Coerce: CoerceRef},
				{Field: "updated_by", Column: "updated_by", Coerce: CoerceRef},
				{Field: "created_at", Column: "created_at", Coerce: CoerceTime},
				{Field: "updated_at", Column: "updated_at", Coerce: CoerceTime},
			},
			ForeignKeys: map[string]string{"poc_doc_id": "users"},
		},
		Collection{
			Name:  "labels",
			Table: "postgres_labels",
			Fields: []FieldRule{
				{Field: "name", Column: "name", Coerce: CoerceString},
				{Field: "color", Column: "color", Coerce: CoerceString},
				{Field: "description", Column: "description", Coerce: CoerceString},
				{Field: "created_at", Column: "created_at", Coerce: CoerceTime},
				{Field: "updated_at", Column: "updated_at", Coerce: CoerceTime},
			},
		},
		Collection{
			Name:  "roles",
			Table: "postgres_roles",
			Fields: []FieldRule{
				{Field: "name", Column: "name", Coerce: CoerceString},
				{Field: "description", Column: "description", Coerce: CoerceString},
				{Field: "permissions", Column: "permissions", Coerce: CoerceJSON},
				{Field: "created_at", Column: "created_at", Coerce: CoerceTime},
				{Field: "updated_at", Column: "updated_at", Coerce: CoerceTime},
			},
		},
		Collection{
			Name:  "task_assignments",
			Table: "postgres_task_assignments",
			Fields: []FieldRule{
				{Field: "task_id", Column: "task_doc_id", Coerce: CoerceRef},
				{Field: "user_id", Column: "user_doc_id", Coerce: CoerceRef},
				{Field: "team_id", Column: "team_doc_id", Coerce: CoerceRef},
				{Field: "status", Column: "status", Coerce: CoerceString},
				{Field: "assigned_at", Column: "assigned_at", Coerce: CoerceTime},
				{Field: "started_at", Column: "started_at", Coerce: CoerceTime},
				{Field: "completed_at", Column: "completed_at", Coerce: CoerceTime},
				{Field: "assigned_by", Column: "assigned_by", Coerce: CoerceRef},
				{Field: "updated_by", Column: "updated_by", Coerce: CoerceRef},
				{Field: "created_at", Column: "created_at", Coerce: CoerceTime},
				{Field: "updated_at", Column: "updated_at", Coerce: CoerceTime},
			},
			ForeignKeys: map[string]string{
				"task_doc_id": "tasks",
				"user_doc_id": "users",
				"team_doc_id": "teams",
			},
		},
		Collection{
			Name:  "watchlists",
			Table: "postgres_watchlists",
			Fields: []FieldRule{
				{Field: "name", Column: "name", Coerce: CoerceString},
				{Field: "description", Column: "description", Coerce: CoerceString},
				{Field: "user_id", Column: "user_doc_id", Coerce: CoerceRef},
				{Field: "created_by", Column: "created_by", Coerce: CoerceRef},
				{Field: "updated_by", Column: "updated_by", Coerce: CoerceRef},
				{Field: "created_at", Column: "created_at", Coerce: CoerceTime},
				{Field: "updated_at", Column: "updated_at", Coerce: CoerceTime},
			},
			ForeignKeys: map[string]string{"user_doc_id": "users"},
		},
	)
}
