package runway

import "fmt"

// Record is one immutable snapshot of a logical record. Mutations go
// through Set/SetAll, which return a new value and leave the receiver
// untouched. A Record gains a version id only when the store persists it.
type Record struct {
	schema *Schema
	fields map[string]any

	// Deleted marks the snapshot as a soft-delete tombstone. It is a
	// system flag, not a schema field, and is set by the store and the
	// sync engine rather than by Set.
	Deleted bool
}

// Type returns the record's class tag (the schema name).
func (r Record) Type() string {
	if r.schema == nil {
		return ""
	}
	return r.schema.name
}

// Get returns the value of a field, or nil if the field is absent.
func (r Record) Get(name string) any { return r.fields[name] }

// VersionID returns the version id assigned at persistence time, or ""
// for a record that has not been persisted.
func (r Record) VersionID() string {
	v, _ := r.fields[FieldVersionID].(string)
	return v
}

// BusinessKey returns the value of the business-key field.
func (r Record) BusinessKey() any {
	if r.schema == nil {
		return nil
	}
	return r.fields[r.schema.businessKey]
}

// Fields returns a copy of all field values.
func (r Record) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Set returns a copy of the record with one field changed and updateTime
// stamped to now. Prohibited fields (the business key, class_tag,
// createTime, version_id and any schema-declared extras) are rejected.
func (r Record) Set(name string, value any) (Record, error) {
	return r.SetAll(map[string]any{name: value})
}

// SetAll applies a patch of field values, stamping updateTime once.
func (r Record) SetAll(patch map[string]any) (Record, error) {
	if r.schema == nil {
		return Record{}, ErrUnknownType
	}
	next := r.copy()
	for name, v := range patch {
		if _, bad := r.schema.prohibited[name]; bad {
			return Record{}, fmt.Errorf("%q: %w", name, ErrProhibitedField)
		}
		kind, ok := r.schema.kinds[name]
		if !ok {
			return Record{}, fmt.Errorf("%q: %w", name, ErrUnknownField)
		}
		cv, err := coerceValue(kind, v)
		if err != nil {
			return Record{}, fmt.Errorf("%q: %w", name, err)
		}
		next.fields[name] = cv
	}
	next.fields[FieldUpdateTime] = timeNow().Unix()
	return next, nil
}

// WithVersionID returns a copy of the record carrying the given version
// id. The store calls this when persisting a new version; application
// code normally has no reason to.
func (r Record) WithVersionID(id string) Record {
	next := r.copy()
	next.fields[FieldVersionID] = id
	return next
}

func (r Record) withDeleted(deleted bool) Record {
	next := r.copy()
	next.Deleted = deleted
	return next
}

func (r Record) copy() Record {
	fields := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		fields[k] = v
	}
	return Record{schema: r.schema, fields: fields, Deleted: r.Deleted}
}
