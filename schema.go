package runway

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Kind is the value kind of a schema field. It determines both the SQL
// column type and how values are marshaled in and out of the database.
type Kind int

const (
	// KindText maps to a TEXT column.
	KindText Kind = iota
	// KindNumber maps to an INTEGER column; values are int64 seconds,
	// counters and the like. Floats are accepted only when integral.
	KindNumber
	// KindJSON maps to a TEXT column holding a JSON encoding of the value.
	KindJSON
)

// Field names injected into every schema.
const (
	FieldClassTag   = "class_tag"
	FieldVersionID  = "version_id"
	FieldCreateTime = "createTime"
	FieldUpdateTime = "updateTime"
)

// Physical columns owned by the store, never declared as schema fields.
const (
	colID      = "_id"
	colDeleted = "deleted"
	colSynced  = "synced"
	colUserID  = "user_id"
)

// Field declares one schema field.
type Field struct {
	Name string
	Kind Kind
}

// DefineOptions configures Define.
type DefineOptions struct {
	// BusinessKey names the field that identifies a logical record across
	// all its versions. Unique per tenant, immutable after creation.
	// Required.
	BusinessKey string

	// ProhibitedUpdateKeys lists additional fields that Record.Set must
	// reject. The business key, class_tag, createTime and version_id are
	// always prohibited.
	ProhibitedUpdateKeys []string
}

// Schema describes a registered record type: its name, its ordered fields
// and the business-key field. Schemas are immutable once defined.
type Schema struct {
	name        string
	fields      []Field
	kinds       map[string]Kind
	businessKey string
	prohibited  map[string]struct{}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Define declares a record type. The schema name becomes the physical
// table name, so both it and all field names must be plain identifiers.
// The bookkeeping fields createTime, updateTime, class_tag and version_id
// are injected if not declared.
func Define(name string, fields []Field, opts DefineOptions) (*Schema, error) {
	if !identRe.MatchString(name) {
		return nil, fmt.Errorf("schema %q: %w", name, ErrBadIdentifier)
	}
	if opts.BusinessKey == "" {
		return nil, fmt.Errorf("schema %q: %w", name, ErrNoBusinessKey)
	}

	s := &Schema{
		name:        name,
		kinds:       make(map[string]Kind),
		businessKey: opts.BusinessKey,
		prohibited:  make(map[string]struct{}),
	}

	reserved := map[string]struct{}{colID: {}, colDeleted: {}, colSynced: {}, colUserID: {}}
	for _, f := range fields {
		if !identRe.MatchString(f.Name) {
			return nil, fmt.Errorf("field %q: %w", f.Name, ErrBadIdentifier)
		}
		if _, ok := reserved[f.Name]; ok {
			return nil, fmt.Errorf("field %q: %w", f.Name, ErrReservedField)
		}
		if _, ok := s.kinds[f.Name]; ok {
			return nil, fmt.Errorf("field %q: %w", f.Name, ErrDuplicateField)
		}
		s.fields = append(s.fields, f)
		s.kinds[f.Name] = f.Kind
	}

	injected := []Field{
		{Name: FieldCreateTime, Kind: KindNumber},
		{Name: FieldUpdateTime, Kind: KindNumber},
		{Name: FieldClassTag, Kind: KindText},
		{Name: FieldVersionID, Kind: KindText},
	}
	for _, f := range injected {
		if k, ok := s.kinds[f.Name]; ok {
			if k != f.Kind {
				return nil, fmt.Errorf("field %q must be of the built-in kind: %w", f.Name, ErrBadValue)
			}
			continue
		}
		s.fields = append(s.fields, f)
		s.kinds[f.Name] = f.Kind
	}

	if _, ok := s.kinds[opts.BusinessKey]; !ok {
		return nil, fmt.Errorf("business key %q is not a declared field: %w", opts.BusinessKey, ErrNoBusinessKey)
	}

	for _, k := range opts.ProhibitedUpdateKeys {
		s.prohibited[k] = struct{}{}
	}
	s.prohibited[opts.BusinessKey] = struct{}{}
	s.prohibited[FieldClassTag] = struct{}{}
	s.prohibited[FieldCreateTime] = struct{}{}
	s.prohibited[FieldVersionID] = struct{}{}

	return s, nil
}

// Name returns the schema (and table) name.
func (s *Schema) Name() string { return s.name }

// BusinessKey returns the name of the business-key field.
func (s *Schema) BusinessKey() string { return s.businessKey }

// Definition returns the ordered field-name to kind mapping, including the
// injected bookkeeping fields.
func (s *Schema) Definition() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// New constructs an in-memory Record. Bookkeeping defaults are injected:
// class_tag is the schema name, createTime/updateTime default to the
// current time in seconds, and a business key is generated when absent.
// The record carries no version id until it is persisted.
func (s *Schema) New(values map[string]any) (Record, error) {
	fields := make(map[string]any, len(s.fields))
	for name, v := range values {
		kind, ok := s.kinds[name]
		if !ok {
			return Record{}, fmt.Errorf("%q: %w", name, ErrUnknownField)
		}
		cv, err := coerceValue(kind, v)
		if err != nil {
			return Record{}, fmt.Errorf("%q: %w", name, err)
		}
		fields[name] = cv
	}

	if tag, ok := fields[FieldClassTag]; ok && tag != s.name {
		return Record{}, fmt.Errorf("class_tag %v does not match schema %q: %w", tag, s.name, ErrBadValue)
	}
	fields[FieldClassTag] = s.name

	now := timeNow().Unix()
	if _, ok := fields[FieldCreateTime]; !ok {
		fields[FieldCreateTime] = now
	}
	if _, ok := fields[FieldUpdateTime]; !ok {
		fields[FieldUpdateTime] = now
	}
	if v, ok := fields[s.businessKey]; !ok || v == "" {
		fields[s.businessKey] = uuid.NewString()
	}
	if _, ok := fields[FieldVersionID]; !ok {
		fields[FieldVersionID] = ""
	}

	return Record{schema: s, fields: fields}, nil
}

// coerceValue normalizes a caller-supplied value to the canonical Go
// representation for the field kind.
func coerceValue(kind Kind, v any) (any, error) {
	switch kind {
	case KindText:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		}
		return nil, ErrBadValue
	case KindNumber:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case int32:
			return int64(t), nil
		case float64:
			if t != math.Trunc(t) {
				return nil, ErrBadValue
			}
			return int64(t), nil
		}
		return nil, ErrBadValue
	case KindJSON:
		return v, nil
	}
	return nil, ErrBadValue
}

// timeNow is stubbed in tests.
var timeNow = time.Now
