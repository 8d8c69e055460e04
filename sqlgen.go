package runway

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Statements are rendered as full SQL text with formatted literals, the
// same way the schema drives column types. Identifiers are validated at
// Define time, values are escaped here.

func quoteText(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// formatValue renders a field value as a SQL literal. nil renders the
// kind's default.
func formatValue(kind Kind, v any) (string, error) {
	if v == nil {
		return defaultLiteral(kind), nil
	}
	switch kind {
	case KindText:
		t, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("text field holds %T: %w", v, ErrBadValue)
		}
		return quoteText(t), nil
	case KindNumber:
		n, err := coerceValue(KindNumber, v)
		if err != nil {
			return "", fmt.Errorf("number field holds %T: %w", v, err)
		}
		return strconv.FormatInt(n.(int64), 10), nil
	case KindJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encoding json field: %w", err)
		}
		return quoteText(string(b)), nil
	}
	return "", ErrBadValue
}

func defaultLiteral(kind Kind) string {
	if kind == KindNumber {
		return "0"
	}
	return "''"
}

func columnType(kind Kind) string {
	if kind == KindNumber {
		return "INTEGER"
	}
	return "TEXT"
}

// tableColumns lists the schema-derived columns of the physical table, in
// declaration order. class_tag is not stored: it is implied by the table.
func tableColumns(s *Schema) []Field {
	cols := make([]Field, 0, len(s.fields))
	for _, f := range s.fields {
		if f.Name == FieldClassTag {
			continue
		}
		cols = append(cols, f)
	}
	return cols
}

func createTableSQL(s *Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", s.name)
	fmt.Fprintf(&b, "%s INTEGER PRIMARY KEY AUTOINCREMENT", colID)
	for _, f := range tableColumns(s) {
		fmt.Fprintf(&b, ", %s %s DEFAULT %s", f.Name, columnType(f.Kind), defaultLiteral(f.Kind))
	}
	fmt.Fprintf(&b, ", %s INTEGER DEFAULT 0", colDeleted)
	fmt.Fprintf(&b, ", %s INTEGER DEFAULT 0", colSynced)
	fmt.Fprintf(&b, ", %s TEXT DEFAULT ''", colUserID)
	fmt.Fprintf(&b, ", UNIQUE (%s, %s))", s.businessKey, FieldVersionID)
	return b.String()
}

func createIndexSQL(s *Schema) []string {
	cols := []string{FieldUpdateTime, s.businessKey, colDeleted, colSynced}
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", s.name, c, s.name, c))
	}
	return out
}

// insertSQL renders one batched INSERT for any number of records. Fields
// a record does not carry fall back to the column default.
func insertSQL(s *Schema, records []Record, userID string, synced bool) (string, error) {
	cols := tableColumns(s)
	names := make([]string, 0, len(cols)+3)
	for _, f := range cols {
		names = append(names, f.Name)
	}
	names = append(names, colDeleted, colSynced, colUserID)

	syncedLit := "0"
	if synced {
		syncedLit = "1"
	}

	var rows []string
	for _, rec := range records {
		vals := make([]string, 0, len(names))
		for _, f := range cols {
			lit, err := formatValue(f.Kind, rec.Get(f.Name))
			if err != nil {
				return "", fmt.Errorf("field %q: %w", f.Name, err)
			}
			vals = append(vals, lit)
		}
		deletedLit := "0"
		if rec.Deleted {
			deletedLit = "1"
		}
		vals = append(vals, deletedLit, syncedLit, quoteText(userID))
		rows = append(rows, "("+strings.Join(vals, ", ")+")")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		s.name, strings.Join(names, ", "), strings.Join(rows, ", ")), nil
}

// Filter selects records by equality over schema fields, with optional
// single-column ordering.
type Filter struct {
	Eq      map[string]any
	OrderBy string
	Desc    bool
}

// findSQL resolves the current version per business key: the row with the
// greatest _id among all of the tenant's rows for that key, kept only if
// that winning row is not a tombstone. The deleted predicate is applied
// after the max so a tombstone hides its whole history.
func findSQL(s *Schema, f Filter, userID string) (string, error) {
	proj := make([]string, 0, len(s.fields)+2)
	for _, c := range tableColumns(s) {
		proj = append(proj, c.Name)
	}
	proj = append(proj, colDeleted, fmt.Sprintf("max(%s) AS %s", colID, colID))

	preds := []string{fmt.Sprintf("%s = %s", colUserID, quoteText(userID))}
	names := make([]string, 0, len(f.Eq))
	for name := range f.Eq {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		kind, ok := s.kinds[name]
		if !ok {
			return "", fmt.Errorf("%q: %w", name, ErrUnknownField)
		}
		lit, err := formatValue(kind, f.Eq[name])
		if err != nil {
			return "", fmt.Errorf("filter %q: %w", name, err)
		}
		preds = append(preds, fmt.Sprintf("%s = %s", name, lit))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM (SELECT %s FROM %s WHERE %s GROUP BY %s) WHERE %s = 0",
		strings.Join(proj, ", "), s.name, strings.Join(preds, " AND "), s.businessKey, colDeleted)

	if f.OrderBy != "" {
		if _, ok := s.kinds[f.OrderBy]; !ok {
			return "", fmt.Errorf("orderBy %q: %w", f.OrderBy, ErrUnknownField)
		}
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", f.OrderBy, dir)
	}
	return b.String(), nil
}

// existsSQL matches any row for the business key, tombstones included.
func existsSQL(s *Schema, keyValue any, userID string) (string, error) {
	lit, err := formatValue(s.kinds[s.businessKey], keyValue)
	if err != nil {
		return "", fmt.Errorf("business key: %w", err)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s LIMIT 1",
		colID, s.name, s.businessKey, lit, colUserID, quoteText(userID)), nil
}

func markSyncedSQL(s *Schema, versionIDs []string) string {
	quoted := make([]string, 0, len(versionIDs))
	for _, id := range versionIDs {
		quoted = append(quoted, quoteText(id))
	}
	return fmt.Sprintf("UPDATE %s SET %s = 1 WHERE %s IN (%s)",
		s.name, colSynced, FieldVersionID, strings.Join(quoted, ", "))
}
