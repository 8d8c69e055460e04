package runway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/blisslabs/runway/dbx"
	"github.com/blisslabs/runway/logging"
	"github.com/google/uuid"
)

// Row is a raw result row: column name to scalar, as returned by
// ExecuteSQL.
type Row = map[string]any

// maxConsecutiveErrors is the fatal-wipe threshold: once this many
// statements in a row have failed even after table repair, the local
// database is assumed corrupt beyond recovery.
const maxConsecutiveErrors = 5

// Store is the local versioned record store. It owns one physical table
// per registered schema, translates records to and from SQL, keeps an
// append-only version history per business key and scopes every read and
// write to the active tenant.
type Store struct {
	name    string
	db      dbx.DBTX
	meta    KV
	log     logging.Logger
	restart func()

	mu       sync.Mutex
	schemas  map[string]*Schema
	order    []string
	userID   string
	errCount int

	subMu    sync.Mutex
	subs     map[string][]subscription
	nextSub  int
	notifyWG sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithLogger replaces the default stderr slog logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithRestartHook sets the callback invoked after a fatal local wipe, so
// the hosting application can restart itself. The default only logs.
func WithRestartHook(fn func()) Option {
	return func(s *Store) { s.restart = fn }
}

// New builds a Store over an existing database handle and metadata slot.
// Most callers use Open instead.
func New(name string, db dbx.DBTX, meta KV, opts ...Option) *Store {
	s := &Store{
		name:    name,
		db:      db,
		meta:    meta,
		log:     logging.NewDefault(),
		schemas: make(map[string]*Schema),
		subs:    make(map[string][]subscription),
	}
	for _, o := range opts {
		o(s)
	}
	if s.restart == nil {
		s.restart = func() {
			s.log.Error(context.Background(), "local store wiped, application restart required", "db", s.name)
		}
	}
	return s
}

// Name returns the logical database name.
func (s *Store) Name() string { return s.name }

// SetUserID switches the active tenant. Every read and write from here on
// is scoped to it.
func (s *Store) SetUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

// UserID returns the active tenant.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Metadata exposes the durable key-value slot (sync watermarks live here).
func (s *Store) Metadata() KV { return s.meta }

// Schemas returns the registered schemas in registration order.
func (s *Store) Schemas() []*Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Schema, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.schemas[name])
	}
	return out
}

// Close closes the underlying database handle when it supports closing.
func (s *Store) Close() error {
	if c, ok := s.db.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) schemaFor(name string) (*Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownType)
	}
	return sc, nil
}

func (s *Store) createdKey(table string) string {
	return fmt.Sprintf("runway_%s_%s_created", s.name, table)
}

// RegisterSchema is idempotent: it creates the schema's table and indexes
// unless the durable "created" flag says a previous run already did.
// Creation failures are surfaced, not repaired.
func (s *Store) RegisterSchema(ctx context.Context, sc *Schema) error {
	s.mu.Lock()
	if _, ok := s.schemas[sc.name]; !ok {
		s.schemas[sc.name] = sc
		s.order = append(s.order, sc.name)
	}
	s.mu.Unlock()

	if v, ok, err := s.meta.Get(ctx, s.createdKey(sc.name)); err != nil {
		return err
	} else if ok && v == "1" {
		return nil
	}

	if err := s.createTable(ctx, sc); err != nil {
		return fmt.Errorf("creating table %s: %w", sc.name, err)
	}
	return s.meta.Set(ctx, s.createdKey(sc.name), "1")
}

func (s *Store) createTable(ctx context.Context, sc *Schema) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL(sc)); err != nil {
		return err
	}
	for _, stmt := range createIndexSQL(sc) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveOption adjusts SaveRecords behavior.
type SaveOption func(*saveOptions)

type saveOptions struct {
	keepVersions  bool
	alreadySynced bool
	skipNotify    bool
}

// KeepVersionIDs keeps the records' existing version ids instead of
// assigning fresh ones. Used when merging remotely fetched versions.
func KeepVersionIDs() SaveOption {
	return func(o *saveOptions) { o.keepVersions = true }
}

// MarkSynced inserts the rows already flagged synced, so they are never
// pushed back to the remote store.
func MarkSynced() SaveOption {
	return func(o *saveOptions) { o.alreadySynced = true }
}

// SkipNotify suppresses subscriber notification for this save.
func SkipNotify() SaveOption {
	return func(o *saveOptions) { o.skipNotify = true }
}

// SaveRecords persists records as new versioned rows in one batched
// insert. By default each record gets a fresh version id, starts
// unsynced, and subscribers of the type are notified. Saving an empty
// slice is a no-op.
func (s *Store) SaveRecords(ctx context.Context, typeName string, records []Record, opts ...SaveOption) error {
	if len(records) == 0 {
		return nil
	}
	sc, err := s.schemaFor(typeName)
	if err != nil {
		return err
	}
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	rows := make([]Record, len(records))
	for i, rec := range records {
		if rec.Type() != typeName {
			return fmt.Errorf("record of type %q saved as %q: %w", rec.Type(), typeName, ErrBadValue)
		}
		if o.keepVersions {
			rows[i] = rec
		} else {
			rows[i] = rec.WithVersionID(uuid.NewString())
		}
	}

	stmt, err := insertSQL(sc, rows, s.UserID(), o.alreadySynced)
	if err != nil {
		return err
	}
	if err := s.execRepair(ctx, stmt); err != nil {
		return err
	}
	if !o.skipNotify {
		s.notify(typeName)
	}
	return nil
}

// SaveRecord is the single-record convenience form of SaveRecords.
func (s *Store) SaveRecord(ctx context.Context, typeName string, rec Record, opts ...SaveOption) error {
	return s.SaveRecords(ctx, typeName, []Record{rec}, opts...)
}

// DeleteRecord soft-deletes: it appends a tombstone version for the
// record's business key. The type defaults to the record's own class tag.
func (s *Store) DeleteRecord(ctx context.Context, rec Record, typeName ...string) error {
	name := rec.Type()
	if len(typeName) > 0 && typeName[0] != "" {
		name = typeName[0]
	}
	return s.SaveRecords(ctx, name, []Record{rec.withDeleted(true)})
}

// FindRecords returns the current version of every record of the type
// matching the filter, scoped to the active tenant. Tombstoned records
// are absent.
func (s *Store) FindRecords(ctx context.Context, typeName string, f Filter) ([]Record, error) {
	sc, err := s.schemaFor(typeName)
	if err != nil {
		return nil, err
	}
	stmt, err := findSQL(sc, f, s.UserID())
	if err != nil {
		return nil, err
	}
	rows, err := s.queryRepair(ctx, stmt)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := s.UnpackRow(row, typeName)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindRecord returns the single matching current version, if any.
func (s *Store) FindRecord(ctx context.Context, typeName string, f Filter) (Record, bool, error) {
	records, err := s.FindRecords(ctx, typeName, f)
	if err != nil || len(records) == 0 {
		return Record{}, false, err
	}
	return records[0], true, nil
}

// Exists reports whether any version for the business key exists for the
// active tenant, tombstones included.
func (s *Store) Exists(ctx context.Context, keyValue any, typeName string) (bool, error) {
	sc, err := s.schemaFor(typeName)
	if err != nil {
		return false, err
	}
	stmt, err := existsSQL(sc, keyValue, s.UserID())
	if err != nil {
		return false, err
	}
	rows, err := s.queryRepair(ctx, stmt)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// MarkAsSynced flags the records' version ids as replicated. The synced
// flag is local bookkeeping only and is never transmitted.
func (s *Store) MarkAsSynced(ctx context.Context, typeName string, records []Record) error {
	sc, err := s.schemaFor(typeName)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if id := rec.VersionID(); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return s.execRepair(ctx, markSyncedSQL(sc, ids))
}

// UnpackRow converts a raw row back into a Record, decoding JSON fields
// and coercing scalars per the schema. Columns outside the schema are
// ignored, except deleted, which sets the tombstone flag.
func (s *Store) UnpackRow(row Row, typeName string) (Record, error) {
	sc, err := s.schemaFor(typeName)
	if err != nil {
		return Record{}, err
	}
	fields := make(map[string]any, len(sc.fields))
	for _, f := range sc.fields {
		if f.Name == FieldClassTag {
			continue
		}
		v, err := unpackValue(f.Kind, row[f.Name])
		if err != nil {
			return Record{}, fmt.Errorf("column %q: %w", f.Name, err)
		}
		fields[f.Name] = v
	}
	fields[FieldClassTag] = sc.name

	rec := Record{schema: sc, fields: fields}
	if d, _ := unpackValue(KindNumber, row[colDeleted]); d == int64(1) {
		rec.Deleted = true
	}
	return rec, nil
}

// Clear drops every registered table and resets the "created" flags. A
// full local reset: the next RegisterSchema recreates the tables.
func (s *Store) Clear(ctx context.Context) error {
	drop := func(ctx context.Context, tx dbx.DBTX) error {
		for _, sc := range s.Schemas() {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+sc.name); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if b, ok := s.db.(dbx.Beginner); ok {
		err = dbx.WithTx(ctx, b, nil, drop)
	} else {
		err = drop(ctx, s.db)
	}
	if err != nil {
		return fmt.Errorf("clearing store %s: %w", s.name, err)
	}

	for _, sc := range s.Schemas() {
		if err := s.meta.Delete(ctx, s.createdKey(sc.name)); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteSQL runs one statement under the self-repair policy. SELECTs
// return their rows; other statements return nil rows.
func (s *Store) ExecuteSQL(ctx context.Context, stmt string) ([]Row, error) {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), "SELECT") {
		return s.queryRepair(ctx, stmt)
	}
	return nil, s.execRepair(ctx, stmt)
}

// execRepair runs a write statement: attempt, repair tables on failure,
// retry once. A second failure is logged and counted toward the fatal
// threshold.
func (s *Store) execRepair(ctx context.Context, stmt string) error {
	if _, err := s.db.ExecContext(ctx, stmt); err == nil {
		s.resetErrors()
		return nil
	} else {
		s.log.Warn(ctx, "statement failed, repairing tables", "db", s.name, "error", err)
	}
	s.recreateTables(ctx)
	_, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		s.log.Error(ctx, "statement failed after repair", "db", s.name, "error", err)
		s.countError(ctx)
	}
	return err
}

// queryRepair is execRepair for reads.
func (s *Store) queryRepair(ctx context.Context, stmt string) ([]Row, error) {
	if rows, err := s.query(ctx, stmt); err == nil {
		s.resetErrors()
		return rows, nil
	} else {
		s.log.Warn(ctx, "query failed, repairing tables", "db", s.name, "error", err)
	}
	s.recreateTables(ctx)
	rows, err := s.query(ctx, stmt)
	if err != nil {
		s.log.Error(ctx, "query failed after repair", "db", s.name, "error", err)
		s.countError(ctx)
	}
	return rows, err
}

func (s *Store) query(ctx context.Context, stmt string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[c] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// recreateTables re-runs every registered CREATE TABLE IF NOT EXISTS plus
// indexes. Best effort: a table that cannot be recreated will fail the
// retried statement, which is what gets counted.
func (s *Store) recreateTables(ctx context.Context) {
	for _, sc := range s.Schemas() {
		if err := s.createTable(ctx, sc); err != nil {
			s.log.Error(ctx, "table repair failed", "db", s.name, "table", sc.name, "error", err)
		}
	}
}

func (s *Store) resetErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errCount = 0
}

// countError tracks consecutive post-repair failures and, past the
// threshold, wipes all local state as a last resort.
func (s *Store) countError(ctx context.Context) {
	s.mu.Lock()
	s.errCount++
	fatal := s.errCount > maxConsecutiveErrors
	if fatal {
		s.errCount = 0
	}
	s.mu.Unlock()

	if fatal {
		s.wipe(ctx)
	}
}

// wipe drops every registered table and all metadata, then invokes the
// restart hook.
func (s *Store) wipe(ctx context.Context) {
	s.log.Error(ctx, "too many consecutive storage errors, wiping local store", "db", s.name)
	for _, sc := range s.Schemas() {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sc.name); err != nil {
			s.log.Error(ctx, "wipe: drop failed", "table", sc.name, "error", err)
		}
	}
	if err := s.meta.Clear(ctx); err != nil {
		s.log.Error(ctx, "wipe: metadata clear failed", "error", err)
	}
	s.restart()
}

// unpackValue converts a raw scalar read from SQLite into the canonical
// Go value for the kind. nil yields the kind's zero value.
func unpackValue(kind Kind, raw any) (any, error) {
	switch kind {
	case KindText:
		if raw == nil {
			return "", nil
		}
		t, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("text column holds %T: %w", raw, ErrBadValue)
		}
		return t, nil
	case KindNumber:
		switch t := raw.(type) {
		case nil:
			return int64(0), nil
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case float64:
			return int64(t), nil
		case string:
			var n int64
			if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
				return nil, fmt.Errorf("number column holds %q: %w", t, ErrBadValue)
			}
			return n, nil
		}
		return nil, fmt.Errorf("number column holds %T: %w", raw, ErrBadValue)
	case KindJSON:
		t, _ := raw.(string)
		if t == "" {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal([]byte(t), &v); err != nil {
			return nil, fmt.Errorf("decoding json column: %w", err)
		}
		return v, nil
	}
	return nil, ErrBadValue
}
