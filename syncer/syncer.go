// Package syncer replicates a runway store against a remote object
// store: sync-up pushes locally unsynced versions, sync-down pulls
// remotely created ones. Push rounds coalesce concurrent callers and
// retry forever at a fixed cadence; failures never reach the caller.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/blisslabs/runway"
	"github.com/blisslabs/runway/logging"
	"github.com/blisslabs/runway/remote"
	"golang.org/x/sync/errgroup"
)

// DefaultRetryInterval is how long a failed push round waits before the
// next attempt.
const DefaultRetryInterval = 60 * time.Second

// Syncer drives replication for every schema registered on its store.
// One instance owns the sync-up state machine; SyncDown is stateless and
// may run concurrently with a push round.
type Syncer struct {
	store         *runway.Store
	client        remote.Client
	log           logging.Logger
	retryInterval time.Duration

	mu         sync.Mutex
	syncing    bool
	resync     bool
	done       chan struct{}
	retryTimer *time.Timer
	// ctx of the most recent SyncUp call; follow-up and retry rounds run
	// under it.
	ctx context.Context
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Syncer) { s.retryInterval = d }
}

// WithLogger replaces the default stderr slog logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

func New(store *runway.Store, client remote.Client, opts ...Option) *Syncer {
	s := &Syncer{
		store:         store,
		client:        client,
		log:           logging.NewDefault(),
		retryInterval: DefaultRetryInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncUp pushes every unsynced local version to the remote store. The
// returned channel closes once a push round fully succeeds. Calls made
// while a round is in flight share the outstanding channel and schedule
// one follow-up round, so writes landing mid-round are still pushed.
//
// Failures are absorbed: the engine goes idle, arms a retry at the
// configured cadence and leaves the channel pending. An explicit SyncUp
// during the wait cancels the timer and starts a round right away.
// Follow-up and retry rounds run under the most recent caller's ctx; a
// canceled ctx stops retrying until the next SyncUp call.
func (s *Syncer) SyncUp(ctx context.Context) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	if s.done == nil {
		s.done = make(chan struct{})
	}
	if s.syncing {
		s.resync = true
		return s.done
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.syncing = true
	go s.run(ctx)
	return s.done
}

func (s *Syncer) run(ctx context.Context) {
	err := s.pushAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncing = false

	if err != nil {
		if !remote.IsConnectionFailed(err) {
			s.log.Error(ctx, "sync-up round failed", "error", err)
		}
		if s.ctx.Err() != nil {
			// canceled: stay idle, the outstanding channel stays pending
			return
		}
		if s.resync {
			// a caller asked mid-round: retry now instead of waiting
			s.resync = false
			s.syncing = true
			go s.run(s.ctx)
			return
		}
		s.armRetry()
		return
	}

	if s.resync {
		s.resync = false
		s.syncing = true
		go s.run(s.ctx)
		return
	}
	close(s.done)
	s.done = nil
}

// armRetry schedules the next attempt after a failed round. The engine
// is idle during the wait, so an explicit SyncUp cancels the timer and
// starts immediately. Caller must hold mu.
func (s *Syncer) armRetry() {
	s.retryTimer = time.AfterFunc(s.retryInterval, func() {
		s.mu.Lock()
		if s.syncing || s.retryTimer == nil {
			s.mu.Unlock()
			return
		}
		s.retryTimer = nil
		s.syncing = true
		ctx := s.ctx
		s.mu.Unlock()
		s.run(ctx)
	})
}

// pushAll runs one push round: every registered type concurrently, one
// batched save per type.
func (s *Syncer) pushAll(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, sc := range s.store.Schemas() {
		sc := sc
		eg.Go(func() error { return s.push(ctx, sc) })
	}
	return eg.Wait()
}

func (s *Syncer) push(ctx context.Context, sc *runway.Schema) error {
	rows, err := s.store.ExecuteSQL(ctx, fmt.Sprintf("SELECT * FROM %s WHERE synced = 0", sc.Name()))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	objects := make([]remote.Object, 0, len(rows))
	for _, row := range rows {
		userID, _ := row["user_id"].(string)
		if userID == "" {
			return fmt.Errorf("unsynced %s row has no tenant id", sc.Name())
		}
		rec, err := s.store.UnpackRow(row, sc.Name())
		if err != nil {
			return err
		}
		obj := make(remote.Object, len(rec.Fields())+3)
		for name, v := range rec.Fields() {
			obj[name] = v
		}
		obj["deleted"] = rec.Deleted
		obj["user_id"] = userID
		obj["ACL"] = remote.RestrictTo(userID)
		objects = append(objects, obj)
	}

	saved, err := s.client.SaveAll(ctx, sc.Name(), objects)
	if err != nil {
		return err
	}
	if len(saved) != len(objects) {
		return fmt.Errorf("batched save of %s returned %d of %d objects", sc.Name(), len(saved), len(objects))
	}

	records := make([]runway.Record, 0, len(saved))
	for _, obj := range saved {
		rec, err := s.objectToRecord(sc, obj)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	return s.store.MarkAsSynced(ctx, sc.Name(), records)
}

// SyncDown pulls the tenant's remotely changed objects into the local
// store. Objects whose version id already exists locally are skipped, so
// repeated pulls are idempotent. The server time fetched before the pull
// becomes the next watermark, closing the gap for objects written
// remotely while the pull ran.
func (s *Syncer) SyncDown(ctx context.Context) error {
	serverTime, err := s.client.ServerTime(ctx)
	if err != nil {
		return err
	}
	since, err := s.watermark(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, sc := range s.store.Schemas() {
		sc := sc
		eg.Go(func() error { return s.pull(egCtx, sc, since) })
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return s.saveWatermark(ctx, serverTime)
}

func (s *Syncer) pull(ctx context.Context, sc *runway.Schema, since int64) error {
	var (
		local  []runway.Row
		objs   []remote.Object
		eg, qc = errgroup.WithContext(ctx)
	)
	eg.Go(func() error {
		rows, err := s.store.ExecuteSQL(qc, fmt.Sprintf("SELECT %s FROM %s", runway.FieldVersionID, sc.Name()))
		local = rows
		return err
	})
	eg.Go(func() error {
		fetched, err := s.client.Query(qc, sc.Name(), remote.Query{
			EqualTo:       map[string]any{"user_id": s.store.UserID()},
			ModifiedAfter: since,
			OrderBy:       runway.FieldUpdateTime,
		})
		objs = fetched
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	known := make(map[string]struct{}, len(local))
	for _, row := range local {
		if id, ok := row[runway.FieldVersionID].(string); ok {
			known[id] = struct{}{}
		}
	}

	records := make([]runway.Record, 0, len(objs))
	for _, obj := range objs {
		rec, err := s.objectToRecord(sc, obj)
		if err != nil {
			return err
		}
		if _, ok := known[rec.VersionID()]; ok {
			continue
		}
		records = append(records, rec)
	}
	return s.store.SaveRecords(ctx, sc.Name(), records, runway.KeepVersionIDs(), runway.MarkSynced())
}

// objectToRecord rebuilds a local record from a remote object, keeping
// only schema fields. Remote bookkeeping (objectId, createdAt, updatedAt,
// save timestamps, the ACL) is dropped on the floor.
func (s *Syncer) objectToRecord(sc *runway.Schema, obj remote.Object) (runway.Record, error) {
	values := make(map[string]any)
	for _, f := range sc.Definition() {
		if v, ok := obj[f.Name]; ok {
			values[f.Name] = v
		}
	}
	rec, err := sc.New(values)
	if err != nil {
		return runway.Record{}, fmt.Errorf("converting %s object: %w", sc.Name(), err)
	}
	rec.Deleted = objDeleted(obj)
	return rec, nil
}

func objDeleted(obj remote.Object) bool {
	switch d := obj["deleted"].(type) {
	case bool:
		return d
	case int64:
		return d == 1
	case float64:
		return d == 1
	}
	return false
}

func (s *Syncer) watermarkKey() string {
	return fmt.Sprintf("runway_%s_%s_last_sync_down_time", s.store.Name(), s.store.UserID())
}

// watermark returns the last recorded sync-down time for the active
// tenant, or zero when none was recorded yet.
func (s *Syncer) watermark(ctx context.Context) (int64, error) {
	v, ok, err := s.store.Metadata().Get(ctx, s.watermarkKey())
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sync-down watermark %q: %w", v, err)
	}
	return n, nil
}

func (s *Syncer) saveWatermark(ctx context.Context, t int64) error {
	return s.store.Metadata().Set(ctx, s.watermarkKey(), strconv.FormatInt(t, 10))
}
