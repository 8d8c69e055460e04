// Package runway is an offline-first, append-only versioned record store
// backed by SQLite, designed to work without connectivity and reconcile
// later with a shared remote object store.
//
// A record type is declared once with Define, registered with a Store, and
// from then on every save of a record inserts a new immutable row carrying
// a fresh version id. The "current" state of a record is the newest
// non-deleted row for its business key, scoped to the active tenant.
// Deletes are soft: they append a row flagged deleted rather than removing
// anything.
//
// The companion package syncer pushes locally unsynced versions to a
// remote object store and pulls remotely created versions back in, keyed
// by version id so the merge is idempotent.
package runway
