// Package remote declares the contract the synchronization engine needs
// from a remote object store: batched save, tenant-scoped querying and
// server time. The wire protocol behind it is the implementation's own
// business; the engine treats objects as opaque field maps.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Object is one remote object: field name to value. The engine adds the
// tenant id under "user_id" and a permission grant under "ACL" before
// pushing.
type Object map[string]any

// ACL is a read/write permission grant attached to pushed objects.
type ACL struct {
	Read  []string `json:"read"`
	Write []string `json:"write"`
}

// RestrictTo grants read and write to a single tenant and nobody else.
func RestrictTo(userID string) ACL {
	return ACL{Read: []string{userID}, Write: []string{userID}}
}

// Query selects a tenant's objects modified after a server-side
// timestamp, with single-column ordering.
type Query struct {
	EqualTo       map[string]any
	ModifiedAfter int64
	OrderBy       string
}

// Client is the remote object-store collaborator.
type Client interface {
	// SaveAll persists a batch of objects of one class and returns the
	// saved objects, possibly augmented with server-assigned metadata.
	SaveAll(ctx context.Context, class string, objects []Object) ([]Object, error)

	// Query returns the objects of a class matching q.
	Query(ctx context.Context, class string, q Query) ([]Object, error)

	// ServerTime returns the store's current time in seconds since epoch.
	ServerTime(ctx context.Context) (int64, error)
}

// Error is a remote failure carrying an optional machine-readable code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// CodeConnectionFailed marks a transient connectivity failure. The sync
// engine treats it as expected and retries without logging.
const CodeConnectionFailed = 100

// IsConnectionFailed reports whether err carries CodeConnectionFailed.
func IsConnectionFailed(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == CodeConnectionFailed
}
