// Package session owns the single live Instagram session: a mutex-guarded
// login workflow, a lock-free reset for error-handling paths, and pluggable
// persistence for the client's session blob.
package session

import (
	"context"
	"errors"
)

// ErrNoSession is returned by a Store when no blob exists for the given
// identity. The manager treats it as "perform a fresh login", not a fault.
var ErrNoSession = errors.New("no persisted session")

// Store persists the opaque session blob the Instagram client exports after
// a successful login. Blobs are keyed by an identity hash derived from the
// login identifier, so one deployment can hold sessions for several
// accounts side by side.
type Store interface {
	// Load returns the blob stored for id, or ErrNoSession.
	Load(ctx context.Context, id string) ([]byte, error)

	// Save stores the blob for id, overwriting any previous one.
	Save(ctx context.Context, id string, blob []byte) error
}
