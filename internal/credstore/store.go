// Package credstore persists session credentials as an opaque durable
// key/value map. It is a leaf package: the session manager stores its
// record here, and the one-time legacy key migration runs here at open so
// steady-state reads never see old key shapes.
package credstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("credstore: key not found")

// Store is a durable string map scoped to the local machine/user profile.
// Implementations must be safe for concurrent in-process callers.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
}

// Well-known keys. The session record is a single JSON value; the schema
// key records that legacy key migration has run.
const (
	KeySession       = "session/current"
	KeySchemaVersion = "schema/version"
)

// SchemaVersion is the current credential layout version.
const SchemaVersion = "2"
