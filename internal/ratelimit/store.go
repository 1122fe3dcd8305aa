package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned by Store implementations when the backing
// store cannot be reached within the operation timeout. The gate resolves it
// via the configured fail-open/fail-closed policy; it is never surfaced to
// end users.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Store is the atomic key-value backend shared by all gate instances.
//
// The two increment operations must be single atomic round trips against the
// backing store: without that, two concurrent requests can both observe a
// just-created counter before its expiry is attached and leave it
// non-expiring. The Redis implementation uses server-side scripts; the
// in-memory implementation holds a single lock.
type Store interface {
	// IncrWindow increments key and, only when this increment creates the
	// key, sets its expiry to ttl. Returns the new value and the remaining
	// lifetime of the key.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)

	// IncrRearm increments key and unconditionally resets its expiry to ttl
	// (sliding re-arm: the record's clock restarts on every increment).
	IncrRearm(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// GetCount returns the current counter value and its remaining lifetime.
	// ok is false when the key does not exist.
	GetCount(ctx context.Context, key string) (n int64, ttl time.Duration, ok bool, err error)

	// SetFlag writes a marker key. ttl <= 0 means no expiry.
	SetFlag(ctx context.Context, key string, ttl time.Duration) error

	// FlagTTL reports whether key exists and its remaining lifetime
	// (NoExpiry when the key has no expiry set).
	FlagTTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// IndexAdd/IndexRemove/IndexMembers maintain a set of members under an
	// index key. The index is a secondary structure: it may reference
	// primary records that have already expired.
	IndexAdd(ctx context.Context, index, member string) error
	IndexRemove(ctx context.Context, index, member string) error
	IndexMembers(ctx context.Context, index string) ([]string, error)

	// Ping reports backend reachability; feeds readiness and the
	// store-enabled flag.
	Ping(ctx context.Context) error
}
