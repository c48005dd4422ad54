// Package kv provides a small keyed store with per-key expiry. It backs the
// login rate limiter counters and the CSRF token entries.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("kv store unavailable")

// Store is a keyed store with TTL semantics. Every operation touches a
// single key; there are no multi-key transactions.
type Store interface {
	// Incr atomically increments the counter stored at key. The first
	// increment of a window (no entry, or an expired one) starts the count
	// at 1 and sets the expiry to now+ttl. Later increments keep the
	// existing expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error)

	// Set stores value at key, overwriting any prior value, expiring after ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value at key. Expired entries are reported absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteExpired evicts all expired entries and returns how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

// Clock returns the current time. Stores accept one so tests can move time.
type Clock func() time.Time
