// Package ratelimit implements fixed-window attempt counting for the login
// and password recovery endpoints.
package ratelimit

import (
	"context"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/kv"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before the window
// resets, rounded up to whole seconds and never less than one second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}

	return ((d + time.Second - 1) / time.Second) * time.Second
}

// Limiter counts attempts per key in fixed windows. Counters live in the
// primary store; when it fails the limiter degrades to a process-local
// fallback with the same window semantics. The fallback is not shared
// between instances.
type Limiter struct {
	log      logrus.FieldLogger
	primary  kv.Store
	fallback kv.Store
}

// New creates a Limiter. primary may be nil, in which case only the
// fallback is used.
func New(log logrus.FieldLogger, primary, fallback kv.Store) *Limiter {
	if fallback == nil {
		fallback = kv.NewMemoryStore(nil)
	}

	return &Limiter{
		log:      log.WithField("component", "ratelimit"),
		primary:  primary,
		fallback: fallback,
	}
}

// Check records one attempt for key and reports whether it is within limit
// for the current window.
func (l *Limiter) Check(
	ctx context.Context, key string, limit int, window time.Duration,
) Result {
	count, resetAt, err := l.incr(ctx, key, window)
	if err != nil {
		// Both stores failed. The memory fallback never errors, so this
		// only happens with a custom fallback; allow rather than lock
		// everyone out.
		l.log.WithError(err).WithField("key", key).
			Error("Rate limit counters unavailable")

		return Result{Allowed: true, Limit: limit, Remaining: limit}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Reset clears the counter for key in both stores.
func (l *Limiter) Reset(ctx context.Context, key string) {
	if l.primary != nil {
		if err := l.primary.Delete(ctx, key); err != nil {
			l.log.WithError(err).Debug("Failed to reset primary counter")
		}
	}

	_ = l.fallback.Delete(ctx, key)
}

func (l *Limiter) incr(
	ctx context.Context, key string, window time.Duration,
) (int64, time.Time, error) {
	if l.primary != nil {
		count, resetAt, err := l.primary.Incr(ctx, key, window)
		if err == nil {
			return count, resetAt, nil
		}

		l.log.WithError(err).WithField("key", key).
			Warn("Primary counter store failed, using in-memory fallback")
	}

	return l.fallback.Incr(ctx, key, window)
}

// Purge evicts expired windows from the fallback store. The primary store
// is purged by its owner.
func (l *Limiter) Purge(ctx context.Context) int64 {
	n, _ := l.fallback.DeleteExpired(ctx)

	return n
}
