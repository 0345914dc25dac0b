// Package store defines the shared key-value primitives the bridge layers
// on top of: hashes (connection/task records), lists (per-connection
// replay buffers), key expiry, and pub/sub (cross-worker event fan-out).
// Two implementations exist: redisstore, backed by a real Redis instance,
// and memstore, an in-process implementation used by unit and property
// tests so they don't require a running Redis.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is a sentinel for a missing field or hash. No Store method
// returns it: HGet reports a missing field through its bool result.
var ErrNotFound = errors.New("store: not found")

// Store is the shared-state primitive set every bridge component is built
// on. All methods take ctx first and return promptly on cancellation.
type Store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HKeys(ctx context.Context, key string) ([]string, error)
	HLen(ctx context.Context, key string) (int64, error)
	HExists(ctx context.Context, key, field string) (bool, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Del removes key outright, regardless of whether it holds a hash or
	// a list. Used by housekeeping routines cleaning up whole records
	// rather than individual fields.
	Del(ctx context.Context, key string) error

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// ScanMatch iterates all keys matching pattern using a cursor-based
	// scan (never a blocking full-keyspace listing), invoking fn for each
	// key. fn's error aborts the scan and is returned to the caller.
	ScanMatch(ctx context.Context, pattern string, fn func(key string) error) error
}

// Subscription is a live pub/sub subscription. Callers must call Close
// when done to release the underlying connection.
type Subscription interface {
	Channel() <-chan string
	Close() error
}
