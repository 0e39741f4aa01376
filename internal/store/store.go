// Package store is the client side of the shared coordination store. All
// room, key and session state lives behind this interface so any number of
// stateless server processes can serve the same room; nothing in this
// process is the source of truth.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key doesn't exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Subscription is a live pub/sub channel attachment. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Subscription interface {
	// Messages yields raw published payloads until Close or context end.
	Messages() <-chan string
	Close() error
}

// Store is the coordination-store contract. Implementations must be safe
// for concurrent use; single-key operations are atomic.
type Store interface {
	// Get retrieves a value, ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores only if the key is absent; reports whether it stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes keys; absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Expire refreshes a key's TTL; reports whether the key existed.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ScanPrefix returns all keys starting with prefix. Order unspecified.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Incr atomically increments an integer key, creating it at 0 first.
	Incr(ctx context.Context, key string) (int64, error)

	// Decr atomically decrements an integer key.
	Decr(ctx context.Context, key string) (int64, error)

	// ZAddNX inserts member with score into a sorted set only if the member
	// is not already present (idempotent insertion keeps FIFO order stable).
	ZAddNX(ctx context.Context, key, member string, score float64) error

	// ZRem removes a member from a sorted set.
	ZRem(ctx context.Context, key, member string) error

	// ZRange returns members ordered by ascending score.
	ZRange(ctx context.Context, key string) ([]string, error)

	// AppendPublish appends value to the bounded list at bufKey (trimmed to
	// the newest maxLen entries, TTL refreshed) and publishes value on
	// channel, as a single atomic step. This is what keeps the reconnection
	// buffer consistent with what subscribers saw.
	AppendPublish(ctx context.Context, bufKey, channel, value string, maxLen int64, ttl time.Duration) error

	// ListRange returns the full bounded list, oldest first.
	ListRange(ctx context.Context, key string) ([]string, error)

	// Publish sends a payload to a channel without touching any buffer.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe attaches to a channel. The subscription ends when ctx is
	// done or Close is called.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close releases client resources.
	Close() error
}
