// Package store is the TTL key-value store behind every piece of transient
// dispatch state: device queues, online flags, instruction status keys,
// retry counters and soft locks.
//
// Only atomic primitives are exposed. Callers never read-modify-write a key
// themselves; anything that must be atomic is a single Store call.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNil is returned by Get when the key does not exist or has expired.
	ErrNil = errors.New("store: key not found")
	// ErrUnavailable wraps every failure of the backing store. It marks an
	// infrastructure problem that the caller may retry.
	ErrUnavailable = errors.New("store: unavailable")
)

// TransitionResult is the outcome of an atomic status transition.
type TransitionResult int

const (
	// TransitionMissing means the key does not exist.
	TransitionMissing TransitionResult = iota
	// TransitionTerminal means the current value is terminal; nothing was written.
	TransitionTerminal
	// TransitionApplied means the new value was written.
	TransitionApplied
)

func (r TransitionResult) String() string {
	switch r {
	case TransitionMissing:
		return "missing"
	case TransitionTerminal:
		return "terminal"
	case TransitionApplied:
		return "applied"
	default:
		return "unknown"
	}
}

// Subscription delivers messages published on one channel.
type Subscription interface {
	C() <-chan string
	Close() error
}

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set writes value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// IncrWithTTL increments a counter and sets ttl when the counter is created.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// PushRanked inserts value into the list so that ranks are non-increasing
	// from head to tail; among equal ranks insertion order is kept.
	PushRanked(ctx context.Context, key string, rank int64, value string) error
	// PopN atomically removes and returns up to n values from the head.
	PopN(ctx context.Context, key string, n int) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	// LRange returns values without removing them.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// RPushCapped appends value and trims the list to the newest max entries.
	RPushCapped(ctx context.Context, key, value string, max int64) error

	// Transition atomically replaces the value of key unless it is missing or
	// equal to one of terminal. A ttl > 0 resets the expiry, otherwise the
	// remaining TTL is preserved. The previous value is returned when present.
	Transition(ctx context.Context, key, value string, ttl time.Duration, terminal []string) (TransitionResult, string, error)

	// AcquireLock sets key to token if absent. ReleaseLock deletes it only
	// while it still holds token.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error

	Publish(ctx context.Context, channel, message string) error
	// Subscribe returns once the subscription is active.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}
