package cache

import (
	"context"
	"time"
)

// Cache is the key-value store behind run snapshots, session history and rate-limit counters.
type Cache interface {
	BasicOps
	ListOps

	Ping(ctx context.Context) error
	Close() error
}

// BasicOps covers string keys and counters.
type BasicOps interface {
	// Get returns "" and a nil error for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value. A zero ttl keeps the key forever.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// SetNX reports whether the key was created.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// ListOps covers the capped lists used for per-session history.
type ListOps interface {
	LPush(ctx context.Context, key string, values ...interface{}) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}
