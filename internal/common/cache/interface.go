package cache

import (
	"context"
	"time"
)

// Cache defines the subset of Redis the judge relies on.
// Multi-key state changes go through ScriptOps so they stay atomic.
type Cache interface {
	BasicOps
	HashOps
	ZSetOps
	ListOps
	ScriptOps

	Ping(ctx context.Context) error
	Close() error
}

// BasicOps defines string key operations.
type BasicOps interface {
	// Get returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// HashOps defines hash operations.
type HashOps interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// ZMember is a sorted set entry.
type ZMember struct {
	Member string
	Score  float64
}

// ZSetOps defines sorted set operations.
type ZSetOps interface {
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
}

// ListOps defines list operations.
type ListOps interface {
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// ScriptOps runs server-side Lua.
type ScriptOps interface {
	// Eval returns (nil, nil) when the script returns a Redis nil.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}
