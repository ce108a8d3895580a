package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// This abstraction allows switching between different cache implementations
// without changing business logic.
type Cache interface {
	BasicOps
	ListOps
	LockOps
	ScanOps
	PipelineOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key
	// Returns "" without error when the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists checks if one or more keys exist
	// Returns the number of keys that exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr increments the integer value of a key by 1
	Incr(ctx context.Context, key string) (int64, error)
}

// ListOps defines list operations
type ListOps interface {
	// LPush prepends one or more values to a list
	LPush(ctx context.Context, key string, values ...interface{}) error

	// RPush appends one or more values to a list
	RPush(ctx context.Context, key string, values ...interface{}) error

	// LPop removes and returns the first element of a list
	// Returns "" without error when the list is empty
	LPop(ctx context.Context, key string) (string, error)

	// RPop removes and returns the last element of a list
	// Returns "" without error when the list is empty
	RPop(ctx context.Context, key string) (string, error)

	// LRange returns elements from a list by index range
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// LLen returns the length of a list
	LLen(ctx context.Context, key string) (int64, error)

	// LTrim trims a list to the specified range
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// LockOps defines distributed lock operations
type LockOps interface {
	// TryLock attempts to acquire a distributed lock
	// Returns true if lock was acquired, false otherwise
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases a distributed lock
	Unlock(ctx context.Context, key string) error
}

// ScanOps defines key-space iteration operations
type ScanOps interface {
	// Scan iterates keys matching the pattern starting from cursor.
	// A returned cursor of 0 marks the end of the iteration.
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
}

// PipelineOps defines pipeline operations for batching commands
type PipelineOps interface {
	// Pipeline executes multiple commands in a pipeline
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner defines the interface for pipeline operations
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Del(keys ...string) error
	Expire(key string, ttl time.Duration) error
	LPush(key string, values ...interface{}) error
}
