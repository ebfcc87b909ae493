package session

import (
	"context"
	"time"
)

// Backend is the remote key-value store a [Repository] persists sessions in.
//
// Implementations must be safe for concurrent use. Every method is a single
// round trip; the repository composes them into its save and delete
// protocols and performs no retries of its own.
//
// TTL follows the Redis convention: a negative duration of -1 means the key
// exists without an expiry and -2 means the key does not exist.
type Backend interface {
	// GetAllFields returns every field of the hash at key. A missing key
	// yields an empty map and no error.
	GetAllFields(ctx context.Context, key string) (map[string]string, error)
	SetFields(ctx context.Context, key string, fields map[string]string) error
	DeleteFields(ctx context.Context, key string, fields ...string) error
	DeleteKey(ctx context.Context, keys ...string) error
	// RenameKey moves oldKey to newKey, keeping its TTL. It returns
	// ErrNoSuchKey when oldKey does not exist.
	RenameKey(ctx context.Context, oldKey, newKey string) error
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
	RemoveTTL(ctx context.Context, key string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	// AppendEmpty appends an empty string to key, creating it when absent.
	AppendEmpty(ctx context.Context, key string) error

	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	SortedSetAdd(ctx context.Context, key string, score float64, member string) error
	SortedSetRemove(ctx context.Context, key, member string) error
	// SortedSetRangeByScore returns up to count members whose score lies in
	// [minScore, maxScore], lowest score first, skipping the first offset.
	SortedSetRangeByScore(ctx context.Context, key string, maxScore, minScore float64, offset, count int64) ([]string, error)

	Exists(ctx context.Context, key string) (bool, error)
}

const (
	ttlNoExpiry   time.Duration = -1
	ttlKeyMissing time.Duration = -2
)
