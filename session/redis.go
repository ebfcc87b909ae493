package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements [Backend] on a Redis deployment. Any
// redis.UniversalClient works: a single node, a Sentinel failover client or
// a cluster client.
//
// On a cluster, RenameKey requires both keys to hash to the same slot. Use a
// namespace with a hash tag (for example "{gosession}:") when running
// against Redis Cluster.
type RedisBackend struct {
	redis redis.UniversalClient
}

// NewRedisBackend wraps client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{redis: client}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func (b *RedisBackend) GetAllFields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := b.redis.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]string{}, nil
		}
		return nil, unavailable(err)
	}
	return fields, nil
}

func (b *RedisBackend) SetFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := b.redis.HSet(ctx, key, fields).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) DeleteFields(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := b.redis.HDel(ctx, key, fields...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) DeleteKey(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	// Separate DELs keep the call valid on a cluster, where a multi-key DEL
	// must stay within one slot.
	_, err := b.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) RenameKey(ctx context.Context, oldKey, newKey string) error {
	err := b.redis.Rename(ctx, oldKey, newKey).Err()
	if err == nil {
		return nil
	}
	if isNoSuchKey(err) {
		return ErrNoSuchKey
	}
	return unavailable(err)
}

func isNoSuchKey(err error) bool {
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return false
	}
	return strings.Contains(strings.ToLower(rerr.Error()), "no such key")
}

func (b *RedisBackend) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := b.redis.PExpire(ctx, key, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) RemoveTTL(ctx context.Context, key string) error {
	if err := b.redis.Persist(ctx, key).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := b.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	// go-redis reports the -1/-2 sentinels unscaled, matching Backend.
	return ttl, nil
}

func (b *RedisBackend) AppendEmpty(ctx context.Context, key string) error {
	if err := b.redis.Append(ctx, key, "").Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) SetAdd(ctx context.Context, key, member string) error {
	if err := b.redis.SAdd(ctx, key, member).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) SetRemove(ctx context.Context, key, member string) error {
	if err := b.redis.SRem(ctx, key, member).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := b.redis.SMembers(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, unavailable(err)
	}
	return members, nil
}

func (b *RedisBackend) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	if err := b.redis.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) SortedSetRemove(ctx context.Context, key, member string) error {
	if err := b.redis.ZRem(ctx, key, member).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (b *RedisBackend) SortedSetRangeByScore(ctx context.Context, key string, maxScore, minScore float64, offset, count int64) ([]string, error) {
	members, err := b.redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    formatScore(minScore),
		Max:    formatScore(maxScore),
		Offset: offset,
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, unavailable(err)
	}
	return members, nil
}

func formatScore(score float64) string {
	switch {
	case math.IsInf(score, -1):
		return "-inf"
	case math.IsInf(score, 1):
		return "+inf"
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (b *RedisBackend) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := b.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}
