package session

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisBackendTTLSentinels(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniredis(t)
	b := NewRedisBackend(rdb)

	ttl, err := b.TTL(ctx, "missing")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl != ttlKeyMissing {
		t.Fatalf("expected missing sentinel, got %v", ttl)
	}

	if err := b.AppendEmpty(ctx, "k"); err != nil {
		t.Fatalf("append: %v", err)
	}
	ttl, err = b.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl != ttlNoExpiry {
		t.Fatalf("expected no-expiry sentinel, got %v", ttl)
	}

	if err := b.SetTTL(ctx, "k", 90*time.Second); err != nil {
		t.Fatalf("set ttl: %v", err)
	}
	ttl, err = b.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl != 90*time.Second {
		t.Fatalf("expected 90s, got %v", ttl)
	}

	if err := b.RemoveTTL(ctx, "k"); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if ttl, _ := b.TTL(ctx, "k"); ttl != ttlNoExpiry {
		t.Fatalf("expected ttl removed, got %v", ttl)
	}
}

func TestRedisBackendRenameMissingKey(t *testing.T) {
	_, rdb := newMiniredis(t)
	b := NewRedisBackend(rdb)

	err := b.RenameKey(context.Background(), "missing", "other")
	if !errors.Is(err, ErrNoSuchKey) {
		t.Fatalf("expected ErrNoSuchKey, got %v", err)
	}
}

func TestRedisBackendRenameKeepsTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniredis(t)
	b := NewRedisBackend(rdb)

	if err := b.SetFields(ctx, "old", map[string]string{"a": "1"}); err != nil {
		t.Fatalf("hset: %v", err)
	}
	if err := b.SetTTL(ctx, "old", time.Minute); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := b.RenameKey(ctx, "old", "new"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if mr.Exists("old") {
		t.Fatalf("expected old key to be gone")
	}
	if ttl := mr.TTL("new"); ttl != time.Minute {
		t.Fatalf("expected ttl to survive rename, got %v", ttl)
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	mr, rdb := newMiniredis(t)
	b := NewRedisBackend(rdb)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := b.GetAllFields(ctx, "k"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if err := b.SetAdd(ctx, "s", "m"); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := b.Ping(ctx); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRedisBackendSortedSetRange(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniredis(t)
	b := NewRedisBackend(rdb)

	for member, score := range map[string]float64{"a": 1767268860000, "b": 1767268920000, "c": 1767268980000} {
		if err := b.SortedSetAdd(ctx, "z", score, member); err != nil {
			t.Fatalf("zadd: %v", err)
		}
	}

	got, err := b.SortedSetRangeByScore(ctx, "z", 1767268920000, math.Inf(-1), 0, 10)
	if err != nil {
		t.Fatalf("zrangebyscore: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected range %v", got)
	}

	got, err = b.SortedSetRangeByScore(ctx, "z", math.Inf(1), math.Inf(-1), 1, 1)
	if err != nil {
		t.Fatalf("zrangebyscore: %v", err)
	}
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("unexpected page %v", got)
	}
}

func TestFormatScore(t *testing.T) {
	cases := map[float64]string{
		math.Inf(-1):  "-inf",
		math.Inf(1):   "+inf",
		1767268860000: "1767268860000",
		-1.5:          "-1.5",
	}
	for in, want := range cases {
		if got := formatScore(in); got != want {
			t.Fatalf("formatScore(%v): expected %s, got %s", in, want, got)
		}
	}
}

func TestRedisBackendWorksWithUniversalClient(t *testing.T) {
	mr, _ := newMiniredis(t)
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	defer client.Close()

	repo := NewRepository(NewRedisBackend(client), RepositoryConfig{})
	s := repo.CreateSession()
	if err := repo.Save(context.Background(), s); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := repo.FindByID(context.Background(), s.ID()); err != nil {
		t.Fatalf("find: %v", err)
	}
}
