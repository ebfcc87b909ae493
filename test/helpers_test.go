//go:build integration
// +build integration

package test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	goSession "github.com/MrEthical07/goSession"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// storeMode describes one backend the compatibility suite runs against.
type storeMode struct {
	name  string
	build func(t *testing.T, clock *fixedClock) *goSession.Engine
}

// storeModes returns the in-memory backend and miniredis, plus a real
// standalone Redis when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func storeModes(t *testing.T) []storeMode {
	t.Helper()
	modes := []storeMode{
		{
			name: "memory",
			build: func(t *testing.T, clock *fixedClock) *goSession.Engine {
				cfg := baseConfig()
				cfg.Store.Backend = goSession.BackendMemory
				return buildEngine(t, goSession.New().WithConfig(cfg).WithClock(clock.Now))
			},
		},
		{
			name: "miniredis",
			build: func(t *testing.T, clock *fixedClock) *goSession.Engine {
				_, rdb := newMiniredis(t)
				return buildEngine(t, goSession.New().WithConfig(baseConfig()).WithRedis(rdb).WithClock(clock.Now))
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, storeMode{
			name: "standalone:" + addr,
			build: func(t *testing.T, clock *fixedClock) *goSession.Engine {
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				t.Cleanup(func() { _ = rdb.Close() })
				return buildEngine(t, goSession.New().WithConfig(baseConfig()).WithRedis(rdb).WithClock(clock.Now))
			},
		})
	}
	return modes
}

// baseConfig isolates every engine under its own namespace so runs against
// a shared Redis do not interfere.
func baseConfig() goSession.Config {
	cfg := goSession.DefaultConfig()
	cfg.Session.Namespace = "{it-" + uuid.NewString() + "}:"
	cfg.Metrics.Enabled = true
	return cfg
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func buildEngine(t *testing.T, b *goSession.Builder) *goSession.Engine {
	t.Helper()

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
