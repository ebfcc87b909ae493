package goSession

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/session"
)

var testEpoch = time.Date(2026, time.January, 1, 12, 0, 30, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() session.IDGenerator {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "sid-" + strconv.Itoa(n)
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func memoryConfig() Config {
	cfg := DefaultConfig()
	cfg.Store.Backend = BackendMemory
	cfg.Metrics.Enabled = true
	return cfg
}

// buildTestEngine builds an engine on the in-memory backend with a fake
// clock and predictable ids.
func buildTestEngine(t *testing.T, cfg Config, sink AuditSink) (*Engine, *testClock) {
	t.Helper()

	clock := newTestClock()
	engine, err := New().
		WithConfig(cfg).
		WithClock(clock.Now).
		WithIDGenerator(sequentialIDs()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, clock
}

func waitForEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q audit event", eventType)
			return AuditEvent{}
		}
	}
}

func mustSave(t *testing.T, e *Engine, s *session.Session) {
	t.Helper()
	if err := e.Save(context.Background(), s); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}
