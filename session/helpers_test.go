package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2026, time.January, 1, 12, 0, 30, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs(prefix string) IDGenerator {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + "-" + strconv.Itoa(n)
	}
}

// repoHarness bundles a repository with the backend it writes to and a way
// to move both the logical clock and the backend's TTL clock forward.
type repoHarness struct {
	repo    *Repository
	backend Backend
	clock   *fakeClock
	advance func(time.Duration)
}

type backendFactory struct {
	name string
	new  func(t *testing.T, clock *fakeClock) (Backend, func(time.Duration))
}

var backendFactories = []backendFactory{
	{
		name: "memory",
		new: func(t *testing.T, clock *fakeClock) (Backend, func(time.Duration)) {
			return NewMemoryBackend(clock.Now), func(time.Duration) {}
		},
	},
	{
		name: "redis",
		new: func(t *testing.T, clock *fakeClock) (Backend, func(time.Duration)) {
			mr, rdb := newMiniredis(t)
			return NewRedisBackend(rdb), mr.FastForward
		},
	},
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func forEachBackend(t *testing.T, fn func(t *testing.T, h *repoHarness)) {
	for _, f := range backendFactories {
		t.Run(f.name, func(t *testing.T) {
			clock := newFakeClock()
			backend, fastForward := f.new(t, clock)
			h := &repoHarness{
				backend: backend,
				clock:   clock,
				advance: func(d time.Duration) {
					clock.Advance(d)
					fastForward(d)
				},
			}
			h.repo = NewRepository(backend, RepositoryConfig{Clock: clock.Now})
			fn(t, h)
		})
	}
}

var errInjected = errors.New("injected backend failure")

// failingBackend fails every call to the named method and delegates the
// rest.
type failingBackend struct {
	Backend
	failOn string
}

func (f *failingBackend) fail(method string) error {
	if f.failOn == method {
		return errInjected
	}
	return nil
}

func (f *failingBackend) GetAllFields(ctx context.Context, key string) (map[string]string, error) {
	if err := f.fail("GetAllFields"); err != nil {
		return nil, err
	}
	return f.Backend.GetAllFields(ctx, key)
}

func (f *failingBackend) SetFields(ctx context.Context, key string, fields map[string]string) error {
	if err := f.fail("SetFields"); err != nil {
		return err
	}
	return f.Backend.SetFields(ctx, key, fields)
}

func (f *failingBackend) RenameKey(ctx context.Context, oldKey, newKey string) error {
	if err := f.fail("RenameKey"); err != nil {
		return err
	}
	return f.Backend.RenameKey(ctx, oldKey, newKey)
}

func (f *failingBackend) SetAdd(ctx context.Context, key, member string) error {
	if err := f.fail("SetAdd"); err != nil {
		return err
	}
	return f.Backend.SetAdd(ctx, key, member)
}

func (f *failingBackend) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := f.fail("SetMembers"); err != nil {
		return nil, err
	}
	return f.Backend.SetMembers(ctx, key)
}

func (f *failingBackend) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := f.fail("SetTTL"); err != nil {
		return err
	}
	return f.Backend.SetTTL(ctx, key, ttl)
}

func (f *failingBackend) SortedSetRangeByScore(ctx context.Context, key string, maxScore, minScore float64, offset, count int64) ([]string, error) {
	if err := f.fail("SortedSetRangeByScore"); err != nil {
		return nil, err
	}
	return f.Backend.SortedSetRangeByScore(ctx, key, maxScore, minScore, offset, count)
}
