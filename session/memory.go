package session

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type entryKind uint8

const (
	kindString entryKind = iota + 1
	kindHash
	kindSet
	kindSortedSet
)

type memoryEntry struct {
	kind     entryKind
	str      string
	hash     map[string]string
	set      map[string]struct{}
	scores   map[string]float64
	expireAt time.Time
}

func (e *memoryEntry) empty() bool {
	switch e.kind {
	case kindHash:
		return len(e.hash) == 0
	case kindSet:
		return len(e.set) == 0
	case kindSortedSet:
		return len(e.scores) == 0
	}
	return false
}

// MemoryBackend is an in-process [Backend] for single-node deployments and
// tests. Keys expire lazily against the injected clock when they are next
// read.
type MemoryBackend struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]*memoryEntry
}

// NewMemoryBackend creates an empty [MemoryBackend]. A nil clock uses
// time.Now.
func NewMemoryBackend(clock Clock) *MemoryBackend {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryBackend{
		clock:   clock,
		entries: make(map[string]*memoryEntry),
	}
}

// lookup returns the live entry at key, evicting it when its TTL has passed.
// Callers hold mu.
func (b *MemoryBackend) lookup(key string) *memoryEntry {
	e, ok := b.entries[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !b.clock().Before(e.expireAt) {
		delete(b.entries, key)
		return nil
	}
	return e
}

func (b *MemoryBackend) lookupKind(key string, kind entryKind) (*memoryEntry, error) {
	e := b.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kind {
		return nil, ErrWrongType
	}
	return e, nil
}

func (b *MemoryBackend) create(key string, kind entryKind) (*memoryEntry, error) {
	e, err := b.lookupKind(key, kind)
	if err != nil || e != nil {
		return e, err
	}
	e = &memoryEntry{kind: kind}
	switch kind {
	case kindHash:
		e.hash = make(map[string]string)
	case kindSet:
		e.set = make(map[string]struct{})
	case kindSortedSet:
		e.scores = make(map[string]float64)
	}
	b.entries[key] = e
	return e, nil
}

// dropIfEmpty mirrors Redis, which removes aggregate keys with no members.
func (b *MemoryBackend) dropIfEmpty(key string, e *memoryEntry) {
	if e.empty() {
		delete(b.entries, key)
	}
}

func (b *MemoryBackend) GetAllFields(_ context.Context, key string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookupKind(key, kindHash)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return map[string]string{}, nil
	}
	return maps.Clone(e.hash), nil
}

func (b *MemoryBackend) SetFields(_ context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.create(key, kindHash)
	if err != nil {
		return err
	}
	maps.Copy(e.hash, fields)
	return nil
}

func (b *MemoryBackend) DeleteFields(_ context.Context, key string, fields ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookupKind(key, kindHash)
	if err != nil || e == nil {
		return err
	}
	for _, field := range fields {
		delete(e.hash, field)
	}
	b.dropIfEmpty(key, e)
	return nil
}

func (b *MemoryBackend) DeleteKey(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range keys {
		delete(b.entries, key)
	}
	return nil
}

func (b *MemoryBackend) RenameKey(_ context.Context, oldKey, newKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(oldKey)
	if e == nil {
		return ErrNoSuchKey
	}
	delete(b.entries, oldKey)
	b.entries[newKey] = e
	return nil
}

func (b *MemoryBackend) SetTTL(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(key)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(b.entries, key)
		return nil
	}
	e.expireAt = b.clock().Add(ttl)
	return nil
}

func (b *MemoryBackend) RemoveTTL(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e := b.lookup(key); e != nil {
		e.expireAt = time.Time{}
	}
	return nil
}

func (b *MemoryBackend) TTL(_ context.Context, key string) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(key)
	switch {
	case e == nil:
		return ttlKeyMissing, nil
	case e.expireAt.IsZero():
		return ttlNoExpiry, nil
	}
	return e.expireAt.Sub(b.clock()), nil
}

func (b *MemoryBackend) AppendEmpty(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.create(key, kindString)
	return err
}

func (b *MemoryBackend) SetAdd(_ context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.create(key, kindSet)
	if err != nil {
		return err
	}
	e.set[member] = struct{}{}
	return nil
}

func (b *MemoryBackend) SetRemove(_ context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookupKind(key, kindSet)
	if err != nil || e == nil {
		return err
	}
	delete(e.set, member)
	b.dropIfEmpty(key, e)
	return nil
}

func (b *MemoryBackend) SetMembers(_ context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookupKind(key, kindSet)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return []string{}, nil
	}
	return slices.Sorted(maps.Keys(e.set)), nil
}

func (b *MemoryBackend) SortedSetAdd(_ context.Context, key string, score float64, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.create(key, kindSortedSet)
	if err != nil {
		return err
	}
	e.scores[member] = score
	return nil
}

func (b *MemoryBackend) SortedSetRemove(_ context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookupKind(key, kindSortedSet)
	if err != nil || e == nil {
		return err
	}
	delete(e.scores, member)
	b.dropIfEmpty(key, e)
	return nil
}

func (b *MemoryBackend) SortedSetRangeByScore(_ context.Context, key string, maxScore, minScore float64, offset, count int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookupKind(key, kindSortedSet)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return []string{}, nil
	}

	type scored struct {
		member string
		score  float64
	}
	matched := make([]scored, 0, len(e.scores))
	for member, score := range e.scores {
		if score >= minScore && score <= maxScore {
			matched = append(matched, scored{member: member, score: score})
		}
	}
	slices.SortFunc(matched, func(a, b scored) int {
		if c := cmp.Compare(a.score, b.score); c != 0 {
			return c
		}
		return cmp.Compare(a.member, b.member)
	})

	offset = max(offset, 0)
	if offset >= int64(len(matched)) {
		return []string{}, nil
	}
	matched = matched[offset:]
	if count >= 0 && count < int64(len(matched)) {
		matched = matched[:count]
	}
	out := make([]string, len(matched))
	for i, m := range matched {
		out[i] = m.member
	}
	return out, nil
}

func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lookup(key) != nil, nil
}

// Len returns the number of live keys.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for key := range b.entries {
		if b.lookup(key) != nil {
			n++
		}
	}
	return n
}
