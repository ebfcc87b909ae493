package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultExpirationGrace is added on top of the data key TTL when extending
// the expiration index TTL, so the index outlives every entry it references.
const DefaultExpirationGrace = 5 * time.Minute

// ExpirationIndex buckets sessions by their expiry rounded up to the next
// minute so a sweep can find expired sessions without scanning every key.
//
// The index is a single sorted set: each member is a session id and its
// score is the bucket (epoch milliseconds). A live session has exactly one
// member, so moving it to a different bucket is a single score update.
type ExpirationIndex struct {
	backend    Backend
	keys       keyspace
	clock      Clock
	dataGrace  time.Duration
	extraGrace time.Duration
}

func newExpirationIndex(backend Backend, keys keyspace, clock Clock, dataGrace, extraGrace time.Duration) *ExpirationIndex {
	return &ExpirationIndex{
		backend:    backend,
		keys:       keys,
		clock:      clock,
		dataGrace:  dataGrace,
		extraGrace: extraGrace,
	}
}

// ExpirationIndexResult describes one sweep over the index.
type ExpirationIndexResult struct {
	// Candidates is the number of markers read, never more than the limit.
	Candidates int
	// Stale counts markers dropped because their data key no longer exists.
	Stale int
	// Live holds ids whose data key still exists.
	Live []string
}

func roundUpToNextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

// bucketFor returns the bucket a snapshot belongs in, or false when it
// never expires or is already terminal.
func bucketFor(lastAccessed time.Time, interval time.Duration) (time.Time, bool) {
	if interval <= 0 {
		return time.Time{}, false
	}
	return roundUpToNextMinute(lastAccessed.Add(interval)), true
}

// Save places the session in the bucket matching its current expiry. Never
// expiring and terminal sessions are taken out of the index instead.
func (x *ExpirationIndex) Save(ctx context.Context, snap *Snapshot) error {
	bucket, ok := bucketFor(snap.LastAccessedTime(), snap.MaxInactiveInterval())
	if !ok {
		return x.Remove(ctx, snap.ID())
	}

	key := x.keys.expirationsKey()
	if err := x.backend.SortedSetAdd(ctx, key, float64(bucket.UnixMilli()), snap.ID()); err != nil {
		return err
	}

	// Only ever extend the index TTL; a shorter-lived session must not
	// shorten the lifetime of markers for longer-lived ones.
	want := snap.MaxInactiveInterval() + x.dataGrace + x.extraGrace
	current, err := x.backend.TTL(ctx, key)
	if err != nil {
		return err
	}
	if current >= 0 && current >= want {
		return nil
	}
	return x.backend.SetTTL(ctx, key, want)
}

// Remove drops the marker for sessionID regardless of its bucket.
func (x *ExpirationIndex) Remove(ctx context.Context, sessionID string) error {
	return x.backend.SortedSetRemove(ctx, x.keys.expirationsKey(), sessionID)
}

// Rename moves the marker of a session whose id, expiry, or both changed
// since it was loaded. originalLastAccessed is zero when unknown.
func (x *ExpirationIndex) Rename(ctx context.Context, originalID string, originalLastAccessed time.Time, snap *Snapshot) error {
	if originalID != snap.ID() {
		if err := x.Remove(ctx, originalID); err != nil {
			return err
		}
		return x.Save(ctx, snap)
	}

	if !originalLastAccessed.IsZero() {
		previous, hadBucket := bucketFor(originalLastAccessed, snap.MaxInactiveInterval())
		current, hasBucket := bucketFor(snap.LastAccessedTime(), snap.MaxInactiveInterval())
		if hadBucket && hasBucket && previous.Equal(current) {
			return nil
		}
	}
	return x.Save(ctx, snap)
}

// CleanupExpiredSessions reads at most limit markers from buckets at or
// before now and touches each session's data key. Reading the key makes the
// backend evaluate its TTL; markers whose key is gone are removed.
func (x *ExpirationIndex) CleanupExpiredSessions(ctx context.Context, limit int) (ExpirationIndexResult, error) {
	var result ExpirationIndexResult
	if limit <= 0 {
		return result, nil
	}

	now := x.clock()
	ids, err := x.backend.SortedSetRangeByScore(ctx, x.keys.expirationsKey(),
		float64(now.UnixMilli()), math.Inf(-1), 0, int64(limit))
	if err != nil {
		return result, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	result.Candidates = len(ids)

	var errs []error
	for _, id := range ids {
		exists, err := x.backend.Exists(ctx, x.keys.sessionKey(id))
		if err != nil {
			errs = append(errs, fmt.Errorf("touch session %s: %w", id, err))
			continue
		}
		if exists {
			result.Live = append(result.Live, id)
			continue
		}
		if err := x.Remove(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("drop stale marker %s: %w", id, err))
			continue
		}
		result.Stale++
	}

	return result, errors.Join(errs...)
}
