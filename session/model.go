package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxInactiveInterval is applied to freshly created sessions when the
// repository is not configured otherwise.
const DefaultMaxInactiveInterval = 30 * time.Minute

// Clock returns the current time. It is injected so expiry can be tested
// without sleeping.
type Clock func() time.Time

// IDGenerator returns a new opaque, unique session id.
type IDGenerator func() string

// NewUUID is the default [IDGenerator].
func NewUUID() string {
	return uuid.NewString()
}

// Snapshot is the in-memory state of one session: its id, attributes,
// timestamps and inactivity interval.
//
// Snapshot values are not safe for concurrent mutation. A snapshot is owned
// by a single [Session] handle for the duration of one request.
type Snapshot struct {
	id                  string
	attributes          map[string]json.RawMessage
	creationTime        time.Time
	lastAccessedTime    time.Time
	maxInactiveInterval time.Duration
	clock               Clock
}

// NewSnapshot creates a fresh session with a generated id, creation and
// last-accessed time set to now, and the given inactivity interval.
func NewSnapshot(maxInactiveInterval time.Duration, clock Clock, ids IDGenerator) *Snapshot {
	if clock == nil {
		clock = time.Now
	}
	if ids == nil {
		ids = NewUUID
	}
	now := truncateMillis(clock())
	return &Snapshot{
		id:                  ids(),
		attributes:          make(map[string]json.RawMessage),
		creationTime:        now,
		lastAccessedTime:    now,
		maxInactiveInterval: normalizeInterval(maxInactiveInterval),
		clock:               clock,
	}
}

// normalizeInterval maps d onto the whole seconds the interval is persisted
// in. Any negative value becomes -1s and positive values round up.
func normalizeInterval(d time.Duration) time.Duration {
	switch {
	case d < 0:
		return -time.Second
	case d%time.Second != 0:
		return d.Truncate(time.Second) + time.Second
	default:
		return d
	}
}

// NewSnapshotWithID creates an empty snapshot for an existing id. It is the
// starting point for rehydrating persisted state.
func NewSnapshotWithID(id string, clock Clock) *Snapshot {
	if clock == nil {
		clock = time.Now
	}
	return &Snapshot{
		id:         id,
		attributes: make(map[string]json.RawMessage),
		clock:      clock,
	}
}

// CopySnapshot returns a deep copy of src: same id, attributes, timestamps
// and interval. Callers that need a new identity assign it separately.
func CopySnapshot(src *Snapshot) *Snapshot {
	if src == nil {
		return nil
	}
	attrs := make(map[string]json.RawMessage, len(src.attributes))
	for name, raw := range src.attributes {
		attrs[name] = slices.Clone(raw)
	}
	return &Snapshot{
		id:                  src.id,
		attributes:          attrs,
		creationTime:        src.creationTime,
		lastAccessedTime:    src.lastAccessedTime,
		maxInactiveInterval: src.maxInactiveInterval,
		clock:               src.clock,
	}
}

func (s *Snapshot) ID() string {
	return s.id
}

// Attribute returns the JSON encoding of the named attribute.
func (s *Snapshot) Attribute(name string) (json.RawMessage, bool) {
	raw, ok := s.attributes[name]
	return raw, ok
}

// AttributeNames returns the attribute names in sorted order.
func (s *Snapshot) AttributeNames() []string {
	return slices.Sorted(maps.Keys(s.attributes))
}

// DecodeAttribute unmarshals the named attribute into dst. It returns
// false when the attribute is not set.
func (s *Snapshot) DecodeAttribute(name string, dst any) (bool, error) {
	raw, ok := s.attributes[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrInvalidAttribute, name, err)
	}
	return true, nil
}

// StringAttribute returns the named attribute when it holds a JSON string.
func (s *Snapshot) StringAttribute(name string) (string, bool) {
	var out string
	ok, err := s.DecodeAttribute(name, &out)
	if !ok || err != nil {
		return "", false
	}
	return out, true
}

// SetAttribute stores value under name. A nil value, or one that encodes
// to JSON null, removes the attribute.
func (s *Snapshot) SetAttribute(name string, value any) error {
	raw, err := encodeAttribute(name, value)
	if err != nil {
		return err
	}
	s.setRawAttribute(name, raw)
	return nil
}

// RemoveAttribute deletes the named attribute.
func (s *Snapshot) RemoveAttribute(name string) {
	delete(s.attributes, name)
}

func (s *Snapshot) setRawAttribute(name string, raw json.RawMessage) {
	if raw == nil {
		delete(s.attributes, name)
		return
	}
	s.attributes[name] = raw
}

func (s *Snapshot) CreationTime() time.Time {
	return s.creationTime
}

func (s *Snapshot) LastAccessedTime() time.Time {
	return s.lastAccessedTime
}

// SetLastAccessedTime records activity at t. Times earlier than the current
// last-accessed time are ignored; the value never moves backwards.
func (s *Snapshot) SetLastAccessedTime(t time.Time) {
	t = truncateMillis(t)
	if t.Before(s.lastAccessedTime) {
		return
	}
	s.lastAccessedTime = t
}

// MaxInactiveInterval is the sliding inactivity window. Negative means the
// session never expires; zero means it is already expired.
func (s *Snapshot) MaxInactiveInterval() time.Duration {
	return s.maxInactiveInterval
}

// SetMaxInactiveInterval sets the inactivity window, normalized to whole
// seconds. Negative values are stored as -1s.
func (s *Snapshot) SetMaxInactiveInterval(d time.Duration) {
	s.maxInactiveInterval = normalizeInterval(d)
}

// ExpiryTime returns lastAccessedTime + maxInactiveInterval. The boolean is
// false for sessions that never expire.
func (s *Snapshot) ExpiryTime() (time.Time, bool) {
	if s.maxInactiveInterval < 0 {
		return time.Time{}, false
	}
	return s.lastAccessedTime.Add(s.maxInactiveInterval), true
}

// IsExpired reports whether the inactivity window has elapsed as of the
// snapshot's clock.
func (s *Snapshot) IsExpired() bool {
	expiry, ok := s.ExpiryTime()
	if !ok {
		return false
	}
	return !s.now().Before(expiry)
}

func (s *Snapshot) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock()
}

func encodeAttribute(name string, value any) (json.RawMessage, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidAttribute)
	}
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAttribute, name, err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	return raw, nil
}

func truncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
