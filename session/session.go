package session

import (
	"encoding/json"
	"time"
)

type changeKind uint8

const (
	changeUpsert changeKind = iota + 1
	changeRemove
)

// change is one pending field write: either an upsert of an encoded value
// or the removal of the field.
type change struct {
	kind  changeKind
	value string
}

func upsert(value string) change {
	return change{kind: changeUpsert, value: value}
}

func remove() change {
	return change{kind: changeRemove}
}

// Session is a handle on one session's state that tracks every change made
// since the state was last persisted. A Repository turns those changes into
// the minimal set of backend writes on Save.
//
// A Session belongs to a single request; it must not be saved concurrently.
type Session struct {
	snapshot *Snapshot
	isNew    bool
	delta    map[string]change
	ids      IDGenerator

	originalID               string
	originalPrincipalName    string
	originalLastAccessedTime time.Time
}

func newSession(snap *Snapshot, isNew bool, ids IDGenerator) *Session {
	if ids == nil {
		ids = NewUUID
	}
	s := &Session{
		snapshot:              snap,
		isNew:                 isNew,
		delta:                 make(map[string]change),
		ids:                   ids,
		originalID:            snap.ID(),
		originalPrincipalName: resolvePrincipalName(snap),
	}
	if isNew {
		// A brand-new session is written in full on its first save.
		s.delta[fieldCreationTime] = upsert(encodeMillis(snap.CreationTime()))
		s.delta[fieldLastAccessedTime] = upsert(encodeMillis(snap.LastAccessedTime()))
		s.delta[fieldMaxInactiveInterval] = upsert(encodeInterval(snap.MaxInactiveInterval()))
		for name, raw := range snap.attributes {
			s.delta[attributeField(name)] = upsert(string(raw))
		}
	} else {
		s.originalLastAccessedTime = snap.LastAccessedTime()
	}
	return s
}

func (s *Session) ID() string {
	return s.snapshot.ID()
}

// OriginalID is the id the backend currently stores the session under. It
// differs from ID between ChangeSessionID and the next Save.
func (s *Session) OriginalID() string {
	return s.originalID
}

// IsNew reports whether the session has never been saved.
func (s *Session) IsNew() bool {
	return s.isNew
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() *Snapshot {
	return CopySnapshot(s.snapshot)
}

func (s *Session) Attribute(name string) (json.RawMessage, bool) {
	return s.snapshot.Attribute(name)
}

func (s *Session) AttributeNames() []string {
	return s.snapshot.AttributeNames()
}

func (s *Session) DecodeAttribute(name string, dst any) (bool, error) {
	return s.snapshot.DecodeAttribute(name, dst)
}

func (s *Session) StringAttribute(name string) (string, bool) {
	return s.snapshot.StringAttribute(name)
}

// SetAttribute stores value under name and records the change. A nil value
// removes the attribute.
func (s *Session) SetAttribute(name string, value any) error {
	raw, err := encodeAttribute(name, value)
	if err != nil {
		return err
	}
	s.snapshot.setRawAttribute(name, raw)
	if raw == nil {
		s.delta[attributeField(name)] = remove()
		return nil
	}
	s.delta[attributeField(name)] = upsert(string(raw))
	return nil
}

func (s *Session) RemoveAttribute(name string) {
	s.snapshot.RemoveAttribute(name)
	s.delta[attributeField(name)] = remove()
}

func (s *Session) CreationTime() time.Time {
	return s.snapshot.CreationTime()
}

func (s *Session) LastAccessedTime() time.Time {
	return s.snapshot.LastAccessedTime()
}

func (s *Session) SetLastAccessedTime(t time.Time) {
	s.snapshot.SetLastAccessedTime(t)
	s.delta[fieldLastAccessedTime] = upsert(encodeMillis(s.snapshot.LastAccessedTime()))
}

// Touch records activity at the current time.
func (s *Session) Touch() {
	s.SetLastAccessedTime(s.snapshot.now())
}

func (s *Session) MaxInactiveInterval() time.Duration {
	return s.snapshot.MaxInactiveInterval()
}

func (s *Session) SetMaxInactiveInterval(d time.Duration) {
	s.snapshot.SetMaxInactiveInterval(d)
	s.delta[fieldMaxInactiveInterval] = upsert(encodeInterval(s.snapshot.MaxInactiveInterval()))
}

func (s *Session) ExpiryTime() (time.Time, bool) {
	return s.snapshot.ExpiryTime()
}

func (s *Session) IsExpired() bool {
	return s.snapshot.IsExpired()
}

// PrincipalName resolves the authenticated principal from the current
// attributes, or "" when the session is anonymous.
func (s *Session) PrincipalName() string {
	return resolvePrincipalName(s.snapshot)
}

// ChangeSessionID assigns a freshly generated id and returns it. The stored
// keys are moved on the next Save.
func (s *Session) ChangeSessionID() string {
	id := s.ids()
	s.snapshot.id = id
	return id
}

// HasChanges reports whether Save has anything to write.
func (s *Session) HasChanges() bool {
	return len(s.delta) > 0 || (!s.isNew && s.snapshot.ID() != s.originalID)
}

func (s *Session) principalChanged() bool {
	_, a := s.delta[attributeField(PrincipalNameAttribute)]
	_, b := s.delta[attributeField(SecurityContextAttribute)]
	return a || b
}

func (s *Session) partitionDelta() (map[string]string, []string) {
	upserts := make(map[string]string, len(s.delta))
	var removals []string
	for field, c := range s.delta {
		switch c.kind {
		case changeUpsert:
			upserts[field] = c.value
		case changeRemove:
			removals = append(removals, field)
		}
	}
	return upserts, removals
}
