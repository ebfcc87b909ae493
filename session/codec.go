package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Persisted hash field names.
const (
	fieldCreationTime        = "creationTime"
	fieldLastAccessedTime    = "lastAccessedTime"
	fieldMaxInactiveInterval = "maxInactiveInterval"
	attributePrefix          = "sessionAttr:"
)

func attributeField(name string) string {
	return attributePrefix + name
}

func encodeMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func encodeInterval(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

// decodeSnapshot rebuilds a snapshot from the raw hash fields of a data key.
// The three bookkeeping fields are mandatory; substituting defaults for them
// would silently change when the session expires.
func decodeSnapshot(id string, fields map[string]string, clock Clock) (*Snapshot, error) {
	snap := NewSnapshotWithID(id, clock)

	created, err := requiredInt(fields, fieldCreationTime)
	if err != nil {
		return nil, err
	}
	accessed, err := requiredInt(fields, fieldLastAccessedTime)
	if err != nil {
		return nil, err
	}
	interval, err := requiredInt(fields, fieldMaxInactiveInterval)
	if err != nil {
		return nil, err
	}

	snap.creationTime = time.UnixMilli(created)
	snap.lastAccessedTime = time.UnixMilli(accessed)
	snap.maxInactiveInterval = time.Duration(interval) * time.Second

	for field, value := range fields {
		name, ok := strings.CutPrefix(field, attributePrefix)
		if !ok {
			continue
		}
		if !json.Valid([]byte(value)) {
			return nil, fmt.Errorf("%w: session %s: attribute %q is not valid JSON", ErrSessionCorrupt, id, name)
		}
		snap.attributes[name] = json.RawMessage(value)
	}

	return snap, nil
}

func requiredInt(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrSessionCorrupt, name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, name, err)
	}
	return v, nil
}
