package session

import "errors"

var (
	// ErrSessionNotFound is returned when no live session exists for an id.
	// Logically expired sessions are reported as not found even while their
	// data is still physically present in the backend.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionCorrupt is returned when a stored session lacks one of its
	// mandatory bookkeeping fields or carries a value that cannot be parsed.
	ErrSessionCorrupt = errors.New("session corrupt")

	// ErrBackendUnavailable wraps transport-level failures reported by a [Backend].
	ErrBackendUnavailable = errors.New("session backend unavailable")

	// ErrNoSuchKey is returned by [Backend.RenameKey] when the source key does not exist.
	ErrNoSuchKey = errors.New("no such key")

	// ErrWrongType is returned by [MemoryBackend] when a key is used with an
	// operation of a different data type.
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

	// ErrInvalidAttribute is returned when an attribute name is empty or its
	// value cannot be encoded as JSON.
	ErrInvalidAttribute = errors.New("invalid session attribute")

	// ErrNilSession is returned when a nil [Session] is passed to the repository.
	ErrNilSession = errors.New("nil session")
)
