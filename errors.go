package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrSessionNotFound is returned when no live session exists for an id.
	ErrSessionNotFound = session.ErrSessionNotFound
	// ErrSessionCorrupt is returned when a stored session cannot be decoded.
	ErrSessionCorrupt = session.ErrSessionCorrupt
	// ErrBackendUnavailable wraps transport failures of the session backend.
	ErrBackendUnavailable = session.ErrBackendUnavailable
	// ErrNilSession is returned when a nil session is passed to Save or Login.
	ErrNilSession = session.ErrNilSession

	// ErrPrincipalRequired is returned by Login and LogoutAll for an empty principal.
	ErrPrincipalRequired = errors.New("principal name required")
	// ErrRedisClientRequired is returned by Build when the redis backend is
	// selected without a client or addresses.
	ErrRedisClientRequired = errors.New("redis client required")
	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("engine closed")
	// ErrBuilderUsed is returned by a second call to Build.
	ErrBuilderUsed = errors.New("builder already used")
)
