package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultGraceWindow is added to a session's inactivity interval when setting
// the TTL of its data key. Inside the grace window IsExpired, not physical
// absence, decides visibility.
const DefaultGraceWindow = 5 * time.Minute

const defaultFindConcurrency = 8

// RepositoryConfig tunes a [Repository]. Zero values select the defaults.
type RepositoryConfig struct {
	Namespace                  string
	DefaultMaxInactiveInterval time.Duration
	GraceWindow                time.Duration
	ExpirationGrace            time.Duration
	FindConcurrency            int
	Clock                      Clock
	IDGenerator                IDGenerator
	Logger                     *slog.Logger
}

// Repository persists sessions in a [Backend], maintains the principal-name
// index and the expiration index, and runs the id-rotation and deletion
// protocols.
//
// Save is a bounded sequence of backend calls and is not transactional: a
// failure part way leaves earlier steps applied. Concurrent saves of the same
// session id are last-writer-wins per field.
type Repository struct {
	backend                    Backend
	keys                       keyspace
	expirations                *ExpirationIndex
	defaultMaxInactiveInterval time.Duration
	graceWindow                time.Duration
	findConcurrency            int
	clock                      Clock
	ids                        IDGenerator
	logger                     *slog.Logger
}

// NewRepository creates a [Repository] over backend.
func NewRepository(backend Backend, cfg RepositoryConfig) *Repository {
	if cfg.DefaultMaxInactiveInterval == 0 {
		cfg.DefaultMaxInactiveInterval = DefaultMaxInactiveInterval
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.ExpirationGrace <= 0 {
		cfg.ExpirationGrace = DefaultExpirationGrace
	}
	if cfg.FindConcurrency <= 0 {
		cfg.FindConcurrency = defaultFindConcurrency
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = NewUUID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	keys := newKeyspace(cfg.Namespace)
	return &Repository{
		backend:                    backend,
		keys:                       keys,
		expirations:                newExpirationIndex(backend, keys, cfg.Clock, cfg.GraceWindow, cfg.ExpirationGrace),
		defaultMaxInactiveInterval: cfg.DefaultMaxInactiveInterval,
		graceWindow:                cfg.GraceWindow,
		findConcurrency:            cfg.FindConcurrency,
		clock:                      cfg.Clock,
		ids:                        cfg.IDGenerator,
		logger:                     cfg.Logger,
	}
}

// ExpirationIndex exposes the repository's expiration index.
func (r *Repository) ExpirationIndex() *ExpirationIndex {
	return r.expirations
}

// CreateSession returns an unsaved session with a fresh id and the default
// inactivity interval.
func (r *Repository) CreateSession() *Session {
	snap := NewSnapshot(r.defaultMaxInactiveInterval, r.clock, r.ids)
	return newSession(snap, true, r.ids)
}

// FindByID loads a live session. Missing and logically expired sessions
// both yield ErrSessionNotFound.
func (r *Repository) FindByID(ctx context.Context, id string) (*Session, error) {
	s, err := r.findByID(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *Repository) findByID(ctx context.Context, id string, allowExpired bool) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	fields, err := r.backend.GetAllFields(ctx, r.keys.sessionKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	snap, err := decodeSnapshot(id, fields, r.clock)
	if err != nil {
		return nil, err
	}
	if !allowExpired && snap.IsExpired() {
		return nil, nil
	}
	return newSession(snap, false, r.ids), nil
}

// Save reconciles the backend with the in-memory state of s.
//
// Order of operations:
//  1. move the stored keys, principal index membership and expiration
//     marker when the id was rotated;
//  2. write upserted fields and delete removed ones. A loaded session whose
//     data key has disappeared yields ErrSessionNotFound instead;
//  3. move principal index membership when a principal attribute changed;
//  4. apply TTLs to the data and shadow keys;
//  5. update the expiration index.
func (r *Repository) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return ErrNilSession
	}

	renamed := false
	if !s.isNew && s.ID() != s.originalID {
		if err := r.rotate(ctx, s); err != nil {
			return err
		}
		renamed = true
	}
	s.originalID = s.ID()

	if len(s.delta) == 0 {
		return nil
	}

	sessionKey := r.keys.sessionKey(s.ID())
	if !s.isNew && !renamed && s.MaxInactiveInterval() != 0 {
		// Writing fields into a key deleted since the load would leave a
		// partial hash without its bookkeeping fields.
		exists, err := r.backend.Exists(ctx, sessionKey)
		if err != nil {
			return err
		}
		if !exists {
			return ErrSessionNotFound
		}
	}
	upserts, removals := s.partitionDelta()
	if len(upserts) > 0 {
		if err := r.backend.SetFields(ctx, sessionKey, upserts); err != nil {
			return err
		}
	}
	if len(removals) > 0 {
		if err := r.backend.DeleteFields(ctx, sessionKey, removals...); err != nil {
			return err
		}
	}

	if s.principalChanged() {
		if err := r.reindexPrincipal(ctx, s); err != nil {
			return err
		}
	}

	s.isNew = false

	if err := r.applyTTL(ctx, s); err != nil {
		return err
	}

	if !renamed {
		originalLastAccessed := s.originalLastAccessedTime
		if _, ok := s.delta[fieldMaxInactiveInterval]; ok {
			// The stored bucket was computed from the old interval.
			originalLastAccessed = time.Time{}
		}
		if err := r.expirations.Rename(ctx, s.ID(), originalLastAccessed, s.snapshot); err != nil {
			return err
		}
	}

	s.originalLastAccessedTime = s.LastAccessedTime()
	clear(s.delta)
	return nil
}

// rotate moves everything stored under the original id to the current id.
func (r *Repository) rotate(ctx context.Context, s *Session) error {
	originalID := s.originalID
	newID := s.ID()

	err := r.backend.RenameKey(ctx, r.keys.sessionKey(originalID), r.keys.sessionKey(newID))
	if errors.Is(err, ErrNoSuchKey) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if err := r.renameKey(ctx, r.keys.expiresKey(originalID), r.keys.expiresKey(newID)); err != nil {
		return err
	}

	if s.originalPrincipalName != "" {
		principalKey := r.keys.principalKey(s.originalPrincipalName)
		if err := r.backend.SetRemove(ctx, principalKey, originalID); err != nil {
			return err
		}
		if err := r.backend.SetAdd(ctx, principalKey, newID); err != nil {
			return err
		}
	}

	if err := r.expirations.Rename(ctx, originalID, s.originalLastAccessedTime, s.snapshot); err != nil {
		return err
	}

	r.logger.DebugContext(ctx, "session id rotated", "session_id", newID)
	return nil
}

// renameKey tolerates a missing source. The shadow key does not exist for
// sessions that never expire.
func (r *Repository) renameKey(ctx context.Context, oldKey, newKey string) error {
	err := r.backend.RenameKey(ctx, oldKey, newKey)
	if errors.Is(err, ErrNoSuchKey) {
		return nil
	}
	return err
}

func (r *Repository) reindexPrincipal(ctx context.Context, s *Session) error {
	if s.originalPrincipalName != "" {
		if err := r.backend.SetRemove(ctx, r.keys.principalKey(s.originalPrincipalName), s.ID()); err != nil {
			return err
		}
	}

	principal := resolvePrincipalName(s.snapshot)
	if principal != "" {
		if err := r.backend.SetAdd(ctx, r.keys.principalKey(principal), s.ID()); err != nil {
			return err
		}
	}
	s.originalPrincipalName = principal
	return nil
}

func (r *Repository) applyTTL(ctx context.Context, s *Session) error {
	sessionKey := r.keys.sessionKey(s.ID())
	expiresKey := r.keys.expiresKey(s.ID())
	interval := s.MaxInactiveInterval()

	switch {
	case interval < 0:
		if err := r.backend.RemoveTTL(ctx, expiresKey); err != nil {
			return err
		}
		return r.backend.RemoveTTL(ctx, sessionKey)
	case interval == 0:
		return r.backend.DeleteKey(ctx, expiresKey, sessionKey)
	default:
		if err := r.backend.AppendEmpty(ctx, expiresKey); err != nil {
			return err
		}
		if err := r.backend.SetTTL(ctx, expiresKey, interval); err != nil {
			return err
		}
		return r.backend.SetTTL(ctx, sessionKey, interval+r.graceWindow)
	}
}

// DeleteByID removes a session and its index entries. Deleting an unknown
// id is a no-op. The session is first detached from both indexes and then
// saved with a zero interval, which removes its keys.
func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	s, err := r.findByID(ctx, id, true)
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	return r.delete(ctx, s)
}

func (r *Repository) delete(ctx context.Context, s *Session) error {
	id := s.ID()
	if s.originalPrincipalName != "" {
		if err := r.backend.SetRemove(ctx, r.keys.principalKey(s.originalPrincipalName), id); err != nil {
			return err
		}
	}
	if err := r.expirations.Remove(ctx, id); err != nil {
		return err
	}
	if err := r.backend.DeleteKey(ctx, r.keys.expiresKey(id)); err != nil {
		return err
	}

	s.SetMaxInactiveInterval(0)
	return r.Save(ctx, s)
}

// FindByIndexNameAndIndexValue returns the live sessions indexed under
// indexValue, keyed by id. Only [PrincipalNameIndexName] is supported; other
// index names yield an empty result. Ids whose session has disappeared or
// expired are skipped but left in the index.
func (r *Repository) FindByIndexNameAndIndexValue(ctx context.Context, indexName, indexValue string) (map[string]*Session, error) {
	if indexName != PrincipalNameIndexName {
		return map[string]*Session{}, nil
	}
	return r.FindByPrincipalName(ctx, indexValue)
}

// FindByPrincipalName returns the live sessions of a principal keyed by id.
func (r *Repository) FindByPrincipalName(ctx context.Context, principalName string) (map[string]*Session, error) {
	ids, err := r.backend.SetMembers(ctx, r.keys.principalKey(principalName))
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result = make(map[string]*Session, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.findConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			s, err := r.findByID(gctx, id, false)
			if errors.Is(err, ErrSessionCorrupt) {
				r.logger.WarnContext(gctx, "corrupt session skipped",
					"principal", principalName,
					"session_id", id,
					"error", err,
				)
				return nil
			}
			if err != nil {
				return fmt.Errorf("load session %s: %w", id, err)
			}
			if s == nil {
				return nil
			}
			mu.Lock()
			result[id] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// CleanupResult describes one cleanup pass.
type CleanupResult struct {
	// Candidates is the number of expiration markers examined.
	Candidates int
	// StaleMarkers counts markers dropped because the session was already gone.
	StaleMarkers int
	// Expired counts logically expired sessions that were deleted.
	Expired int
}

// CleanupExpiredSessions sweeps at most limit markers from the expiration
// index. Sessions that are gone lose their marker; sessions that are still
// stored but logically expired are deleted together with their index
// entries. Callers run it repeatedly rather than expect convergence in one
// call.
func (r *Repository) CleanupExpiredSessions(ctx context.Context, limit int) (CleanupResult, error) {
	swept, err := r.expirations.CleanupExpiredSessions(ctx, limit)
	result := CleanupResult{Candidates: swept.Candidates, StaleMarkers: swept.Stale}
	errs := []error{err}

	for _, id := range swept.Live {
		s, err := r.findByID(ctx, id, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("load session %s: %w", id, err))
			continue
		}
		if s == nil {
			if err := r.expirations.Remove(ctx, id); err != nil {
				errs = append(errs, err)
				continue
			}
			result.StaleMarkers++
			continue
		}
		if !s.IsExpired() {
			// Activity moved the session to a later bucket after this
			// marker was read.
			continue
		}
		if err := r.delete(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("delete expired session %s: %w", id, err))
			continue
		}
		result.Expired++
	}

	if err := errors.Join(errs...); err != nil {
		return result, err
	}
	if result.Candidates > 0 {
		r.logger.DebugContext(ctx, "expired sessions swept",
			"candidates", result.Candidates,
			"stale_markers", result.StaleMarkers,
			"expired", result.Expired,
		)
	}
	return result, nil
}
