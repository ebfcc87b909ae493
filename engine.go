package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/session"
)

var timeNow session.Clock = time.Now

// Engine is the entry point of the session store. It wraps a
// [session.Repository] with metrics, audit events, the login and logout-all
// flows and an optional background sweeper.
//
// Engine is safe for concurrent use. Individual [session.Session] values are
// not; give each request its own.
type Engine struct {
	config      Config
	backend     session.Backend
	repo        *session.Repository
	ownedClient redis.UniversalClient
	audit       *auditDispatcher
	metrics     *Metrics
	sweeper     *Sweeper
	logger      *slog.Logger
	now         session.Clock
	closed      atomic.Bool
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Repository exposes the underlying repository.
func (e *Engine) Repository() *session.Repository {
	return e.repo
}

func (e *Engine) ready() error {
	if e == nil || e.repo == nil || e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

/*
====================================
SESSION OPERATIONS
====================================
*/

// CreateSession returns a new unsaved session with a fresh id and the
// configured default max inactive interval.
func (e *Engine) CreateSession() *session.Session {
	e.metricInc(MetricSessionCreated)
	return e.repo.CreateSession()
}

// FindByID loads a live session. It returns [ErrSessionNotFound] for
// missing and logically expired sessions and [ErrSessionCorrupt] for stored
// data that cannot be decoded. Loading never writes.
func (e *Engine) FindByID(ctx context.Context, id string) (*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	s, err := e.repo.FindByID(ctx, id)
	e.observe(MetricFindLatency, time.Since(start))
	switch {
	case err == nil:
		e.metricInc(MetricSessionLoaded)
	case errors.Is(err, ErrSessionNotFound):
		e.metricInc(MetricSessionNotFound)
	default:
		e.metricInc(MetricSessionLoadFailure)
		e.logger.WarnContext(ctx, "session load failed", "session_id", id, "error", err)
	}
	return s, err
}

// Save persists the pending changes of s. A session whose id was changed
// since it was loaded is renamed first, moving its data, its principal
// index membership and its expiration marker.
func (e *Engine) Save(ctx context.Context, s *session.Session) error {
	if err := e.ready(); err != nil {
		return err
	}
	if s == nil {
		return ErrNilSession
	}

	isNew := s.IsNew()
	originalID := s.OriginalID()
	rotated := !isNew && s.ID() != originalID

	start := time.Now()
	err := e.repo.Save(ctx, s)
	e.observe(MetricSaveLatency, time.Since(start))
	if err != nil {
		e.metricInc(MetricSessionSaveFailure)
		e.logger.ErrorContext(ctx, "session save failed", "session_id", s.ID(), "error", err)
		e.emitAudit(ctx, auditEventSessionSaveFailure, false, s.ID(), s.PrincipalName(), err, nil)
		return err
	}

	e.metricInc(MetricSessionSaved)
	if isNew {
		e.emitAudit(ctx, auditEventSessionCreated, true, s.ID(), s.PrincipalName(), nil, nil)
	}
	if rotated {
		e.metricInc(MetricSessionIDRotated)
		e.emitAudit(ctx, auditEventSessionIDRotated, true, s.ID(), s.PrincipalName(), nil, func() map[string]string {
			return map[string]string{
				"previous_session_id": originalID,
			}
		})
	}
	return nil
}

// DeleteByID removes a session and its index entries. Deleting an unknown
// id succeeds.
func (e *Engine) DeleteByID(ctx context.Context, id string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.repo.DeleteByID(ctx, id); err != nil {
		e.logger.ErrorContext(ctx, "session delete failed", "session_id", id, "error", err)
		e.emitAudit(ctx, auditEventSessionDeleted, false, id, "", err, nil)
		return err
	}
	e.metricInc(MetricSessionDeleted)
	e.emitAudit(ctx, auditEventSessionDeleted, true, id, "", nil, nil)
	return nil
}

// FindByPrincipalName returns the live sessions of principal keyed by id.
func (e *Engine) FindByPrincipalName(ctx context.Context, principal string) (map[string]*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.metricInc(MetricPrincipalLookup)
	return e.repo.FindByPrincipalName(ctx, principal)
}

// FindByIndexNameAndIndexValue returns the live sessions indexed under
// indexValue. Only [session.PrincipalNameIndexName] is indexed; any other
// name yields an empty map.
func (e *Engine) FindByIndexNameAndIndexValue(ctx context.Context, indexName, indexValue string) (map[string]*session.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if indexName == session.PrincipalNameIndexName {
		e.metricInc(MetricPrincipalLookup)
	}
	return e.repo.FindByIndexNameAndIndexValue(ctx, indexName, indexValue)
}

// CleanupExpiredSessions runs one sweep over at most limit expiration
// markers. It implements [Cleaner].
func (e *Engine) CleanupExpiredSessions(ctx context.Context, limit int) (session.CleanupResult, error) {
	if err := e.ready(); err != nil {
		return session.CleanupResult{}, err
	}

	e.metricInc(MetricCleanupRun)
	res, err := e.repo.CleanupExpiredSessions(ctx, limit)
	e.metricAdd(MetricCleanupCandidates, res.Candidates)
	e.metricAdd(MetricCleanupExpired, res.Expired)
	e.metricAdd(MetricCleanupStale, res.StaleMarkers)
	if err != nil {
		e.metricInc(MetricCleanupFailure)
		return res, err
	}
	if res.Expired > 0 || res.StaleMarkers > 0 {
		e.emitAudit(ctx, auditEventSessionsSwept, true, "", "", nil, func() map[string]string {
			return map[string]string{
				"candidates":    strconv.Itoa(res.Candidates),
				"expired":       strconv.Itoa(res.Expired),
				"stale_markers": strconv.Itoa(res.StaleMarkers),
			}
		})
	}
	return res, nil
}

/*
====================================
LOGIN / LOGOUT
====================================
*/

// Login binds s to principal and saves it. A session that was already
// persisted gets a new id first, so an id issued before authentication
// stops working once the principal is attached.
func (e *Engine) Login(ctx context.Context, s *session.Session, principal string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if s == nil {
		return ErrNilSession
	}
	if principal == "" {
		return ErrPrincipalRequired
	}

	if !s.IsNew() {
		s.ChangeSessionID()
	}
	if err := s.SetAttribute(session.PrincipalNameAttribute, principal); err != nil {
		return err
	}
	s.Touch()

	if err := e.Save(ctx, s); err != nil {
		e.emitAudit(ctx, auditEventLogin, false, s.ID(), principal, err, nil)
		return err
	}
	e.metricInc(MetricLogin)
	e.emitAudit(ctx, auditEventLogin, true, s.ID(), principal, nil, nil)
	return nil
}

// LogoutAll deletes every live session of principal and returns how many
// were deleted. Deletion continues past individual failures; the joined
// error reports them.
func (e *Engine) LogoutAll(ctx context.Context, principal string) (int, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if principal == "" {
		return 0, ErrPrincipalRequired
	}

	sessions, err := e.repo.FindByPrincipalName(ctx, principal)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, "", principal, err, nil)
		return 0, err
	}

	var (
		deleted int
		errs    []error
	)
	for id := range sessions {
		if err := e.repo.DeleteByID(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete session %s: %w", id, err))
			continue
		}
		deleted++
	}
	e.metricInc(MetricLogoutAll)
	e.metricAdd(MetricSessionDeleted, deleted)

	err = errors.Join(errs...)
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, "", principal, err, func() map[string]string {
		return map[string]string{
			"deleted": strconv.Itoa(deleted),
		}
	})
	return deleted, err
}

/*
====================================
LIFECYCLE
====================================
*/

type pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Ping checks backend availability. Backends without a network round trip
// always report healthy.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	p, ok := e.backend.(pinger)
	if !ok {
		return 0, nil
	}
	return p.Ping(ctx)
}

// Close stops the sweeper, flushes queued audit events and closes the Redis
// client when the engine created it. Close is idempotent.
func (e *Engine) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownedClient != nil {
		if err := e.ownedClient.Close(); err != nil {
			e.logger.Warn("redis client close failed", "error", err)
		}
	}
}

// AuditDropped returns the number of audit events dropped so far.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil || e.audit == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByType()
}

// MetricsSnapshot returns a point-in-time copy of the engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricAdd(id MetricID, n int) {
	if e == nil || e.metrics == nil || n <= 0 {
		return
	}
	e.metrics.Add(id, uint64(n))
}

func (e *Engine) observe(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}
