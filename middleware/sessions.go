package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// DefaultCookieName is the cookie carrying the session id.
const DefaultCookieName = "SESSION"

// Store is the subset of goSession.Engine used by [Sessions].
type Store interface {
	CreateSession() *session.Session
	FindByID(ctx context.Context, id string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	DeleteByID(ctx context.Context, id string) error
}

// CookieOptions shapes the session cookie.
type CookieOptions struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// Option configures [Sessions].
type Option func(*options)

type options struct {
	cookie CookieOptions
	logger *slog.Logger
}

// WithCookie replaces the default cookie options. Empty Name and Path fall
// back to the defaults.
func WithCookie(c CookieOptions) Option {
	return func(o *options) {
		if c.Name == "" {
			c.Name = DefaultCookieName
		}
		if c.Path == "" {
			c.Path = "/"
		}
		o.cookie = c
	}
}

// WithLogger sets the logger used for load and commit failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type requestStateKey struct{}

// requestState tracks the session of one request between the handler and
// the response commit.
type requestState struct {
	mu          sync.Mutex
	store       Store
	cookieID    string
	current     *session.Session
	invalidated bool
}

func stateFromContext(ctx context.Context) *requestState {
	st, _ := ctx.Value(requestStateKey{}).(*requestState)
	return st
}

// FromContext returns the session bound to the request, if one was sent by
// the client or created by the handler.
func FromContext(ctx context.Context) (*session.Session, bool) {
	st := stateFromContext(ctx)
	if st == nil {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current, st.current != nil
}

// GetOrCreate returns the request's session, creating one when the client
// sent none. It returns nil outside [Sessions].
func GetOrCreate(ctx context.Context) *session.Session {
	st := stateFromContext(ctx)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current == nil {
		st.current = st.store.CreateSession()
		st.invalidated = false
	}
	return st.current
}

// Invalidate discards the request's session. It is deleted from the store
// and the cookie is cleared when the response is committed.
func Invalidate(ctx context.Context) {
	st := stateFromContext(ctx)
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.invalidated = true
}

// Sessions loads the session named by the request cookie and saves it
// before the first byte of the response is written. Requests without a
// live session get one only when the handler calls [GetOrCreate].
//
// A backend failure while loading answers 503 without calling next.
func Sessions(store Store, opts ...Option) func(http.Handler) http.Handler {
	o := options{
		cookie: CookieOptions{
			Name:     DefaultCookieName,
			Path:     "/",
			HTTPOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			st := &requestState{store: store}

			if c, err := r.Cookie(o.cookie.Name); err == nil && c.Value != "" {
				st.cookieID = c.Value
				s, err := store.FindByID(ctx, c.Value)
				switch {
				case err == nil:
					s.Touch()
					st.current = s
				case errors.Is(err, session.ErrSessionNotFound),
					errors.Is(err, session.ErrSessionCorrupt):
					o.logger.DebugContext(ctx, "session cookie ignored", "error", err)
				default:
					o.logger.ErrorContext(ctx, "session load failed", "error", err)
					http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
					return
				}
			}

			sw := &sessionWriter{ResponseWriter: w, commit: func() { commit(ctx, w, st, o) }}
			next.ServeHTTP(sw, r.WithContext(context.WithValue(ctx, requestStateKey{}, st)))
			sw.commitOnce()
		})
	}
}

func commit(ctx context.Context, w http.ResponseWriter, st *requestState, o options) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.invalidated {
		id := st.cookieID
		if st.current != nil && !st.current.IsNew() {
			id = st.current.ID()
		}
		if id != "" {
			if err := st.store.DeleteByID(ctx, id); err != nil {
				o.logger.ErrorContext(ctx, "session delete failed", "session_id", id, "error", err)
			}
		}
		if st.cookieID != "" {
			http.SetCookie(w, expiredCookie(o.cookie))
		}
		return
	}

	s := st.current
	if s == nil {
		if st.cookieID != "" {
			// The client referenced a session that no longer exists.
			http.SetCookie(w, expiredCookie(o.cookie))
		}
		return
	}

	if err := st.store.Save(ctx, s); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// Deleted by another request after it was loaded.
			o.logger.DebugContext(ctx, "session vanished before save", "session_id", s.ID())
			if st.cookieID != "" {
				http.SetCookie(w, expiredCookie(o.cookie))
			}
			return
		}
		o.logger.ErrorContext(ctx, "session save failed", "session_id", s.ID(), "error", err)
		return
	}

	// Re-issued on every save so the cookie expiry slides with the session.
	cookie := sessionCookie(o.cookie, s.ID())
	// Sessions that never expire keep a browser-session cookie.
	if d := s.MaxInactiveInterval(); d > 0 {
		cookie.MaxAge = int(d / time.Second)
	}
	http.SetCookie(w, cookie)
}

func sessionCookie(c CookieOptions, id string) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    id,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
		SameSite: c.SameSite,
	}
}

func expiredCookie(c CookieOptions) *http.Cookie {
	cookie := sessionCookie(c, "")
	cookie.MaxAge = -1
	return cookie
}
