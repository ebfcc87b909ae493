// Package middleware binds goSession sessions to HTTP requests.
//
// # Middleware
//
//   - [Sessions] loads the session named by the request cookie, exposes it
//     through the request context and saves it before the response is
//     committed.
//   - [RequirePrincipal] rejects requests whose session carries no
//     authenticated principal.
//
// # Architecture boundaries
//
// This package translates cookies and response lifecycle into [Store] calls.
// Persistence, id rotation and indexing stay in the engine.
//
// # What this package must NOT do
//
//   - Touch the session backend directly.
//   - Decide how long sessions live (the engine's configuration does).
//   - Authenticate principals; callers attach them with Engine.Login.
package middleware
