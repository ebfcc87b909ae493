// Package session persists sliding-expiration sessions in a key-value
// backend and keeps two secondary indexes consistent with them: a principal
// index (principal name to session ids) and an expiration index (minute
// buckets of pending expiries).
//
// # Model
//
// A [Snapshot] holds the state of one session. A [Session] wraps a snapshot
// and records every field changed since the last save, so [Repository.Save]
// writes only the delta. Attribute values are stored as JSON.
//
// # Persistence
//
// Each session is a hash under <namespace>sessions:<id> plus an empty shadow
// key under <namespace>sessions:expires:<id> that carries the logical TTL.
// The data key lives for the inactivity interval plus a grace window, so
// [Snapshot.IsExpired], not physical absence, decides visibility near the
// boundary.
//
// Id rotation ([Session.ChangeSessionID] followed by Save) renames both keys
// and moves the index entries. Save is not transactional.
//
// # Backends
//
// [RedisBackend] works with any redis.UniversalClient. [MemoryBackend] is
// an in-process implementation for single-node deployments and tests. The
// backend is chosen when the repository is constructed.
//
// # What this package must NOT do
//
//   - Import goSession or middleware (no upward imports).
//   - Read or write cookies.
//   - Retry backend calls; that belongs to the backend client or the caller.
package session
