// Package goSession provides a distributed, indexed HTTP session store backed
// by Redis, with an in-process backend for tests and single-node use.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config], the
// background [Sweeper], metrics snapshots and audit sinks. Session state, persistence
// layout, the principal index and the expiration index live in the session sub-package;
// the engine wraps its Repository with metrics, audit events and lifecycle management.
//
// # What this package must NOT do
//
//   - Retry or reorder repository writes. Save is a single ordered pass; only the
//     sweeper retries, and only whole cleanup batches.
//   - Fall back silently from Redis to the in-memory backend.
//   - Import any sub-package that re-imports goSession (no import cycles).
//
// # Concurrency contract
//
// A Session value belongs to one request at a time. Concurrent saves of the same
// session id from different processes are last-writer-wins per attribute.
package goSession
