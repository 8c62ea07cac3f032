// Package eventstore persists the session's canonical history: an
// append-only event log, periodic state snapshots, and a small metadata
// table for crash-resume hints. SQLite is the backing store; the append is
// the linearization point for the whole system, so the database is opened
// with WAL and a single writer connection.
package eventstore
