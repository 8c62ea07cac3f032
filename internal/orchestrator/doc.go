// Package orchestrator runs the outermost session loop: it feeds commands
// to the decider, executes the returned effects through the interpreter,
// derives events from the results, and folds every event into both the
// in-memory state and the durable log.
//
// The event append is the linearization point. An effect whose result never
// became a persisted event is considered not to have happened; on restart
// the session resumes from the latest snapshot plus the trailing events,
// re-running Evolve only and never re-executing effects.
package orchestrator
