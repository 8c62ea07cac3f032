// Package core is the functional core of the turbine session engine.
//
// It defines the typed Command, Event, and Effect algebras, the aggregate
// session State, and the two pure functions that drive everything:
//
//   - Decide maps a command and the current state to an ordered list of
//     effect descriptions. It performs no I/O.
//   - Evolve maps the current state and a recorded event to the next state.
//     It never reads a clock; every event carries its own timestamp.
//
// State is the fold of events: Replay(events, initial) reconstructs the
// exact in-memory state observed during a live run, which is what makes
// crash-resume from the event log safe. Everything impure (LLM calls,
// filesystem writes, test runs, persistence) lives behind the effect
// interpreter in the surrounding packages.
package core
