package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/approval"
	"github.com/fyrsmithlabs/turbine/internal/core"
	"github.com/fyrsmithlabs/turbine/internal/eventstore"
	"github.com/fyrsmithlabs/turbine/internal/interpreter"
	"github.com/fyrsmithlabs/turbine/internal/runner"
)

// Default session limits.
const (
	DefaultMaxTurns        = 20000
	DefaultCheckpointEvery = 10
)

// ProgressFunc receives the state and the most recent event after each loop
// iteration.
type ProgressFunc func(state core.State, latest core.Event)

// Options configures one session run.
type Options struct {
	// WorkDir is the session-owned filesystem root. Required.
	WorkDir string

	// Prompt is the original project request. Required for fresh sessions.
	Prompt string

	// MaxTurns is the global safety net. Defaults to DefaultMaxTurns.
	MaxTurns int

	// CheckpointEvery requests approval every N turns. Defaults to
	// DefaultCheckpointEvery.
	CheckpointEvery int

	// DBPath is the event store location. Defaults to
	// <WorkDir>/turbine.db.
	DBPath string

	// LLM is the model adapter. Required.
	LLM interpreter.LLMClient

	// Runner is the test/type-check adapter. Defaults to an ExecRunner
	// rooted at WorkDir.
	Runner interpreter.TestRunner

	// Telemetry is the span/metric/log port. Defaults to a no-op.
	Telemetry interpreter.Telemetry

	// Approver handles the checkpoint rendezvous. Defaults to a callback
	// approver wrapping CheckpointCallback (auto-approve when nil).
	Approver interpreter.Approver

	// CheckpointCallback decides checkpoints when no Approver is given.
	CheckpointCallback approval.CallbackFunc

	// OnProgress is invoked after each loop iteration.
	OnProgress ProgressFunc

	// SnapshotPolicy decides when to persist snapshots. Defaults to
	// eventstore.DefaultSnapshotPolicy.
	SnapshotPolicy eventstore.SnapshotPolicy

	// Store overrides the SQLite event store; used by tests.
	Store Store

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Decider overrides the command decider; used by tests to pin the
	// clock and id source.
	Decider *core.Decider
}

// Store is the event-store surface the orchestrator needs.
type Store interface {
	Append(ctx context.Context, e core.Event) (int64, error)
	Events(ctx context.Context, from, to int64) ([]eventstore.StoredEvent, error)
	SaveSnapshot(ctx context.Context, s core.State, atIndex int64) error
	LatestSnapshot(ctx context.Context) (*eventstore.Snapshot, error)
	SetMeta(ctx context.Context, key, value string) error
	GetMeta(ctx context.Context, key string) (string, error)
	Close() error
}

// Summary aggregates the outcome of a run.
type Summary struct {
	Converged       bool
	Turns           int
	Phase           core.Phase
	Score           float64
	EventsPersisted int
	Errors          int
	Warnings        int
	Duration        time.Duration
}

// withDefaults validates required fields and fills the rest.
func (o *Options) withDefaults() error {
	if o.WorkDir == "" {
		return errors.New("work directory is required")
	}
	if o.LLM == nil {
		return errors.New("LLM adapter is required")
	}
	abs, err := filepath.Abs(o.WorkDir)
	if err != nil {
		return fmt.Errorf("resolve work directory: %w", err)
	}
	o.WorkDir = abs
	if err := os.MkdirAll(o.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}

	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = DefaultCheckpointEvery
	}
	if o.DBPath == "" {
		o.DBPath = filepath.Join(o.WorkDir, "turbine.db")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Telemetry == nil {
		o.Telemetry = nopTelemetry{}
	}
	if o.Runner == nil {
		o.Runner = runner.NewExecRunner(o.WorkDir, o.Logger)
	}
	if o.Approver == nil {
		o.Approver = approval.NewCallbackApprover(o.CheckpointCallback, o.Logger)
	}
	if o.SnapshotPolicy == nil {
		o.SnapshotPolicy = eventstore.DefaultSnapshotPolicy
	}
	if o.Decider == nil {
		d := core.NewDecider()
		o.Decider = &d
	}
	return nil
}

// nopTelemetry satisfies the telemetry port when none is configured.
type nopTelemetry struct{}

func (nopTelemetry) StartSpan(string, map[string]string) string      { return "" }
func (nopTelemetry) EndSpan(string, string, string)                  {}
func (nopTelemetry) RecordMetric(string, float64, map[string]string) {}
func (nopTelemetry) Log(string, string, map[string]any)              {}
