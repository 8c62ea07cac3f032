package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/core"
	"github.com/fyrsmithlabs/turbine/internal/eventstore"
	"github.com/fyrsmithlabs/turbine/internal/interpreter"
)

// Run executes one session to convergence, budget exhaustion, or the global
// turn limit. Once the session is running, the returned summary is valid even
// when err is non-nil; option, store-open and interpreter setup failures
// return a nil summary.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.withDefaults(); err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = eventstore.Open(opts.DBPath, opts.Logger)
		if err != nil {
			return nil, err
		}
		defer store.Close()
	}

	interp, err := interpreter.New(opts.WorkDir, opts.LLM, opts.Runner, opts.Telemetry, opts.Approver, store, opts.Logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		opts:    opts,
		store:   store,
		interp:  interp,
		decider: *opts.Decider,
		logger:  opts.Logger,
		started: opts.Decider.Now(),
	}
	return s.run(ctx)
}

// session carries the mutable run state. The loop is strictly serial; there
// is exactly one State value at a time and mutation is by replacement.
type session struct {
	opts    Options
	store   Store
	interp  *interpreter.Interpreter
	decider core.Decider
	logger  *zap.Logger

	state     core.State
	sessionID string
	lastIndex int64
	lastEvent core.Event
	started   time.Time

	eventsPersisted     int
	errorCount          int
	warningCount        int
	convergenceRecorded bool
}

func (s *session) run(ctx context.Context) (*Summary, error) {
	if err := s.tryResume(ctx); err != nil {
		return s.summary(), err
	}

	if err := s.recordSessionMeta(ctx); err != nil {
		return s.summary(), err
	}
	s.logger = s.logger.With(zap.String("session_id", s.sessionID))
	defer s.touchSessionMeta()

	if s.state.Turn == 0 && len(s.state.Checklist) == 0 {
		if err := s.process(ctx, core.Initialize{Prompt: s.opts.Prompt}); err != nil {
			return s.summary(), err
		}
	}

	for !s.shouldStop() {
		if ctx.Err() != nil {
			// Cooperative cancellation; the log is the source of truth, so
			// stopping between iterations loses nothing.
			break
		}

		turnBefore := s.state.Turn
		phaseBefore := s.state.Phase

		if err := s.process(ctx, core.StartTurn{}); err != nil {
			return s.summary(), err
		}

		if s.state.Turn > 0 && s.state.Turn%s.opts.CheckpointEvery == 0 && s.state.Turn != turnBefore {
			if err := s.process(ctx, core.RequestCheckpoint{}); err != nil {
				return s.summary(), err
			}
		}

		if s.state.PhaseChecklistDone(s.state.Phase) {
			if err := s.process(ctx, core.AdvancePhase{}); err != nil {
				return s.summary(), err
			}
		}

		if s.opts.OnProgress != nil {
			s.opts.OnProgress(s.state, s.lastEvent)
		}

		// A turn that neither advanced the counter nor the phase cannot make
		// progress (exhausted budget with an unfinished checklist); park the
		// session instead of spinning.
		if s.state.Turn == turnBefore && s.state.Phase == phaseBefore && !s.state.Converged {
			s.logger.Warn("session stalled, stopping",
				zap.String("phase", string(s.state.Phase)),
				zap.Int("turn", s.state.Turn),
			)
			break
		}
	}

	return s.summary(), nil
}

// recordSessionMeta writes the crash-resume hints on start. The session id
// is minted once per database and survives restarts.
func (s *session) recordSessionMeta(ctx context.Context) error {
	id, err := s.store.GetMeta(ctx, "session_id")
	if err != nil {
		return err
	}
	if id == "" {
		id = s.decider.NewID()
		if err := s.store.SetMeta(ctx, "session_id", id); err != nil {
			return err
		}
	}
	s.sessionID = id

	if err := s.store.SetMeta(ctx, "prompt", s.opts.Prompt); err != nil {
		return err
	}
	return s.store.SetMeta(ctx, "last_run_at", s.decider.Now().UTC().Format(time.RFC3339))
}

// touchSessionMeta refreshes last_run_at when the loop stops. Best effort:
// the run context may already be canceled, and a failed hint write must not
// mask the run's own outcome.
func (s *session) touchSessionMeta() {
	if err := s.store.SetMeta(context.Background(), "last_run_at", s.decider.Now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("failed to update session metadata on stop", zap.Error(err))
	}
}

// process runs one command through decide → execute → map → evolve+append.
// Adapter failures are contained: they become a persisted ErrorOccurred and
// the command is abandoned. Store failures are fatal and propagate.
func (s *session) process(ctx context.Context, cmd core.Command) error {
	effects := s.decider.Decide(cmd, s.state)
	pre := s.state

	for _, effect := range effects {
		if l, ok := effect.(core.Log); ok && l.Level == "warn" {
			s.warningCount++
		}

		result, err := s.interp.Execute(ctx, effect)
		if err != nil {
			s.errorCount++
			s.logger.Warn("effect failed",
				zap.String("command", cmd.CommandKind()),
				zap.String("effect", effect.EffectKind()),
				zap.Error(err),
			)
			return s.apply(ctx, core.ErrorOccurred{
				Message:     err.Error(),
				Recoverable: true,
				At:          s.now(),
			})
		}

		events, chain := s.eventsFor(cmd, effect, result)
		for _, event := range events {
			if err := s.apply(ctx, event); err != nil {
				return err
			}
		}
		if chain != nil {
			if err := chain(ctx); err != nil {
				return err
			}
		}
	}

	for _, event := range s.commandEvents(cmd, pre) {
		if err := s.apply(ctx, event); err != nil {
			return err
		}
	}

	return s.recordConvergence(ctx)
}

// chainFunc continues a command after one of its effects completed (the
// turn pipeline: model response processing and turn accounting).
type chainFunc func(context.Context) error

// eventsFor maps one (command, effect, result) triple to the events it
// proves. Most effects prove nothing.
func (s *session) eventsFor(cmd core.Command, effect core.Effect, result core.Result) ([]core.Event, chainFunc) {
	now := s.now()

	switch e := effect.(type) {
	case core.InvokeLLM:
		resp, ok := result.(core.LLMResponded)
		if !ok {
			return nil, nil
		}
		switch cmd.(type) {
		case core.Initialize:
			return s.initializedEvents(resp.Response, now), nil
		case core.StartTurn:
			turn := s.state.Turn + 1
			return []core.Event{core.TurnStarted{Turn: turn, At: now}}, func(ctx context.Context) error {
				if err := s.process(ctx, core.ProcessLLMResponse{Response: resp.Response}); err != nil {
					return err
				}
				for _, completion := range completionCommands(resp.Response) {
					if err := s.process(ctx, completion); err != nil {
						return err
					}
				}
				return s.apply(ctx, core.TurnCompleted{Turn: turn, At: s.now()})
			}
		}
		return nil, nil

	case core.WriteFile:
		written, ok := result.(core.FileWritten)
		if !ok {
			return nil, nil
		}
		if existing, found := s.state.ArtifactByPath(written.Path); found {
			return []core.Event{core.ArtifactUpdated{ArtifactID: existing.ID, Hash: written.Hash, At: now}}, nil
		}
		return []core.Event{core.ArtifactCreated{
			Artifact: core.Artifact{
				ID:        s.decider.NewID(),
				Path:      written.Path,
				Hash:      written.Hash,
				Phase:     s.state.Phase,
				CreatedAt: now,
				UpdatedAt: now,
			},
			At: now,
		}}, nil

	case core.RunTests:
		ran, ok := result.(core.TestsRan)
		if !ok {
			return nil, nil
		}
		if ran.Result.AllPassed() {
			return []core.Event{core.TestsPassed{Coverage: ran.Result.Coverage, At: now}}, nil
		}
		return []core.Event{core.TestsFailed{Coverage: ran.Result.Coverage, At: now}}, nil

	case core.CheckTypes:
		checked, ok := result.(core.TypesChecked)
		if !ok {
			return nil, nil
		}
		if checked.Passed {
			return []core.Event{core.TypeCheckPassed{At: now}}, nil
		}
		return []core.Event{core.TypeCheckFailed{Errors: checked.Errors, At: now}}, nil

	case core.EmitCheckpoint:
		return []core.Event{core.CheckpointCreated{Summary: e.Summary, At: now}}, nil

	case core.WaitForApproval:
		decision, ok := result.(core.ApprovalDecision)
		if !ok {
			return nil, nil
		}
		if decision.Approved {
			return []core.Event{core.CheckpointApproved{CheckpointID: decision.CheckpointID, At: now}}, nil
		}
		return []core.Event{core.CheckpointRejected{CheckpointID: decision.CheckpointID, Reason: decision.Reason, At: now}}, nil
	}

	return nil, nil
}

// completionCommands extracts checklist completions the model reported via
// the complete_checklist_item tool. Malformed inputs are skipped, matching
// the write_file handling in the decider.
func completionCommands(resp core.LLMResponse) []core.Command {
	var commands []core.Command
	for _, use := range resp.ToolUses {
		if use.Tool != "complete_checklist_item" {
			continue
		}
		itemID, ok := use.Input["item_id"].(string)
		if !ok || itemID == "" {
			continue
		}
		evidence, _ := use.Input["evidence"].(string)
		commands = append(commands, core.CompleteChecklistItem{ItemID: itemID, Evidence: evidence})
	}
	return commands
}

// initializedEvents parses the extraction response into the Initialized
// event. An unparseable response is contained as a recoverable error; the
// session stays uninitialized and the caller may retry.
func (s *session) initializedEvents(resp core.LLMResponse, now time.Time) []core.Event {
	checklist, err := core.ParseChecklist(resp.Content)
	if err != nil {
		s.errorCount++
		s.logger.Warn("requirements extraction produced no checklist", zap.Error(err))
		return []core.Event{core.ErrorOccurred{Message: err.Error(), Recoverable: true, At: now}}
	}
	return []core.Event{core.Initialized{
		Prompt:    s.opts.Prompt,
		Checklist: checklist,
		Budgets:   core.DefaultBudgets(),
		At:        now,
	}}
}

// commandEvents derives the events a command proves directly against the
// state it was decided on, independent of any effect result.
func (s *session) commandEvents(cmd core.Command, pre core.State) []core.Event {
	now := s.now()

	switch c := cmd.(type) {
	case core.StartTurn:
		if core.HasConverged(pre) {
			return nil
		}
		budget, ok := pre.BudgetFor(pre.Phase)
		if ok && budget.Exhausted() {
			return []core.Event{core.BudgetExhausted{Phase: pre.Phase, TurnsUsed: budget.UsedTurns, At: now}}
		}
		return nil

	case core.AdvancePhase:
		if !pre.PhaseChecklistDone(pre.Phase) {
			return nil
		}
		next, ok := core.NextPhase(pre.Phase)
		if !ok {
			return nil
		}
		used := 0
		if budget, found := pre.BudgetFor(pre.Phase); found {
			used = budget.UsedTurns
		}
		nextBudget, _ := pre.BudgetFor(next)
		return []core.Event{
			core.PhaseCompleted{Phase: pre.Phase, TurnsUsed: used, At: now},
			core.PhaseStarted{Phase: next, Budget: nextBudget, At: now},
		}

	case core.RecordArtifact:
		if existing, found := pre.ArtifactByPath(c.Path); found {
			return []core.Event{core.ArtifactUpdated{ArtifactID: existing.ID, Hash: c.Hash, At: now}}
		}
		return []core.Event{core.ArtifactCreated{
			Artifact: core.Artifact{
				ID:        s.decider.NewID(),
				Path:      c.Path,
				Hash:      c.Hash,
				Phase:     pre.Phase,
				CreatedAt: now,
				UpdatedAt: now,
			},
			At: now,
		}}

	case core.RecordTestResult:
		if c.Result.AllPassed() {
			return []core.Event{core.TestsPassed{Coverage: c.Result.Coverage, At: now}}
		}
		return []core.Event{core.TestsFailed{Coverage: c.Result.Coverage, At: now}}

	case core.RecordTypeCheck:
		if c.Passed {
			return []core.Event{core.TypeCheckPassed{At: now}}
		}
		return []core.Event{core.TypeCheckFailed{Errors: c.Errors, At: now}}

	case core.CompleteChecklistItem:
		item, found := pre.ChecklistItemByID(c.ItemID)
		if !found || item.Completed {
			return nil
		}
		return []core.Event{core.ChecklistItemCompleted{ItemID: c.ItemID, Evidence: c.Evidence, At: now}}

	case core.ApproveCheckpoint:
		if pre.PendingCheckpoint == nil {
			return nil
		}
		return []core.Event{core.CheckpointApproved{CheckpointID: pre.PendingCheckpoint.ID, At: now}}

	case core.RejectCheckpoint:
		if pre.PendingCheckpoint == nil {
			return nil
		}
		return []core.Event{core.CheckpointRejected{CheckpointID: pre.PendingCheckpoint.ID, Reason: c.Reason, At: now}}

	case core.Error:
		return []core.Event{core.ErrorOccurred{Message: c.Message, Recoverable: c.Recoverable, At: now}}
	}

	return nil
}

// apply evolves the state and appends the event; the append assigns the
// monotonic index the snapshot policy keys off.
func (s *session) apply(ctx context.Context, event core.Event) error {
	next := core.Evolve(s.state, event)

	index, err := s.store.Append(ctx, event)
	if err != nil {
		return fmt.Errorf("persist %s event: %w", event.EventKind(), err)
	}

	s.state = next
	s.lastIndex = index
	s.lastEvent = event
	s.eventsPersisted++
	s.opts.Telemetry.RecordMetric("events_persisted", 1, map[string]string{"kind": event.EventKind()})

	if s.opts.SnapshotPolicy(index, event.EventKind()) {
		if err := s.store.SaveSnapshot(ctx, s.state, index); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	return nil
}

// recordConvergence appends ConvergenceReached exactly once, on the
// transition into the converged condition.
func (s *session) recordConvergence(ctx context.Context) error {
	if s.convergenceRecorded || !core.HasConverged(s.state) {
		return nil
	}
	s.convergenceRecorded = true
	return s.apply(ctx, core.ConvergenceReached{
		Score: s.state.Confidence.OverallScore,
		At:    s.now(),
	})
}

// tryResume restores state from the latest snapshot plus trailing events.
// Only Evolve runs here; effects are never re-executed during replay.
func (s *session) tryResume(ctx context.Context) error {
	from := int64(1)
	s.state = core.NewState()

	snap, err := s.store.LatestSnapshot(ctx)
	switch {
	case errors.Is(err, eventstore.ErrNoSnapshot):
		// Fresh log, start from the initial state.
	case err != nil:
		return err
	default:
		s.state = snap.State
		s.lastIndex = snap.AtEventIndex
		from = snap.AtEventIndex + 1
	}

	events, err := s.store.Events(ctx, from, 0)
	if err != nil {
		return err
	}
	for _, stored := range events {
		s.state = core.Evolve(s.state, stored.Event)
		s.lastIndex = stored.Index
		s.lastEvent = stored.Event
	}

	s.convergenceRecorded = s.state.Converged
	if s.lastIndex > 0 {
		s.logger.Info("session resumed",
			zap.Int64("last_event_index", s.lastIndex),
			zap.Int("turn", s.state.Turn),
			zap.String("phase", string(s.state.Phase)),
		)
	}
	return nil
}

func (s *session) shouldStop() bool {
	return core.HasConverged(s.state) || s.state.Converged || s.state.Turn >= s.opts.MaxTurns
}

func (s *session) now() time.Time {
	return s.decider.Now().UTC()
}

func (s *session) summary() *Summary {
	return &Summary{
		Converged:       s.state.Converged || core.HasConverged(s.state),
		Turns:           s.state.Turn,
		Phase:           s.state.Phase,
		Score:           s.state.Confidence.OverallScore,
		EventsPersisted: s.eventsPersisted,
		Errors:          s.errorCount,
		Warnings:        s.warningCount,
		Duration:        s.decider.Now().Sub(s.started),
	}
}
