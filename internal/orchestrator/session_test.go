package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/turbine/internal/approval"
	"github.com/fyrsmithlabs/turbine/internal/core"
	"github.com/fyrsmithlabs/turbine/internal/eventstore"
	"github.com/fyrsmithlabs/turbine/internal/llm"
)

// checklistJSON is a minimal extraction response: one item per phase so the
// session can advance cleanly. ParseChecklist assigns ids <phase>-01.
const checklistJSON = `[
  {"phase": "requirements", "description": "capture the requirements"},
  {"phase": "design", "description": "sketch the design"},
  {"phase": "implementation", "description": "write the code"},
  {"phase": "testing", "description": "cover the code"},
  {"phase": "documentation", "description": "document the code"},
  {"phase": "verification", "description": "verify the result"}
]`

// stubRunner always reports the configured outcome.
type stubRunner struct {
	passed   bool
	coverage float64
}

func (r *stubRunner) RunTests(context.Context, string, bool) (core.TestResult, error) {
	result := core.TestResult{Total: 5, Passed: 5, Coverage: &r.coverage}
	if !r.passed {
		result.Passed = 4
		result.Failed = 1
	}
	return result, nil
}

func (r *stubRunner) CheckTypes(context.Context) (bool, []string, error) {
	return r.passed, nil, nil
}

func (r *stubRunner) ValidateSchema(context.Context, string, string) (bool, []string, error) {
	return true, nil, nil
}

// pinnedDecider returns a decider with a deterministic clock and id source.
func pinnedDecider() *core.Decider {
	counter := 0
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := core.Decider{
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			counter++
			return fmt.Sprintf("id-%04d", counter)
		},
	}
	return &d
}

func baseOptions(t *testing.T, client *llm.ScriptedClient) Options {
	t.Helper()
	workDir := t.TempDir()
	return Options{
		WorkDir:  workDir,
		Prompt:   "build a key-value store",
		MaxTurns: 50,
		DBPath:   filepath.Join(workDir, "turbine.db"),
		LLM:      client,
		Runner:   &stubRunner{passed: true, coverage: 95},
		Decider:  pinnedDecider(),
	}
}

// completeTurn builds a model turn that marks one checklist item done,
// optionally writing a file too.
func completeTurn(itemID, path string) core.LLMResponse {
	resp := core.LLMResponse{Content: "progress", TokensUsed: 50}
	resp.ToolUses = append(resp.ToolUses, core.ToolUse{
		Tool:  "complete_checklist_item",
		Input: map[string]any{"item_id": itemID, "evidence": "done in turn"},
	})
	if path != "" {
		resp.ToolUses = append(resp.ToolUses, core.ToolUse{
			Tool:  "write_file",
			Input: map[string]any{"path": path, "content": "package generated"},
		})
	}
	return resp
}

func TestRun_RequiresWorkDirAndLLM(t *testing.T) {
	_, err := Run(context.Background(), Options{Prompt: "x", LLM: llm.NewScriptedClient()})
	assert.Error(t, err)

	_, err = Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "x"})
	assert.Error(t, err)
}

func TestRun_FreshSessionInitializes(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: checklistJSON, TokensUsed: 100},
		core.LLMResponse{Content: "working", TokensUsed: 10},
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 2

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Turns)
	assert.False(t, summary.Converged)
	assert.Greater(t, summary.EventsPersisted, 0)

	calls := client.Calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, 4000, calls[0].MaxTokens, "the first call is requirements extraction")
	assert.Equal(t, 8000, calls[1].MaxTokens, "turn calls use the larger ceiling")

	store, err := eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()

	events, err := store.Events(context.Background(), 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	initialized, ok := events[0].Event.(core.Initialized)
	require.True(t, ok, "the first event is Initialized")
	assert.Equal(t, "build a key-value store", initialized.Prompt)
	assert.Len(t, initialized.Budgets, 6)
	assert.Len(t, initialized.Checklist, 6)
}

func TestRun_ConvergesOnSustainedGreenSignals(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: checklistJSON, TokensUsed: 100},
		completeTurn("requirements-01", ""),
		completeTurn("design-01", "design.md"),
		completeTurn("implementation-01", "store.go"), // build phase: tests run, streak 1
		core.LLMResponse{Content: "hardening", TokensUsed: 20, ToolUses: []core.ToolUse{
			{Tool: "write_file", Input: map[string]any{"path": "store_test.go", "content": "package generated"}},
		}}, // testing phase: streak 2
		completeTurn("testing-01", ""),      // streak 3
		completeTurn("documentation-01", "README.md"),
		completeTurn("verification-01", ""), // checklist complete, score 1.0
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 40

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, summary.Converged)
	assert.GreaterOrEqual(t, summary.Score, 0.9)
	assert.Less(t, summary.Turns, 40, "convergence beats the turn limit")
	assert.Zero(t, summary.Errors)

	store, err := eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()
	events, err := store.Events(context.Background(), 1, 0)
	require.NoError(t, err)

	var reached int
	for _, stored := range events {
		if stored.Kind == core.KindConvergenceReached {
			reached++
		}
	}
	assert.Equal(t, 1, reached, "ConvergenceReached is recorded exactly once")
}

func TestRun_BudgetExhaustionStopsCleanly(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: "working", TokensUsed: 10},
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 100

	// Seed the log with an Initialized event carrying one-turn budgets and
	// an item that never completes.
	store, err := eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	var budgets []core.TurnBudget
	for _, p := range core.PhaseOrder() {
		budgets = append(budgets, core.TurnBudget{Phase: p, MaxTurns: 1})
	}
	_, err = store.Append(context.Background(), core.Initialized{
		Prompt: "seeded",
		Checklist: []core.ChecklistItem{
			{ID: "requirements-01", Phase: core.PhaseRequirements, Description: "never completed"},
		},
		Budgets: budgets,
		At:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.False(t, summary.Converged)
	assert.Equal(t, 1, summary.Turns, "one turn consumed the whole phase budget")

	store, err = eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()
	events, err := store.Events(context.Background(), 1, 0)
	require.NoError(t, err)

	var exhausted bool
	for _, stored := range events {
		if stored.Kind == core.KindBudgetExhausted {
			exhausted = true
		}
	}
	assert.True(t, exhausted, "BudgetExhausted must be persisted")
}

func TestRun_ReplayEquivalence(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: checklistJSON, TokensUsed: 100},
		core.LLMResponse{
			Content:    "progress",
			TokensUsed: 50,
			ToolUses: []core.ToolUse{
				{Tool: "write_file", Input: map[string]any{"path": "out.go", "content": "package out"}},
			},
		},
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 5

	var lastLive core.State
	opts.OnProgress = func(state core.State, _ core.Event) {
		lastLive = state
	}

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	store, err := eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()

	stored, err := store.Events(context.Background(), 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	replayed := core.NewState()
	for _, se := range stored {
		replayed = core.Evolve(replayed, se.Event)
	}

	assert.Equal(t, lastLive, replayed, "replay reproduces the live state exactly")
}

func TestRun_ResumeContinuesFromLog(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: checklistJSON, TokensUsed: 100},
		core.LLMResponse{Content: "working", TokensUsed: 10},
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 2

	first, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 2, first.Turns)

	// Restart with a higher limit: the session picks up at turn 2 instead
	// of re-initializing.
	opts.MaxTurns = 4
	opts.Decider = pinnedDecider()
	second, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 4, second.Turns)

	store, err := eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()
	events, err := store.Events(context.Background(), 1, 0)
	require.NoError(t, err)

	var initCount int
	for _, stored := range events {
		if stored.Kind == core.KindInitialized {
			initCount++
		}
	}
	assert.Equal(t, 1, initCount, "resume must not re-initialize")
}

func TestRun_PersistsSessionMetadata(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: checklistJSON, TokensUsed: 100},
		core.LLMResponse{Content: "working", TokensUsed: 10},
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 1

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	store, err := eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)

	sessionID, err := store.GetMeta(context.Background(), "session_id")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	prompt, err := store.GetMeta(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "build a key-value store", prompt)

	lastRun, err := store.GetMeta(context.Background(), "last_run_at")
	require.NoError(t, err)
	_, err = time.Parse(time.RFC3339, lastRun)
	require.NoError(t, err, "last_run_at is an RFC 3339 stamp")
	require.NoError(t, store.Close())

	// A restart keeps the minted session id.
	opts.MaxTurns = 2
	opts.Decider = pinnedDecider()
	_, err = Run(context.Background(), opts)
	require.NoError(t, err)

	store, err = eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()
	again, err := store.GetMeta(context.Background(), "session_id")
	require.NoError(t, err)
	assert.Equal(t, sessionID, again, "the session id survives restarts")
}

func TestRun_CheckpointRendezvous(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: checklistJSON, TokensUsed: 100},
		core.LLMResponse{Content: "working", TokensUsed: 10},
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 10
	opts.CheckpointEvery = 10

	var decided []core.CheckpointSummary
	opts.CheckpointCallback = func(_ context.Context, summary core.CheckpointSummary) (approval.Decision, error) {
		decided = append(decided, summary)
		return approval.Decision{Approved: true}, nil
	}

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, decided, 1, "one checkpoint at turn 10")
	assert.Equal(t, 10, decided[0].Turn)

	store, err := eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()
	events, err := store.Events(context.Background(), 1, 0)
	require.NoError(t, err)

	var created, approved int
	for _, stored := range events {
		switch stored.Kind {
		case core.KindCheckpointCreated:
			created++
		case core.KindCheckpointApproved:
			approved++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, approved)
}

func TestRun_RejectedCheckpointClearsPending(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: checklistJSON, TokensUsed: 100},
		core.LLMResponse{Content: "working", TokensUsed: 10},
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 10
	opts.CheckpointCallback = func(context.Context, core.CheckpointSummary) (approval.Decision, error) {
		return approval.Decision{Approved: false, Reason: "needs review"}, nil
	}

	var finalState core.State
	opts.OnProgress = func(state core.State, _ core.Event) {
		finalState = state
	}

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Nil(t, finalState.PendingCheckpoint, "rejection clears the pending checkpoint")
	assert.Nil(t, finalState.LastApprovedCheckpoint)
}

func TestRun_AdapterErrorIsContained(t *testing.T) {
	client := llm.NewScriptedClient() // empty script: every call errors
	opts := baseOptions(t, client)
	opts.MaxTurns = 3

	summary, err := Run(context.Background(), opts)
	require.NoError(t, err, "adapter failures never crash the loop")
	assert.Greater(t, summary.Errors, 0)
	assert.False(t, summary.Converged)

	store, err := eventstore.Open(opts.DBPath, nil)
	require.NoError(t, err)
	defer store.Close()
	events, err := store.Events(context.Background(), 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, core.KindErrorOccurred, events[0].Kind)
}

func TestRun_ContextCancellationStopsBetweenIterations(t *testing.T) {
	client := llm.NewScriptedClient(
		core.LLMResponse{Content: checklistJSON, TokensUsed: 100},
		core.LLMResponse{Content: "working", TokensUsed: 10},
	)
	opts := baseOptions(t, client)
	opts.MaxTurns = 1000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opts.OnProgress = func(state core.State, _ core.Event) {
		if state.Turn >= 2 {
			cancel()
		}
	}

	summary, err := Run(ctx, opts)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Turns, 2)
	assert.Less(t, summary.Turns, 1000)
}
