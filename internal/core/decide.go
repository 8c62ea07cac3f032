package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Token ceilings for the two model invocations the decider issues.
const (
	extractionMaxTokens = 4000
	turnMaxTokens       = 8000
)

// ApprovalTimeout is the default rendezvous timeout for checkpoint approval.
const ApprovalTimeout = 300 * time.Second

// Decider is the pure command handler. The clock and id source are injected
// so that Decide stays deterministic under test; neither is consulted for
// anything but checkpoint summaries, whose nondeterminism is captured in the
// events derived from them.
type Decider struct {
	Now   func() time.Time
	NewID func() string
}

// NewDecider returns a decider wired to the wall clock and random uuids.
func NewDecider() Decider {
	return Decider{Now: time.Now, NewID: uuid.NewString}
}

// Decide maps one command and the current state to an ordered effect list.
// It never performs I/O; later effects may rely on earlier ones having been
// issued (a span start precedes the model call it covers).
func (d Decider) Decide(cmd Command, s State) []Effect {
	switch c := cmd.(type) {
	case Initialize:
		return d.decideInitialize(c, s)
	case AdvancePhase:
		return d.decideAdvancePhase(s)
	case StartTurn:
		return d.decideStartTurn(s)
	case ProcessLLMResponse:
		return d.decideProcessResponse(c, s)
	case RecordArtifact:
		return d.decideRecordArtifact(c, s)
	case RecordTestResult:
		return d.decideRecordTestResult(c, s)
	case RecordTypeCheck:
		return d.decideRecordTypeCheck(c)
	case CompleteChecklistItem:
		return d.decideCompleteItem(c, s)
	case RequestCheckpoint:
		return d.decideRequestCheckpoint(s)
	case ApproveCheckpoint:
		return d.decideApprove(s)
	case RejectCheckpoint:
		return d.decideReject(c, s)
	case Timeout:
		return []Effect{
			logError("phase timed out", map[string]any{"phase": string(c.Phase)}),
			RecordMetric{Name: "phase_timeout", Value: 1, Tags: map[string]string{"phase": string(c.Phase)}},
		}
	case Error:
		return []Effect{
			logError(c.Message, map[string]any{"recoverable": c.Recoverable}),
			RecordMetric{Name: "errors_total", Value: 1, Tags: map[string]string{
				"recoverable": fmt.Sprintf("%t", c.Recoverable),
			}},
		}
	default:
		return []Effect{logWarn("unknown command", map[string]any{"kind": cmd.CommandKind()})}
	}
}

func (d Decider) decideInitialize(c Initialize, s State) []Effect {
	if s.Turn > 0 || len(s.Checklist) > 0 {
		return []Effect{logWarn("session already initialized", nil)}
	}
	return []Effect{
		logInfo("initializing session", map[string]any{"prompt_len": len(c.Prompt)}),
		StartSpan{Name: "session", Attributes: map[string]string{"phase": string(PhaseRequirements)}},
		InvokeLLM{Prompt: requirementsPrompt(c.Prompt), MaxTokens: extractionMaxTokens},
	}
}

func (d Decider) decideAdvancePhase(s State) []Effect {
	if !s.PhaseChecklistDone(s.Phase) {
		return []Effect{logWarn("phase checklist incomplete", map[string]any{"phase": string(s.Phase)})}
	}
	if _, ok := NextPhase(s.Phase); !ok {
		return []Effect{logWarn("already at final phase", map[string]any{"phase": string(s.Phase)})}
	}
	return []Effect{
		RecordMetric{Name: "phase_completed", Value: 1, Tags: map[string]string{"phase": string(s.Phase)}},
		logInfo("phase completed", map[string]any{"phase": string(s.Phase), "turn": s.Turn}),
	}
}

func (d Decider) decideStartTurn(s State) []Effect {
	if HasConverged(s) {
		return []Effect{logInfo("session converged, no further turns", map[string]any{
			"score": s.Confidence.OverallScore,
		})}
	}
	budget, ok := s.BudgetFor(s.Phase)
	if !ok || budget.Exhausted() {
		return []Effect{
			logWarn("turn budget exhausted", map[string]any{
				"phase": string(s.Phase),
				"used":  budget.UsedTurns,
				"max":   budget.MaxTurns,
			}),
			RecordMetric{Name: "budget_exhausted", Value: 1, Tags: map[string]string{"phase": string(s.Phase)}},
		}
	}
	return []Effect{
		StartSpan{Name: "turn", Attributes: map[string]string{
			"phase": string(s.Phase),
			"turn":  fmt.Sprintf("%d", s.Turn+1),
		}},
		logInfo("starting turn", map[string]any{"phase": string(s.Phase), "turn": s.Turn + 1}),
		InvokeLLM{Prompt: phasePrompt(s), MaxTokens: turnMaxTokens},
	}
}

func (d Decider) decideProcessResponse(c ProcessLLMResponse, s State) []Effect {
	effects := []Effect{
		logInfo("processing model response", map[string]any{
			"tokens":    c.Response.TokensUsed,
			"tool_uses": len(c.Response.ToolUses),
		}),
		RecordMetric{Name: "tokens_used", Value: float64(c.Response.TokensUsed), Tags: map[string]string{
			"phase": string(s.Phase),
		}},
	}
	for _, use := range c.Response.ToolUses {
		if use.Tool != "write_file" {
			continue
		}
		path, pathOK := use.Input["path"].(string)
		content, contentOK := use.Input["content"].(string)
		if !pathOK || !contentOK || path == "" {
			// Malformed tool input: skip rather than fail the turn.
			continue
		}
		effects = append(effects, WriteFile{Path: path, Content: content})
	}
	if s.Phase == PhaseImplementation || s.Phase == PhaseTesting {
		effects = append(effects, RunTests{Coverage: true}, CheckTypes{})
	}
	return effects
}

func (d Decider) decideRecordArtifact(c RecordArtifact, s State) []Effect {
	if _, exists := s.ArtifactByPath(c.Path); exists {
		return []Effect{
			logInfo("artifact updated", map[string]any{"path": c.Path, "hash": c.Hash}),
			RecordMetric{Name: "artifact_updated", Value: 1, Tags: map[string]string{"phase": string(s.Phase)}},
		}
	}
	return []Effect{
		logInfo("artifact created", map[string]any{"path": c.Path, "hash": c.Hash}),
		RecordMetric{Name: "artifact_created", Value: 1, Tags: map[string]string{"phase": string(s.Phase)}},
	}
}

func (d Decider) decideRecordTestResult(c RecordTestResult, s State) []Effect {
	r := c.Result
	effects := []Effect{
		logInfo("test run recorded", map[string]any{
			"total":  r.Total,
			"passed": r.Passed,
			"failed": r.Failed,
		}),
		RecordMetric{Name: "tests_total", Value: float64(r.Total), Tags: nil},
		RecordMetric{Name: "tests_passed", Value: float64(r.Passed), Tags: nil},
		RecordMetric{Name: "tests_failed", Value: float64(r.Failed), Tags: nil},
	}
	conf := s.Confidence
	conf.TestsPass = r.AllPassed()
	if r.Coverage != nil {
		conf.Coverage = *r.Coverage
		effects = append(effects, RecordMetric{Name: "coverage", Value: *r.Coverage, Tags: nil})
	}
	conf = rescore(conf)
	effects = append(effects, RecordMetric{Name: "confidence", Value: conf.OverallScore, Tags: nil})
	return effects
}

func (d Decider) decideRecordTypeCheck(c RecordTypeCheck) []Effect {
	value := 0.0
	if c.Passed {
		value = 1.0
	}
	effects := []Effect{
		logInfo("type check recorded", map[string]any{"passed": c.Passed, "errors": len(c.Errors)}),
		RecordMetric{Name: "type_check_passed", Value: value, Tags: nil},
	}
	if !c.Passed {
		shown := c.Errors
		if len(shown) > 5 {
			shown = shown[:5]
		}
		for _, msg := range shown {
			effects = append(effects, logWarn("type error", map[string]any{"error": msg}))
		}
	}
	return effects
}

func (d Decider) decideCompleteItem(c CompleteChecklistItem, s State) []Effect {
	item, ok := s.ChecklistItemByID(c.ItemID)
	if !ok {
		return []Effect{logWarn("unknown checklist item", map[string]any{"item_id": c.ItemID})}
	}
	if item.Completed {
		return []Effect{logInfo("checklist item already completed", map[string]any{"item_id": c.ItemID})}
	}
	return []Effect{
		logInfo("checklist item completed", map[string]any{"item_id": c.ItemID, "evidence": c.Evidence}),
		RecordMetric{Name: "checklist_item_completed", Value: 1, Tags: map[string]string{
			"phase": string(item.Phase),
		}},
	}
}

func (d Decider) decideRequestCheckpoint(s State) []Effect {
	if s.PendingCheckpoint != nil {
		return []Effect{logWarn("checkpoint already pending", map[string]any{
			"checkpoint_id": s.PendingCheckpoint.ID,
		})}
	}
	completed := 0
	for _, item := range s.Checklist {
		if item.Completed {
			completed++
		}
	}
	summary := CheckpointSummary{
		ID:             d.NewID(),
		Phase:          s.Phase,
		Turn:           s.Turn,
		CompletedItems: completed,
		TotalItems:     len(s.Checklist),
		ArtifactCount:  len(s.Artifacts),
		Score:          OverallScore(s.Confidence),
		CreatedAt:      d.Now(),
	}
	return []Effect{
		logInfo("requesting checkpoint approval", map[string]any{
			"checkpoint_id": summary.ID,
			"phase":         string(summary.Phase),
			"turn":          summary.Turn,
		}),
		EmitCheckpoint{Summary: summary},
		WaitForApproval{CheckpointID: summary.ID, Timeout: ApprovalTimeout},
	}
}

func (d Decider) decideApprove(s State) []Effect {
	if s.PendingCheckpoint == nil {
		return []Effect{logWarn("no pending checkpoint to approve", nil)}
	}
	return []Effect{
		logInfo("checkpoint approved", map[string]any{"checkpoint_id": s.PendingCheckpoint.ID}),
		RecordMetric{Name: "checkpoint_approved", Value: 1, Tags: nil},
	}
}

func (d Decider) decideReject(c RejectCheckpoint, s State) []Effect {
	if s.PendingCheckpoint == nil {
		return []Effect{logWarn("no pending checkpoint to reject", nil)}
	}
	return []Effect{
		logInfo("checkpoint rejected", map[string]any{
			"checkpoint_id": s.PendingCheckpoint.ID,
			"reason":        c.Reason,
		}),
		RecordMetric{Name: "checkpoint_rejected", Value: 1, Tags: nil},
	}
}

func logInfo(msg string, ctx map[string]any) Log {
	return Log{Level: "info", Message: msg, Context: ctx}
}

func logWarn(msg string, ctx map[string]any) Log {
	return Log{Level: "warn", Message: msg, Context: ctx}
}

func logError(msg string, ctx map[string]any) Log {
	return Log{Level: "error", Message: msg, Context: ctx}
}
