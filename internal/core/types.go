package core

import (
	"time"
)

// ChecklistItem is a single verifiable requirement extracted during
// initialization. Completion is monotonic: once completed an item never
// transitions back.
type ChecklistItem struct {
	ID          string     `json:"id"`
	Phase       Phase      `json:"phase"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	Evidence    string     `json:"evidence,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Artifact is a file the session has produced. Artifacts are looked up by
// path; the hash is updated on rewrite.
type Artifact struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TurnBudget caps the number of turns a single phase may consume.
type TurnBudget struct {
	Phase     Phase `json:"phase"`
	MaxTurns  int   `json:"max_turns"`
	UsedTurns int   `json:"used_turns"`
}

// Exhausted reports whether the budget has been fully consumed.
func (b TurnBudget) Exhausted() bool {
	return b.UsedTurns >= b.MaxTurns
}

// DefaultBudgets returns one budget entry per phase in phase order.
func DefaultBudgets() []TurnBudget {
	defaults := map[Phase]int{
		PhaseRequirements:   2000,
		PhaseDesign:         3000,
		PhaseImplementation: 8000,
		PhaseTesting:        4000,
		PhaseDocumentation:  1500,
		PhaseVerification:   1500,
	}
	budgets := make([]TurnBudget, 0, len(defaults))
	for _, p := range PhaseOrder() {
		budgets = append(budgets, TurnBudget{Phase: p, MaxTurns: defaults[p]})
	}
	return budgets
}

// Confidence holds the objective quality signals and the score derived from
// them via OverallScore.
type Confidence struct {
	TypesSafe         bool    `json:"types_safe"`
	SchemaValid       bool    `json:"schema_valid"`
	TestsPass         bool    `json:"tests_pass"`
	Coverage          float64 `json:"coverage"`
	ChecklistComplete bool    `json:"checklist_complete"`
	OverallScore      float64 `json:"overall_score"`
}

// CheckpointSummary is the externally visible snapshot of progress handed to
// an approver at a checkpoint rendezvous.
type CheckpointSummary struct {
	ID             string    `json:"id"`
	Phase          Phase     `json:"phase"`
	Turn           int       `json:"turn"`
	CompletedItems int       `json:"completed_items"`
	TotalItems     int       `json:"total_items"`
	ArtifactCount  int       `json:"artifact_count"`
	Score          float64   `json:"score"`
	CreatedAt      time.Time `json:"created_at"`
}

// State is the session aggregate. It is a pure derivation of the event log;
// mutation happens only by replacement through Evolve.
type State struct {
	Phase                  Phase              `json:"phase"`
	Turn                   int                `json:"turn"`
	Prompt                 string             `json:"prompt"`
	Checklist              []ChecklistItem    `json:"checklist"`
	Artifacts              []Artifact         `json:"artifacts"`
	Budgets                []TurnBudget       `json:"budgets"`
	Confidence             Confidence         `json:"confidence"`
	PendingCheckpoint      *CheckpointSummary `json:"pending_checkpoint,omitempty"`
	LastApprovedCheckpoint *CheckpointSummary `json:"last_approved_checkpoint,omitempty"`
	ConvergenceStreak      int                `json:"convergence_streak"`
	Converged              bool               `json:"converged"`
	StartedAt              time.Time          `json:"started_at"`
	LastActivityAt         time.Time          `json:"last_activity_at"`
}

// NewState returns the initial state: first phase, turn zero, default
// budgets. Schema validity starts true (no schema means no violations);
// every other confidence signal must be earned.
func NewState() State {
	return State{
		Phase:      PhaseRequirements,
		Budgets:    DefaultBudgets(),
		Confidence: Confidence{SchemaValid: true},
	}
}

// Clone returns a deep copy of the state. Evolve works on a clone so that the
// input state is never mutated.
func (s State) Clone() State {
	out := s
	if s.Checklist != nil {
		out.Checklist = make([]ChecklistItem, len(s.Checklist))
		copy(out.Checklist, s.Checklist)
	}
	if s.Artifacts != nil {
		out.Artifacts = make([]Artifact, len(s.Artifacts))
		copy(out.Artifacts, s.Artifacts)
	}
	if s.Budgets != nil {
		out.Budgets = make([]TurnBudget, len(s.Budgets))
		copy(out.Budgets, s.Budgets)
	}
	if s.PendingCheckpoint != nil {
		cp := *s.PendingCheckpoint
		out.PendingCheckpoint = &cp
	}
	if s.LastApprovedCheckpoint != nil {
		cp := *s.LastApprovedCheckpoint
		out.LastApprovedCheckpoint = &cp
	}
	return out
}

// BudgetFor returns the budget entry for the given phase.
func (s State) BudgetFor(p Phase) (TurnBudget, bool) {
	for _, b := range s.Budgets {
		if b.Phase == p {
			return b, true
		}
	}
	return TurnBudget{}, false
}

// ArtifactByPath returns the artifact recorded under the given path.
func (s State) ArtifactByPath(path string) (Artifact, bool) {
	for _, a := range s.Artifacts {
		if a.Path == path {
			return a, true
		}
	}
	return Artifact{}, false
}

// ChecklistForPhase returns the checklist items owned by the given phase.
func (s State) ChecklistForPhase(p Phase) []ChecklistItem {
	var items []ChecklistItem
	for _, item := range s.Checklist {
		if item.Phase == p {
			items = append(items, item)
		}
	}
	return items
}

// PhaseChecklistDone reports whether the phase has at least one checklist
// item and all of them are completed.
func (s State) PhaseChecklistDone(p Phase) bool {
	items := s.ChecklistForPhase(p)
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !item.Completed {
			return false
		}
	}
	return true
}

// ChecklistItemByID returns the checklist item with the given id.
func (s State) ChecklistItemByID(id string) (ChecklistItem, bool) {
	for _, item := range s.Checklist {
		if item.ID == id {
			return item, true
		}
	}
	return ChecklistItem{}, false
}

// checklistComplete reports whether every checklist item is completed.
func (s State) checklistComplete() bool {
	if len(s.Checklist) == 0 {
		return false
	}
	for _, item := range s.Checklist {
		if !item.Completed {
			return false
		}
	}
	return true
}

// LLMResponse is the adapter-level result of a model invocation.
type LLMResponse struct {
	Content    string    `json:"content"`
	ToolUses   []ToolUse `json:"tool_uses,omitempty"`
	TokensUsed int       `json:"tokens_used"`
}

// ToolUse is a single tool invocation reported by the model.
type ToolUse struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	Result string         `json:"result,omitempty"`
}

// TestResult is the adapter-level result of a test run.
type TestResult struct {
	Total    int      `json:"total"`
	Passed   int      `json:"passed"`
	Failed   int      `json:"failed"`
	Coverage *float64 `json:"coverage,omitempty"`
	Output   string   `json:"output,omitempty"`
}

// AllPassed reports whether the run had at least the absence of failures.
func (r TestResult) AllPassed() bool {
	return r.Failed == 0
}
