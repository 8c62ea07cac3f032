package core

// Command is an intent handed to Decide. Commands are never persisted; only
// the events derived from their outcomes are.
type Command interface {
	CommandKind() string
	isCommand()
}

// Initialize seeds a fresh session from the original prompt.
type Initialize struct {
	Prompt string
}

// AdvancePhase requests a transition to the next phase once the current
// phase's checklist is fully completed.
type AdvancePhase struct{}

// StartTurn begins one turn: budget check, prompt construction, model call.
type StartTurn struct{}

// ProcessLLMResponse folds a model response back into the session: file
// writes from tool uses, plus test and type-check runs in the build phases.
type ProcessLLMResponse struct {
	Response LLMResponse
}

// RecordArtifact registers a produced file by path and content hash.
type RecordArtifact struct {
	Path string
	Hash string
}

// RecordTestResult injects an externally observed test run.
type RecordTestResult struct {
	Result TestResult
}

// RecordTypeCheck injects an externally observed type-check run.
type RecordTypeCheck struct {
	Passed bool
	Errors []string
}

// CompleteChecklistItem marks a checklist item done with evidence.
type CompleteChecklistItem struct {
	ItemID   string
	Evidence string
}

// RequestCheckpoint opens a rendezvous with the external approver.
type RequestCheckpoint struct{}

// ApproveCheckpoint resolves the pending checkpoint positively.
type ApproveCheckpoint struct{}

// RejectCheckpoint resolves the pending checkpoint negatively.
type RejectCheckpoint struct {
	Reason string
}

// Timeout reports that a phase-level deadline elapsed.
type Timeout struct {
	Phase Phase
}

// Error reports a failure observed outside the decider.
type Error struct {
	Message     string
	Recoverable bool
}

func (Initialize) CommandKind() string            { return "initialize" }
func (AdvancePhase) CommandKind() string          { return "advance_phase" }
func (StartTurn) CommandKind() string             { return "start_turn" }
func (ProcessLLMResponse) CommandKind() string    { return "process_llm_response" }
func (RecordArtifact) CommandKind() string        { return "record_artifact" }
func (RecordTestResult) CommandKind() string      { return "record_test_result" }
func (RecordTypeCheck) CommandKind() string       { return "record_type_check" }
func (CompleteChecklistItem) CommandKind() string { return "complete_checklist_item" }
func (RequestCheckpoint) CommandKind() string     { return "request_checkpoint" }
func (ApproveCheckpoint) CommandKind() string     { return "approve_checkpoint" }
func (RejectCheckpoint) CommandKind() string      { return "reject_checkpoint" }
func (Timeout) CommandKind() string               { return "timeout" }
func (Error) CommandKind() string                 { return "error" }

func (Initialize) isCommand()            {}
func (AdvancePhase) isCommand()          {}
func (StartTurn) isCommand()             {}
func (ProcessLLMResponse) isCommand()    {}
func (RecordArtifact) isCommand()        {}
func (RecordTestResult) isCommand()      {}
func (RecordTypeCheck) isCommand()       {}
func (CompleteChecklistItem) isCommand() {}
func (RequestCheckpoint) isCommand()     {}
func (ApproveCheckpoint) isCommand()     {}
func (RejectCheckpoint) isCommand()      {}
func (Timeout) isCommand()               {}
func (Error) isCommand()                 {}
