package core

import (
	"time"
)

// Effect is a description of an intended side effect. The decider only
// describes; the interpreter executes. The effect list returned by a single
// Decide call is executed strictly in order.
type Effect interface {
	EffectKind() string
	isEffect()
}

// InvokeLLM calls the model adapter.
type InvokeLLM struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// WriteFile writes content under the session work directory.
type WriteFile struct {
	Path    string
	Content string
}

// ReadFile reads a file under the session work directory.
type ReadFile struct {
	Path string
}

// DeleteFile removes a file under the session work directory.
type DeleteFile struct {
	Path string
}

// ListDirectory lists a directory, recursively when requested.
type ListDirectory struct {
	Path      string
	Recursive bool
}

// RunTests delegates to the test runner adapter.
type RunTests struct {
	Pattern  string
	Coverage bool
}

// CheckTypes delegates to the type checker adapter.
type CheckTypes struct{}

// ValidateSchema delegates schema validation to the runner adapter.
type ValidateSchema struct {
	SchemaPath string
	DataPath   string
}

// StartSpan opens a telemetry span and yields its opaque id.
type StartSpan struct {
	Name       string
	Attributes map[string]string
}

// EndSpan closes a telemetry span with ok or error status.
type EndSpan struct {
	SpanID string
	Status string
	Err    string
}

// RecordMetric records one metric sample with tags.
type RecordMetric struct {
	Name  string
	Value float64
	Tags  map[string]string
}

// Log emits one structured log record.
type Log struct {
	Level   string
	Message string
	Context map[string]any
}

// EmitCheckpoint makes a checkpoint summary externally visible.
type EmitCheckpoint struct {
	Summary CheckpointSummary
}

// WaitForApproval blocks until the approver decides or the timeout elapses.
// A timeout is treated as rejection with reason "timeout", not as an error.
type WaitForApproval struct {
	CheckpointID string
	Timeout      time.Duration
}

// PersistEvent appends an event to the durable log.
type PersistEvent struct {
	Event Event
}

// CreateSnapshot persists a state materialization bound to an event index.
type CreateSnapshot struct {
	State        State
	AtEventIndex int64
}

func (InvokeLLM) EffectKind() string       { return "invoke_llm" }
func (WriteFile) EffectKind() string       { return "write_file" }
func (ReadFile) EffectKind() string        { return "read_file" }
func (DeleteFile) EffectKind() string      { return "delete_file" }
func (ListDirectory) EffectKind() string   { return "list_directory" }
func (RunTests) EffectKind() string        { return "run_tests" }
func (CheckTypes) EffectKind() string      { return "check_types" }
func (ValidateSchema) EffectKind() string  { return "validate_schema" }
func (StartSpan) EffectKind() string       { return "start_span" }
func (EndSpan) EffectKind() string         { return "end_span" }
func (RecordMetric) EffectKind() string    { return "record_metric" }
func (Log) EffectKind() string             { return "log" }
func (EmitCheckpoint) EffectKind() string  { return "emit_checkpoint" }
func (WaitForApproval) EffectKind() string { return "wait_for_approval" }
func (PersistEvent) EffectKind() string    { return "persist_event" }
func (CreateSnapshot) EffectKind() string  { return "create_snapshot" }

func (InvokeLLM) isEffect()       {}
func (WriteFile) isEffect()       {}
func (ReadFile) isEffect()        {}
func (DeleteFile) isEffect()      {}
func (ListDirectory) isEffect()   {}
func (RunTests) isEffect()        {}
func (CheckTypes) isEffect()      {}
func (ValidateSchema) isEffect()  {}
func (StartSpan) isEffect()       {}
func (EndSpan) isEffect()         {}
func (RecordMetric) isEffect()    {}
func (Log) isEffect()             {}
func (EmitCheckpoint) isEffect()  {}
func (WaitForApproval) isEffect() {}
func (PersistEvent) isEffect()    {}
func (CreateSnapshot) isEffect()  {}
