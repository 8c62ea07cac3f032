// Package interpreter executes effect descriptions against the adapter
// ports. It is the impure half of the functional-core / imperative-shell
// split: the decider describes, the interpreter does.
package interpreter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

// ErrPathEscape is returned when an effect references a path outside the
// session work directory.
var ErrPathEscape = errors.New("path escapes the work directory")

// LLMClient invokes the model.
type LLMClient interface {
	Invoke(ctx context.Context, req core.InvokeLLM) (core.LLMResponse, error)
}

// TestRunner runs tests, type checks and schema validation.
type TestRunner interface {
	RunTests(ctx context.Context, pattern string, coverage bool) (core.TestResult, error)
	CheckTypes(ctx context.Context) (passed bool, errs []string, err error)
	ValidateSchema(ctx context.Context, schemaPath, dataPath string) (valid bool, errs []string, err error)
}

// Telemetry receives spans, metrics and structured log records.
type Telemetry interface {
	StartSpan(name string, attrs map[string]string) string
	EndSpan(spanID, status, errMsg string)
	RecordMetric(name string, value float64, tags map[string]string)
	Log(level, msg string, fields map[string]any)
}

// Approver is the checkpoint rendezvous: it makes summaries externally
// visible and blocks on the external decision.
type Approver interface {
	EmitCheckpoint(ctx context.Context, summary core.CheckpointSummary) error
	WaitForApproval(ctx context.Context, checkpointID string, timeout time.Duration) (approved bool, reason string, err error)
}

// EventLog is the slice of the event store the interpreter needs.
type EventLog interface {
	Append(ctx context.Context, e core.Event) (int64, error)
	SaveSnapshot(ctx context.Context, s core.State, atIndex int64) error
}

// Interpreter executes one effect at a time, strictly in order. Every
// execution is wrapped in a telemetry span named effect.<kind> with an
// effect_duration_ms sample tagged by outcome.
type Interpreter struct {
	workDir   string
	llm       LLMClient
	runner    TestRunner
	telemetry Telemetry
	approver  Approver
	log       EventLog
	logger    *zap.Logger
}

// New builds an interpreter over the given ports. A relative work directory
// is made absolute; every filesystem effect resolves against it.
func New(workDir string, llm LLMClient, runner TestRunner, telemetry Telemetry, approver Approver, log EventLog, logger *zap.Logger) (*Interpreter, error) {
	if workDir == "" {
		return nil, errors.New("work directory is required")
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work directory: %w", err)
	}
	if telemetry == nil {
		return nil, errors.New("telemetry port is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		workDir:   abs,
		llm:       llm,
		runner:    runner,
		telemetry: telemetry,
		approver:  approver,
		log:       log,
		logger:    logger,
	}, nil
}

// Execute runs one effect and returns its typed result. Failures end the
// wrapping span with error status and propagate to the caller; the
// orchestrator converts them into ErrorOccurred events.
func (i *Interpreter) Execute(ctx context.Context, effect core.Effect) (core.Result, error) {
	kind := effect.EffectKind()
	spanID := i.telemetry.StartSpan("effect."+kind, nil)
	start := time.Now()

	result, err := i.execute(ctx, effect)

	status := "success"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}
	i.telemetry.RecordMetric("effect_duration_ms",
		float64(time.Since(start).Milliseconds()),
		map[string]string{"effect": kind, "status": status},
	)
	i.telemetry.EndSpan(spanID, status, errMsg)

	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", kind, err)
	}
	return result, nil
}

// ExecuteAll runs effects strictly sequentially; the first failure aborts
// the batch and returns the results gathered so far.
func (i *Interpreter) ExecuteAll(ctx context.Context, effects []core.Effect) ([]core.Result, error) {
	results := make([]core.Result, 0, len(effects))
	for _, effect := range effects {
		result, err := i.Execute(ctx, effect)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (i *Interpreter) execute(ctx context.Context, effect core.Effect) (core.Result, error) {
	switch e := effect.(type) {
	case core.InvokeLLM:
		return i.invokeLLM(ctx, e)
	case core.WriteFile:
		return i.writeFile(e)
	case core.ReadFile:
		return i.readFile(e)
	case core.DeleteFile:
		return i.deleteFile(e)
	case core.ListDirectory:
		return i.listDirectory(e)
	case core.RunTests:
		return i.runTests(ctx, e)
	case core.CheckTypes:
		passed, errs, err := i.runner.CheckTypes(ctx)
		if err != nil {
			return nil, err
		}
		return core.TypesChecked{Passed: passed, Errors: errs}, nil
	case core.ValidateSchema:
		valid, errs, err := i.runner.ValidateSchema(ctx, e.SchemaPath, e.DataPath)
		if err != nil {
			return nil, err
		}
		return core.SchemaValidated{Valid: valid, Errors: errs}, nil
	case core.StartSpan:
		return core.SpanStarted{SpanID: i.telemetry.StartSpan(e.Name, e.Attributes)}, nil
	case core.EndSpan:
		i.telemetry.EndSpan(e.SpanID, e.Status, e.Err)
		return core.Ack{}, nil
	case core.RecordMetric:
		i.telemetry.RecordMetric(e.Name, e.Value, e.Tags)
		return core.Ack{}, nil
	case core.Log:
		i.telemetry.Log(e.Level, e.Message, e.Context)
		return core.Ack{}, nil
	case core.EmitCheckpoint:
		if err := i.approver.EmitCheckpoint(ctx, e.Summary); err != nil {
			return nil, err
		}
		return core.Ack{}, nil
	case core.WaitForApproval:
		approved, reason, err := i.approver.WaitForApproval(ctx, e.CheckpointID, e.Timeout)
		if err != nil {
			return nil, err
		}
		return core.ApprovalDecision{CheckpointID: e.CheckpointID, Approved: approved, Reason: reason}, nil
	case core.PersistEvent:
		index, err := i.log.Append(ctx, e.Event)
		if err != nil {
			return nil, err
		}
		return core.EventPersisted{Index: index}, nil
	case core.CreateSnapshot:
		if err := i.log.SaveSnapshot(ctx, e.State, e.AtEventIndex); err != nil {
			return nil, err
		}
		return core.SnapshotCreated{AtEventIndex: e.AtEventIndex}, nil
	default:
		return nil, fmt.Errorf("unknown effect kind %q", effect.EffectKind())
	}
}

func (i *Interpreter) invokeLLM(ctx context.Context, e core.InvokeLLM) (core.Result, error) {
	resp, err := i.llm.Invoke(ctx, e)
	if err != nil {
		return nil, err
	}
	if resp.TokensUsed == 0 {
		// Fall back to the usual ~4 chars per token estimate when the
		// adapter does not report usage.
		resp.TokensUsed = (len(resp.Content) + 3) / 4
	}
	return core.LLMResponded{Response: resp}, nil
}

func (i *Interpreter) writeFile(e core.WriteFile) (core.Result, error) {
	path, err := i.resolve(e.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(e.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	sum := sha256.Sum256([]byte(e.Content))
	return core.FileWritten{Path: e.Path, Hash: hex.EncodeToString(sum[:])}, nil
}

func (i *Interpreter) readFile(e core.ReadFile) (core.Result, error) {
	path, err := i.resolve(e.Path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return core.FileRead{Path: e.Path, Content: string(content)}, nil
}

func (i *Interpreter) deleteFile(e core.DeleteFile) (core.Result, error) {
	path, err := i.resolve(e.Path)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("delete file: %w", err)
	}
	return core.FileDeleted{Path: e.Path}, nil
}

func (i *Interpreter) listDirectory(e core.ListDirectory) (core.Result, error) {
	root, err := i.resolve(e.Path)
	if err != nil {
		return nil, err
	}

	var entries []string
	if e.Recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if path == root {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			entries = append(entries, rel)
			return nil
		})
	} else {
		var dirEntries []os.DirEntry
		dirEntries, err = os.ReadDir(root)
		for _, entry := range dirEntries {
			entries = append(entries, entry.Name())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	return core.DirectoryListed{Path: e.Path, Entries: entries}, nil
}

func (i *Interpreter) runTests(ctx context.Context, e core.RunTests) (core.Result, error) {
	result, err := i.runner.RunTests(ctx, e.Pattern, e.Coverage)
	if err != nil {
		return nil, err
	}
	i.telemetry.RecordMetric("tests_total", float64(result.Total), nil)
	i.telemetry.RecordMetric("tests_passed", float64(result.Passed), nil)
	i.telemetry.RecordMetric("tests_failed", float64(result.Failed), nil)
	if result.Coverage != nil {
		i.telemetry.RecordMetric("coverage", *result.Coverage, nil)
	}
	return core.TestsRan{Result: result}, nil
}

// resolve joins a session-relative path onto the work directory and rejects
// anything that escapes it.
func (i *Interpreter) resolve(rel string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(i.workDir, rel))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if abs != i.workDir && !strings.HasPrefix(abs, i.workDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return abs, nil
}
