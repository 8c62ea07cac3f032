package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

// FileApprover writes each checkpoint summary as <dir>/<id>.json and waits
// for a human (or tool) to answer with <dir>/<id>.decision.json containing
// {"approved": bool, "reason": "..."}.
type FileApprover struct {
	dir    string
	logger *zap.Logger
}

// NewFileApprover ensures the exchange directory exists.
func NewFileApprover(dir string, logger *zap.Logger) (*FileApprover, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create approval directory: %w", err)
	}
	return &FileApprover{dir: dir, logger: logger}, nil
}

// EmitCheckpoint writes the summary file.
func (a *FileApprover) EmitCheckpoint(_ context.Context, summary core.CheckpointSummary) error {
	blob, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint summary: %w", err)
	}
	path := filepath.Join(a.dir, summary.ID+".json")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write checkpoint summary: %w", err)
	}
	a.logger.Info("checkpoint summary written",
		zap.String("checkpoint_id", summary.ID),
		zap.String("path", path),
	)
	return nil
}

// WaitForApproval watches the exchange directory for the decision file.
func (a *FileApprover) WaitForApproval(ctx context.Context, checkpointID string, timeout time.Duration) (bool, string, error) {
	decisionPath := filepath.Join(a.dir, checkpointID+".decision.json")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, "", fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(a.dir); err != nil {
		return false, "", fmt.Errorf("watch approval directory: %w", err)
	}

	// The decision may already exist (the approver can be faster than the
	// watcher setup).
	if decision, ok := a.readDecision(decisionPath); ok {
		return decision.Approved, decision.Reason, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case event := <-watcher.Events:
			if event.Name != decisionPath {
				continue
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if decision, ok := a.readDecision(decisionPath); ok {
				return decision.Approved, decision.Reason, nil
			}
		case err := <-watcher.Errors:
			return false, "", fmt.Errorf("watch approval directory: %w", err)
		case <-deadline.C:
			a.logger.Warn("approval timed out", zap.String("checkpoint_id", checkpointID))
			return false, TimeoutReason, nil
		case <-ctx.Done():
			return false, "", ctx.Err()
		}
	}
}

// readDecision parses the decision file, tolerating a partially written one
// (the next watcher event retries).
func (a *FileApprover) readDecision(path string) (Decision, bool) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Decision{}, false
	}
	var decision Decision
	if err := json.Unmarshal(content, &decision); err != nil {
		a.logger.Debug("decision file not yet parseable", zap.String("path", path))
		return Decision{}, false
	}
	return decision, true
}
