package approval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

// CallbackFunc is asked to decide on an emitted checkpoint summary.
type CallbackFunc func(ctx context.Context, summary core.CheckpointSummary) (Decision, error)

// CallbackApprover drives the rendezvous through an in-process callback.
// Without a callback every checkpoint is approved, which keeps unattended
// runs moving.
type CallbackApprover struct {
	callback CallbackFunc
	logger   *zap.Logger

	mu      sync.Mutex
	emitted map[string]core.CheckpointSummary
}

// NewCallbackApprover wraps the given callback; nil means auto-approve.
func NewCallbackApprover(callback CallbackFunc, logger *zap.Logger) *CallbackApprover {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackApprover{
		callback: callback,
		logger:   logger,
		emitted:  make(map[string]core.CheckpointSummary),
	}
}

// EmitCheckpoint records the summary so the later wait can hand it to the
// callback.
func (a *CallbackApprover) EmitCheckpoint(_ context.Context, summary core.CheckpointSummary) error {
	a.mu.Lock()
	a.emitted[summary.ID] = summary
	a.mu.Unlock()

	a.logger.Info("checkpoint emitted",
		zap.String("checkpoint_id", summary.ID),
		zap.String("phase", string(summary.Phase)),
		zap.Int("turn", summary.Turn),
	)
	return nil
}

// WaitForApproval invokes the callback under the timeout. A callback that
// overruns the deadline counts as a timeout rejection.
func (a *CallbackApprover) WaitForApproval(ctx context.Context, checkpointID string, timeout time.Duration) (bool, string, error) {
	a.mu.Lock()
	summary := a.emitted[checkpointID]
	delete(a.emitted, checkpointID)
	a.mu.Unlock()

	if a.callback == nil {
		a.logger.Debug("no approval callback configured, auto-approving",
			zap.String("checkpoint_id", checkpointID))
		return true, "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		decision Decision
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		decision, err := a.callback(ctx, summary)
		ch <- outcome{decision: decision, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return false, "", out.err
		}
		return out.decision.Approved, out.decision.Reason, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return false, TimeoutReason, nil
		}
		return false, "", ctx.Err()
	}
}
