package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

// DefaultSubjectPrefix is the subject root for checkpoint traffic.
const DefaultSubjectPrefix = "turbine.checkpoint"

// NATSApprover publishes checkpoint summaries to <prefix>.<checkpoint id>
// and receives the decision on <prefix>.<checkpoint id>.decision. The
// decision subscription is opened before the summary is published so a fast
// approver cannot slip a decision through unobserved.
type NATSApprover struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSApprover wraps an existing connection; the caller owns its
// lifecycle.
func NewNATSApprover(conn *nats.Conn, prefix string, logger *zap.Logger) (*NATSApprover, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSApprover{
		conn:   conn,
		prefix: prefix,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// EmitCheckpoint subscribes for the decision, then publishes the summary.
func (a *NATSApprover) EmitCheckpoint(_ context.Context, summary core.CheckpointSummary) error {
	blob, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal checkpoint summary: %w", err)
	}

	sub, err := a.conn.SubscribeSync(fmt.Sprintf("%s.%s.decision", a.prefix, summary.ID))
	if err != nil {
		return fmt.Errorf("subscribe for decision: %w", err)
	}
	a.mu.Lock()
	a.subs[summary.ID] = sub
	a.mu.Unlock()

	subject := fmt.Sprintf("%s.%s", a.prefix, summary.ID)
	if err := a.conn.Publish(subject, blob); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	a.logger.Info("checkpoint published",
		zap.String("checkpoint_id", summary.ID),
		zap.String("subject", subject),
	)
	return nil
}

// WaitForApproval blocks on the decision subscription until a message or
// the timeout arrives.
func (a *NATSApprover) WaitForApproval(ctx context.Context, checkpointID string, timeout time.Duration) (bool, string, error) {
	a.mu.Lock()
	sub, ok := a.subs[checkpointID]
	delete(a.subs, checkpointID)
	a.mu.Unlock()
	if !ok {
		return false, "", errors.New("checkpoint was never emitted")
	}
	defer sub.Unsubscribe()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		msg, err := sub.NextMsgWithContext(waitCtx)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			a.logger.Warn("approval timed out", zap.String("checkpoint_id", checkpointID))
			return false, TimeoutReason, nil
		}
		if errors.Is(err, context.Canceled) {
			return false, "", ctx.Err()
		}
		if err != nil {
			return false, "", fmt.Errorf("await decision: %w", err)
		}

		var decision Decision
		if err := json.Unmarshal(msg.Data, &decision); err != nil {
			a.logger.Warn("unparseable decision message, ignoring", zap.Error(err))
			continue
		}
		return decision.Approved, decision.Reason, nil
	}
}
