package approval

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

// HTTPApprover exposes pending checkpoints over a small REST surface:
//
//	GET  /checkpoints/pending         list pending summaries
//	POST /checkpoints/:id/decision    body {"approved": bool, "reason": "..."}
type HTTPApprover struct {
	echo   *echo.Echo
	addr   string
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]core.CheckpointSummary
	waiters map[string]chan Decision
}

// NewHTTPApprover builds the approver and starts serving on addr.
func NewHTTPApprover(addr string, logger *zap.Logger) (*HTTPApprover, error) {
	if addr == "" {
		return nil, errors.New("listen address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	a := &HTTPApprover{
		echo:    e,
		addr:    addr,
		logger:  logger,
		pending: make(map[string]core.CheckpointSummary),
		waiters: make(map[string]chan Decision),
	}

	e.GET("/checkpoints/pending", a.handlePending)
	e.POST("/checkpoints/:id/decision", a.handleDecision)

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("approval server stopped", zap.Error(err))
		}
	}()

	return a, nil
}

// EmitCheckpoint registers the summary as pending.
func (a *HTTPApprover) EmitCheckpoint(_ context.Context, summary core.CheckpointSummary) error {
	a.mu.Lock()
	a.pending[summary.ID] = summary
	a.waiters[summary.ID] = make(chan Decision, 1)
	a.mu.Unlock()

	a.logger.Info("checkpoint awaiting decision",
		zap.String("checkpoint_id", summary.ID),
		zap.String("addr", a.addr),
	)
	return nil
}

// WaitForApproval blocks until a decision is posted or the timeout elapses.
func (a *HTTPApprover) WaitForApproval(ctx context.Context, checkpointID string, timeout time.Duration) (bool, string, error) {
	a.mu.Lock()
	ch, ok := a.waiters[checkpointID]
	a.mu.Unlock()
	if !ok {
		return false, "", errors.New("checkpoint was never emitted")
	}

	defer func() {
		a.mu.Lock()
		delete(a.pending, checkpointID)
		delete(a.waiters, checkpointID)
		a.mu.Unlock()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case decision := <-ch:
		return decision.Approved, decision.Reason, nil
	case <-deadline.C:
		a.logger.Warn("approval timed out", zap.String("checkpoint_id", checkpointID))
		return false, TimeoutReason, nil
	case <-ctx.Done():
		return false, "", ctx.Err()
	}
}

// Close stops the HTTP server.
func (a *HTTPApprover) Close(ctx context.Context) error {
	return a.echo.Shutdown(ctx)
}

func (a *HTTPApprover) handlePending(c echo.Context) error {
	a.mu.Lock()
	summaries := make([]core.CheckpointSummary, 0, len(a.pending))
	for _, summary := range a.pending {
		summaries = append(summaries, summary)
	}
	a.mu.Unlock()
	return c.JSON(http.StatusOK, summaries)
}

func (a *HTTPApprover) handleDecision(c echo.Context) error {
	id := c.Param("id")

	var decision Decision
	if err := c.Bind(&decision); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid decision body")
	}

	a.mu.Lock()
	ch, ok := a.waiters[id]
	a.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such pending checkpoint")
	}

	select {
	case ch <- decision:
	default:
		// A second decision for the same checkpoint is dropped.
	}
	return c.NoContent(http.StatusAccepted)
}
