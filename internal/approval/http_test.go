package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/turbine/internal/core"
)

func startHTTPApprover(t *testing.T) (*HTTPApprover, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	a, err := NewHTTPApprover(addr, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})

	// Wait for the server to accept connections.
	base := "http://" + addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/checkpoints/pending")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	return a, base
}

func TestHTTPApprover_DecisionResolvesWait(t *testing.T) {
	a, base := startHTTPApprover(t)

	require.NoError(t, a.EmitCheckpoint(context.Background(), summaryFixture()))

	// The summary shows up in the pending listing.
	resp, err := http.Get(base + "/checkpoints/pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	var pending []core.CheckpointSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	require.Len(t, pending, 1)
	assert.Equal(t, "cp-1", pending[0].ID)

	go func() {
		time.Sleep(30 * time.Millisecond)
		body, _ := json.Marshal(Decision{Approved: true, Reason: "reviewed"})
		resp, err := http.Post(base+"/checkpoints/cp-1/decision", "application/json", bytes.NewReader(body))
		if err == nil {
			resp.Body.Close()
		}
	}()

	approved, reason, err := a.WaitForApproval(context.Background(), "cp-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Equal(t, "reviewed", reason)
}

func TestHTTPApprover_Timeout(t *testing.T) {
	a, _ := startHTTPApprover(t)

	require.NoError(t, a.EmitCheckpoint(context.Background(), summaryFixture()))

	approved, reason, err := a.WaitForApproval(context.Background(), "cp-1", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Equal(t, TimeoutReason, reason)
}

func TestHTTPApprover_UnknownCheckpointIs404(t *testing.T) {
	_, base := startHTTPApprover(t)

	body, _ := json.Marshal(Decision{Approved: true})
	resp, err := http.Post(fmt.Sprintf("%s/checkpoints/%s/decision", base, "ghost"), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
