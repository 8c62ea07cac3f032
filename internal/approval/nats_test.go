package approval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startNATS runs an embedded server on a random port.
func startNATS(t *testing.T) *nats.Conn {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Port: -1})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second), "embedded nats server did not start")
	t.Cleanup(srv.Shutdown)

	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func TestNATSApprover_RoundTrip(t *testing.T) {
	conn := startNATS(t)

	a, err := NewNATSApprover(conn, "", nil)
	require.NoError(t, err)

	// An external approver listening on the summary subject.
	observed := make(chan []byte, 1)
	_, err = conn.Subscribe(DefaultSubjectPrefix+".cp-1", func(msg *nats.Msg) {
		observed <- msg.Data
		decision, _ := json.Marshal(Decision{Approved: true, Reason: "ship it"})
		_ = conn.Publish(DefaultSubjectPrefix+".cp-1.decision", decision)
	})
	require.NoError(t, err)

	require.NoError(t, a.EmitCheckpoint(context.Background(), summaryFixture()))

	approved, reason, err := a.WaitForApproval(context.Background(), "cp-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Equal(t, "ship it", reason)

	select {
	case blob := <-observed:
		assert.Contains(t, string(blob), `"cp-1"`)
	case <-time.After(time.Second):
		t.Fatal("summary was never published")
	}
}

func TestNATSApprover_Timeout(t *testing.T) {
	conn := startNATS(t)

	a, err := NewNATSApprover(conn, "", nil)
	require.NoError(t, err)

	summary := summaryFixture()
	summary.ID = "cp-silent"
	require.NoError(t, a.EmitCheckpoint(context.Background(), summary))

	approved, reason, err := a.WaitForApproval(context.Background(), "cp-silent", 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Equal(t, TimeoutReason, reason)
}

func TestNATSApprover_WaitWithoutEmitIsAnError(t *testing.T) {
	conn := startNATS(t)

	a, err := NewNATSApprover(conn, "", nil)
	require.NoError(t, err)

	_, _, err = a.WaitForApproval(context.Background(), "cp-ghost", time.Second)
	assert.Error(t, err)
}

func TestNATSApprover_RequiresConnection(t *testing.T) {
	_, err := NewNATSApprover(nil, "", nil)
	assert.Error(t, err)
}
