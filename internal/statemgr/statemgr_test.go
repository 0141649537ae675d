package statemgr

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/session"
)

type fakeSender struct{}

func (fakeSender) Deliver([]byte) bool { return true }
func (fakeSender) Close(string)        {}

func TestDisconnectThenReconnectRestoresSnapshot(t *testing.T) {
	reg := registry.New()
	store := session.NewStore(time.Hour, time.Hour)
	defer store.Close()
	mgr := New(reg, store, time.Hour)

	clientID := uuid.New()
	mgr.RegisterClient(clientID, "tok-1", fakeSender{}, false, "")

	buffered := [][]byte{[]byte("m1"), []byte("m2")}
	mgr.OnClientDisconnect(clientID.String(), buffered, false, "", nil)

	snap := mgr.RegisterClient(clientID, "tok-1", fakeSender{}, false, "")
	require.NotNil(t, snap)
	assert.Equal(t, buffered, snap.OutboundBuffer)

	// Snapshot is cleared after being handed back once.
	again := mgr.RegisterClient(clientID, "tok-1", fakeSender{}, false, "")
	assert.Nil(t, again)
}

func TestMessagesPerSecondNeedsTwoSamples(t *testing.T) {
	reg := registry.New()
	store := session.NewStore(time.Hour, time.Hour)
	defer store.Close()
	mgr := New(reg, store, time.Hour)

	assert.Equal(t, float64(0), mgr.MessagesPerSecond())

	clientID := uuid.New()
	mgr.RegisterClient(clientID, "tok-1", fakeSender{}, false, "")
	mgr.RecordActivity(clientID.String(), true, true, false, 10)
	mgr.RecordActivity(clientID.String(), true, true, false, 10)

	assert.GreaterOrEqual(t, mgr.MessagesPerSecond(), float64(0))
}

func TestSystemMetricsReflectsActiveConnections(t *testing.T) {
	reg := registry.New()
	store := session.NewStore(time.Hour, time.Hour)
	defer store.Close()
	mgr := New(reg, store, time.Hour)

	clientID := uuid.New()
	mgr.RegisterClient(clientID, "tok-1", fakeSender{}, false, "")
	mgr.RegisterAgent("agent1", fakeSender{})

	m := mgr.SystemMetrics()
	assert.Equal(t, 1, m.TotalClients)
	assert.Equal(t, 1, m.ActiveClients)
	assert.Equal(t, 1, m.TotalAgents)
	assert.Equal(t, 1, m.ActiveAgents)
}
