package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	closed     bool
	closeCause string
	delivered  [][]byte
}

func (f *fakeSender) Deliver(content []byte) bool {
	f.delivered = append(f.delivered, content)
	return true
}

func (f *fakeSender) Close(reason string) {
	f.closed = true
	f.closeCause = reason
}

func TestRegisterClientEntersConnectedWithZeroReconnects(t *testing.T) {
	r := New()
	id := uuid.New()
	r.RegisterClient(id, "tok-1", &fakeSender{}, false, "")

	rec, ok := r.GetClientStatus(id.String())
	require.True(t, ok)
	assert.Equal(t, StateConnected, rec.State)
	assert.Equal(t, 0, rec.ReconnectAttempts)
}

func TestLastWriterWinsClosesPriorConnection(t *testing.T) {
	r := New()
	id := uuid.New()
	prior := &fakeSender{}
	r.RegisterClient(id, "tok-1", prior, false, "")

	newer := &fakeSender{}
	r.RegisterClient(id, "tok-1", newer, false, "")

	assert.True(t, prior.closed)
	rec, ok := r.GetClientStatus(id.String())
	require.True(t, ok)
	assert.Same(t, newer, rec.Addr)
}

func TestActiveConnectionsMapsAtMostOneActorPerToken(t *testing.T) {
	r := New()
	id1 := uuid.New()
	id2 := uuid.New()
	r.RegisterClient(id1, "shared-token", &fakeSender{}, false, "")
	r.RegisterClient(id2, "shared-token", &fakeSender{}, false, "")

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Equal(t, id2.String(), r.activeConnections["shared-token"])
}

func TestUnregisterClientDoesNotDeleteRecord(t *testing.T) {
	r := New()
	id := uuid.New()
	r.RegisterClient(id, "tok-1", &fakeSender{}, false, "")
	r.UnregisterClient(id.String())

	rec, ok := r.GetClientStatus(id.String())
	require.True(t, ok, "record must still exist after unregister")
	assert.Equal(t, StateDisconnected, rec.State)
}

func TestUpdateStateResetsReconnectAttemptsOnConnected(t *testing.T) {
	r := New()
	id := uuid.New()
	r.RegisterClient(id, "tok-1", &fakeSender{}, false, "")
	r.UpdateState(id.String(), true, StateReconnecting)
	r.UpdateState(id.String(), true, StateReconnecting)

	rec, _ := r.GetClientStatus(id.String())
	assert.Equal(t, 2, rec.ReconnectAttempts)

	r.UpdateState(id.String(), true, StateConnected)
	rec, _ = r.GetClientStatus(id.String())
	assert.Equal(t, 0, rec.ReconnectAttempts)
}

func TestReapStaleRemovesOnlyLongDisconnected(t *testing.T) {
	r := New()
	id := uuid.New()
	r.RegisterClient(id, "tok-1", &fakeSender{}, false, "")
	r.UnregisterClient(id.String())

	r.mu.Lock()
	r.clients[id.String()].LastSeen = time.Now().Add(-100 * time.Second)
	r.mu.Unlock()

	removed := r.ReapStale(10 * time.Second)
	assert.Equal(t, 1, removed)
	_, ok := r.GetClientStatus(id.String())
	assert.False(t, ok)
}

func TestSystemMetricsCountsOnlyConnectedAsActive(t *testing.T) {
	r := New()
	id1 := uuid.New()
	id2 := uuid.New()
	r.RegisterClient(id1, "tok-1", &fakeSender{}, false, "")
	r.RegisterClient(id2, "tok-2", &fakeSender{}, false, "")
	r.UnregisterClient(id2.String())

	m := r.SystemMetrics()
	assert.Equal(t, 2, m.TotalClients)
	assert.Equal(t, 1, m.ActiveClients)
}
