package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wire"
)

type fakeSender struct {
	accept    bool
	delivered [][]byte
}

func (f *fakeSender) Deliver(content []byte) bool {
	if !f.accept {
		return false
	}
	f.delivered = append(f.delivered, content)
	return true
}
func (f *fakeSender) Close(string) {}

type fakeRegistry struct {
	agents  map[string]registry.Sender
	clients map[string]registry.Sender
}

func (f *fakeRegistry) LiveAgents() map[string]registry.Sender  { return f.agents }
func (f *fakeRegistry) LiveClients() map[string]registry.Sender { return f.clients }
func (f *fakeRegistry) ClientSender(id string) (registry.Sender, bool) {
	s, ok := f.clients[id]
	return s, ok
}

func TestRouteClientMessageGoesToDefaultAgent(t *testing.T) {
	def := &fakeSender{accept: true}
	other := &fakeSender{accept: true}
	reg := &fakeRegistry{agents: map[string]registry.Sender{"agent1": def, "agent2": other}}
	r := New(reg, "agent1")

	res := r.RouteClientMessage(wire.ClientMessage{ClientID: "c1", Content: "hello"})
	assert.Equal(t, 1, res.Delivered)
	assert.Len(t, def.delivered, 1)
	assert.Len(t, other.delivered, 0)
}

func TestRouteClientMessageNoAgentsDropsAndLogs(t *testing.T) {
	reg := &fakeRegistry{agents: map[string]registry.Sender{}}
	r := New(reg, "")

	res := r.RouteClientMessage(wire.ClientMessage{ClientID: "c1", Content: "hello"})
	assert.Equal(t, 0, res.Delivered)
	assert.Equal(t, 0, res.Dropped)
}

func TestRouteAgentMessageUnicastDropsWhenTargetNotLive(t *testing.T) {
	reg := &fakeRegistry{clients: map[string]registry.Sender{}}
	r := New(reg, "")
	target := "ghost"

	res := r.RouteAgentMessage(wire.AgentMessage{TargetClientID: &target, Content: "x"})
	assert.Equal(t, 1, res.Dropped)
}

func TestRouteAgentMessageBroadcastReachesAllLiveClients(t *testing.T) {
	c1 := &fakeSender{accept: true}
	c2 := &fakeSender{accept: true}
	reg := &fakeRegistry{clients: map[string]registry.Sender{"c1": c1, "c2": c2}}
	r := New(reg, "")

	res := r.RouteAgentMessage(wire.AgentMessage{Content: "bcast"})
	assert.Equal(t, 2, res.Delivered)
	require.Len(t, c1.delivered, 1)
	require.Len(t, c2.delivered, 1)

	var decoded wire.AgentMessage
	require.NoError(t, json.Unmarshal(c1.delivered[0], &decoded))
	assert.Equal(t, "bcast", decoded.Content)
}

func TestRouteAgentMessagePartialFailureDoesNotInterruptOthers(t *testing.T) {
	ok := &fakeSender{accept: true}
	full := &fakeSender{accept: false}
	reg := &fakeRegistry{clients: map[string]registry.Sender{"ok": ok, "full": full}}
	r := New(reg, "")

	res := r.RouteAgentMessage(wire.AgentMessage{Content: "x"})
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Dropped)
}

func TestRouteSystemMessageForwardsClientConnectedToDefaultAgent(t *testing.T) {
	def := &fakeSender{accept: true}
	reg := &fakeRegistry{agents: map[string]registry.Sender{"agent1": def}}
	r := New(reg, "agent1")

	r.RouteSystemMessage(wire.SystemMessage{Kind: wire.SystemClientConnected})
	assert.Len(t, def.delivered, 1)
}

func TestRouteSystemMessageSessionEventsAreNotRouted(t *testing.T) {
	def := &fakeSender{accept: true}
	reg := &fakeRegistry{agents: map[string]registry.Sender{"agent1": def}}
	r := New(reg, "agent1")

	r.RouteSystemMessage(wire.SystemMessage{Kind: wire.SystemSessionCreated})
	assert.Len(t, def.delivered, 0)
}
