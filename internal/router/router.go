// Package router implements the addressing and fan-out engine: it accepts
// ClientMessage and AgentMessage envelopes, resolves their target(s) against
// the Registry, and hands off to target actors via non-blocking sends.
// Grounded on internal/websocket/agent_hub.go's handleBroadcast (non-blocking
// per-target select/default fan-out, counted not propagated) and on
// other_examples/e23cc2fe_amurg-ai-amurg__hub-internal-router-router.go.go
// for the shape of a router as its own type distinct from the connection
// hub.
package router

import (
	"encoding/json"
	"sync"

	"github.com/Hdpbilly/agent-bridge-platform/internal/logger"
	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wire"
)

// Registry is the subset of *registry.Registry the Router needs.
type Registry interface {
	LiveAgents() map[string]registry.Sender
	LiveClients() map[string]registry.Sender
	ClientSender(clientID string) (registry.Sender, bool)
}

// Router resolves envelope targets and fans messages out to them.
type Router struct {
	reg Registry

	mu          sync.Mutex
	defaultAgent string
}

// New returns a Router bound to reg. defaultAgent, if non-empty, is the
// well-known identity that receives unaddressed client traffic (spec.md's
// GLOSSARY "Default agent").
func New(reg Registry, defaultAgent string) *Router {
	return &Router{reg: reg, defaultAgent: defaultAgent}
}

// SetDefaultAgent updates the default-agent identity at runtime.
func (r *Router) SetDefaultAgent(agentID string) {
	r.mu.Lock()
	r.defaultAgent = agentID
	r.mu.Unlock()
}

func (r *Router) getDefaultAgent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultAgent
}

// FanoutResult reports how many targets a broadcast reached and how many
// non-blocking sends failed — partial failures are counted, never
// propagated (spec.md §4.5).
type FanoutResult struct {
	Delivered int
	Dropped   int
}

// RouteClientMessage delivers msg to the default agent if set, else
// broadcasts to every live agent; if none exist, it is logged and dropped
// (spec.md's resolved Open Question — no buffering at this tier).
func (r *Router) RouteClientMessage(msg wire.ClientMessage) FanoutResult {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Router().Error().Err(err).Msg("failed to marshal client message")
		return FanoutResult{}
	}

	agents := r.reg.LiveAgents()
	if len(agents) == 0 {
		logger.Router().Warn().Str("client_id", msg.ClientID).Msg("no live agents for client message, dropping")
		return FanoutResult{}
	}

	if def := r.getDefaultAgent(); def != "" {
		if sender, ok := agents[def]; ok {
			if sender.Deliver(payload) {
				return FanoutResult{Delivered: 1}
			}
			logger.Router().Warn().Str("agent_id", def).Msg("default agent mailbox full, dropping")
			return FanoutResult{Dropped: 1}
		}
		// Default agent configured but not currently live: fall through
		// to broadcast-to-all-live-agents per spec.md's tie-break rule.
	}

	return r.sendToFirstAcceptingOrAll(agents, payload, false)
}

// sendToFirstAcceptingOrAll implements the Router's tie-break: when
// unicast is true it stops at the first agent accepting a non-blocking
// send; otherwise it fans out to all of them, reusing the same serialized
// buffer (spec.md §4.5's "serialize once, reuse buffer" rule).
func (r *Router) sendToFirstAcceptingOrAll(targets map[string]registry.Sender, payload []byte, unicast bool) FanoutResult {
	var res FanoutResult
	for id, sender := range targets {
		if sender.Deliver(payload) {
			res.Delivered++
			if unicast {
				return res
			}
			continue
		}
		res.Dropped++
		logger.Router().Warn().Str("target_id", id).Msg("non-blocking send failed, dropping for this target")
	}
	return res
}

// RouteAgentMessage delivers msg to its addressed client if live, or
// broadcasts to every live client when TargetClientID is unset.
func (r *Router) RouteAgentMessage(msg wire.AgentMessage) FanoutResult {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Router().Error().Err(err).Msg("failed to marshal agent message")
		return FanoutResult{}
	}

	if msg.TargetClientID != nil {
		sender, ok := r.reg.ClientSender(*msg.TargetClientID)
		if !ok {
			logger.Router().Warn().Str("client_id", *msg.TargetClientID).Msg("target client not live, dropping unicast agent message")
			return FanoutResult{Dropped: 1}
		}
		if sender.Deliver(payload) {
			return FanoutResult{Delivered: 1}
		}
		return FanoutResult{Dropped: 1}
	}

	clients := r.reg.LiveClients()
	return r.sendToFirstAcceptingOrAll(clients, payload, false)
}

// RouteSystemMessage forwards ClientConnected/ClientDisconnected events to
// the default agent so it can observe its audience; other system events are
// logged only, never routed (spec.md §4.5).
func (r *Router) RouteSystemMessage(msg wire.SystemMessage) {
	switch msg.Kind {
	case wire.SystemClientConnected, wire.SystemClientDisconnected:
		def := r.getDefaultAgent()
		if def == "" {
			return
		}
		agents := r.reg.LiveAgents()
		sender, ok := agents[def]
		if !ok {
			return
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return
		}
		sender.Deliver(payload)
	default:
		logger.Router().Info().Str("kind", string(msg.Kind)).Msg("system event")
	}
}
