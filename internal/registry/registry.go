// Package registry implements the single authoritative Registry: the
// concurrent index of live clients, live agents, and the session-token to
// connection mapping that enforces the at-most-one-active-connection
// invariant. This collapses the teacher's two overlapping maps
// (websocket/hub.go's clients map and websocket/agent_hub.go's connections
// map) into one table, per spec.md §9's explicit instruction.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a connection's lifecycle state. Mirrors spec.md §3's
// ConnectionState tagged variant.
type State int

const (
	StateConnected State = iota
	StateDisconnected
	StateReconnecting
	StateIdle
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateIdle:
		return "idle"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Sender is the minimal capability the Registry needs from a connection
// actor to deliver to it or close it — implemented by *wsconn.Conn. Kept
// minimal and defined here (rather than imported from wsconn) so wsconn can
// depend on registry without a cycle.
type Sender interface {
	// Deliver attempts a non-blocking hand-off of content to the actor's
	// outbound mailbox. Returns false if the mailbox is full.
	Deliver(content []byte) bool
	// Close asks the actor to perform a graceful close.
	Close(reason string)
}

// Record holds the liveness metadata common to clients and agents. Mirrors
// spec.md §3's ClientRecord/AgentRecord, unified since the two differ only
// by the authentication fields tacked on for clients.
type Record struct {
	ID                 string
	Addr               Sender
	State              State
	ConnectedAt        time.Time
	LastSeen           time.Time
	LastMessageAt      time.Time
	ReconnectAttempts  int
	MessagesSent       uint64
	MessagesReceived   uint64
	BytesSent          uint64
	BytesReceived      uint64
	DisconnectionCount uint64

	// Client-only fields.
	IsClient      bool
	Authenticated bool
	WalletAddress string
}

func (r *Record) clone() *Record {
	cp := *r
	return &cp
}

// Registry is the process-wide concurrent index of live connections.
type Registry struct {
	mu                sync.RWMutex
	clients           map[string]*Record
	agents            map[string]*Record
	activeConnections map[string]string // session_token -> client id
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		clients:           make(map[string]*Record),
		agents:            make(map[string]*Record),
		activeConnections: make(map[string]string),
	}
}

// RegisterClient registers a new client connection under sessionToken. If
// sessionToken is already bound to a live connection, the prior connection
// receives a graceful close and is replaced — the documented
// last-writer-wins policy (spec.md §4.3).
func (r *Registry) RegisterClient(clientID uuid.UUID, sessionToken string, addr Sender, authenticated bool, wallet string) {
	id := clientID.String()
	now := time.Now()

	r.mu.Lock()
	if priorID, ok := r.activeConnections[sessionToken]; ok && priorID != id {
		if prior, ok := r.clients[priorID]; ok && prior.Addr != nil {
			prior.Addr.Close("replaced by new connection for this session")
		}
	}

	r.clients[id] = &Record{
		ID:            id,
		Addr:          addr,
		State:         StateConnected,
		ConnectedAt:   now,
		LastSeen:      now,
		IsClient:      true,
		Authenticated: authenticated,
		WalletAddress: wallet,
	}
	r.activeConnections[sessionToken] = id
	r.mu.Unlock()
}

// RegisterAgent registers a new live agent connection.
func (r *Registry) RegisterAgent(agentID string, addr Sender) {
	now := time.Now()
	r.mu.Lock()
	r.agents[agentID] = &Record{
		ID:          agentID,
		Addr:        addr,
		State:       StateConnected,
		ConnectedAt: now,
		LastSeen:    now,
	}
	r.mu.Unlock()
}

// UnregisterClient does not delete the record; it transitions state to
// Disconnected and stamps LastSeen, per spec.md §4.3's disconnection
// semantics (the reaper deletes it later).
func (r *Registry) UnregisterClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.clients[clientID]; ok {
		rec.State = StateDisconnected
		rec.LastSeen = time.Now()
		rec.DisconnectionCount++
	}
}

// UnregisterAgent is UnregisterClient's agent-side counterpart.
func (r *Registry) UnregisterAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.agents[agentID]; ok {
		rec.State = StateDisconnected
		rec.LastSeen = time.Now()
		rec.DisconnectionCount++
	}
}

// UpdateState transitions a client or agent's state. Entering Connected
// resets ReconnectAttempts to 0, per spec.md §3's invariant.
func (r *Registry) UpdateState(id string, isClient bool, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.agents
	if isClient {
		table = r.clients
	}
	rec, ok := table[id]
	if !ok {
		return
	}
	rec.State = state
	if state == StateConnected {
		rec.ReconnectAttempts = 0
	}
	if state == StateReconnecting {
		rec.ReconnectAttempts++
	}
}

// UpdateActivity stamps LastSeen/LastMessageAt and adds to the cumulative
// message/byte counters, which are monotonically non-decreasing.
func (r *Registry) UpdateActivity(id string, isClient bool, sent, received bool, bytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.agents
	if isClient {
		table = r.clients
	}
	rec, ok := table[id]
	if !ok {
		return
	}
	now := time.Now()
	rec.LastSeen = now
	rec.LastMessageAt = now
	if sent {
		rec.MessagesSent++
		rec.BytesSent += bytes
	}
	if received {
		rec.MessagesReceived++
		rec.BytesReceived += bytes
	}
}

// GetClientStatus returns a snapshot of a client's record.
func (r *Registry) GetClientStatus(clientID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[clientID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// GetAgentStatus returns a snapshot of an agent's record.
func (r *Registry) GetAgentStatus(agentID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// LiveAgents returns the Sender handles for every agent currently Connected,
// for the Router's fan-out. The result is a fresh map, so its iteration
// order is not stable between calls.
func (r *Registry) LiveAgents() map[string]Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Sender, len(r.agents))
	for id, rec := range r.agents {
		if rec.State == StateConnected {
			out[id] = rec.Addr
		}
	}
	return out
}

// LiveClients returns the Sender handles for every client currently
// Connected, for the Router's broadcast fan-out.
func (r *Registry) LiveClients() map[string]Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Sender, len(r.clients))
	for id, rec := range r.clients {
		if rec.State == StateConnected {
			out[id] = rec.Addr
		}
	}
	return out
}

// ClientStillRegistered reports whether clientID still holds a Connected
// record — used by the proxy bridge to decide whether a broken Hub leg
// warrants a reconnect attempt instead of a full teardown. Records are keyed
// by client id, so a newer connection registered for the same client id
// also makes this report true.
func (r *Registry) ClientStillRegistered(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[clientID]
	return ok && rec.State == StateConnected
}

// ClientSender returns the Sender for a single live client, for the
// Router's unicast path.
func (r *Registry) ClientSender(clientID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[clientID]
	if !ok || rec.State != StateConnected {
		return nil, false
	}
	return rec.Addr, true
}

// Metrics is the result of a system_metrics() query (spec.md §4.6).
type Metrics struct {
	TotalClients            int
	ActiveClients           int
	TotalAgents             int
	ActiveAgents            int
	TotalMessagesProcessed  uint64
	BytesTransferred        uint64
	Timestamp               time.Time
}

// SystemMetrics computes the aggregate counters across all known records.
func (r *Registry) SystemMetrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := Metrics{Timestamp: time.Now()}
	m.TotalClients = len(r.clients)
	m.TotalAgents = len(r.agents)
	for _, rec := range r.clients {
		if rec.State == StateConnected {
			m.ActiveClients++
		}
		m.TotalMessagesProcessed += rec.MessagesSent + rec.MessagesReceived
		m.BytesTransferred += rec.BytesSent + rec.BytesReceived
	}
	for _, rec := range r.agents {
		if rec.State == StateConnected {
			m.ActiveAgents++
		}
		m.TotalMessagesProcessed += rec.MessagesSent + rec.MessagesReceived
		m.BytesTransferred += rec.BytesSent + rec.BytesReceived
	}
	return m
}

// ReapStale deletes client and agent records that have remained
// non-Connected for longer than 3×timeout, per spec.md §4.3.
func (r *Registry) ReapStale(timeout time.Duration) int {
	cutoff := 3 * timeout
	removed := 0
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.clients {
		if rec.State != StateConnected && now.Sub(rec.LastSeen) > cutoff {
			delete(r.clients, id)
			removed++
		}
	}
	for id, rec := range r.agents {
		if rec.State != StateConnected && now.Sub(rec.LastSeen) > cutoff {
			delete(r.agents, id)
			removed++
		}
	}
	for token, id := range r.activeConnections {
		if _, ok := r.clients[id]; !ok {
			delete(r.activeConnections, token)
		}
	}
	return removed
}
