// Package wsconn implements the Connection Actor: a read pump, a write
// pump and a heartbeat loop per live WebSocket, owning the socket, outbound mailbox, heartbeat timer,
// delivery tracker, and reconnect/backoff state. Client and agent variants
// share this one type, distinguished by Role. Grounded on
// internal/websocket/hub.go's Client.readPump/writePump (ping ticker,
// SetReadDeadline/SetPongHandler, NextWriter-batched writes) and
// internal/handlers/agent_websocket.go's writeWait/pongWait/pingPeriod
// constants convention.
package wsconn

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hdpbilly/agent-bridge-platform/internal/delivery"
	"github.com/Hdpbilly/agent-bridge-platform/internal/logger"
	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wire"
)

// Role distinguishes a client actor from an agent actor.
type Role int

const (
	RoleClient Role = iota
	RoleAgent
)

// Default timers, per spec.md §4.4/§5.
const (
	WriteWait         = 10 * time.Second
	HeartbeatInterval = 5 * time.Second
	HeartbeatTimeout  = 30 * time.Second
	MaxMessageSize    = 512 * 1024

	// OutboundBufferCap bounds the FIFO used while the socket is
	// momentarily unavailable (reconnecting, or a send burst).
	OutboundBufferCap = 100
	// FlushBatchSize and FlushBatchGap govern replay pacing on resume.
	FlushBatchSize = 10
	FlushBatchGap  = 100 * time.Millisecond
)

// Hooks let the owning Session Manager observe and react to actor
// lifecycle/inbound traffic without wsconn importing statemgr or router
// directly (those packages import wsconn instead, avoiding a cycle).
type Hooks struct {
	OnInboundClientMessage func(wire.ClientMessage)
	OnInboundAgentMessage  func(wire.AgentMessage)
	OnInboundAck           func(wire.MessageAcknowledgement)
	OnInboundSystemMessage func(wire.SystemMessage)
	OnStateChange          func(id string, isClient bool, state registry.State)
	OnActivity             func(id string, isClient bool, sent, received bool, bytes uint64)
	OnClose                func(id string, isClient bool)
}

// Conn is one Connection Actor.
type Conn struct {
	ID   string
	Role Role

	ws     *websocket.Conn
	hooks  Hooks
	tracker *delivery.Tracker

	send chan []byte // direct-to-socket mailbox, drained by writePump

	mu               sync.Mutex
	outbound         [][]byte // bounded FIFO used while the socket can't accept sends
	lastSeen         time.Time
	closed           bool
	closeOnce        sync.Once
	reconnecting     bool      // agent variant only: true while in the Reconnecting state
	reconnectAttempt int
	nextAttemptAt    time.Time // earliest time the next reconnect attempt may be counted, per Backoff

	stopCh chan struct{}
}

// New wraps an accepted *websocket.Conn as a live Connection Actor and
// immediately reports registry.StateConnected via hooks.OnStateChange,
// matching the state machine's "(init) socket accepted -> Connected"
// transition. It emits no SystemMessage; callers route those themselves.
func New(id string, role Role, ws *websocket.Conn, hooks Hooks) *Conn {
	ws.SetReadLimit(MaxMessageSize)

	c := &Conn{
		ID:      id,
		Role:    role,
		ws:      ws,
		hooks:   hooks,
		tracker: delivery.New(),
		send:    make(chan []byte, 256),
		stopCh:  make(chan struct{}),
	}
	c.lastSeen = time.Now()

	isClient := role == RoleClient
	if hooks.OnStateChange != nil {
		hooks.OnStateChange(id, isClient, registry.StateConnected)
	}
	return c
}

// isClient is a small readability helper.
func (c *Conn) isClient() bool { return c.Role == RoleClient }

// Tracker exposes the actor's delivery tracker so the owner can drive
// ack-confirmation / retransmit directly when needed.
func (c *Conn) Tracker() *delivery.Tracker { return c.tracker }

// Deliver attempts a non-blocking hand-off to the socket's write mailbox.
// If the socket isn't immediately able to accept it (full mailbox — i.e.
// currently reconnecting or bursting), or the outbound FIFO still holds
// earlier payloads, the payload is appended to the bounded outbound FIFO
// instead, so it cannot overtake them. Implements registry.Sender.
func (c *Conn) Deliver(content []byte) bool {
	c.mu.Lock()
	queued := len(c.outbound) > 0
	c.mu.Unlock()
	if !queued {
		select {
		case c.send <- content:
			return true
		default:
		}
	}
	return c.enqueueOutbound(content)
}

// enqueueOutbound appends to the bounded FIFO, dropping the newest entry
// (this payload) on overflow — the documented drop-newest policy.
func (c *Conn) enqueueOutbound(content []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbound) >= OutboundBufferCap {
		logger.WebSocket().Warn().Str("actor_id", c.ID).Msg("outbound buffer full, dropping newest message")
		return false
	}
	c.outbound = append(c.outbound, content)
	return true
}

// DeliverTracked hands a payload to the socket with delivery tracking: if
// content is a JSON object without message_id and requiresAck is set, a
// fresh id is injected and the payload recorded as pending before sending.
// Non-object payloads are sent untracked, per spec.md §4.4.
func (c *Conn) DeliverTracked(content []byte, requiresAck bool) bool {
	if !requiresAck || !wire.IsJSONObject(content) || wire.HasMessageID(content) {
		return c.Deliver(content)
	}

	id := c.tracker.NextID()
	tagged, err := wire.InjectMessageID(content, id)
	if err != nil {
		return c.Deliver(content)
	}
	if !c.tracker.AddPending(id, tagged) {
		logger.WebSocket().Warn().Str("actor_id", c.ID).Uint64("message_id", id).Msg("pending-ack table full, sending untracked")
	}
	return c.Deliver(tagged)
}

// flushOutbound replays the buffered FIFO onto the live socket mailbox, up
// to FlushBatchSize per batch with a gap between batches to avoid
// head-of-line saturation on resume.
func (c *Conn) flushOutbound() {
	for {
		c.mu.Lock()
		if len(c.outbound) == 0 {
			c.mu.Unlock()
			return
		}
		n := FlushBatchSize
		if n > len(c.outbound) {
			n = len(c.outbound)
		}
		batch := c.outbound[:n]
		c.outbound = c.outbound[n:]
		c.mu.Unlock()

		for _, msg := range batch {
			select {
			case c.send <- msg:
			case <-c.stopCh:
				return
			}
		}
		if len(batch) == FlushBatchSize {
			time.Sleep(FlushBatchGap)
		}
	}
}

// SnapshotOutbound drains and returns the actor's pending outbound FIFO, for
// the Session Manager to persist into a PersistedSessionState across a
// disconnect (spec.md §4.6).
func (c *Conn) SnapshotOutbound() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := c.outbound
	c.outbound = nil
	return cp
}

// RestoreOutbound prepends msgs ahead of anything already queued, for
// delivering a persisted snapshot to a newly (re)connected actor before any
// fresh traffic.
func (c *Conn) RestoreOutbound(msgs [][]byte) {
	if len(msgs) == 0 {
		return
	}
	c.mu.Lock()
	c.outbound = append(append([][]byte{}, msgs...), c.outbound...)
	c.mu.Unlock()
}

// touch records that the peer is alive right now.
func (c *Conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Conn) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

// clearReconnecting reports, and resets, whether the actor was in the
// Reconnecting state. Called once a heartbeat arrives within
// HeartbeatTimeout again, implementing spec.md §4.4's
// "Reconnecting -> Connected on ping/pong received" recovery transition.
func (c *Conn) clearReconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.reconnecting {
		return false
	}
	c.reconnecting = false
	c.reconnectAttempt = 0
	c.nextAttemptAt = time.Time{}
	return true
}

// markReconnectAttemptDue reports whether a new reconnect attempt is due
// per the Backoff(attempt) schedule, bumping the attempt counter only when
// it is. This keeps the agent's attempt pacing tied to Backoff rather than
// the fixed HeartbeatInterval tick, so a slow-but-alive agent isn't closed
// out after MaxReconnectAttempts worth of heartbeat ticks regardless of
// elapsed time.
func (c *Conn) markReconnectAttemptDue() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.reconnecting && now.Before(c.nextAttemptAt) {
		return c.reconnectAttempt, false
	}

	c.reconnecting = true
	c.reconnectAttempt++
	c.nextAttemptAt = now.Add(Backoff(c.reconnectAttempt))
	return c.reconnectAttempt, true
}

// Close performs a graceful close of the underlying socket with reason, and
// stops both pumps. Implements registry.Sender. Safe to call more than
// once.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(WriteWait),
		)
		close(c.stopCh)
		_ = c.ws.Close()

		if c.hooks.OnClose != nil {
			c.hooks.OnClose(c.ID, c.isClient())
		}
	})
}

// marshal is a small helper for building outbound envelopes before handing
// them to Deliver*; errors collapse to nil, which Deliver silently drops.
func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
