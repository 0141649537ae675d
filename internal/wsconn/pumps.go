package wsconn

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hdpbilly/agent-bridge-platform/internal/delivery"
	"github.com/Hdpbilly/agent-bridge-platform/internal/logger"
	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wire"
)

// Run starts the actor's read pump, write pump, and heartbeat loop, and
// blocks until the connection is closed. Call it from its own goroutine.
func (c *Conn) Run() {
	go c.writePump()
	go c.heartbeatLoop()
	c.readPump() // blocks until the socket closes
}

// readPump decodes inbound frames and routes them via hooks. Mirrors
// internal/websocket/hub.go's Client.readPump: a read-deadline refreshed by
// the pong handler, rejecting oversized frames via SetReadLimit (set in
// New).
func (c *Conn) readPump() {
	defer c.Close("read loop ended")

	c.ws.SetReadDeadline(time.Now().Add(HeartbeatTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		c.ws.SetReadDeadline(time.Now().Add(HeartbeatTimeout))
		return nil
	})

	log := logger.WebSocket()

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("actor_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			// Binary frames are not supported by the wire format; spec.md
			// §6 says to reject with an inline error payload rather than
			// drop the connection.
			c.Deliver(marshal(map[string]string{"error": "binary frames are not supported"}))
			continue
		}

		c.touch()
		c.handleFrame(raw)
	}
}

func (c *Conn) handleFrame(raw []byte) {
	isClient := c.isClient()
	if c.hooks.OnActivity != nil {
		c.hooks.OnActivity(c.ID, isClient, false, true, uint64(len(raw)))
	}

	envelope, err := wire.Decode(raw)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Str("actor_id", c.ID).Msg("dropping unknown or malformed envelope")
		return
	}

	switch msg := envelope.(type) {
	case wire.ClientMessage:
		if c.hooks.OnInboundClientMessage != nil {
			c.hooks.OnInboundClientMessage(msg)
		}
	case wire.AgentMessage:
		if c.hooks.OnInboundAgentMessage != nil {
			c.hooks.OnInboundAgentMessage(msg)
		}
	case wire.MessageAcknowledgement:
		if msg.MessageID != 0 {
			c.tracker.Confirm(msg.MessageID)
		}
		if c.hooks.OnInboundAck != nil {
			c.hooks.OnInboundAck(msg)
		}
	case wire.SystemMessage:
		if c.hooks.OnInboundSystemMessage != nil {
			c.hooks.OnInboundSystemMessage(msg)
		}
	}
}

// writePump drains the direct-send mailbox onto the socket, batching
// queued messages into as few frames as the buffered channel currently
// holds (mirrors hub.go's NextWriter-then-drain-queue idiom), and pings on
// HeartbeatInterval.
func (c *Conn) writePump() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
			if c.hooks.OnActivity != nil {
				c.hooks.OnActivity(c.ID, c.isClient(), true, false, uint64(len(msg)))
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.stopCh:
			return
		}
	}
}

// heartbeatLoop evaluates the actor's liveness state machine every
// HeartbeatInterval and piggybacks the delivery tracker's retransmit sweep,
// per spec.md §4.4.
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evaluateHeartbeat()
			c.retransmitExpired()
			c.flushOutbound()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Conn) evaluateHeartbeat() {
	isClient := c.isClient()

	if c.idleFor() <= HeartbeatTimeout {
		// Recovery: a heartbeat/frame arrived again after a prior gap. If
		// the agent had been marked Reconnecting, this is spec.md §4.4's
		// "Reconnecting -> Connected on ping/pong received" transition.
		if c.clearReconnecting() && c.hooks.OnStateChange != nil {
			c.hooks.OnStateChange(c.ID, isClient, registry.StateConnected)
		}
		return
	}

	if isClient {
		if c.hooks.OnStateChange != nil {
			c.hooks.OnStateChange(c.ID, true, registry.StateDisconnected)
		}
		c.Close("heartbeat timeout")
		return
	}

	// Agent variant: transition to Reconnecting and keep pinging, but only
	// count and act on a new reconnect attempt once Backoff(attempt) worth
	// of time has actually elapsed since the last one — not on every
	// HeartbeatInterval tick — so a slow-but-responsive agent isn't closed
	// out after MaxReconnectAttempts*HeartbeatInterval regardless of
	// whether it kept answering.
	attempt, due := c.markReconnectAttemptDue()
	if !due {
		return
	}

	if attempt >= MaxReconnectAttempts {
		if c.hooks.OnStateChange != nil {
			c.hooks.OnStateChange(c.ID, false, registry.StateError)
		}
		c.Close("reconnect attempts exhausted")
		return
	}

	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(c.ID, false, registry.StateReconnecting)
	}
}

// retransmitExpired resends any pending message that has exceeded the
// retransmit timeout, verbatim, with no max retry count at this layer.
func (c *Conn) retransmitExpired() {
	for _, entry := range c.tracker.Expired(time.Now(), delivery.DefaultTimeout) {
		c.Deliver(entry.Content)
	}
}

// ErrClosed is the error value for a closed connection. No method of Conn
// returns it; Deliver and DeliverTracked report failure only as false.
var ErrClosed = errors.New("wsconn: connection closed")
