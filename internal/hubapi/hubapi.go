// Package hubapi implements the Hub's HTTP surface: the agent WebSocket
// upgrade (bearer-gated) and the client WebSocket upgrade (proxy-to-hub,
// unauthenticated at this tier since the Proxy has already enforced
// session validity). Grounded on
// internal/handlers/agent_websocket.go's upgrade handler shape and
// websocket.Upgrader usage.
package hubapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Hdpbilly/agent-bridge-platform/internal/apperror"
	"github.com/Hdpbilly/agent-bridge-platform/internal/logger"
	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/router"
	"github.com/Hdpbilly/agent-bridge-platform/internal/statemgr"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wire"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wsconn"
)

// Server wires the Hub's Registry, Router, and Session Manager to gin
// routes.
type Server struct {
	state     *statemgr.Manager
	router    *router.Router
	upgrader  websocket.Upgrader
	// agentTokens maps a pre-shared bearer to the agent identity it
	// authenticates as; the default deployment hard-codes a single
	// entry, "agent1", per spec.md §4.4's agent variant specifics.
	agentTokens map[string]string
}

// New builds a Server. agentTokens maps bearer -> agent id.
func New(state *statemgr.Manager, r *router.Router, agentTokens map[string]string) *Server {
	return &Server{
		state:  state,
		router: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		agentTokens: agentTokens,
	}
}

// RegisterRoutes mounts the Hub's two WebSocket upgrade endpoints.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/ws/agent", s.handleAgentUpgrade)
	engine.GET("/ws/client/:client_id", s.handleClientUpgrade)
}

func (s *Server) handleAgentUpgrade(c *gin.Context) {
	bearer := c.GetHeader("Authorization")
	agentID, ok := s.agentTokens[bearer]
	if !ok {
		err := apperror.Unauthorized("invalid agent bearer token")
		c.JSON(err.StatusCode, err.ToResponse())
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.HTTP().Warn().Err(err).Msg("agent websocket upgrade failed")
		return
	}

	hooks := s.agentHooks(agentID)
	conn := wsconn.New(agentID, wsconn.RoleAgent, ws, hooks)
	s.state.RegisterAgent(agentID, conn)
	s.router.SetDefaultAgent(agentID)

	go conn.Run()
}

func (s *Server) handleClientUpgrade(c *gin.Context) {
	rawID := c.Param("client_id")
	clientID, err := uuid.Parse(rawID)
	if err != nil {
		appErr := apperror.BadRequest("malformed client id")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.HTTP().Warn().Err(err).Msg("client websocket upgrade failed")
		return
	}

	var conn *wsconn.Conn
	hooks := s.clientHooks(clientID.String(), func() [][]byte { return conn.SnapshotOutbound() })
	conn = wsconn.New(clientID.String(), wsconn.RoleClient, ws, hooks)

	// The Hub has no session token of its own at this tier (the Proxy
	// enforced session validity already); client_id doubles as the
	// at-most-one-connection key for the Hub-side Registry.
	snapshot := s.state.RegisterClient(clientID, clientID.String(), conn, false, "")
	if snapshot != nil {
		conn.RestoreOutbound(snapshot.OutboundBuffer)
	}

	s.router.RouteSystemMessage(wire.SystemMessage{Kind: wire.SystemClientConnected})

	go conn.Run()
}

func (s *Server) agentHooks(agentID string) wsconn.Hooks {
	return wsconn.Hooks{
		OnInboundAgentMessage: func(msg wire.AgentMessage) {
			s.router.RouteAgentMessage(msg)
		},
		OnInboundSystemMessage: func(msg wire.SystemMessage) {
			s.router.RouteSystemMessage(msg)
		},
		OnActivity: func(id string, isClient, sent, received bool, bytes uint64) {
			s.state.RecordActivity(id, isClient, sent, received, bytes)
		},
		OnStateChange: func(id string, isClient bool, state registry.State) {
			s.state.Registry.UpdateState(id, isClient, state)
		},
		OnClose: func(id string, isClient bool) {
			s.state.OnAgentDisconnect(id)
			s.router.RouteSystemMessage(wire.SystemMessage{Kind: wire.SystemAgentDisconnected})
		},
	}
}

func (s *Server) clientHooks(clientID string, snapshotBuffer func() [][]byte) wsconn.Hooks {
	return wsconn.Hooks{
		OnInboundClientMessage: func(msg wire.ClientMessage) {
			s.router.RouteClientMessage(msg)
		},
		OnActivity: func(id string, isClient, sent, received bool, bytes uint64) {
			s.state.RecordActivity(id, isClient, sent, received, bytes)
		},
		OnStateChange: func(id string, isClient bool, state registry.State) {
			s.state.Registry.UpdateState(id, isClient, state)
		},
		OnClose: func(id string, isClient bool) {
			s.state.OnClientDisconnect(id, snapshotBuffer(), false, "", nil)
			s.router.RouteSystemMessage(wire.SystemMessage{Kind: wire.SystemClientDisconnected})
		},
	}
}
