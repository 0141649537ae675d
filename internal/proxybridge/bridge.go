// Package proxybridge implements the per-connection browser<->Hub bridge:
// it authenticates the browser's session cookie, dials the matching Hub
// client connection, and forwards frames in both directions, reconnecting
// to the Hub with exponential backoff when the Hub side drops. Grounded on
// other_examples/b54eb90c_cortexuvula-clawreachbridge's ServeHTTP /
// forwardMessages / keepAlive shape, ported from coder/websocket to
// gorilla/websocket to match the rest of this module's transport.
package proxybridge

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Hdpbilly/agent-bridge-platform/internal/apperror"
	"github.com/Hdpbilly/agent-bridge-platform/internal/logger"
	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/session"
	"github.com/Hdpbilly/agent-bridge-platform/internal/wsconn"
)

// SessionCookieName mirrors proxyapi.SessionCookieName; duplicated here
// (rather than imported) to keep proxybridge free of a dependency on the
// HTTP-handler package.
const SessionCookieName = "sploots_session"

const (
	hubDialTimeout = 10 * time.Second
	writeWait      = 10 * time.Second
)

// Bridge wires the Proxy's Session Store to the browser-facing WebSocket
// upgrade and the outbound dial to the Hub.
type Bridge struct {
	sessions             *session.Store
	connections          *registry.Registry
	hubWSBaseURL         string
	upgrader             websocket.Upgrader
	allowUnauthenticated bool

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New builds a Bridge. hubWSBaseURL is the Hub's websocket base, e.g.
// "ws://hub:8081". allowUnauthenticated opts into accepting a missing
// session cookie; spec.md §9 mandates reject-by-default.
func New(sessions *session.Store, hubWSBaseURL string, allowUnauthenticated bool) *Bridge {
	return &Bridge{
		sessions:     sessions,
		connections:  registry.New(),
		hubWSBaseURL: strings.TrimRight(hubWSBaseURL, "/"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		allowUnauthenticated: allowUnauthenticated,
		stopSweep:            make(chan struct{}),
	}
}

// StartSweep launches the background goroutine that reaps browser-leg
// Registry records once UnregisterClient has marked them Disconnected and
// they have stayed so for 3×clientTimeout (Connected records are never
// reaped), using clientTimeout as the reap threshold basis — matching
// statemgr.Manager.StartSweep's
// convention on the Hub side. clientTimeout should be the connection
// heartbeat timeout (wsconn.HeartbeatTimeout), not the Session Store's TTL.
func (b *Bridge) StartSweep(interval, clientTimeout time.Duration) {
	go b.sweepLoop(interval, clientTimeout)
}

func (b *Bridge) sweepLoop(interval, clientTimeout time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.HTTP()
	for {
		select {
		case <-ticker.C:
			if removed := b.connections.ReapStale(clientTimeout); removed > 0 {
				log.Info().Int("reaped_records", removed).Msg("bridge sweep complete")
			}
		case <-b.stopSweep:
			return
		}
	}
}

// Stop halts the sweep goroutine.
func (b *Bridge) Stop() {
	b.sweepOnce.Do(func() { close(b.stopSweep) })
}

// RegisterRoutes mounts the browser-facing upgrade endpoint.
func (b *Bridge) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/ws/:client_id", b.handleUpgrade)
}

func (b *Bridge) handleUpgrade(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		appErr := apperror.BadRequest("malformed client id")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	tok, cookieErr := c.Cookie(SessionCookieName)
	if (cookieErr != nil || tok == "") && !b.allowUnauthenticated {
		appErr := apperror.Unauthorized("missing session cookie")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	authenticated := false
	wallet := ""
	if tok != "" {
		lookup := b.sessions.GetByToken(tok)
		switch lookup.Status {
		case session.StatusExpired, session.StatusNotFound, session.StatusInvalid:
			appErr := apperror.Unauthorized("invalid or expired session")
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		case session.StatusSuccess:
			if lookup.Session.ClientID != clientID {
				appErr := apperror.Forbidden("session does not belong to this client")
				c.JSON(appErr.StatusCode, appErr.ToResponse())
				return
			}
			authenticated = lookup.Session.IsAuthenticated
			wallet = lookup.Session.WalletAddress
			b.sessions.Touch(tok)
		}
	}

	ws, err := b.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.HTTP().Warn().Err(err).Msg("browser websocket upgrade failed")
		return
	}

	sender := &browserSender{ws: ws}
	key := tok
	if key == "" {
		key = clientID.String()
	}
	// Last-writer-wins: registering under the same session token closes any
	// prior browser connection for this session.
	b.connections.RegisterClient(clientID, key, sender, authenticated, wallet)

	go b.runBridge(clientID, tok, sender)
}

// browserSender adapts a raw *websocket.Conn to registry.Sender so the
// per-session "at most one active connection" invariant applies uniformly
// to the browser side, matching the Hub's Registry usage.
type browserSender struct {
	ws *websocket.Conn
}

func (s *browserSender) Deliver(content []byte) bool {
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, content) == nil
}

func (s *browserSender) Close(reason string) {
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
	_ = s.ws.Close()
}

// runBridge owns one browser connection's lifetime: it dials the Hub,
// forwards frames both directions, and reconnects to the Hub with backoff
// whenever the Hub side drops, until the browser itself disconnects.
func (b *Bridge) runBridge(clientID uuid.UUID, tok string, browser *browserSender) {
	defer b.connections.UnregisterClient(clientID.String())

	attempt := 0
	for {
		hubConn, _, err := websocket.DefaultDialer.Dial(b.hubWSURL(clientID), nil)
		if err != nil {
			attempt++
			if attempt > wsconn.MaxReconnectAttempts {
				logger.HTTP().Error().Err(err).Str("client_id", clientID.String()).Msg("giving up dialing hub")
				browser.Close("hub unreachable")
				return
			}
			logger.HTTP().Warn().Err(err).Int("attempt", attempt).Msg("hub dial failed, backing off")
			time.Sleep(wsconn.Backoff(attempt))
			continue
		}
		attempt = 0

		browserDone := make(chan struct{})
		hubDone := make(chan struct{})

		go b.forwardBrowserToHub(tok, browser.ws, hubConn, browserDone)
		go forwardHubToBrowser(hubConn, browser.ws, hubDone)

		select {
		case <-browserDone:
			_ = hubConn.Close()
			<-hubDone
			return
		case <-hubDone:
			_ = hubConn.Close()
			<-browserDone
			// The browser is still connected; treat this as a hub-side
			// reconnect rather than tearing down the browser leg.
			if b.connections.ClientStillRegistered(clientID.String()) {
				continue
			}
			return
		}
	}
}

func (b *Bridge) hubWSURL(clientID uuid.UUID) string {
	return fmt.Sprintf("%s/ws/client/%s", b.hubWSBaseURL, clientID.String())
}

func (b *Bridge) forwardBrowserToHub(tok string, browser, hub *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		msgType, data, err := browser.ReadMessage()
		if err != nil {
			return
		}
		if tok != "" {
			b.sessions.Touch(tok)
		}
		_ = hub.SetWriteDeadline(time.Now().Add(writeWait))
		if err := hub.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}

func forwardHubToBrowser(hub, browser *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		msgType, data, err := hub.ReadMessage()
		if err != nil {
			return
		}
		_ = browser.SetWriteDeadline(time.Now().Add(writeWait))
		if err := browser.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
