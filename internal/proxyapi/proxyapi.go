// Package proxyapi implements the Proxy's HTTP surface: anonymous session
// bootstrap, session inspection/invalidation, wallet-upgrade-to-bearer, and
// a JWT-guarded example endpoint. Grounded on internal/auth/handlers.go's
// gin handler shape and internal/auth/middleware.go's bearer-guarded route
// pattern.
package proxyapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Hdpbilly/agent-bridge-platform/internal/apperror"
	"github.com/Hdpbilly/agent-bridge-platform/internal/session"
	"github.com/Hdpbilly/agent-bridge-platform/internal/token"
)

// SessionCookieName is the browser-facing session cookie (spec.md §6).
const SessionCookieName = "sploots_session"

// WalletVerifier checks a claimed wallet address before it is bound to a
// session. Signature verification (SIWE) itself is an external
// collaborator per spec.md §1/§9; the default implementation accepts any
// non-empty address.
type WalletVerifier interface {
	Verify(wallet string) bool
}

// AcceptAllVerifier is the no-op default WalletVerifier: it accepts any
// non-empty wallet string without checking a signature.
type AcceptAllVerifier struct{}

// Verify implements WalletVerifier.
func (AcceptAllVerifier) Verify(wallet string) bool { return wallet != "" }

// Server wires the Session Store and Token Service to gin routes.
type Server struct {
	sessions *session.Store
	tokens   *token.Manager
	verifier WalletVerifier
	// allowUnauthenticatedBridge records the cookie policy for the WS
	// upgrade path (true: a missing session cookie is accepted). spec.md §9
	// mandates reject by default. This package only stores and reports it;
	// the proxy bridge is constructed with its own copy of the flag.
	allowUnauthenticatedBridge bool
}

// New builds a Server. verifier may be nil, defaulting to AcceptAllVerifier.
func New(sessions *session.Store, tokens *token.Manager, verifier WalletVerifier, allowUnauthenticatedBridge bool) *Server {
	if verifier == nil {
		verifier = AcceptAllVerifier{}
	}
	return &Server{
		sessions:                   sessions,
		tokens:                     tokens,
		verifier:                   verifier,
		allowUnauthenticatedBridge: allowUnauthenticatedBridge,
	}
}

// AllowUnauthenticatedBridge reports the configured cookie policy.
func (s *Server) AllowUnauthenticatedBridge() bool { return s.allowUnauthenticatedBridge }

// Sessions exposes the underlying Session Store for the proxy bridge.
func (s *Server) Sessions() *session.Store { return s.sessions }

// RegisterRoutes mounts the Proxy's session-lifecycle endpoints.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.POST("/api/client", s.handleCreateOrResume)
	engine.GET("/api/client/:client_id", s.handleInspect)
	engine.DELETE("/api/client/session", s.handleInvalidate)
	engine.POST("/api/sessions/upgrade", s.handleUpgrade)
	engine.GET("/api/protected", s.requireBearer(), s.handleProtected)
}

type sessionResponse struct {
	ClientID      string  `json:"client_id"`
	CreatedAt     int64   `json:"created_at"`
	IsAuthenticated bool  `json:"is_authenticated"`
	WalletAddress *string `json:"wallet_address"`
	NewSession    bool    `json:"new_session"`
}

func toResponse(sess *session.ClientSession, newSession bool) sessionResponse {
	resp := sessionResponse{
		ClientID:        sess.ClientID.String(),
		CreatedAt:       sess.CreatedAt.Unix(),
		IsAuthenticated: sess.IsAuthenticated,
		NewSession:      newSession,
	}
	if sess.WalletAddress != "" {
		w := sess.WalletAddress
		resp.WalletAddress = &w
	}
	return resp
}

func (s *Server) setSessionCookie(c *gin.Context, tok string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, tok, 86400, "/", "", true, true)
}

// handleCreateOrResume implements POST /api/client: resumes the session
// named by an existing cookie, or creates a fresh anonymous one.
func (s *Server) handleCreateOrResume(c *gin.Context) {
	if tok, err := c.Cookie(SessionCookieName); err == nil && tok != "" {
		lookup := s.sessions.GetByToken(tok)
		if lookup.Status == session.StatusSuccess {
			s.sessions.Touch(tok)
			c.JSON(http.StatusOK, toResponse(lookup.Session, false))
			return
		}
	}

	_, tok, err := s.sessions.RegisterAnonymous()
	if err != nil {
		appErr := apperror.Wrap(err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	s.setSessionCookie(c, tok)
	lookup := s.sessions.GetByToken(tok)
	c.JSON(http.StatusOK, toResponse(lookup.Session, true))
}

// handleInspect implements GET /api/client/{client_id}.
func (s *Server) handleInspect(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("client_id"))
	if err != nil {
		appErr := apperror.BadRequest("malformed client id")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	tok, cookieErr := c.Cookie(SessionCookieName)
	if cookieErr != nil || tok == "" {
		appErr := apperror.Unauthorized("missing session")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	lookup := s.sessions.GetByToken(tok)
	switch lookup.Status {
	case session.StatusExpired:
		appErr := apperror.Unauthorized("session expired")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	case session.StatusNotFound, session.StatusInvalid:
		appErr := apperror.Unauthorized("invalid session")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	if lookup.Session.ClientID != clientID {
		appErr := apperror.Forbidden("session does not belong to this client")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusOK, toResponse(lookup.Session, false))
}

// handleInvalidate implements DELETE /api/client/session.
func (s *Server) handleInvalidate(c *gin.Context) {
	tok, err := c.Cookie(SessionCookieName)
	if err != nil || tok == "" {
		appErr := apperror.BadRequest("no session cookie")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	if !s.sessions.Invalidate(tok) {
		appErr := apperror.NotFound("session not found")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.SetCookie(SessionCookieName, "", -1, "/", "", true, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type upgradeRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// handleUpgrade implements POST /api/sessions/upgrade.
func (s *Server) handleUpgrade(c *gin.Context) {
	tok, err := c.Cookie(SessionCookieName)
	if err != nil || tok == "" {
		appErr := apperror.Unauthorized("no session")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	var req upgradeRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		appErr := apperror.BadRequest("wallet_address is required")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	if !s.verifier.Verify(req.WalletAddress) {
		appErr := apperror.Unauthorized("wallet verification failed")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	lookup := s.sessions.Update(tok, func(sess *session.ClientSession) {
		sess.Authenticate(req.WalletAddress)
	})
	if lookup.Status != session.StatusSuccess {
		appErr := apperror.Unauthorized("no/expired session")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	bearer, err := s.tokens.Generate(lookup.Session.ClientID.String(), req.WalletAddress)
	if err != nil {
		appErr := apperror.Wrap(err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "token": bearer})
}

// requireBearer guards /api/protected with a valid bearer token.
func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			appErr := apperror.Unauthorized("missing bearer token")
			c.AbortWithStatusJSON(appErr.StatusCode, appErr.ToResponse())
			return
		}

		claims, err := s.tokens.Validate(header[len(prefix):])
		if err != nil {
			appErr := apperror.Unauthorized("invalid or expired token")
			c.AbortWithStatusJSON(appErr.StatusCode, appErr.ToResponse())
			return
		}

		c.Set("client_id", claims.Subject)
		c.Set("wallet_address", claims.Wallet)
		c.Next()
	}
}

func (s *Server) handleProtected(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"client_id":      c.GetString("client_id"),
		"wallet_address": c.GetString("wallet_address"),
	})
}
