package hubapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/router"
	"github.com/Hdpbilly/agent-bridge-platform/internal/session"
	"github.com/Hdpbilly/agent-bridge-platform/internal/statemgr"
)

func newTestEngine() (*gin.Engine, *Server) {
	gin.SetMode(gin.TestMode)
	reg := registry.New()
	sessions := session.NewStore(30*time.Minute, time.Hour)
	state := statemgr.New(reg, sessions, time.Hour)
	r := router.New(state.Registry, "")

	s := New(state, r, map[string]string{"Bearer secret-token": "agent1"})
	engine := gin.New()
	s.RegisterRoutes(engine)
	return engine, s
}

func TestAgentUpgradeRejectsUnknownBearer(t *testing.T) {
	engine, _ := newTestEngine()

	req := httptest.NewRequest(http.MethodGet, "/ws/agent", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAgentUpgradeRejectsMissingBearer(t *testing.T) {
	engine, _ := newTestEngine()

	req := httptest.NewRequest(http.MethodGet, "/ws/agent", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClientUpgradeRejectsMalformedClientID(t *testing.T) {
	engine, _ := newTestEngine()

	req := httptest.NewRequest(http.MethodGet, "/ws/client/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
