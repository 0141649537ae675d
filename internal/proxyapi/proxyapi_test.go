package proxyapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hdpbilly/agent-bridge-platform/internal/session"
	"github.com/Hdpbilly/agent-bridge-platform/internal/token"
)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := session.NewStore(30*time.Minute, time.Hour)
	t.Cleanup(store.Close)

	mgr, err := token.NewManager("test-secret-not-the-dev-default", "agent-bridge-platform", time.Hour, false)
	require.NoError(t, err)

	s := New(store, mgr, nil, false)
	engine := gin.New()
	s.RegisterRoutes(engine)
	return s, engine
}

func TestCreateOrResumeIssuesSessionCookie(t *testing.T) {
	_, engine := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/client", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)

	var body sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.NewSession)
	assert.False(t, body.IsAuthenticated)
}

func TestCreateOrResumeReusesExistingCookie(t *testing.T) {
	_, engine := newTestServer(t)

	first := httptest.NewRequest(http.MethodPost, "/api/client", nil)
	rec1 := httptest.NewRecorder()
	engine.ServeHTTP(rec1, first)
	cookie := rec1.Result().Cookies()[0]

	second := httptest.NewRequest(http.MethodPost, "/api/client", nil)
	second.AddCookie(cookie)
	rec2 := httptest.NewRecorder()
	engine.ServeHTTP(rec2, second)

	var body sessionResponse
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&body))
	assert.False(t, body.NewSession)
}

func TestInspectRejectsMissingCookie(t *testing.T) {
	_, engine := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/client/00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInspectRejectsMalformedClientID(t *testing.T) {
	_, engine := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/client/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInspectRejectsClientIDMismatch(t *testing.T) {
	_, engine := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/client", nil)
	createRec := httptest.NewRecorder()
	engine.ServeHTTP(createRec, createReq)
	cookie := createRec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/api/client/00000000-0000-0000-0000-000000000000", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvalidateClearsSessionAndCookie(t *testing.T) {
	_, engine := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/client", nil)
	createRec := httptest.NewRecorder()
	engine.ServeHTTP(createRec, createReq)
	cookie := createRec.Result().Cookies()[0]

	delReq := httptest.NewRequest(http.MethodDelete, "/api/client/session", nil)
	delReq.AddCookie(cookie)
	delRec := httptest.NewRecorder()
	engine.ServeHTTP(delRec, delReq)

	require.Equal(t, http.StatusOK, delRec.Code)

	resumeReq := httptest.NewRequest(http.MethodPost, "/api/client", nil)
	resumeReq.AddCookie(cookie)
	resumeRec := httptest.NewRecorder()
	engine.ServeHTTP(resumeRec, resumeReq)

	var body sessionResponse
	require.NoError(t, json.NewDecoder(resumeRec.Body).Decode(&body))
	assert.True(t, body.NewSession, "invalidated token must not resolve to the old session")
}

func TestUpgradeIssuesBearerAndGatesProtected(t *testing.T) {
	_, engine := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/client", nil)
	createRec := httptest.NewRecorder()
	engine.ServeHTTP(createRec, createReq)
	cookie := createRec.Result().Cookies()[0]

	upgradeReq := httptest.NewRequest(http.MethodPost, "/api/sessions/upgrade", strings.NewReader(`{"wallet_address":"0xabc"}`))
	upgradeReq.Header.Set("Content-Type", "application/json")
	upgradeReq.AddCookie(cookie)
	upgradeRec := httptest.NewRecorder()
	engine.ServeHTTP(upgradeRec, upgradeReq)

	require.Equal(t, http.StatusOK, upgradeRec.Code)
	var payload struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(upgradeRec.Body).Decode(&payload))
	require.NotEmpty(t, payload.Token)

	protectedReq := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
	protectedReq.Header.Set("Authorization", "Bearer "+payload.Token)
	protectedRec := httptest.NewRecorder()
	engine.ServeHTTP(protectedRec, protectedReq)

	assert.Equal(t, http.StatusOK, protectedRec.Code)
}

func TestProtectedRejectsMissingBearer(t *testing.T) {
	_, engine := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAcceptAllVerifierRejectsEmptyWallet(t *testing.T) {
	assert.False(t, AcceptAllVerifier{}.Verify(""))
	assert.True(t, AcceptAllVerifier{}.Verify("0xabc"))
}
