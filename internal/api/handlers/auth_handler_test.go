package handlers

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

	"github.com/cybersentinel/sentinel/internal/services"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *services.BlocklistService, *services.AlertService) {
	gin.SetMode(gin.TestMode)
	db := setupHandlerDB(t)

	blocklist := services.NewBlocklistService(db, time.Minute, nil)
	events := services.NewEventService(db)
	alerts := services.NewAlertService(false, nil, "fallback@example.com", t.TempDir())
	auth := services.NewAuthService(db, "test-secret")
	tracker := services.NewLoginTracker(15*time.Minute, 3, time.Hour, blocklist, events, alerts)

	_, err := auth.Register("admin@example.com", "correct-horse", "Admin")
	require.NoError(t, err)

	handler := &AuthHandler{Auth: auth, Tracker: tracker, Alerts: alerts}
	r := gin.New()
	r.POST("/api/auth/login", handler.Login)
	r.POST("/api/auth/logout", handler.Logout)
	return r, blocklist, alerts
}

func postLogin(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:5555"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLogin_SuccessReturnsTokenAndRegistersSession(t *testing.T) {
	r, _, alerts := newAuthRouter(t)

	w := postLogin(r, `{"email":"admin@example.com","password":"correct-horse"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "token")

	// The logged-in admin becomes the preferred alert recipient.
	assert.Equal(t, "admin@example.com", alerts.Recipient())
}

func TestLogin_FailuresEscalateToBlock(t *testing.T) {
	r, blocklist, _ := newAuthRouter(t)

	for i := 0; i < 2; i++ {
		w := postLogin(r, `{"email":"admin@example.com","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	// Third failure crosses the threshold.
	w := postLogin(r, `{"email":"admin@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"ip_blocked"`)

	blocked, err := blocklist.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestLogin_SuccessClearsFailureWindow(t *testing.T) {
	r, blocklist, _ := newAuthRouter(t)

	for i := 0; i < 2; i++ {
		postLogin(r, `{"email":"admin@example.com","password":"wrong"}`)
	}
	w := postLogin(r, `{"email":"admin@example.com","password":"correct-horse"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// Counter reset: two more failures stay below the threshold.
	for i := 0; i < 2; i++ {
		w = postLogin(r, `{"email":"admin@example.com","password":"wrong"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	blocked, err := blocklist.IsBlocked("203.0.113.7")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestLogout_RetiresAlertSession(t *testing.T) {
	r, _, alerts := newAuthRouter(t)

	w := postLogin(r, `{"email":"admin@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)

	req := httptest.NewRequest("POST", "/api/auth/logout", strings.NewReader(`{"session_id":"`+resp.SessionID+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// With no active session the fallback recipient applies again.
	assert.Equal(t, "fallback@example.com", alerts.Recipient())
}

func TestLogin_MalformedBody(t *testing.T) {
	r, _, _ := newAuthRouter(t)
	w := postLogin(r, `{"email":"admin@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
