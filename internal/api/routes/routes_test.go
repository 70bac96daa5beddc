package routes

import (
	"bytes"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cybersentinel/sentinel/internal/config"
)

func testConfig(t *testing.T) config.Config {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	return config.Config{
		Environment:          "test",
		DataDir:              t.TempDir(),
		RateLimitWindow:      15 * time.Minute,
		RateLimitMax:         100,
		RateLimitBlockFor:    time.Hour,
		FailedLoginThreshold: 5,
		FailedLoginWindow:    15 * time.Minute,
		FailedLoginBlockFor:  time.Hour,
		PatternBlockTrusted:  2 * time.Hour,
		PatternBlockExternal: 12 * time.Hour,
		BlocklistCacheTTL:    5 * time.Minute,
		MaxFileSize:          10 << 20,
		UploadBlockFor:       24 * time.Hour,
		EncryptionKey:        key,
		FailOpen:             true,
		JWTSecret:            "test-secret",
	}
}

func TestRegister_BootsAndServesHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	router := gin.New()
	require.NoError(t, Register(router, db, testConfig(t)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister_AdminRoutesRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	router := gin.New()
	require.NoError(t, Register(router, db, testConfig(t)))

	req := httptest.NewRequest("GET", "/api/v1/admin/blocked", nil)
	req.RemoteAddr = "203.0.113.7:7000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegister_FirewallGuardsAPIGroup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	router := gin.New()
	require.NoError(t, Register(router, db, testConfig(t)))

	body := bytes.NewReader([]byte(`{"email":"<script>alert(1)</script>","password":"x"}`))
	req := httptest.NewRequest("POST", "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:7000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "malicious_pattern")
}
