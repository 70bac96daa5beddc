package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cybersentinel/sentinel/internal/api/middleware"
	"github.com/cybersentinel/sentinel/internal/services"
)

// AuthHandler serves admin login. Failed attempts feed the firewall's
// login tracker; a success both clears the counter and registers the
// admin session as the preferred alert recipient.
type AuthHandler struct {
	Auth    *services.AuthService
	Tracker *services.LoginTracker
	Alerts  *services.AlertService
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	req, class := middleware.FirewallRequest(c)

	token, err := h.Auth.Login(body.Email, body.Password)
	if err != nil {
		blocked := h.Tracker.RecordFailure(req, class, body.Email)
		if blocked {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied", "type": "ip_blocked"})
			return
		}
		if errors.Is(err, services.ErrInvalidCredentials) || errors.Is(err, services.ErrAccountDisabled) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	h.Tracker.RecordSuccess(req, class)

	sessionID := uuid.NewString()
	h.Alerts.RegisterSession(sessionID, body.Email)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"session_id": sessionID,
	})
}

type logoutRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// Logout handles POST /api/auth/logout. It only retires the alert
// recipient session; JWTs stay valid until they expire.
func (h *AuthHandler) Logout(c *gin.Context) {
	var body logoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}
	h.Alerts.RemoveSession(body.SessionID)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}
