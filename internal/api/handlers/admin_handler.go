package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cybersentinel/sentinel/internal/api/middleware"
	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/services"
	"github.com/cybersentinel/sentinel/internal/util"
	"github.com/cybersentinel/sentinel/internal/waf"
)

// AdminHandler serves the JWT-guarded operator API: blocklist
// management, the audit trail, rule reloads and secure file retrieval.
type AdminHandler struct {
	Blocklist     *services.BlocklistService
	Events        *services.EventService
	Alerts        *services.AlertService
	Scanner       *services.FileScanService
	Engine        *waf.Engine
	ClientOrigins []string
}

// ListBlocked handles GET /api/admin/blocked.
func (h *AdminHandler) ListBlocked(c *gin.Context) {
	entries, err := h.Blocklist.ListActive(500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list blocked entries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": entries, "count": len(entries)})
}

type blockRequest struct {
	IP              string `json:"ip" binding:"required"`
	DurationMinutes int    `json:"duration_minutes"`
	Permanent       bool   `json:"permanent"`
	Note            string `json:"note"`
}

// Block handles POST /api/admin/block.
func (h *AdminHandler) Block(c *gin.Context) {
	var body blockRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip required"})
		return
	}

	key := waf.NormalizeAddr(body.IP)
	opts := services.BlockOptions{Permanent: body.Permanent}
	if !body.Permanent {
		d := time.Duration(body.DurationMinutes) * time.Minute
		if d <= 0 {
			d = time.Hour
		}
		opts.Duration = d
	}

	if err := h.Blocklist.Block(key, models.ReasonManual, opts); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to block"})
		return
	}

	h.Events.Record(&models.SecurityEvent{
		IP:          key,
		EventType:   models.EventManualAction,
		Severity:    models.SeverityInfo,
		Description: fmt.Sprintf("Manual block by %s: %s", c.GetString("email"), util.SanitizeForLog(body.Note)),
		Blocked:     true,
		BlockingKey: key,
	})

	h.Alerts.Dispatch(services.AlertIPBlocked, map[string]interface{}{
		"ip":        key,
		"permanent": body.Permanent,
		"admin":     c.GetString("email"),
	})

	c.JSON(http.StatusOK, gin.H{"blocked": key, "permanent": body.Permanent})
}

// Unblock handles DELETE /api/admin/block/:ip. It sweeps every key
// spelling that could represent the address.
func (h *AdminHandler) Unblock(c *gin.Context) {
	ip := waf.NormalizeAddr(c.Param("ip"))

	removed, err := h.Blocklist.Unblock(ip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unblock"})
		return
	}
	if removed == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching block found"})
		return
	}

	// Clear rate-limit windows too, or the next request re-blocks.
	for _, key := range waf.KeyVariants(ip, h.ClientOrigins) {
		h.Engine.ResetRate(key)
	}

	h.Events.Record(&models.SecurityEvent{
		IP:          ip,
		EventType:   models.EventManualAction,
		Severity:    models.SeverityInfo,
		Description: fmt.Sprintf("Manual unblock by %s (%d entries)", c.GetString("email"), removed),
	})

	c.JSON(http.StatusOK, gin.H{"unblocked": ip, "removed": removed})
}

// ListEvents handles GET /api/admin/events.
func (h *AdminHandler) ListEvents(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	var (
		events []models.SecurityEvent
		err    error
	)
	if ip := c.Query("ip"); ip != "" {
		events, err = h.Events.ListByIP(waf.NormalizeAddr(ip), limit)
	} else {
		events, err = h.Events.ListRecent(limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

type ruleReloadRequest struct {
	Version int `json:"version" binding:"required"`
	Payload []struct {
		Pattern     string `json:"pattern" binding:"required"`
		Description string `json:"description"`
		Severity    string `json:"severity"`
		Category    string `json:"category"`
	} `json:"payload"`
	URL []struct {
		Path            string `json:"path" binding:"required"`
		Description     string `json:"description"`
		Severity        string `json:"severity"`
		BlockForMinutes int    `json:"block_for_minutes"`
	} `json:"url"`
}

// ReloadRules handles POST /api/admin/rules/reload. The submitted tables
// are compiled first; a bad rule set leaves the active one untouched.
func (h *AdminHandler) ReloadRules(c *gin.Context) {
	var body ruleReloadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule set"})
		return
	}

	payload := make([]waf.PayloadRule, 0, len(body.Payload))
	for _, r := range body.Payload {
		payload = append(payload, waf.PayloadRule{
			Pattern:     r.Pattern,
			Description: r.Description,
			Severity:    models.Severity(r.Severity),
			Category:    r.Category,
		})
	}
	urls := make([]waf.URLRule, 0, len(body.URL))
	for _, r := range body.URL {
		urls = append(urls, waf.URLRule{
			Path:        r.Path,
			Description: r.Description,
			Severity:    models.Severity(r.Severity),
			BlockFor:    time.Duration(r.BlockForMinutes) * time.Minute,
		})
	}

	rs, err := waf.CompileRules(body.Version, payload, urls)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	version := h.Engine.Detector().Replace(rs)
	c.JSON(http.StatusOK, gin.H{
		"version":       version,
		"payload_rules": len(rs.Payload),
		"url_rules":     len(rs.URL),
	})
}

// DownloadFile handles GET /api/admin/files/:name. The stored blob is
// decrypted and streamed; viewable types render inline, everything else
// downloads as an attachment.
func (h *AdminHandler) DownloadFile(c *gin.Context) {
	name := c.Param("name")
	original := c.Query("original")

	plain, err := h.Scanner.Decrypt(name)
	if err != nil {
		if errors.Is(err, services.ErrNotEncrypted) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is not a secure-store blob"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	if ct, ok := services.IsViewable(original); ok {
		c.Data(http.StatusOK, ct, plain)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", original))
	c.Data(http.StatusOK, "application/octet-stream", plain)
}

// TestAlert handles POST /api/admin/alerts/test.
func (h *AdminHandler) TestAlert(c *gin.Context) {
	req, _ := middleware.FirewallRequest(c)
	h.Alerts.Dispatch(services.AlertIPBlocked, map[string]interface{}{
		"ip":    req.Addr(),
		"admin": c.GetString("email"),
		"test":  true,
	})
	c.JSON(http.StatusOK, gin.H{"status": "alert dispatched", "recipient": h.Alerts.Recipient()})
}
