package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/cybersentinel/sentinel/internal/api/handlers"
	"github.com/cybersentinel/sentinel/internal/api/middleware"
	"github.com/cybersentinel/sentinel/internal/config"
	"github.com/cybersentinel/sentinel/internal/logger"
	"github.com/cybersentinel/sentinel/internal/models"
	"github.com/cybersentinel/sentinel/internal/services"
	"github.com/cybersentinel/sentinel/internal/version"
	"github.com/cybersentinel/sentinel/internal/waf"
)

// Register migrates the schema, wires every service behind the firewall
// and registers the API routes. It also starts the background sweeps.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) error {
	if err := db.AutoMigrate(
		&models.BlockedEntry{},
		&models.SecurityEvent{},
		&models.AdminUser{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	blocklist := services.NewBlocklistService(db, cfg.BlocklistCacheTTL, cfg.ClientOrigins)
	events := services.NewEventService(db)
	alerts := services.NewAlertService(cfg.AlertsEnabled, cfg.AlertURLs, cfg.DefaultAlertTo, cfg.DataDir)
	authService := services.NewAuthService(db, cfg.JWTSecret)

	tracker := services.NewLoginTracker(
		cfg.FailedLoginWindow, cfg.FailedLoginThreshold, cfg.FailedLoginBlockFor,
		blocklist, events, alerts,
	)

	scanner, err := services.NewFileScanService(
		cfg.MaxFileSize, cfg.UploadBlockFor, cfg.EncryptionKey,
		cfg.UploadDir(), cfg.QuarantineDir(), cfg.SecureDir(),
		blocklist, events, alerts,
	)
	if err != nil {
		return fmt.Errorf("file scan service: %w", err)
	}
	if err := scanner.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	classifier := &waf.Classifier{
		Admin:  waf.OriginSet{Origins: cfg.AdminOrigins, Hosts: cfg.AdminHosts},
		Client: waf.OriginSet{Origins: cfg.ClientOrigins, Hosts: cfg.ClientHosts},
	}
	engine := waf.NewEngine(
		waf.EngineConfig{
			FailOpen:        cfg.FailOpen,
			BypassBlocklist: cfg.BypassBlocklist,
			// The probe table flags "/admin"; our own admin API must not
			// trip it before authentication gets a say.
			ExemptURLPrefixes:    []string{"/api/v1/admin"},
			RateBlockFor:         cfg.RateLimitBlockFor,
			PatternBlockTrusted:  cfg.PatternBlockTrusted,
			PatternBlockExternal: cfg.PatternBlockExternal,
		},
		classifier,
		waf.NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		waf.NewDetector(waf.DefaultRuleSet()),
		blocklist, events, alerts,
	)

	router.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.Firewall(engine))

	authHandler := &handlers.AuthHandler{Auth: authService, Tracker: tracker, Alerts: alerts}
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/logout", authHandler.Logout)

	uploadHandler := &handlers.UploadHandler{Scanner: scanner, UploadDir: cfg.UploadDir()}
	api.POST("/upload", uploadHandler.Upload)

	adminHandler := &handlers.AdminHandler{
		Blocklist:     blocklist,
		Events:        events,
		Alerts:        alerts,
		Scanner:       scanner,
		Engine:        engine,
		ClientOrigins: cfg.ClientOrigins,
	}

	protected := api.Group("/admin")
	protected.Use(middleware.AuthMiddleware(authService), middleware.RequireRole("admin"))
	{
		protected.GET("/blocked", adminHandler.ListBlocked)
		protected.POST("/block", adminHandler.Block)
		protected.DELETE("/block/:ip", adminHandler.Unblock)
		protected.GET("/events", adminHandler.ListEvents)
		protected.POST("/rules/reload", adminHandler.ReloadRules)
		protected.GET("/files/:name", adminHandler.DownloadFile)
		protected.POST("/alerts/test", adminHandler.TestAlert)
	}

	startSweeps(blocklist, events, alerts)
	return nil
}

// startSweeps schedules the background maintenance jobs. Expired blocks
// are purged every ten minutes, old audit rows daily, stale admin
// sessions hourly.
func startSweeps(blocklist *services.BlocklistService, events *services.EventService, alerts *services.AlertService) {
	c := cron.New()

	c.AddFunc("@every 10m", func() {
		if n, err := blocklist.PurgeExpired(); err != nil {
			logger.Log().WithField("error", err.Error()).Error("blocklist purge failed")
		} else if n > 0 {
			logger.Log().WithField("purged", n).Info("purged expired blocks")
		}
	})

	c.AddFunc("@daily", func() {
		if n, err := events.SweepExpired(); err != nil {
			logger.Log().WithField("error", err.Error()).Error("event sweep failed")
		} else if n > 0 {
			logger.Log().WithField("removed", n).Info("swept expired security events")
		}
	})

	c.AddFunc("@hourly", func() {
		if n := alerts.CleanupSessions(); n > 0 {
			logger.Log().WithField("removed", n).Info("cleaned up stale admin sessions")
		}
	})

	c.Start()
}
