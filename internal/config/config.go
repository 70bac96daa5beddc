package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	DataDir      string

	// Firewall tuning
	RateLimitWindow   time.Duration
	RateLimitMax      int
	RateLimitBlockFor time.Duration

	FailedLoginThreshold int
	FailedLoginWindow    time.Duration
	FailedLoginBlockFor  time.Duration

	PatternBlockTrusted  time.Duration
	PatternBlockExternal time.Duration

	BlocklistCacheTTL time.Duration

	// File upload pipeline
	MaxFileSize    int64
	UploadBlockFor time.Duration
	EncryptionKey  []byte

	// Origin allow-lists
	AdminOrigins  []string
	AdminHosts    []string
	ClientOrigins []string
	ClientHosts   []string

	// Alerting
	AlertsEnabled  bool
	AlertURLs      []string
	DefaultAlertTo string

	// Policy switches. FailOpen lets requests through when an internal
	// error prevents a definitive check; BypassBlocklist skips the
	// blocklist lookup entirely and is intended for incident recovery,
	// never for normal operation.
	FailOpen        bool
	BypassBlocklist bool

	JWTSecret string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:  getEnv("SENTINEL_ENV", "development"),
		HTTPPort:     getEnv("SENTINEL_HTTP_PORT", "8080"),
		DatabasePath: getEnv("SENTINEL_DB_PATH", filepath.Join("data", "sentinel.db")),
		DataDir:      getEnv("SENTINEL_DATA_DIR", "data"),

		RateLimitWindow:   getDuration("SENTINEL_RATE_WINDOW", 15*time.Minute),
		RateLimitMax:      getInt("SENTINEL_RATE_MAX", 100),
		RateLimitBlockFor: getDuration("SENTINEL_RATE_BLOCK_FOR", time.Hour),

		FailedLoginThreshold: getInt("SENTINEL_FAILED_LOGIN_THRESHOLD", 5),
		FailedLoginWindow:    getDuration("SENTINEL_FAILED_LOGIN_WINDOW", 15*time.Minute),
		FailedLoginBlockFor:  getDuration("SENTINEL_FAILED_LOGIN_BLOCK_FOR", time.Hour),

		PatternBlockTrusted:  getDuration("SENTINEL_PATTERN_BLOCK_TRUSTED", 2*time.Hour),
		PatternBlockExternal: getDuration("SENTINEL_PATTERN_BLOCK_EXTERNAL", 12*time.Hour),

		BlocklistCacheTTL: getDuration("SENTINEL_BLOCKLIST_CACHE_TTL", 5*time.Minute),

		MaxFileSize:    getInt64("SENTINEL_MAX_FILE_SIZE", 10*1024*1024),
		UploadBlockFor: getDuration("SENTINEL_UPLOAD_BLOCK_FOR", 24*time.Hour),

		AdminOrigins:  getList("SENTINEL_ADMIN_ORIGINS", []string{"http://admin3.local:3003"}),
		AdminHosts:    getList("SENTINEL_ADMIN_HOSTS", []string{"admin3.local:3003"}),
		ClientOrigins: getList("SENTINEL_CLIENT_ORIGINS", []string{"http://localhost:3001", "http://localhost:3002", "http://client1.local:3001", "http://client2.local:3002"}),
		ClientHosts:   getList("SENTINEL_CLIENT_HOSTS", []string{"localhost:3001", "localhost:3002", "client1.local:3001", "client2.local:3002"}),

		AlertsEnabled:  getBool("SENTINEL_ALERTS_ENABLED", false),
		AlertURLs:      getList("SENTINEL_ALERT_URLS", nil),
		DefaultAlertTo: getEnv("SENTINEL_ALERT_DEFAULT_RECIPIENT", ""),

		FailOpen:        getBool("SENTINEL_FAIL_OPEN", true),
		BypassBlocklist: getBool("SENTINEL_BYPASS_BLOCKLIST", false),

		JWTSecret: getEnv("SENTINEL_JWT_SECRET", ""),
	}

	if raw := os.Getenv("SENTINEL_FILE_ENCRYPTION_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("decode SENTINEL_FILE_ENCRYPTION_KEY: %w", err)
		}
		if len(key) != 32 {
			return Config{}, fmt.Errorf("SENTINEL_FILE_ENCRYPTION_KEY must be 32 bytes, got %d", len(key))
		}
		cfg.EncryptionKey = key
	} else if cfg.Environment == "development" {
		// Ephemeral key so a zero-config dev server still boots. Stored
		// files become unreadable after restart; production must set the
		// key explicitly.
		cfg.EncryptionKey = make([]byte, 32)
		if _, err := rand.Read(cfg.EncryptionKey); err != nil {
			return Config{}, fmt.Errorf("generate ephemeral key: %w", err)
		}
	} else {
		return Config{}, fmt.Errorf("SENTINEL_FILE_ENCRYPTION_KEY is required outside development")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// UploadDir is where uploads land before scanning.
func (c Config) UploadDir() string { return filepath.Join(c.DataDir, "uploads") }

// QuarantineDir holds rejected uploads under randomized names.
func (c Config) QuarantineDir() string { return filepath.Join(c.DataDir, "quarantine") }

// SecureDir holds encrypted artifacts of accepted uploads.
func (c Config) SecureDir() string { return filepath.Join(c.DataDir, "secure") }

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
