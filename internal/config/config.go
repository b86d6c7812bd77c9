// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StorageSQLite = "sqlite"
	StoragePebble = "pebble"
	StorageMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	DBPath         string
	StorageBackend string
	PebblePath     string
	ProfilePath    string
	LogLevel       string
	Chat           ChatConfig
	Widget         WidgetConfig
	Session        SessionConfig
	RateLimit      RateLimitConfig
	SSE            SSEConfig
}

// ChatConfig describes the backend inference endpoint.
type ChatConfig struct {
	APIURL         string
	Model          string
	ModelLabel     string
	RequestTimeout time.Duration
}

// WidgetConfig controls per-engine timing.
type WidgetConfig struct {
	RevealInterval   time.Duration
	InactivityWindow time.Duration
}

// SessionConfig controls engine eviction and visitor retention.
type SessionConfig struct {
	EngineIdleTTL    time.Duration
	ReaperCron       string
	VisitorRetention time.Duration
}

// RateLimitConfig bounds sends per visitor.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the state stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	MaxRequestBodySize int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		DBPath:         getEnv("DB_PATH", "./data/widget.db"),
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageSQLite)),
		PebblePath:     getEnv("PEBBLE_PATH", "./data/widget.pebble"),
		ProfilePath:    getEnv("WIDGET_PROFILE", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Chat: ChatConfig{
			APIURL:         getEnv("CHAT_API_URL", "http://localhost:8000/api/chat"),
			Model:          getEnv("CHAT_MODEL", "meta-llama/llama-4-maverick:free"),
			ModelLabel:     getEnv("CHAT_MODEL_LABEL", "LLaMA 4"),
			RequestTimeout: getEnvDuration("CHAT_REQUEST_TIMEOUT", 60*time.Second),
		},
		Widget: WidgetConfig{
			RevealInterval:   getEnvDuration("REVEAL_INTERVAL", 30*time.Millisecond),
			InactivityWindow: getEnvDuration("INACTIVITY_WINDOW", 10*time.Minute),
		},
		Session: SessionConfig{
			EngineIdleTTL:    getEnvDuration("ENGINE_IDLE_TTL", 30*time.Minute),
			ReaperCron:       getEnv("REAPER_CRON", "*/5 * * * *"),
			VisitorRetention: getEnvDuration("VISITOR_RETENTION", 30*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("SEND_RATE_LIMIT", 10),
			WindowDuration:    getEnvDuration("SEND_RATE_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StorageBackend {
	case StorageSQLite, StorageMemory:
	case StoragePebble:
		if c.PebblePath == "" {
			return fmt.Errorf("PEBBLE_PATH cannot be empty when STORAGE_BACKEND=pebble")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of sqlite, pebble, memory (got %q)", c.StorageBackend)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Chat.APIURL == "" {
		return fmt.Errorf("CHAT_API_URL cannot be empty")
	}
	if c.Chat.Model == "" {
		return fmt.Errorf("CHAT_MODEL cannot be empty")
	}
	if c.Widget.RevealInterval <= 0 {
		return fmt.Errorf("REVEAL_INTERVAL must be > 0")
	}
	if c.Widget.InactivityWindow <= 0 {
		return fmt.Errorf("INACTIVITY_WINDOW must be > 0")
	}
	if !gronx.IsValid(c.Session.ReaperCron) {
		return fmt.Errorf("REAPER_CRON is not a valid cron expression: %q", c.Session.ReaperCron)
	}
	if c.RateLimit.RequestsPerWindow < 0 {
		return fmt.Errorf("SEND_RATE_LIMIT must be >= 0 (0 disables limiting)")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("SEND_RATE_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("30ms", "10m") or plain
// milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
