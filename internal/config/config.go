// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes client settings such
// as the chat server endpoint, sync tuning, the local archive path, logging,
// rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the local
// debug listener.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-sync")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	PageLimit       int           // messages per history page
	FetchAttempts   int           // attempts before a history fetch fails terminally
	FetchBaseDelay  time.Duration // first retry delay, doubled per attempt
	FetchMaxDelay   time.Duration // backoff cap
	FlushDelay      time.Duration // live ingest batching window
	ArchiveSeedSize int           // messages loaded from the archive on join
}

// Config holds all configuration values for the application.
type Config struct {
	// Chat server
	ServerURL string // websocket endpoint, e.g. "ws://chat:4000/socket"
	RoomID    string // room joined at startup

	// Debug listener
	DebugAddr         string        // host:port of the local ops server; empty disables it
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	ArchivePath string // SQLite path for the local message archive
	Sync        SyncConfig

	// Outbound rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Chat server
		ServerURL: getenv("CHAT_SERVER_URL", "ws://localhost:4000/socket"),
		RoomID:    getenv("CHAT_ROOM_ID", ""),

		// Debug listener
		DebugAddr:         getenv("DEBUG_ADDR", "127.0.0.1:8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		ArchivePath: getenv("ARCHIVE_PATH", "archive.db"),
		Sync: SyncConfig{
			PageLimit:       getint("SYNC_PAGE_LIMIT", 30),
			FetchAttempts:   getint("SYNC_FETCH_ATTEMPTS", 3),
			FetchBaseDelay:  getdur("SYNC_FETCH_BASE_DELAY", 2*time.Second),
			FetchMaxDelay:   getdur("SYNC_FETCH_MAX_DELAY", 30*time.Second),
			FlushDelay:      getdur("SYNC_FLUSH_DELAY", 10*time.Millisecond),
			ArchiveSeedSize: getint("SYNC_ARCHIVE_SEED_SIZE", 60),
		},

		// Outbound rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-sync"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if !strings.HasPrefix(cfg.ServerURL, "ws://") && !strings.HasPrefix(cfg.ServerURL, "wss://") {
		return cfg, errors.New("CHAT_SERVER_URL must be a ws:// or wss:// URL")
	}
	if strings.TrimSpace(cfg.RoomID) == "" {
		return cfg, errors.New("CHAT_ROOM_ID must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.ArchivePath) == "" {
		return cfg, errors.New("ARCHIVE_PATH must not be empty")
	}
	if cfg.Sync.PageLimit < 1 {
		return cfg, errors.New("SYNC_PAGE_LIMIT must be >= 1")
	}
	if cfg.Sync.FetchAttempts < 1 {
		return cfg, errors.New("SYNC_FETCH_ATTEMPTS must be >= 1")
	}
	if cfg.Sync.FetchBaseDelay <= 0 || cfg.Sync.FetchMaxDelay <= 0 {
		return cfg, errors.New("fetch backoff delays must be positive durations")
	}
	if cfg.Sync.FlushDelay <= 0 {
		return cfg, errors.New("SYNC_FLUSH_DELAY must be a positive duration")
	}
	if cfg.Sync.ArchiveSeedSize < 0 {
		return cfg, errors.New("SYNC_ARCHIVE_SEED_SIZE must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
