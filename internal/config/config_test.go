package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("CHAT_ROOM_ID", "room1")
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Chat server
	t.Setenv("CHAT_SERVER_URL", "wss://chat.example:4000/socket")
	t.Setenv("CHAT_ROOM_ID", "room1")

	// Debug listener (valid)
	t.Setenv("DEBUG_ADDR", "127.0.0.1:9090")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")

	// App
	t.Setenv("ARCHIVE_PATH", "cache.db")
	t.Setenv("SYNC_PAGE_LIMIT", "50")
	t.Setenv("SYNC_FETCH_ATTEMPTS", "5")
	t.Setenv("SYNC_FETCH_BASE_DELAY", "1s")
	t.Setenv("SYNC_FETCH_MAX_DELAY", "10s")
	t.Setenv("SYNC_FLUSH_DELAY", "20ms")
	t.Setenv("SYNC_ARCHIVE_SEED_SIZE", "90")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Chat server
	if cfg.ServerURL != "wss://chat.example:4000/socket" || cfg.RoomID != "room1" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Debug listener
	if cfg.DebugAddr != "127.0.0.1:9090" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("debug listener fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging unexpected: %+v", cfg)
	}

	// App
	if cfg.ArchivePath != "cache.db" {
		t.Fatalf("archive path unexpected: %+v", cfg)
	}
	if cfg.Sync.PageLimit != 50 ||
		cfg.Sync.FetchAttempts != 5 ||
		cfg.Sync.FetchBaseDelay != time.Second ||
		cfg.Sync.FetchMaxDelay != 10*time.Second ||
		cfg.Sync.FlushDelay != 20*time.Millisecond ||
		cfg.Sync.ArchiveSeedSize != 90 {
		t.Fatalf("sync fields unexpected: %+v", cfg.Sync)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	// Every subtest needs a valid room id so only its own knob fails.
	setRoom := func(t *testing.T) { t.Setenv("CHAT_ROOM_ID", "room1") }

	t.Run("invalid LOG_LEVEL", func(t *testing.T) {
		setRoom(t)
		t.Setenv("LOG_LEVEL", "verbose")
		if _, err := Load(); err == nil {
			t.Fatalf("expected LOG_LEVEL validation error")
		}
	})
	t.Run("non-websocket server url", func(t *testing.T) {
		setRoom(t)
		t.Setenv("CHAT_SERVER_URL", "http://chat:4000")
		if _, err := Load(); err == nil || !containsErr(err, "CHAT_SERVER_URL") {
			t.Fatalf("expected CHAT_SERVER_URL validation error, got: %v", err)
		}
	})
	t.Run("empty room id", func(t *testing.T) {
		t.Setenv("CHAT_ROOM_ID", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "CHAT_ROOM_ID") {
			t.Fatalf("expected CHAT_ROOM_ID validation error, got: %v", err)
		}
	})
	t.Run("non-positive timeouts", func(t *testing.T) {
		setRoom(t)
		t.Setenv("READ_TIMEOUT", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "timeouts must be positive") {
			t.Fatalf("expected timeouts validation error, got: %v", err)
		}
	})
	t.Run("max header bytes <= 0", func(t *testing.T) {
		setRoom(t)
		t.Setenv("MAX_HEADER_BYTES", "0")
		if _, err := Load(); err == nil || !containsErr(err, "MAX_HEADER_BYTES") {
			t.Fatalf("expected MAX_HEADER_BYTES validation error, got: %v", err)
		}
	})
	t.Run("empty ARCHIVE_PATH", func(t *testing.T) {
		setRoom(t)
		t.Setenv("ARCHIVE_PATH", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "ARCHIVE_PATH must not be empty") {
			t.Fatalf("expected ARCHIVE_PATH validation error, got: %v", err)
		}
	})
	t.Run("page limit < 1", func(t *testing.T) {
		setRoom(t)
		t.Setenv("SYNC_PAGE_LIMIT", "0")
		if _, err := Load(); err == nil || !containsErr(err, "SYNC_PAGE_LIMIT") {
			t.Fatalf("expected SYNC_PAGE_LIMIT validation error, got: %v", err)
		}
	})
	t.Run("fetch attempts < 1", func(t *testing.T) {
		setRoom(t)
		t.Setenv("SYNC_FETCH_ATTEMPTS", "0")
		if _, err := Load(); err == nil || !containsErr(err, "SYNC_FETCH_ATTEMPTS") {
			t.Fatalf("expected SYNC_FETCH_ATTEMPTS validation error, got: %v", err)
		}
	})
	t.Run("non-positive backoff delays", func(t *testing.T) {
		setRoom(t)
		t.Setenv("SYNC_FETCH_BASE_DELAY", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "fetch backoff delays") {
			t.Fatalf("expected backoff validation error, got: %v", err)
		}
	})
	t.Run("non-positive flush delay", func(t *testing.T) {
		setRoom(t)
		t.Setenv("SYNC_FLUSH_DELAY", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "SYNC_FLUSH_DELAY") {
			t.Fatalf("expected SYNC_FLUSH_DELAY validation error, got: %v", err)
		}
	})
	t.Run("negative archive seed size", func(t *testing.T) {
		setRoom(t)
		t.Setenv("SYNC_ARCHIVE_SEED_SIZE", "-1")
		if _, err := Load(); err == nil || !containsErr(err, "SYNC_ARCHIVE_SEED_SIZE") {
			t.Fatalf("expected SYNC_ARCHIVE_SEED_SIZE validation error, got: %v", err)
		}
	})
	t.Run("rate rps negative", func(t *testing.T) {
		setRoom(t)
		t.Setenv("RATE_RPS", "-1")
		if _, err := Load(); err == nil || !containsErr(err, "RATE_RPS") {
			t.Fatalf("expected RATE_RPS validation error, got: %v", err)
		}
	})
	t.Run("rate burst < 1", func(t *testing.T) {
		setRoom(t)
		t.Setenv("RATE_BURST", "0")
		if _, err := Load(); err == nil || !containsErr(err, "RATE_BURST") {
			t.Fatalf("expected RATE_BURST validation error, got: %v", err)
		}
	})
	t.Run("otel sample ratio out of range", func(t *testing.T) {
		setRoom(t)
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
		if _, err := Load(); err == nil || !containsErr(err, "OTEL_TRACES_SAMPLER_ARG") {
			t.Fatalf("expected OTEL_TRACES_SAMPLER_ARG validation error, got: %v", err)
		}
	})
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + config_strconv(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + config_strconv(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	// default on unset/empty
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}
}

// small helper (avoid fmt just for ints)
func config_strconv(i int) string { return string('a' + rune(i)) }

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	os.Unsetenv("CHAT_ROOM_ID")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHAT_ROOM_ID", "room1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ServerURL != "ws://localhost:4000/socket" {
		t.Fatalf("CHAT_SERVER_URL default unexpected: %q", cfg.ServerURL)
	}
	if cfg.Sync.PageLimit != 30 || cfg.Sync.FetchAttempts != 3 || cfg.Sync.FetchBaseDelay != 2*time.Second {
		t.Fatalf("sync defaults unexpected: %+v", cfg.Sync)
	}
	if cfg.Sync.FlushDelay != 10*time.Millisecond || cfg.Sync.ArchiveSeedSize != 60 {
		t.Fatalf("sync defaults unexpected: %+v", cfg.Sync)
	}
	if cfg.ArchivePath != "archive.db" || cfg.DebugAddr != "127.0.0.1:8080" {
		t.Fatalf("app defaults unexpected: %+v", cfg)
	}
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	t.Setenv("CHAT_ROOM_ID", "room1")
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid config, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.RoomID != "room1" {
		t.Fatalf("unexpected config from MustLoad: %+v", cfg)
	}
}
