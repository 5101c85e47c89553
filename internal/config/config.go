// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, session credentials, realtime gateway tuning, presence,
// rate limiting and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-sitechat")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and locates the relational store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// AuthConfig configures session credential signing.
type AuthConfig struct {
	Secret     string
	Issuer     string
	SessionTTL time.Duration
}

// RedisConfig is optional; an empty URL keeps presence and fan-out in process.
type RedisConfig struct {
	URL     string
	Channel string // pub/sub channel used for cross-process room delivery
}

// RealtimeConfig tunes the socket gateway and the delivery protocol.
type RealtimeConfig struct {
	ReadLimit        int64
	PingInterval     time.Duration
	SendBuffer       int
	EventRPS         float64
	EventBurst       int
	ResyncMaxLimit   int
	MessageMaxRunes  int
	PresenceTTL      time.Duration
	PresenceCoalesce time.Duration
	CallRingTimeout  time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB DBConfig

	// Sessions
	Auth AuthConfig

	// Shared store / bus
	Redis RedisConfig

	// Socket gateway
	Realtime RealtimeConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "sitechat.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		Auth: AuthConfig{
			Secret:     getenv("JWT_SECRET", ""),
			Issuer:     getenv("JWT_ISSUER", "go-sitechat"),
			SessionTTL: getdur("SESSION_TTL", 2*time.Hour),
		},

		Redis: RedisConfig{
			URL:     getenv("REDIS_URL", ""),
			Channel: getenv("REDIS_CHANNEL", "sitechat:events"),
		},

		Realtime: RealtimeConfig{
			ReadLimit:        int64(getint("WS_READ_LIMIT", 64<<10)),
			PingInterval:     getdur("WS_PING_INTERVAL", 25*time.Second),
			SendBuffer:       getint("WS_SEND_BUFFER", 64),
			EventRPS:         getfloat("WS_EVENT_RPS", 20),
			EventBurst:       getint("WS_EVENT_BURST", 40),
			ResyncMaxLimit:   getint("RESYNC_MAX_LIMIT", 200),
			MessageMaxRunes:  getint("MESSAGE_MAX_RUNES", 4000),
			PresenceTTL:      getdur("PRESENCE_TTL", 30*time.Second),
			PresenceCoalesce: getdur("PRESENCE_COALESCE", 5*time.Second),
			CallRingTimeout:  getdur("CALL_RING_TIMEOUT", 45*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-sitechat"),
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
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Auth.SessionTTL <= 0 {
		return cfg, errors.New("SESSION_TTL must be > 0")
	}
	if cfg.Redis.URL != "" && strings.TrimSpace(cfg.Redis.Channel) == "" {
		return cfg, errors.New("REDIS_CHANNEL must not be empty when REDIS_URL is set")
	}
	rt := cfg.Realtime
	if rt.ReadLimit <= 0 || rt.SendBuffer <= 0 {
		return cfg, errors.New("WS_READ_LIMIT and WS_SEND_BUFFER must be > 0")
	}
	if rt.PingInterval <= 0 {
		return cfg, errors.New("WS_PING_INTERVAL must be > 0")
	}
	if rt.EventRPS < 0 || rt.EventBurst < 1 {
		return cfg, errors.New("WS_EVENT_RPS must be >= 0 and WS_EVENT_BURST >= 1")
	}
	if rt.ResyncMaxLimit < 1 || rt.ResyncMaxLimit > 200 {
		return cfg, errors.New("RESYNC_MAX_LIMIT must be between 1 and 200")
	}
	if rt.MessageMaxRunes < 1 {
		return cfg, errors.New("MESSAGE_MAX_RUNES must be >= 1")
	}
	if rt.PresenceTTL <= 0 || rt.PresenceCoalesce < 0 {
		return cfg, errors.New("PRESENCE_TTL must be > 0 and PRESENCE_COALESCE >= 0")
	}
	if rt.CallRingTimeout <= 0 {
		return cfg, errors.New("CALL_RING_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
