// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, VAPID signing keys, queue processor tuning,
// reconnection/breaker tuning, and observability options.
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
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// VAPIDConfig holds the web-push signing key pair. When both keys are empty
// the service auto-provisions a pair on first use and persists it.
type VAPIDConfig struct {
	PublicKey  string // VAPID_PUBLIC_KEY (base64url)
	PrivateKey string // VAPID_PRIVATE_KEY (base64url)
	Subject    string // VAPID_SUBJECT (mailto: or https: URI)
}

// QueueConfig tunes the notification delivery queue processor.
type QueueConfig struct {
	TickInterval time.Duration // QUEUE_TICK_INTERVAL: poll cadence
	BatchSize    int           // QUEUE_BATCH_SIZE: max rows claimed per tick
	MaxAttempts  int           // QUEUE_MAX_ATTEMPTS: retry cap per row
	Retention    time.Duration // QUEUE_RETENTION: terminal row retention before sweep
	SweepSpec    string        // QUEUE_SWEEP_SPEC: cron spec for the retention sweep
}

// StreamConfig tunes the client-side stream reconciler and its transport.
type StreamConfig struct {
	PageSize         int           // STREAM_PAGE_SIZE: messages per history page
	SenderCacheTTL   time.Duration // SENDER_CACHE_TTL: identity cache lifetime
	OptimisticWindow time.Duration // OPTIMISTIC_MATCH_WINDOW: replace-match tolerance

	// Reconnection / circuit breaker.
	BreakerThreshold int           // BREAKER_THRESHOLD: consecutive failures to open
	BreakerCooldown  time.Duration // BREAKER_COOLDOWN: open → closed timer
	BackoffBase      time.Duration // BACKOFF_BASE: first reconnect delay
	BackoffFactor    float64       // BACKOFF_FACTOR: growth per attempt
	BackoffMax       time.Duration // BACKOFF_MAX: delay ceiling
	MaxReconnects    int           // MAX_RECONNECTS: attempts before giving up
	StaleAfter       time.Duration // STALE_AFTER: silent-feed watchdog threshold
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	Env               string // development|staging|production
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// App
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Domain
	VAPID  VAPIDConfig
	Queue  QueueConfig
	Stream StreamConfig

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
		Env:               strings.ToLower(getenv("APP_ENV", "development")),
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
		DBPath: getenv("DB_PATH", "app.db"),

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

		// Web push
		VAPID: VAPIDConfig{
			PublicKey:  getenv("VAPID_PUBLIC_KEY", ""),
			PrivateKey: getenv("VAPID_PRIVATE_KEY", ""),
			Subject:    getenv("VAPID_SUBJECT", "mailto:admin@terply.app"),
		},

		// Delivery queue
		Queue: QueueConfig{
			TickInterval: getdur("QUEUE_TICK_INTERVAL", 5*time.Second),
			BatchSize:    getint("QUEUE_BATCH_SIZE", 10),
			MaxAttempts:  getint("QUEUE_MAX_ATTEMPTS", 3),
			Retention:    getdur("QUEUE_RETENTION", 30*24*time.Hour),
			SweepSpec:    getenv("QUEUE_SWEEP_SPEC", "0 3 * * *"), // 03:00 daily
		},

		// Stream reconciler
		Stream: StreamConfig{
			PageSize:         getint("STREAM_PAGE_SIZE", 50),
			SenderCacheTTL:   getdur("SENDER_CACHE_TTL", 5*time.Minute),
			OptimisticWindow: getdur("OPTIMISTIC_MATCH_WINDOW", 5*time.Second),
			BreakerThreshold: getint("BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getdur("BREAKER_COOLDOWN", 30*time.Second),
			BackoffBase:      getdur("BACKOFF_BASE", time.Second),
			BackoffFactor:    getfloat("BACKOFF_FACTOR", 2.0),
			BackoffMax:       getdur("BACKOFF_MAX", 30*time.Second),
			MaxReconnects:    getint("MAX_RECONNECTS", 10),
			StaleAfter:       getdur("STALE_AFTER", 60*time.Second),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "terply-chat-backend"),
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
	switch cfg.Env {
	case "development", "staging", "production":
	default:
		cfg.Env = "development"
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
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
	if (cfg.VAPID.PublicKey == "") != (cfg.VAPID.PrivateKey == "") {
		return cfg, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}
	if !strings.HasPrefix(cfg.VAPID.Subject, "mailto:") && !strings.HasPrefix(cfg.VAPID.Subject, "https:") {
		return cfg, errors.New("VAPID_SUBJECT must be a mailto: or https: URI")
	}
	if cfg.Queue.TickInterval <= 0 {
		return cfg, errors.New("QUEUE_TICK_INTERVAL must be > 0")
	}
	if cfg.Queue.BatchSize < 1 {
		return cfg, errors.New("QUEUE_BATCH_SIZE must be >= 1")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.Retention <= 0 {
		return cfg, errors.New("QUEUE_RETENTION must be > 0")
	}
	if cfg.Stream.PageSize < 1 {
		return cfg, errors.New("STREAM_PAGE_SIZE must be >= 1")
	}
	if cfg.Stream.SenderCacheTTL <= 0 {
		return cfg, errors.New("SENDER_CACHE_TTL must be > 0")
	}
	if cfg.Stream.BreakerThreshold < 1 {
		return cfg, errors.New("BREAKER_THRESHOLD must be >= 1")
	}
	if cfg.Stream.BreakerCooldown <= 0 {
		return cfg, errors.New("BREAKER_COOLDOWN must be > 0")
	}
	if cfg.Stream.BackoffBase <= 0 || cfg.Stream.BackoffMax < cfg.Stream.BackoffBase {
		return cfg, errors.New("BACKOFF_BASE must be > 0 and BACKOFF_MAX >= BACKOFF_BASE")
	}
	if cfg.Stream.BackoffFactor < 1 {
		return cfg, errors.New("BACKOFF_FACTOR must be >= 1")
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
