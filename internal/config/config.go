package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Service names accepted by Load.
const (
	ServiceLedger   = "ledger"
	ServiceTransfer = "transfer"
)

const (
	defaultAppEnv          = "development"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultLedgerAttempts  = 3
	defaultLedgerBackoff   = 150 * time.Millisecond
	defaultBackoffMax      = 2 * time.Second
	defaultLedgerTimeout   = 5 * time.Second
	defaultAuditTimeout    = 5 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerOpen     = 30 * time.Second
)

var defaultPorts = map[string]string{
	ServiceLedger:   "8081",
	ServiceTransfer: "8080",
}

// Backoff curves accepted by LEDGER_BACKOFF_CURVE.
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Config captures runtime configuration loaded from environment variables.
type Config struct {
	Service          string
	AppName          string
	AppEnv           string
	Port             string
	LogLevel         string
	LogFormat        string
	DatabaseURL      string
	DatabaseMaxConns int32
	// DatabaseMaxConnIdle closes pooled connections idle for longer. Zero keeps
	// the pgx default.
	DatabaseMaxConnIdle time.Duration
	RedisURL            string
	ShutdownPeriod      time.Duration
	IdempotencyTTL      time.Duration

	// Transfer service only.
	LedgerURL          string
	LedgerMaxAttempts  int
	LedgerBackoff      time.Duration
	LedgerBackoffCurve string
	// LedgerBackoffMax caps the exponential curve.
	LedgerBackoffMax   time.Duration
	LedgerTimeout      time.Duration
	AuditTimeout       time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// Load reads an optional .env file (or the file named by ENV_FILE) and then
// the process environment. Variables already set in the environment win.
func Load(service string) (Config, error) {
	port, ok := defaultPorts[service]
	if !ok {
		return Config{}, fmt.Errorf("unknown service %q", service)
	}

	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		Service:     service,
		AppName:     getEnv("APP_NAME", "walletmesh-"+service),
		AppEnv:      strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:        getEnv("PORT", port),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:   strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		LedgerURL:   os.Getenv("LEDGER_URL"),

		LedgerBackoffCurve: strings.ToLower(getEnv("LEDGER_BACKOFF_CURVE", BackoffLinear)),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.LedgerBackoff, err = duration("LEDGER_BACKOFF", defaultLedgerBackoff); err != nil {
		return Config{}, err
	}
	if cfg.LedgerBackoffMax, err = duration("LEDGER_BACKOFF_MAX", defaultBackoffMax); err != nil {
		return Config{}, err
	}
	if cfg.DatabaseMaxConnIdle, err = duration("DATABASE_MAX_CONN_IDLE", 0); err != nil {
		return Config{}, err
	}
	if cfg.LedgerTimeout, err = duration("LEDGER_TIMEOUT", defaultLedgerTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AuditTimeout, err = duration("AUDIT_TIMEOUT", defaultAuditTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BreakerOpenTimeout, err = duration("BREAKER_OPEN_TIMEOUT", defaultBreakerOpen); err != nil {
		return Config{}, err
	}

	attempts, err := integer("LEDGER_MAX_ATTEMPTS", defaultLedgerAttempts)
	if err != nil {
		return Config{}, err
	}
	if attempts < 1 {
		return Config{}, fmt.Errorf("invalid LEDGER_MAX_ATTEMPTS: must be at least 1")
	}
	cfg.LedgerMaxAttempts = attempts

	failures, err := integer("BREAKER_FAILURES", defaultBreakerFailures)
	if err != nil {
		return Config{}, err
	}
	if failures < 1 {
		return Config{}, fmt.Errorf("invalid BREAKER_FAILURES: must be at least 1")
	}
	cfg.BreakerFailures = uint32(failures)

	maxConns, err := integer("DATABASE_MAX_CONNS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.DatabaseMaxConns = int32(maxConns)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsDev reports whether in-memory backends may stand in for Postgres, Redis
// and the ledger service.
func (c Config) IsDev() bool {
	switch c.AppEnv {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) validate() error {
	switch c.LedgerBackoffCurve {
	case BackoffLinear, BackoffExponential:
	default:
		return fmt.Errorf("invalid LEDGER_BACKOFF_CURVE %q: want %s or %s", c.LedgerBackoffCurve, BackoffLinear, BackoffExponential)
	}
	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.Service == ServiceTransfer {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.LedgerURL == "" {
			return fmt.Errorf("LEDGER_URL must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// secondsOrDuration reads KEY_SECONDS as an integer, falling back to KEY as a
// Go duration string.
func secondsOrDuration(key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(key, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
