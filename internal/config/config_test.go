package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points ENV_FILE at a missing file and clears variables a developer
// machine might export.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{
		"APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "DATABASE_MAX_CONNS",
		"DATABASE_MAX_CONN_IDLE", "REDIS_URL", "LEDGER_BACKOFF_CURVE", "LEDGER_BACKOFF_MAX",
		"SHUTDOWN_TIMEOUT", "SHUTDOWN_TIMEOUT_SECONDS", "IDEMPOTENCY_TTL", "IDEMPOTENCY_TTL_SECONDS",
		"LEDGER_URL", "LEDGER_MAX_ATTEMPTS", "LEDGER_BACKOFF", "LEDGER_TIMEOUT", "AUDIT_TIMEOUT",
		"BREAKER_FAILURES", "BREAKER_OPEN_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(ServiceTransfer)
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, "walletmesh-transfer", cfg.AppName)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 3, cfg.LedgerMaxAttempts)
	assert.Equal(t, 150*time.Millisecond, cfg.LedgerBackoff)
	assert.Equal(t, BackoffLinear, cfg.LedgerBackoffCurve)
	assert.Equal(t, 2*time.Second, cfg.LedgerBackoffMax)
	assert.Zero(t, cfg.DatabaseMaxConnIdle)
	assert.Equal(t, 5*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 5*time.Second, cfg.AuditTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.EqualValues(t, 5, cfg.BreakerFailures)

	ledgerCfg, err := Load(ServiceLedger)
	require.NoError(t, err)
	assert.Equal(t, ":8081", ledgerCfg.Address())
}

func TestLoadOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", ":9000")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90m")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "5")
	t.Setenv("LEDGER_BACKOFF", "1s")
	t.Setenv("DATABASE_MAX_CONNS", "12")
	t.Setenv("DATABASE_MAX_CONN_IDLE", "90s")
	t.Setenv("LEDGER_BACKOFF_CURVE", "Exponential")
	t.Setenv("LEDGER_BACKOFF_MAX", "3s")

	cfg, err := Load(ServiceTransfer)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Address())
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 90*time.Minute, cfg.IdempotencyTTL)
	assert.Equal(t, 5, cfg.LedgerMaxAttempts)
	assert.Equal(t, time.Second, cfg.LedgerBackoff)
	assert.EqualValues(t, 12, cfg.DatabaseMaxConns)
	assert.Equal(t, 90*time.Second, cfg.DatabaseMaxConnIdle)
	assert.Equal(t, BackoffExponential, cfg.LedgerBackoffCurve)
	assert.Equal(t, 3*time.Second, cfg.LedgerBackoffMax)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for key, value := range map[string]string{
		"SHUTDOWN_TIMEOUT_SECONDS": "soon",
		"LEDGER_TIMEOUT":           "5",
		"LEDGER_MAX_ATTEMPTS":      "0",
		"BREAKER_FAILURES":         "many",
		"LEDGER_BACKOFF_CURVE":     "fibonacci",
		"LEDGER_BACKOFF_MAX":       "long",
		"DATABASE_MAX_CONN_IDLE":   "idle",
	} {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, value)
			_, err := Load(ServiceTransfer)
			require.ErrorContains(t, err, key)
		})
	}
}

func TestLoadProductionRequirements(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")

	_, err := Load(ServiceLedger)
	require.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	_, err = Load(ServiceLedger)
	require.NoError(t, err)

	_, err = Load(ServiceTransfer)
	require.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_, err = Load(ServiceTransfer)
	require.ErrorContains(t, err, "LEDGER_URL")
}

func TestLoadReadsEnvFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nLEDGER_URL=http://ledger:8081\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// godotenv does not override variables that are already present, so
	// clear the empty placeholders set by isolate.
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))
	require.NoError(t, os.Unsetenv("LEDGER_URL"))

	cfg, err := Load(ServiceTransfer)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://ledger:8081", cfg.LedgerURL)
}

func TestLoadUnknownService(t *testing.T) {
	isolate(t)
	_, err := Load("gateway")
	require.Error(t, err)
}
