package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/ratchet/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"RATCHET_ADDR", "RATCHET_ENV", "RATCHET_LOG_LEVEL",
		"RATCHET_LEDGER_BACKEND", "RATCHET_REDIS_URL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "memory", cfg.LedgerBackend)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, 50, cfg.RateLimitRPS)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATCHET_ADDR", ":9090")
	t.Setenv("RATCHET_ENV", "production")
	t.Setenv("RATCHET_LEDGER_BACKEND", "postgres")
	t.Setenv("RATCHET_TELEMETRY_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "postgres", cfg.LedgerBackend)
	assert.True(t, cfg.TelemetryEnabled)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("RATCHET_LEDGER_BACKEND", "cassandra")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: staging
guards:
  confidence_floor: 'confidence >= 0.8'
defaults:
  min_confidence: 0.6
  max_staleness_minutes: 30
  min_lineage_count: 1
`), 0o600))

	p, err := config.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", p.Name)
	assert.Equal(t, "confidence >= 0.8", p.Guards["confidence_floor"])
	assert.Equal(t, 0.6, p.Defaults.MinConfidence)
	assert.Equal(t, 30, p.Defaults.MaxStalenessMinutes)
}

func TestLoadProfileRejectsBadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: broken
defaults:
  min_confidence: 1.5
`), 0o600))

	_, err := config.LoadProfile(path)
	require.Error(t, err)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := config.LoadProfile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
