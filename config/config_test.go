package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "PRESENCE_STORE",
		"AWAY_THRESHOLD_SECONDS", "STALE_THRESHOLD_SECONDS", "SWEEP_INTERVAL_SECONDS",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	assert.Equal(t, "8082", cfg.Port)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "postgres", cfg.PresenceStore)
	assert.Equal(t, 60*time.Second, cfg.AwayThreshold)
	assert.Equal(t, 120*time.Second, cfg.StaleThreshold)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("PRESENCE_STORE", "redis")
	t.Setenv("AWAY_THRESHOLD_SECONDS", "30")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "10")

	cfg := LoadConfig()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "redis", cfg.PresenceStore)
	assert.Equal(t, 30*time.Second, cfg.AwayThreshold)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
}

func TestLoadConfigIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("AWAY_THRESHOLD_SECONDS", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 60*time.Second, cfg.AwayThreshold)
}
