package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Gateway.RequestTimeout)
	assert.Equal(t, 200, cfg.Gateway.CallerLimit)
	assert.Equal(t, time.Minute, cfg.Gateway.CallerWindow)
	assert.Equal(t, 1000, cfg.Gateway.ServiceLimit)
	assert.Equal(t, "round-robin", cfg.Gateway.SelectionPolicy)
	assert.Equal(t, "astra", cfg.EventLog.Namespace)
	assert.Equal(t, 8, cfg.EventLog.Partitions)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.OpenTimeout)
	assert.False(t, cfg.Gateway.BurstGuardEnabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("GATEWAY_CALLER_LIMIT", "42")
	t.Setenv("GATEWAY_REQUEST_TIMEOUT", "250ms")
	t.Setenv("EVENTLOG_NAMESPACE", "staging")
	t.Setenv("GATEWAY_BURST_GUARD", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 42, cfg.Gateway.CallerLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Gateway.RequestTimeout)
	assert.Equal(t, "staging", cfg.EventLog.Namespace)
	assert.True(t, cfg.Gateway.BurstGuardEnabled)
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_IgnoresUnparseableValues(t *testing.T) {
	t.Setenv("GATEWAY_CALLER_LIMIT", "not-a-number")
	t.Setenv("GATEWAY_CALLER_WINDOW", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Gateway.CallerLimit)
	assert.Equal(t, time.Minute, cfg.Gateway.CallerWindow)
}

func TestLoadServicesConfigFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	content := `
services:
  trading-service:
    domain: trading
    fallback_url: http://localhost:9101
    result_event: tradeexecuted
    partition_key_path: trade.id
    breaker:
      failure_threshold: 3
      open_timeout: 15s
  social-service:
    domain: social
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadServicesConfigFromPath(path)
	require.NoError(t, err)

	name, settings, ok := cfg.ByDomain("trading")
	require.True(t, ok)
	assert.Equal(t, "trading-service", name)
	assert.Equal(t, "http://localhost:9101", settings.FallbackURL)
	assert.Equal(t, "trade.id", settings.PartitionKeyPath)
	require.NotNil(t, settings.Breaker)
	assert.Equal(t, 3, settings.Breaker.FailureThreshold)
	assert.Equal(t, 15*time.Second, settings.Breaker.OpenTimeout)

	// Missing result_event falls back to the generic completion event.
	_, social, ok := cfg.ByDomain("social")
	require.True(t, ok)
	assert.Equal(t, "requestcompleted", social.ResultEvent)
}

func TestLoadServicesConfigFromPath_RequiresDomain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services:\n  broken-service:\n    fallback_url: http://x\n"), 0o644))

	_, err := LoadServicesConfigFromPath(path)
	assert.Error(t, err)
}

func TestLoadServicesConfigOrDefault_MissingFile(t *testing.T) {
	// Running from a directory without config/services.yaml falls back to
	// the built-in directory.
	cfg := LoadServicesConfigOrDefault()
	_, _, ok := cfg.ByDomain("trading")
	assert.True(t, ok)
}

func TestByDomain_Unknown(t *testing.T) {
	cfg := DefaultServicesConfig()
	_, _, ok := cfg.ByDomain("unknown")
	assert.False(t, ok)
}
