package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tapewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
feed:
  url: wss://feed.example.com/v1
pipeline:
  symbols: [BTC-USD, ETH-USD]
validator:
  max_spoof_score: 0.5
scarcity:
  symbol_cooldown_minutes: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, cfg.Pipeline.Symbols)
	assert.Equal(t, 0.5, cfg.Validator.MaxSpoofScore)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10, cfg.Book.MaxDepth)
	assert.Equal(t, 2.5, cfg.Monitor.SpreadBlowoutMult)
}

func TestCooldownWindowsStayCoherent(t *testing.T) {
	path := writeConfig(t, `
feed:
  url: wss://feed.example.com/v1
pipeline:
  symbols: [BTC-USD]
scarcity:
  symbol_cooldown_minutes: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(30*60_000), cfg.Validator.SymbolCooldownMs)
}

func TestValidateRejectsMissingSymbols(t *testing.T) {
	path := writeConfig(t, `
feed:
  url: wss://feed.example.com/v1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbols")
}

func TestValidateRejectsMissingFeedURL(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  symbols: [BTC-USD]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed.url")
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 0.65, cfg.Validator.MaxSpoofScore)
}
