package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Empty(t, cfg.ServiceURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 50, cfg.HistoryDepth)
	assert.Equal(t, 500*time.Millisecond, cfg.CoalesceWindow)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "reports", cfg.ReportDir)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"service_url: http://calc.example.com\npoll_interval: 5s\nhistory_depth: 10\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://calc.example.com", cfg.ServiceURL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.HistoryDepth)
	// Untouched keys keep their defaults.
	assert.Equal(t, 500*time.Millisecond, cfg.CoalesceWindow)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CARBO_SERVICE_URL", "http://env.example.com")
	t.Setenv("CARBO_HISTORY_DEPTH", "7")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.com", cfg.ServiceURL)
	assert.Equal(t, 7, cfg.HistoryDepth)
}

func TestMissingExplicitFileIsAnError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
