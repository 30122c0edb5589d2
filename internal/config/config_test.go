package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnvOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/outreach?sslmode=disable")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("POLL_INTERVAL_SECONDS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval())
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.LeaseTimeout())
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
database:
  url: postgres://file:file@db:5432/outreach
scheduler:
  batch_size: 25
  lease_timeout_minutes: 10
tracking:
  base_url: https://track.example.com
  signing_key: test-key
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file:file@db:5432/outreach", cfg.Database.URL)
	assert.Equal(t, 25, cfg.Scheduler.BatchSize)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.LeaseTimeout())
	assert.Equal(t, "https://track.example.com", cfg.Tracking.BaseURL)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load("")
	assert.Error(t, err)
}
