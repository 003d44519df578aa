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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.BindAddress)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.ListenAddr())
	assert.NotEmpty(t, cfg.Storage.DataDir)
	assert.Equal(t, time.Second, cfg.Tracking.SampleInterval)
	assert.Equal(t, 30*time.Second, cfg.Tracking.RefreshInterval)
	assert.Equal(t, time.Second, cfg.Enforcement.SweepInterval)
	assert.Equal(t, time.Minute, cfg.Scheduler.CheckInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forged.yaml")
	content := `
server:
  port: 9000
tracking:
  sample_interval: 2s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Tracking.SampleInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset keys keep defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.BindAddress)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/forged.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := valid()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Storage.DataDir = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Tracking.SampleInterval = 10 * time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Enforcement.SweepInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Scheduler.CheckInterval = 500 * time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, valid().Validate())
}
