package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/top10-publisher/internal/publish"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data/temp", cfg.Extract.ScratchDir)
	assert.Equal(t, "keep-on-failure", cfg.Extract.Cleanup)
	assert.Equal(t, "Top10Rankings", cfg.Publish.Dataset)
	assert.Equal(t, publish.DefaultChunkSize, cfg.Publish.ChunkSize)
	assert.Equal(t, publish.DefaultWaitTimeout, cfg.Publish.WaitTimeout)
	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.False(t, cfg.Archive.Enabled())
	assert.NoError(t, cfg.Validate())
	assert.Error(t, cfg.ValidatePublish(), "credentials are not defaulted")
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
logging:
  format: json
extract:
  scratch_dir: /var/tmp/extracts
  cleanup: always-delete
publish:
  server_url: https://analytics.example.com
  site: marketing
  token_name: publisher
  token_value: from-file
  dataset: Rankings
  poll_interval: 2s
archive:
  backend: s3
  bucket: extracts
`)
	t.Setenv("ANALYTICS_TOKEN_VALUE", "from-env")
	t.Setenv("JOB_WAIT_TIMEOUT", "90s")
	t.Setenv("METRICS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level, "defaults survive a partial file")
	assert.Equal(t, "/var/tmp/extracts", cfg.Extract.ScratchDir)
	assert.Equal(t, "always-delete", cfg.Extract.Cleanup)
	assert.Equal(t, "from-env", cfg.Publish.TokenValue)
	assert.Equal(t, 2*time.Second, cfg.Publish.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Publish.WaitTimeout)
	assert.Equal(t, "3.19", cfg.Publish.APIVersion)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "s3", cfg.Archive.Backend)

	assert.NoError(t, cfg.Validate())
	assert.NoError(t, cfg.ValidatePublish())
}

func TestLoadNormalizesEnumCase(t *testing.T) {
	t.Setenv("EXTRACT_COMPRESSION", " ZSTD ")
	t.Setenv("EXTRACT_CLEANUP", "Always-Delete")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "zstd", cfg.Extract.Compression)
	assert.Equal(t, "always-delete", cfg.Extract.Cleanup)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("UPLOAD_CHUNK_SIZE", "lots")
	t.Setenv("JOB_POLL_INTERVAL", "often")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UPLOAD_CHUNK_SIZE")
	assert.Contains(t, err.Error(), "JOB_POLL_INTERVAL")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty scratch dir", func(c *Config) { c.Extract.ScratchDir = "" }},
		{"unknown cleanup", func(c *Config) { c.Extract.Cleanup = "sometimes" }},
		{"unknown compression", func(c *Config) { c.Extract.Compression = "lz4" }},
		{"unknown archive backend", func(c *Config) { c.Archive.Backend = "ftp" }},
		{"bucket required", func(c *Config) { c.Archive.Backend = "gcs" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
