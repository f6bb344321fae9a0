// Package config loads the publisher configuration from an optional YAML
// file and environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/top10-publisher/internal/history"
	"github.com/withObsrvr/top10-publisher/internal/logging"
	"github.com/withObsrvr/top10-publisher/internal/metrics"
	"github.com/withObsrvr/top10-publisher/internal/pipeline"
	"github.com/withObsrvr/top10-publisher/internal/publish"
	"github.com/withObsrvr/top10-publisher/internal/storage"
)

type Config struct {
	Logging   logging.Config  `yaml:"logging"`
	Extract   ExtractConfig   `yaml:"extract"`
	Publish   publish.Config  `yaml:"publish"`
	Generator GeneratorConfig `yaml:"generator"`
	Archive   storage.Config  `yaml:"archive"`
	History   history.Config  `yaml:"history"`
	Metrics   metrics.Config  `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
}

type ExtractConfig struct {
	ScratchDir  string `yaml:"scratch_dir"`
	Cleanup     string `yaml:"cleanup"`     // keep-always | keep-on-success | keep-on-failure | always-delete
	Compression string `yaml:"compression"` // snappy | zstd | gzip | none
}

type GeneratorConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
	FixturesDir string        `yaml:"fixtures_dir"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file or environment
// value overrides it.
func Default() Config {
	return Config{
		Logging: logging.Config{Format: "text", Level: "info"},
		Extract: ExtractConfig{
			ScratchDir:  "data/temp",
			Cleanup:     string(pipeline.DefaultCleanup),
			Compression: "snappy",
		},
		Publish:   publish.Config{Dataset: "Top10Rankings", Action: string(publish.ActionInsert)}.WithDefaults(),
		Generator: GeneratorConfig{Timeout: 5 * time.Minute},
		Metrics:   metrics.Config{Namespace: "top10_publisher"},
		Server:    ServerConfig{Address: ":8000"},
	}
}

// Load reads path (skipped when empty) over the defaults and then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		slog.Debug("config file loaded", "path", path)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.Extract.Cleanup = strings.ToLower(strings.TrimSpace(cfg.Extract.Cleanup))
	cfg.Extract.Compression = strings.ToLower(strings.TrimSpace(cfg.Extract.Compression))
	cfg.Publish = cfg.Publish.WithDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs *multierror.Error

	c.Logging.Level = getenvDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getenvDefault("LOG_FORMAT", c.Logging.Format)

	c.Extract.ScratchDir = getenvDefault("EXTRACT_SCRATCH_DIR", c.Extract.ScratchDir)
	c.Extract.Cleanup = getenvDefault("EXTRACT_CLEANUP", c.Extract.Cleanup)
	c.Extract.Compression = getenvDefault("EXTRACT_COMPRESSION", c.Extract.Compression)

	p := &c.Publish
	p.ServerURL = getenvDefault("ANALYTICS_SERVER_URL", p.ServerURL)
	p.APIVersion = getenvDefault("ANALYTICS_API_VERSION", p.APIVersion)
	p.Site = getenvDefault("ANALYTICS_SITE", p.Site)
	p.TokenName = getenvDefault("ANALYTICS_TOKEN_NAME", p.TokenName)
	p.TokenValue = getenvDefault("ANALYTICS_TOKEN_VALUE", p.TokenValue)
	p.Dataset = getenvDefault("ANALYTICS_DATASET", p.Dataset)
	p.Action = getenvDefault("ANALYTICS_ACTION", p.Action)
	errs = multierror.Append(errs,
		envInt("UPLOAD_CHUNK_SIZE", &p.ChunkSize),
		envDuration("JOB_POLL_INTERVAL", &p.PollInterval),
		envDuration("JOB_WAIT_TIMEOUT", &p.WaitTimeout),
		envDuration("ANALYTICS_HTTP_TIMEOUT", &p.HTTPTimeout),
	)

	c.Generator.Endpoint = getenvDefault("GENERATOR_ENDPOINT", c.Generator.Endpoint)
	c.Generator.FixturesDir = getenvDefault("GENERATOR_FIXTURES_DIR", c.Generator.FixturesDir)
	errs = multierror.Append(errs, envDuration("GENERATOR_TIMEOUT", &c.Generator.Timeout))

	c.Archive.Backend = getenvDefault("ARCHIVE_BACKEND", c.Archive.Backend)
	c.Archive.Bucket = getenvDefault("ARCHIVE_BUCKET", c.Archive.Bucket)
	c.Archive.Prefix = getenvDefault("ARCHIVE_PREFIX", c.Archive.Prefix)
	c.Archive.LocalDir = getenvDefault("ARCHIVE_LOCAL_DIR", c.Archive.LocalDir)
	c.Archive.Endpoint = getenvDefault("ARCHIVE_ENDPOINT", c.Archive.Endpoint)
	c.Archive.Region = getenvDefault("ARCHIVE_REGION", c.Archive.Region)

	c.History.PostgresDSN = getenvDefault("HISTORY_DSN", c.History.PostgresDSN)
	c.History.Dir = getenvDefault("HISTORY_DIR", c.History.Dir)

	c.Metrics.Address = getenvDefault("METRICS_ADDRESS", c.Metrics.Address)
	c.Metrics.Namespace = getenvDefault("METRICS_NAMESPACE", c.Metrics.Namespace)
	errs = multierror.Append(errs, envBool("METRICS_ENABLED", &c.Metrics.Enabled))

	c.Server.Address = getenvDefault("SERVER_ADDRESS", c.Server.Address)

	return errs.ErrorOrNil()
}

// Validate checks the settings every command needs. Remote publish
// settings are checked separately by ValidatePublish.
func (c Config) Validate() error {
	var errs *multierror.Error

	if c.Extract.ScratchDir == "" {
		errs = multierror.Append(errs, fmt.Errorf("extract.scratch_dir is required"))
	}
	if _, err := pipeline.ParseCleanupPolicy(c.Extract.Cleanup); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("extract.cleanup: %w", err))
	}
	switch strings.ToLower(c.Extract.Compression) {
	case "", "snappy", "zstd", "gzip", "none":
	default:
		errs = multierror.Append(errs, fmt.Errorf("extract.compression: unknown codec %q", c.Extract.Compression))
	}
	switch c.Archive.Backend {
	case "", "none", "local", "gcs", "s3", "mem":
	default:
		errs = multierror.Append(errs, fmt.Errorf("archive.backend: unknown backend %q", c.Archive.Backend))
	}
	if (c.Archive.Backend == "gcs" || c.Archive.Backend == "s3") && c.Archive.Bucket == "" {
		errs = multierror.Append(errs, fmt.Errorf("archive.bucket is required for backend %s", c.Archive.Backend))
	}

	return errs.ErrorOrNil()
}

// ValidatePublish checks the remote publish settings.
func (c Config) ValidatePublish() error {
	if err := c.Publish.Validate(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}
