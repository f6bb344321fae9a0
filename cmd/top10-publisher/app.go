package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/withObsrvr/top10-publisher/internal/config"
	"github.com/withObsrvr/top10-publisher/internal/extract"
	"github.com/withObsrvr/top10-publisher/internal/history"
	"github.com/withObsrvr/top10-publisher/internal/metrics"
	"github.com/withObsrvr/top10-publisher/internal/pipeline"
	"github.com/withObsrvr/top10-publisher/internal/publish"
	"github.com/withObsrvr/top10-publisher/internal/publish/rest"
	"github.com/withObsrvr/top10-publisher/internal/ranking"
	"github.com/withObsrvr/top10-publisher/internal/storage"
)

// app owns the long-lived dependencies of a command.
type app struct {
	pipeline *pipeline.Pipeline
	history  history.Recorder
	archive  storage.Store
}

func newApp(ctx context.Context, cfg config.Config, force bool) (*app, error) {
	if err := cfg.ValidatePublish(); err != nil {
		return nil, err
	}
	cleanup, err := pipeline.ParseCleanupPolicy(cfg.Extract.Cleanup)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Extract.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	client, err := rest.NewClient(cfg.Publish)
	if err != nil {
		return nil, err
	}

	a := &app{}
	a.history, err = newHistoryOnly(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithHistory(a.history)}
	if cfg.Archive.Enabled() {
		a.archive, err = storage.New(ctx, cfg.Archive)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create archive: %w", err)
		}
		opts = append(opts, pipeline.WithArchive(a.archive, cfg.Archive.Backend))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pipeline.WithMetrics(metrics.New(cfg.Metrics.Namespace, nil)))
	}

	a.pipeline = pipeline.New(pipeline.Options{
		ScratchDir:   cfg.Extract.ScratchDir,
		Cleanup:      cleanup,
		Dataset:      cfg.Publish.Dataset,
		Actions:      publish.DefaultActions(publish.ActionKind(cfg.Publish.Action), extract.DefaultNamespace, extract.RankingsTable),
		ChunkSize:    cfg.Publish.ChunkSize,
		PollInterval: cfg.Publish.PollInterval,
		WaitTimeout:  cfg.Publish.WaitTimeout,
		Force:        force,
	}, newGenerator(cfg), extract.NewParquetStore(parquetConfig(cfg)), client, opts...)

	slog.Info("publisher ready",
		"server_url", cfg.Publish.ServerURL,
		"site", cfg.Publish.Site,
		"dataset", cfg.Publish.Dataset,
		"action", cfg.Publish.Action,
		"archive", cfg.Archive.Backend,
		"scratch_dir", cfg.Extract.ScratchDir,
		"cleanup", cleanup,
	)
	return a, nil
}

func newHistoryOnly(ctx context.Context, cfg config.Config) (history.Recorder, error) {
	rec, err := history.New(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return rec, nil
}

func (a *app) Close() error {
	var errs *multierror.Error
	if a.history != nil {
		errs = multierror.Append(errs, a.history.Close())
	}
	if a.archive != nil {
		errs = multierror.Append(errs, a.archive.Close())
	}
	return errs.ErrorOrNil()
}

func parquetConfig(cfg config.Config) extract.ParquetConfig {
	pc := extract.DefaultParquetConfig()
	if cfg.Extract.Compression != "" {
		pc.Compression = cfg.Extract.Compression
	}
	pc.Producer = "top10-publisher " + pipeline.Version
	return pc
}

func newGenerator(cfg config.Config) ranking.Generator {
	switch {
	case cfg.Generator.FixturesDir != "":
		return ranking.NewFixtureGenerator(cfg.Generator.FixturesDir)
	case cfg.Generator.Endpoint != "":
		return ranking.NewHTTPGenerator(cfg.Generator.Endpoint, cfg.Generator.Timeout)
	default:
		return unconfiguredGenerator{}
	}
}

// unconfiguredGenerator fails every generation; publishing from files
// still works without a generator.
type unconfiguredGenerator struct{}

func (unconfiguredGenerator) Generate(ctx context.Context, topic string) (*ranking.Result, error) {
	return nil, &ranking.GenerationError{
		Topic: topic,
		Err:   errors.New("no generator configured (set generator.endpoint or generator.fixtures_dir)"),
	}
}
