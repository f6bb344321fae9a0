package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/top10-publisher/internal/config"
	"github.com/withObsrvr/top10-publisher/internal/extract"
	"github.com/withObsrvr/top10-publisher/internal/logging"
	"github.com/withObsrvr/top10-publisher/internal/metrics"
	"github.com/withObsrvr/top10-publisher/internal/pipeline"
	"github.com/withObsrvr/top10-publisher/internal/ranking"
	"github.com/withObsrvr/top10-publisher/internal/server"
	"github.com/withObsrvr/top10-publisher/internal/storage"
)

var (
	configPath string
	envFile    string
	cfg        config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "top10-publisher",
	Short:        "Generate top-10 rankings and publish them as analytics extracts",
	Version:      fmt.Sprintf("%s (%s)", pipeline.Version, pipeline.GitSHA),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Overload(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logging.Setup(cfg.Logging)
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the config")

	publishCmd.Flags().String("ranking", "", "Ranking JSON file")
	publishCmd.Flags().Bool("force", false, "Publish even if the batch was already published")
	publishCmd.MarkFlagRequired("ranking")

	generateCmd.Flags().String("topic", "", "Ranking topic")
	generateCmd.Flags().Bool("force", false, "Publish even if the batch was already published")
	generateCmd.MarkFlagRequired("topic")

	buildCmd.Flags().String("ranking", "", "Ranking JSON file")
	buildCmd.Flags().String("out", ".", "Existing output directory")
	buildCmd.MarkFlagRequired("ranking")

	jobStatusCmd.Flags().String("job", "", "Job id")
	jobStatusCmd.Flags().Bool("wait", false, "Poll until the job finishes or the wait timeout elapses")
	jobStatusCmd.MarkFlagRequired("job")

	inspectCmd.Flags().String("file", "", "Extract file")
	inspectCmd.Flags().Bool("rows", false, "Print rows")
	inspectCmd.MarkFlagRequired("file")

	historyCmd.Flags().Int("limit", 20, "Number of attempts to show")

	rootCmd.AddCommand(serveCmd, publishCmd, generateCmd, buildCmd, jobStatusCmd, inspectCmd, historyCmd, archivedCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "top10-publisher %s (%s)\n", pipeline.Version, pipeline.GitSHA)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /analyze",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := []server.Option{server.WithHistory(a.history)}
		if cfg.Metrics.Enabled {
			if cfg.Metrics.Address == "" {
				opts = append(opts, server.WithMetrics())
			} else {
				go func() {
					if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
						slog.Error("metrics server stopped", "error", err)
					}
				}()
			}
		}
		srv := server.New(a.pipeline, opts...)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(cfg.Server.Address) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			slog.Info("shutting down", "reason", ctx.Err())
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a ranking from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("ranking")
		force, _ := cmd.Flags().GetBool("force")

		r, err := ranking.LoadFile(path)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, force)
		if err != nil {
			return err
		}
		defer a.Close()

		return printReport(cmd.OutOrStdout(), a.pipeline.PublishRanking(cmd.Context(), r))
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a ranking for a topic and publish it",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		force, _ := cmd.Flags().GetBool("force")

		a, err := newApp(cmd.Context(), cfg, force)
		if err != nil {
			return err
		}
		defer a.Close()

		return printReport(cmd.OutOrStdout(), a.pipeline.Run(cmd.Context(), topic))
	},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an extract locally without publishing",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("ranking")
		out, _ := cmd.Flags().GetString("out")

		r, err := ranking.LoadFile(path)
		if err != nil {
			return err
		}
		if err := r.Validate(); err != nil {
			return err
		}

		rows, err := extract.Convert(r)
		if err != nil {
			return err
		}
		dest := filepath.Join(out, extract.FileName(extract.BatchID(r.Topic, r.GeneratedAt)))
		builder := extract.NewBuilder(extract.NewParquetStore(parquetConfig(cfg)))
		if _, err := builder.Build(dest, extract.RankingsDefinition(), rows); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), dest)
		return nil
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "job-status",
	Short: "Show the state of a publish job",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, _ := cmd.Flags().GetString("job")
		wait, _ := cmd.Flags().GetBool("wait")

		a, err := newApp(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.pipeline.CheckJob(cmd.Context(), jobID, wait)
		if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
			return perr
		}
		return err
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Describe an extract file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		withRows, _ := cmd.Flags().GetBool("rows")

		if !withRows {
			info, err := extract.Inspect(path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		}

		info, rows, err := extract.ReadFile(path)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), struct {
			*extract.Info
			Rows []extract.Row `json:"rows"`
		}{info, rows})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent publish attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newHistoryOnly(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

var archivedCmd = &cobra.Command{
	Use:   "archived",
	Short: "List archived extracts of the configured dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Archive.Enabled() {
			return errors.New("no archive backend configured (set archive.backend)")
		}
		store, err := storage.New(cmd.Context(), cfg.Archive)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer store.Close()

		keys, err := store.List(cmd.Context(), store.Prefix()+cfg.Publish.Dataset+"/")
		if err != nil {
			return err
		}
		uris := make([]string, 0, len(keys))
		for _, k := range keys {
			uris = append(uris, store.URI(k))
		}
		return printJSON(cmd.OutOrStdout(), uris)
	},
}

func printReport(w io.Writer, rep *pipeline.Report) error {
	if err := printJSON(w, rep); err != nil {
		return err
	}
	if !rep.Succeeded() {
		return fmt.Errorf("%s stage failed: %w", rep.Stage, rep.Err())
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
