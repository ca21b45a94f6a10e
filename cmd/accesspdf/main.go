// Command accesspdf checks PDFs for accessibility issues. It serves the
// upload UI (serve), checks a local file (check) or exposes the check as an
// MCP tool over stdio (mcp).
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hazyhaar/accesspdf/config"
	"github.com/hazyhaar/accesspdf/dbopen"
	"github.com/hazyhaar/accesspdf/ingest"
	"github.com/hazyhaar/accesspdf/observability"
	"github.com/hazyhaar/accesspdf/pipeline"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "accesspdf",
	Short:         "Check and correct PDF accessibility issues",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "accesspdf %s\n", Version)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the check and extract tools over MCP stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", env("ACCESSPDF_CONFIG", "accesspdf.yaml"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.AddCommand(versionCmd, serveCmd, checkCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "accesspdf:", err)
		os.Exit(1)
	}
}

// app holds what every command opens: configuration, logger, store, optional
// metrics database and tracer, and the check runner.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *ingest.Store
	metricsDB *sql.DB
	metrics   *observability.MetricsManager
	tracer    *sdktrace.TracerProvider
	runner    *pipeline.Built
}

// setup loads the configuration and opens the shared resources. Logs go to
// logOut. The caller must Close the app.
func setup(ctx context.Context, cmd *cobra.Command, logOut io.Writer, override func(*config.Config)) (*app, error) {
	cfg, err := config.Load(flagConfig, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	a := &app{cfg: cfg}
	a.logger = observability.NewLogger(logOut, cfg.LogLevel)
	slog.SetDefault(a.logger)

	if observability.TracingEnabled() {
		tp, err := observability.InitTracer(ctx, cfg.Observability.ServiceName, Version)
		if err != nil {
			a.logger.Warn("tracer init failed, continuing without tracing", "error", err)
		} else {
			a.tracer = tp
		}
	}

	var metrics pipeline.Metrics
	if path := cfg.Observability.MetricsDB; path != "" {
		db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("metrics db: %w", err)
		}
		a.metricsDB = db
		a.metrics = observability.NewMetricsManager(db, a.logger, 100, 0)
		metrics = a.metrics
	}

	a.store, err = ingest.Open(ingest.Config{
		WorkDir:      cfg.WorkDir,
		MaxFileBytes: cfg.MaxUploadBytes(),
		Logger:       a.logger.With("component", "ingest"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.runner, err = pipeline.Build(ctx, cfg, a.store, metrics, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of setup. The work dir is
// removed when the store created it.
func (a *app) Close() {
	if a.runner != nil {
		if err := a.runner.Close(); err != nil {
			a.logger.Warn("close ocr engine", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("remove work dir", "error", err)
		}
	}
	if a.metrics != nil {
		a.metrics.Close()
	}
	if a.metricsDB != nil {
		a.metricsDB.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown", "error", err)
		}
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout carries the protocol.
	a, err := setup(ctx, cmd, os.Stderr, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcp.NewServer(&mcp.Implementation{Name: "accesspdf", Version: Version}, nil)
	a.runner.RegisterMCP(srv)
	a.runner.Extractor.RegisterMCP(srv)

	a.logger.Info("mcp server starting", "transport", "stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
