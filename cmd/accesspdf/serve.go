package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/hazyhaar/accesspdf/config"
	"github.com/hazyhaar/accesspdf/observability"
	"github.com/hazyhaar/accesspdf/web"
)

const shutdownTimeout = 10 * time.Second

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload form and the check API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, cmd, os.Stdout, func(c *config.Config) {
		if flagListen != "" {
			c.Listen = flagListen
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := newServer(ctx, a)
	if err != nil {
		return err
	}
	return s.run(ctx)
}

// server is the HTTP surface bound to its listener, with the heartbeat
// that feeds /healthz.
type server struct {
	http   *http.Server
	ln     net.Listener
	logger *slog.Logger
	stop   func()
}

// newServer applies metrics retention, starts the heartbeat and binds the
// listener, capped at max_connections when set.
func newServer(ctx context.Context, a *app) (*server, error) {
	cfg, logger := a.cfg, a.logger
	s := &server{logger: logger, stop: func() {}}

	var health func(context.Context) (*observability.HeartbeatStatus, error)
	if a.metricsDB != nil {
		name := cfg.Observability.ServiceName
		if days := cfg.Observability.RetentionDays; days > 0 {
			if n, err := a.metrics.Cleanup(ctx, days); err != nil {
				logger.Warn("metrics retention", "error", err)
			} else if n > 0 {
				logger.Info("old metrics removed", "count", n)
			}
			if _, err := observability.CleanupHeartbeats(ctx, a.metricsDB, days); err != nil {
				logger.Warn("heartbeat retention", "error", err)
			}
		}
		hb := observability.NewHeartbeatWriter(a.metricsDB, logger, name, cfg.Observability.HeartbeatInterval)
		hb.Start(ctx)
		s.stop = hb.Stop
		health = func(ctx context.Context) (*observability.HeartbeatStatus, error) {
			return observability.LatestHeartbeat(ctx, a.metricsDB, name, 3*hb.Interval())
		}
	}

	handler, err := web.New(web.Config{
		Store:             a.store,
		Checker:           a.runner,
		MaxConcurrentRuns: int64(cfg.MaxConcurrentRuns),
		Health:            health,
		Logger:            logger.With("component", "web"),
	})
	if err != nil {
		s.stop()
		return nil, err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		s.stop()
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}
	s.ln = ln
	s.http = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RunTimeout + time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	logger.Info("server starting",
		"addr", ln.Addr().String(),
		"work_dir", a.store.Dir(),
		"ocr_engine", a.runner.OCREngine,
		"version", Version,
	)
	return s, nil
}

// run serves until ctx is done or the listener fails, then shuts down
// gracefully and stops the heartbeat.
func (s *server) run(ctx context.Context) error {
	defer s.stop()

	errc := make(chan error, 1)
	go func() {
		if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}
