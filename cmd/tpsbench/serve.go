package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gateway-fm/tpsbench/internal/metrics"
	"github.com/gateway-fm/tpsbench/internal/runner"
	"github.com/gateway-fm/tpsbench/internal/storage"
	"github.com/gateway-fm/tpsbench/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		local, testnet bool
		listen         string
		database       string
		rpcURL         string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, live status stream and Prometheus metrics",
		Long: `serve starts runs on request (POST /v1/runs) using the configured network
and defaults, streams their progress over /v1/ws and keeps their reports in
the history database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return describe(err)
			}
			if err := cfg.SelectNetwork(local, testnet); err != nil {
				return describe(err)
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("database") {
				cfg.DatabasePath = database
			}
			if cmd.Flags().Changed("rpc-url") {
				cfg.RPCURL = rpcURL
			}
			if err := cfg.Validate(); err != nil {
				return describe(err)
			}

			logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

			store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()
			logger.Info("initialized storage", slog.String("path", cfg.DatabasePath))

			r := runner.New(runner.Config{
				Base:    cfg,
				Storage: store,
				Metrics: metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer),
				Logger:  logger,
			})
			return serve(cmd.Context(), r, cfg.ListenAddr, cfg.CORSAllowedOrigins, logger)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&local, "local", false, "Target the local development node (default)")
	flags.BoolVar(&testnet, "testnet", false, "Target the test network")
	flags.StringVar(&listen, "listen", "", "HTTP listen address (default :3001)")
	flags.StringVar(&database, "database", "", "SQLite database path")
	flags.StringVar(&rpcURL, "rpc-url", "", "JSON-RPC endpoint (overrides the network preset)")

	return cmd
}

func serve(ctx context.Context, r *runner.Runner, addr, cors string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := transport.NewServer(r, r, logger, cors)
	defer api.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	r.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
