package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gateway-fm/tpsbench/internal/config"
	"github.com/gateway-fm/tpsbench/internal/metrics"
	"github.com/gateway-fm/tpsbench/internal/runner"
	"github.com/gateway-fm/tpsbench/internal/storage"
	"github.com/gateway-fm/tpsbench/internal/transport"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// runFlags hold the values of the run command's flags. Only flags the user
// set override the environment.
type runFlags struct {
	local, testnet bool
	transactions   int
	tps            int
	lanes          int
	kind           string
	batch          bool
	endow          bool
	interval       time.Duration
	concurrency    int
	rpcURL         string
	wsURL          string
	funder         string
	proxy          string
	token          string
	legacy         bool
	depth          int
	database       string
	noStore        bool
	listen         string
	jsonOut        bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one benchmark and print its report",
		Example: `  tpsbench run --local -n 30000 --tps 1500
  tpsbench run --testnet --rpc-url https://rpc.example --tx proxied --proxy 0x... --batch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return describe(err)
			}
			if err := f.apply(cmd.Flags(), cfg); err != nil {
				return describe(err)
			}
			return runBenchmark(cmd.Context(), cfg, &f, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&f.local, "local", false, "Target the local development node (default)")
	flags.BoolVar(&f.testnet, "testnet", false, "Target the test network")
	flags.IntVarP(&f.transactions, "transactions", "n", config.DefaultTotalTransactions, "Total number of transactions")
	flags.IntVar(&f.tps, "tps", config.DefaultTargetTPS, "Target transactions per second")
	flags.IntVar(&f.lanes, "lanes", config.DefaultLanes, "Number of parallel lanes")
	flags.StringVar(&f.kind, "tx", string(config.DefaultKind), "Transaction kind (transfer, proxied)")
	flags.BoolVar(&f.batch, "batch", false, "Submit each lane's batch as one JSON-RPC batch (proxied only)")
	flags.BoolVar(&f.endow, "endow", false, "Fund every benchmark account from the funder first")
	flags.DurationVar(&f.interval, "interval", config.DefaultInterval, "Batch interval")
	flags.IntVar(&f.concurrency, "concurrency", config.DefaultConcurrency, "Maximum in-flight submissions")
	flags.StringVar(&f.rpcURL, "rpc-url", "", "JSON-RPC endpoint (overrides the network preset)")
	flags.StringVar(&f.wsURL, "ws-url", "", "WebSocket endpoint for new heads (default: derived from --rpc-url)")
	flags.StringVar(&f.funder, "funder", "", "Funder account name (//Alice) or hex private key")
	flags.StringVar(&f.proxy, "proxy", "", "Proxy contract address for proxied transfers")
	flags.StringVar(&f.token, "token", "", "Token address for proxied transfers")
	flags.BoolVar(&f.legacy, "legacy", false, "Sign legacy transactions instead of EIP-1559")
	flags.IntVar(&f.depth, "confirmation-depth", -1, "Blocks on top before a transaction counts as final (-1: network preset)")
	flags.StringVar(&f.database, "database", config.DefaultDatabasePath, "SQLite database path for run history")
	flags.BoolVar(&f.noStore, "no-store", false, "Do not persist the run")
	flags.StringVar(&f.listen, "listen", "", "Serve the HTTP API and metrics on this address while running")
	flags.BoolVar(&f.jsonOut, "json", false, "Print the report as JSON")

	return cmd
}

// apply overlays the flags the user set on cfg.
func (f *runFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if err := cfg.SelectNetwork(f.local, f.testnet); err != nil {
		return err
	}
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("transactions", func() { cfg.TotalTransactions = f.transactions })
	set("tps", func() { cfg.TargetTPS = f.tps })
	set("lanes", func() { cfg.Lanes = f.lanes })
	set("tx", func() { cfg.Kind = types.TxKind(f.kind) })
	set("batch", func() { cfg.Batched = f.batch })
	set("endow", func() { cfg.Endow = f.endow })
	set("interval", func() { cfg.Interval = f.interval })
	set("concurrency", func() { cfg.Concurrency = f.concurrency })
	set("rpc-url", func() { cfg.RPCURL = f.rpcURL })
	set("ws-url", func() { cfg.WSURL = f.wsURL })
	set("funder", func() { cfg.Funder = f.funder })
	set("proxy", func() { cfg.Proxy = f.proxy })
	set("token", func() { cfg.Token = f.token })
	set("legacy", func() { cfg.UseLegacy = f.legacy })
	set("confirmation-depth", func() { cfg.ConfirmationDepth = f.depth })
	set("database", func() { cfg.DatabasePath = f.database })
	set("listen", func() { cfg.ListenAddr = f.listen })
	return cfg.Validate()
}

func runBenchmark(ctx context.Context, cfg *config.Config, f *runFlags, out io.Writer) error {
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Storage
	if !f.noStore {
		s, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			logger.Warn("run history disabled", slog.String("path", cfg.DatabasePath), slog.String("error", err.Error()))
		} else {
			defer s.Close()
			store = s
		}
	}

	r := runner.New(runner.Config{
		Base:    cfg,
		Storage: store,
		Metrics: metrics.NewPrometheusMetrics(prometheus.DefaultRegisterer),
		Logger:  logger,
	})

	if f.listen != "" {
		srv := transport.NewServer(r, r, logger, cfg.CORSAllowedOrigins)
		defer srv.Close()
		httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("HTTP API listening", slog.String("addr", cfg.ListenAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", slog.String("error", err.Error()))
			}
		}()
		defer httpSrv.Close()
	}

	report, err := r.Run(ctx, cfg)
	if report != nil {
		if perr := printReport(out, report, f.jsonOut); perr != nil {
			logger.Warn("failed to print report", slog.String("error", perr.Error()))
		}
	}
	if err != nil {
		return describe(err)
	}
	return nil
}

func printReport(w io.Writer, report *types.RunReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }

	c := report.Config
	row("run", report.ID)
	row("status", report.Status)
	row("network", fmt.Sprintf("%s (%s)", c.Network, c.RPCURL))
	row("shape", fmt.Sprintf("%d %s txs, %d TPS, %d lanes, %d batches", c.TotalTransactions, c.Kind, c.TargetTPS, c.Lanes, report.Plan.TotalBatches))
	row("submitted", report.TxSubmitted)
	row("accepted", report.TxAccepted)
	row("errors", report.TxErrors)
	if fin := report.Finalization; fin != nil {
		row("finalized", fmt.Sprintf("%d/%d in %dms", fin.Finalized, fin.Expected, fin.MaxLatencyMs))
		if fin.Latency != nil && fin.Latency.Count > 0 {
			row("tx latency", fmt.Sprintf("p50 %.0fms  p95 %.0fms  p99 %.0fms", fin.Latency.P50, fin.Latency.P95, fin.Latency.P99))
		}
		if !fin.Complete {
			row("warning", fin.Shortfall)
		}
	}
	if tp := report.Throughput; tp != nil {
		row("on-chain txs", fmt.Sprintf("%d in %d blocks", tp.TotalMatching, tp.BlocksScanned))
		row("TPS", fmt.Sprintf("%.2f", tp.TPS))
		if !tp.Complete {
			row("warning", "scan incomplete: "+tp.Note)
		}
	}
	if report.Error != "" {
		row("error", report.Error)
	}
	return tw.Flush()
}
