// Command tpsbench measures the transaction throughput of an EVM network.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/config"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "tpsbench",
		Short: "Transactions-per-second benchmark for EVM networks",
		Long: `tpsbench pre-signs a fixed number of transactions across parallel lanes,
dispatches them in paced batches, waits for them to finalize and measures
the achieved throughput from block timestamps.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format (json, text)")

	root.AddCommand(
		newRunCmd(&g),
		newServeCmd(&g),
		newHistoryCmd(&g),
	)

	return root
}

// loadConfig reads defaults and environment, then applies the global flags.
func loadConfig(cmd *cobra.Command, g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = g.logFormat
	}
	return cfg, nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// describe annotates fatal errors with their category for the diagnostic line.
func describe(err error) error {
	if !bencherr.IsFatal(err) {
		return err
	}
	var ce *bencherr.ConfigurationError
	if errors.As(err, &ce) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return fmt.Errorf("setup failed: %w", err)
}
