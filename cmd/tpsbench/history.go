package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gateway-fm/tpsbench/internal/storage"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		database string
		limit    int
		offset   int
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted runs, favorites first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g)
			if err != nil {
				return describe(err)
			}
			if cmd.Flags().Changed("database") {
				cfg.DatabasePath = database
			}

			store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			page, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			return printHistory(cmd.OutOrStdout(), page, jsonOut)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&database, "database", "", "SQLite database path")
	flags.IntVar(&limit, "limit", 20, "Maximum number of runs")
	flags.IntVar(&offset, "offset", 0, "Number of runs to skip")
	flags.BoolVar(&jsonOut, "json", false, "Print as JSON")

	return cmd
}

func printHistory(w io.Writer, page *storage.PaginatedRuns, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tNETWORK\tKIND\tTXS\tTARGET\tTPS\tNAME")
	for _, run := range page.Runs {
		tps := "-"
		if run.Throughput != nil {
			tps = fmt.Sprintf("%.1f", run.Throughput.TPS)
		}
		name := ""
		if run.CustomName != nil {
			name = *run.CustomName
		}
		if run.IsFavorite {
			name = "* " + name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Status,
			run.Config.Network,
			run.Config.Kind,
			run.Config.TotalTransactions,
			run.Config.TargetTPS,
			tps,
			name,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d of %d runs\n", len(page.Runs), page.Total)
	return nil
}
