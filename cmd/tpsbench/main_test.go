package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/storage"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		field string
	}{
		{"both networks", []string{"run", "--local", "--testnet"}, "network"},
		{"unknown kind", []string{"run", "--tx", "swap"}, "tx"},
		{"indivisible plan", []string{"run", "-n", "1001", "--tps", "100", "--lanes", "10"}, "tps"},
		{"zero lanes", []string{"run", "--lanes", "0"}, "lanes"},
		{"bad proxy", []string{"run", "--proxy", "nope"}, "proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			var ce *bencherr.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want ConfigurationError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %q, want %q", ce.Field, tt.field)
			}
			if !strings.HasPrefix(err.Error(), "invalid configuration") {
				t.Errorf("error = %q, want invalid configuration prefix", err)
			}
		})
	}
}

func TestRunRejectsNonNumericCount(t *testing.T) {
	if _, err := execute(t, "run", "-n", "lots"); err == nil {
		t.Error("non-numeric transaction count accepted")
	}
}

func TestMalformedEnvironment(t *testing.T) {
	t.Setenv("TPSBENCH_TPS", "fast")
	_, err := execute(t, "run")
	var ce *bencherr.ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "TPSBENCH_TPS" {
		t.Errorf("error = %v, want TPSBENCH_TPS ConfigurationError", err)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level, format string
		wantDebug     bool
		wantJSON      bool
	}{
		{"debug", "json", true, true},
		{"info", "text", false, false},
		{"", "", false, true},
		{"WARN", "TEXT", false, false},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := newLogger(&buf, tt.level, tt.format)
		if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
			t.Errorf("level %q: debug enabled = %v", tt.level, got)
		}
		logger.Error("hello")
		if got := strings.HasPrefix(buf.String(), "{"); got != tt.wantJSON {
			t.Errorf("format %q: output %q", tt.format, buf.String())
		}
	}
}

func TestPrintReport(t *testing.T) {
	report := &types.RunReport{
		ID:     "r1",
		Status: types.StatusCompleted,
		Config: types.RunConfig{Network: types.NetworkLocal, TotalTransactions: 1000, TargetTPS: 100, Lanes: 10, Kind: types.TxKindTransfer},
		Plan:   types.PlanSummary{TotalBatches: 10, PerLanePerBatch: 10, Accounts: 100},
		Finalization: &types.FinalizationResult{
			Expected: 50, Finalized: 40, MaxLatencyMs: 60000,
			Shortfall: "finalization timeout: 40/50",
		},
		Throughput: &types.ThroughputResult{TotalMatching: 1000, BlocksScanned: 12, TPS: 95.5, Complete: false, Note: "history pruned"},
	}

	var buf bytes.Buffer
	if err := printReport(&buf, report, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"r1", "40/50", "95.50", "finalization timeout", "scan incomplete: history pruned"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := printReport(&buf, report, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"totalMatching": 1000`) {
		t.Errorf("JSON report = %s", buf.String())
	}
}

func TestPrintHistory(t *testing.T) {
	name := "baseline"
	page := &storage.PaginatedRuns{
		Runs: []storage.Run{
			{
				RunReport: types.RunReport{
					ID: "a", Status: types.StatusCompleted, StartedAt: time.Now(),
					Throughput: &types.ThroughputResult{TPS: 12.34},
				},
				CustomName: &name,
				IsFavorite: true,
			},
			{RunReport: types.RunReport{ID: "b", Status: types.StatusError, StartedAt: time.Now()}},
		},
		Total: 5,
	}

	var buf bytes.Buffer
	if err := printHistory(&buf, page, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"12.3", "* baseline", "error", "2 of 5 runs"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	path := t.TempDir() + "/h.db"
	out, err := execute(t, "history", "--database", path)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "0 of 0 runs") {
		t.Errorf("output = %q", out)
	}
}

func TestDescribe(t *testing.T) {
	cause := errors.New("connection refused")
	tests := []struct {
		name       string
		err        error
		wantPrefix string
	}{
		{"configuration", bencherr.Configf("lanes", "must be positive"), "invalid configuration: "},
		{"setup", bencherr.Setup("connect", cause), "setup failed: "},
		{"other", cause, "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describe(tt.err)
			if !strings.HasPrefix(got.Error(), tt.wantPrefix) {
				t.Errorf("describe() = %q, want prefix %q", got, tt.wantPrefix)
			}
			if !errors.Is(got, tt.err) {
				t.Error("describe() must wrap its argument")
			}
		})
	}
}
