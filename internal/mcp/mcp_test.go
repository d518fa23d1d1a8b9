package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"
)

func TestClient(t *testing.T) {
	var gotMethod, gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.RequestURI()
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		if r.URL.Path == "/v1/runs/missing" {
			http.Error(w, `{"error":"Run not found"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	raw, err := c.Get("/v1/runs?limit=5")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(raw) != `{"ok":true}` || gotMethod != http.MethodGet || gotPath != "/v1/runs?limit=5" {
		t.Errorf("Get() = %s via %s %s", raw, gotMethod, gotPath)
	}
	if gotType != "" {
		t.Errorf("GET sent Content-Type %q", gotType)
	}

	if _, err := c.Post("/v1/runs", map[string]any{"lanes": 2}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if gotType != "application/json" || gotBody != `{"lanes":2}` {
		t.Errorf("Post() sent %q with type %q", gotBody, gotType)
	}

	if _, err := c.Post("/v1/stop", nil); err != nil {
		t.Fatalf("Post(nil) error = %v", err)
	}
	if gotBody != "" {
		t.Errorf("Post(nil) sent body %q", gotBody)
	}

	if _, err := c.Patch("/v1/runs/abc", map[string]any{"isFavorite": true}); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("Patch() used %s", gotMethod)
	}

	_, err = c.Delete("/v1/runs/missing")
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") || !strings.Contains(err.Error(), "Run not found") {
		t.Errorf("Delete() error = %v, want HTTP 404 with body", err)
	}
}

func TestStartPayload(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want map[string]any
	}{
		{
			name: "empty keeps server defaults",
			args: map[string]any{},
			want: map[string]any{},
		},
		{
			name: "all fields",
			args: map[string]any{
				"network":      "local",
				"transactions": float64(3000),
				"target_tps":   float64(300),
				"lanes":        float64(3),
				"kind":         "proxied",
				"batched":      true,
				"endow":        true,
			},
			want: map[string]any{
				"network":           "local",
				"totalTransactions": 3000,
				"targetTps":         300,
				"lanes":             3,
				"kind":              "proxied",
				"batched":           true,
				"endow":             true,
			},
		},
		{
			name: "false flags are omitted",
			args: map[string]any{"batched": false, "lanes": float64(0)},
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req gomcp.CallToolRequest
			req.Params.Arguments = tt.args

			got := startPayload(req)
			if len(got) != len(tt.want) {
				t.Fatalf("startPayload() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v (%T), want %v (%T)", k, got[k], got[k], v, v)
				}
			}
		})
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4500, "-4,500"},
		{12.5, "12.5"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.in); got != tt.want {
			t.Errorf("formatCount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatShare(t *testing.T) {
	tests := []struct {
		part, whole float64
		want        string
	}{
		{50, 1000, "50 of 1,000 (5.0%)"},
		{1000, 1000, "1,000 of 1,000 (100.0%)"},
		{0, 0, "0 of 0"},
	}
	for _, tt := range tests {
		if got := formatShare(tt.part, tt.whole); got != tt.want {
			t.Errorf("formatShare(%v, %v) = %q, want %q", tt.part, tt.whole, got, tt.want)
		}
	}
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "0.0ms"},
		{412.3, "412.3ms"},
		{999.9, "999.9ms"},
		{1000, "1.00s"},
		{12340, "12.34s"},
	}
	for _, tt := range tests {
		if got := formatLatency(tt.ms); got != tt.want {
			t.Errorf("formatLatency(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}

	lat := map[string]any{"p50": 400.0, "p95": 900.0, "p99": 1200.0}
	if got, want := formatPercentiles(lat), "p50 400.0ms, p95 900.0ms, p99 1.20s"; got != want {
		t.Errorf("formatPercentiles() = %q, want %q", got, want)
	}
}

func TestFormatRates(t *testing.T) {
	if got := formatTPS(44.7); got != "44.70 tx/s" {
		t.Errorf("formatTPS(44.7) = %q", got)
	}
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "0s"},
		{3500, "3.5s"},
		{21000, "21s"},
		{90040, "1m30s"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.ms); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestReportSkipsEmptyValues(t *testing.T) {
	out := new(report).section("Run").row("ID", "r1").row("Error", "").row("Count", 3).String()
	want := "## Run\n" + fmt.Sprintf("%-20s %v", "ID:", "r1") + "\n" + fmt.Sprintf("%-20s %v", "Count:", 3)
	if out != want {
		t.Errorf("report = %q, want %q", out, want)
	}
}

func TestFormatStatus(t *testing.T) {
	raw := json.RawMessage(`{
		"runId": "r1", "status": "initializing", "phase": "pregenerating",
		"targetTps": 1500, "totalBatches": 20, "batchesSent": 3,
		"txSubmitted": 4500, "txAccepted": 4490, "txErrors": 10, "txFinalized": 3000, "txPending": 1490,
		"elapsedMs": 3500, "error": "boom",
		"lastBatch": {"batch": 2, "durationMs": 120, "submitted": 1500, "errorCount": 4}
	}`)

	out := formatStatus(raw)
	for _, want := range []string{
		"initializing (pregenerating)",
		"1500.00 tx/s",
		"3 of 20 (15.0%)",
		"4,500",
		"3,000",
		"TXs Pending:",
		"1,490",
		"3.5s",
		"## Error",
		"boom",
		"## Last Batch",
		"4 of 1,500 (0.3%)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatStatus() missing %q:\n%s", want, out)
		}
	}

	if out := formatStatus(json.RawMessage(`not json`)); !strings.HasPrefix(out, "Error parsing status") {
		t.Errorf("formatStatus(invalid) = %q", out)
	}
}

func TestFormatHealth(t *testing.T) {
	raw := json.RawMessage(`{"ready": false, "checks": [
		{"name": "rpc", "status": "unhealthy", "latency_ms": 12, "error": "connection refused"},
		{"name": "storage", "status": "healthy"}
	]}`)

	out := formatHealth(raw)
	for _, want := range []string{"NOT READY", "rpc", "(12ms) - connection refused", "storage"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatHealth() missing %q:\n%s", want, out)
		}
	}
}

func TestFormatHistory(t *testing.T) {
	if out := formatHistory(json.RawMessage(`{"runs": [], "total": 0}`)); !strings.Contains(out, "No runs found.") {
		t.Errorf("empty history = %q", out)
	}

	raw := json.RawMessage(`{"total": 2, "runs": [
		{"id": "a", "status": "completed", "customName": "baseline", "isFavorite": true,
		 "startedAt": "2026-01-02T03:04:05Z",
		 "config": {"network": "local", "kind": "transfer", "totalTransactions": 30000, "targetTps": 1500},
		 "throughput": {"tps": 1487.3}},
		{"id": "b", "status": "error", "config": {"network": "testnet", "kind": "proxied"}}
	]}`)

	out := formatHistory(raw)
	for _, want := range []string{
		"★ a (baseline)",
		"1487.30 tx/s",
		"30,000",
		"2026-01-02 03:04:05",
		"### b",
		"testnet",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatHistory() missing %q:\n%s", want, out)
		}
	}
}

func TestFormatRunDetail(t *testing.T) {
	if out := formatRunDetail(json.RawMessage(`{}`)); out != "Run not found" {
		t.Errorf("formatRunDetail({}) = %q", out)
	}

	raw := json.RawMessage(`{
		"run": {
			"id": "r1", "status": "completed", "durationMs": 21000,
			"config": {"network": "local", "rpcUrl": "http://localhost:8545", "kind": "transfer",
			           "totalTransactions": 1000, "targetTps": 100, "lanes": 2},
			"txSubmitted": 1000, "txAccepted": 950, "txErrors": 50,
			"finalization": {"expected": 950, "finalized": 940, "maxLatencyMs": 1800,
			                 "shortfall": "10 transactions not finalized",
			                 "latency": {"p50": 400, "p95": 900, "p99": 1200}},
			"throughput": {"totalMatching": 940, "blocksScanned": 22, "tps": 44.76, "complete": false, "note": "history pruned"}
		},
		"batches": [
			{"batch": 0, "errorCount": 0},
			{"batch": 1, "errorCount": 50, "errorSample": ["nonce too low"]}
		]
	}`)

	out := formatRunDetail(raw)
	for _, want := range []string{
		"## Run: r1",
		"local (http://localhost:8545)",
		"1,000 txs at 100.00 tx/s over 2 lanes",
		"21s",
		"950 of 1,000 (95.0%)",
		"50 of 1,000 (5.0%)",
		"940 of 950 (98.9%)",
		"1.80s",
		"p50 400.0ms, p95 900.0ms, p99 1.20s",
		"44.76 tx/s",
		"1 of 2 (50.0%)",
		"incomplete: history pruned",
		"nonce too low",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatRunDetail() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\nError:") {
		t.Errorf("formatRunDetail() shows an empty Error row:\n%s", out)
	}
}
