package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all benchmark tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerStart(s, client)
	registerStop(s, client)
	registerHistory(s, client)
	registerRunDetail(s, client)
	registerFavorite(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tpsbench_status",
		gomcp.WithDescription("Get live benchmark status: run state, initialization phase, batches sent, TXs submitted/accepted/failed/finalized."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmark server unreachable: %v\n\nIs it running? Try: tpsbench serve", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tpsbench_health",
		gomcp.WithDescription("Quick health check for the benchmark server. Checks RPC connectivity and the history database."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/ready")
		if err != nil {
			// /ready answers 503 with the failing checks in the body.
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmark server unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerStart(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tpsbench_start",
		gomcp.WithDescription("Start a benchmark run. This is a MUTATING operation. Omitted parameters use the server's configuration. Transactions must split into whole batches of target_tps, and target_tps evenly over lanes."),
		gomcp.WithString("network",
			gomcp.Description("Target network: local or testnet"),
		),
		gomcp.WithNumber("transactions",
			gomcp.Description("Total number of transactions"),
		),
		gomcp.WithNumber("target_tps",
			gomcp.Description("Transactions per batch; batches are sent once per second"),
		),
		gomcp.WithNumber("lanes",
			gomcp.Description("Number of parallel lanes"),
		),
		gomcp.WithString("kind",
			gomcp.Description("Transaction kind: transfer (default) or proxied"),
		),
		gomcp.WithBoolean("batched",
			gomcp.Description("Submit each lane's batch as one JSON-RPC batch (proxied only)"),
		),
		gomcp.WithBoolean("endow",
			gomcp.Description("Fund every benchmark account from the funder first"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		payload := startPayload(req)

		raw, err := client.Post("/v1/runs", payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Start run failed: %v", err)), nil
		}
		var started map[string]any
		json.Unmarshal(raw, &started)

		r := new(report).section("Run Started").
			row("ID", getStr(started, "id")).
			line("Poll tpsbench_status for progress; the report appears in tpsbench_history when it finishes.")
		return gomcp.NewToolResultText(r.String()), nil
	})
}

// startPayload maps tool arguments onto a start request; absent arguments
// are left out so the server defaults apply.
func startPayload(req gomcp.CallToolRequest) map[string]any {
	payload := map[string]any{}
	if v := req.GetString("network", ""); v != "" {
		payload["network"] = v
	}
	if v := req.GetInt("transactions", 0); v > 0 {
		payload["totalTransactions"] = v
	}
	if v := req.GetInt("target_tps", 0); v > 0 {
		payload["targetTps"] = v
	}
	if v := req.GetInt("lanes", 0); v > 0 {
		payload["lanes"] = v
	}
	if v := req.GetString("kind", ""); v != "" {
		payload["kind"] = v
	}
	if req.GetBool("batched", false) {
		payload["batched"] = true
	}
	if req.GetBool("endow", false) {
		payload["endow"] = true
	}
	return payload
}

func registerStop(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tpsbench_stop",
		gomcp.WithDescription("Cancel the current benchmark run. This is a MUTATING operation."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := client.Post("/v1/stop", nil); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stop failed: %v", err)), nil
		}
		r := new(report).section("Run Stopped").
			line("The run was cancelled. Its partial report is stored in history.")
		return gomcp.NewToolResultText(r.String()), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tpsbench_history",
		gomcp.WithDescription("List benchmark runs with measured TPS, favorites first (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset)

		raw, err := client.Get(path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tpsbench_run_detail",
		gomcp.WithDescription("Get the full report of a benchmark run by ID: finalization, throughput and per-batch errors."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get("/v1/runs/" + url.PathEscape(id))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	})
}

func registerFavorite(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tpsbench_label_run",
		gomcp.WithDescription("Name a run and/or mark it as a favorite. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithString("name",
			gomcp.Description("Custom name; an empty string clears it"),
		),
		gomcp.WithBoolean("favorite",
			gomcp.Description("Favorite flag"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		update := map[string]any{}
		args := req.GetArguments()
		if v, ok := args["name"].(string); ok {
			update["customName"] = v
		}
		if v, ok := args["favorite"].(bool); ok {
			update["isFavorite"] = v
		}
		if len(update) == 0 {
			return gomcp.NewToolResultError("nothing to update: pass name or favorite"), nil
		}
		if _, err := client.Patch("/v1/runs/"+url.PathEscape(id), update); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Update failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(new(report).section("Run Updated").row("ID", id).String()), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("tpsbench_delete_run",
		gomcp.WithDescription("Delete a benchmark run and its batch outcomes. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Delete("/v1/runs/" + url.PathEscape(id)); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(new(report).section("Run Deleted").row("ID", id).String()), nil
	})
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	status := getStr(m, "status")
	if phase := getStr(m, "phase"); phase != "" {
		status += " (" + phase + ")"
	}

	r := new(report).section("Benchmark Status").
		row("Run", getStr(m, "runId")).
		row("Status", status).
		row("Progress", getStr(m, "progress")).
		row("Target TPS", formatTPS(getNum(m, "targetTps"))).
		row("Batches", formatShare(getNum(m, "batchesSent"), getNum(m, "totalBatches"))).
		row("TXs Submitted", formatCount(getNum(m, "txSubmitted"))).
		row("TXs Accepted", formatCount(getNum(m, "txAccepted"))).
		row("TXs Failed", formatCount(getNum(m, "txErrors"))).
		row("TXs Finalized", formatCount(getNum(m, "txFinalized"))).
		row("TXs Pending", formatCount(getNum(m, "txPending"))).
		row("Elapsed", formatElapsed(getNum(m, "elapsedMs")))

	if errMsg := getStr(m, "error"); errMsg != "" {
		r.section("Error").line(errMsg)
	}

	if last, ok := m["lastBatch"].(map[string]any); ok {
		r.section("Last Batch").
			row("Batch", formatCount(getNum(last, "batch"))).
			row("Duration", formatLatency(getNum(last, "durationMs"))).
			row("Errors", formatShare(getNum(last, "errorCount"), getNum(last, "submitted")))
	}

	return r.String()
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	r := new(report).section("Benchmark Health: " + state)

	checks, _ := m["checks"].([]any)
	for _, c := range checks {
		check, ok := c.(map[string]any)
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %-15s %s (%dms)", getStr(check, "name"), getStr(check, "status"), int64(getNum(check, "latency_ms")))
		if errMsg := getStr(check, "error"); errMsg != "" {
			line += " - " + errMsg
		}
		r.line(line)
	}

	return r.String()
}

func formatHistory(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	r := new(report).section("Run History").
		row("Total Runs", formatCount(getNum(m, "total")))

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		return r.line("").line("No runs found.").String()
	}

	for _, item := range runs {
		run, ok := item.(map[string]any)
		if !ok {
			continue
		}
		cfg, _ := run["config"].(map[string]any)
		title := getStr(run, "id")
		if name := getStr(run, "customName"); name != "" {
			title += " (" + name + ")"
		}
		if fav, _ := run["isFavorite"].(bool); fav {
			title = "★ " + title
		}

		measured := "-"
		if tp, ok := run["throughput"].(map[string]any); ok {
			measured = formatTPS(getNum(tp, "tps"))
		}

		r.subsection(title).
			row("Status", getStr(run, "status")).
			row("Network", getStr(cfg, "network")).
			row("Kind", getStr(cfg, "kind")).
			row("Transactions", formatCount(getNum(cfg, "totalTransactions"))).
			row("Target TPS", formatTPS(getNum(cfg, "targetTps"))).
			row("Measured TPS", measured).
			row("Started", formatTime(getStr(run, "startedAt")))
	}

	return r.String()
}

func formatRunDetail(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing run detail: %v", err)
	}

	run, ok := m["run"].(map[string]any)
	if !ok {
		return "Run not found"
	}
	cfg, _ := run["config"].(map[string]any)
	submitted := getNum(run, "txSubmitted")

	r := new(report).section("Run: "+getStr(run, "id")).
		row("Status", getStr(run, "status")).
		row("Network", fmt.Sprintf("%s (%s)", getStr(cfg, "network"), getStr(cfg, "rpcUrl"))).
		row("Kind", getStr(cfg, "kind")).
		row("Shape", fmt.Sprintf("%s txs at %s over %s lanes",
			formatCount(getNum(cfg, "totalTransactions")), formatTPS(getNum(cfg, "targetTps")), formatCount(getNum(cfg, "lanes")))).
		row("Duration", formatElapsed(getNum(run, "durationMs"))).
		row("TXs Submitted", formatCount(submitted)).
		row("TXs Accepted", formatShare(getNum(run, "txAccepted"), submitted)).
		row("TXs Failed", formatShare(getNum(run, "txErrors"), submitted)).
		row("Error", getStr(run, "error"))

	if fin, ok := run["finalization"].(map[string]any); ok {
		r.section("Finalization").
			row("Finalized", formatShare(getNum(fin, "finalized"), getNum(fin, "expected"))).
			row("Max Latency", formatLatency(getNum(fin, "maxLatencyMs"))).
			row("Shortfall", getStr(fin, "shortfall"))
		if lat, ok := fin["latency"].(map[string]any); ok {
			r.row("Latency", formatPercentiles(lat))
		}
	}

	if tp, ok := run["throughput"].(map[string]any); ok {
		scan := "complete"
		if complete, _ := tp["complete"].(bool); !complete {
			scan = "incomplete: " + getStr(tp, "note")
		}
		r.section("Throughput").
			row("On-chain TXs", formatCount(getNum(tp, "totalMatching"))).
			row("Blocks Scanned", formatCount(getNum(tp, "blocksScanned"))).
			row("Measured TPS", formatTPS(getNum(tp, "tps"))).
			row("Scan", scan)
	}

	if batches, ok := m["batches"].([]any); ok {
		failing := 0
		var sample string
		for _, b := range batches {
			batch, ok := b.(map[string]any)
			if !ok || getNum(batch, "errorCount") == 0 {
				continue
			}
			failing++
			if sample == "" {
				if errs, ok := batch["errorSample"].([]any); ok && len(errs) > 0 {
					sample, _ = errs[0].(string)
				}
			}
		}
		r.section("Batches").
			row("With Errors", formatShare(float64(failing), float64(len(batches)))).
			row("Error Sample", sample)
	}

	return r.String()
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}
