// Package transport provides the HTTP API of the benchmark server.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/tpsbench/internal/bencherr"
	"github.com/gateway-fm/tpsbench/internal/runner"
	"github.com/gateway-fm/tpsbench/internal/storage"
	"github.com/gateway-fm/tpsbench/pkg/types"
)

// Input validation limits
const (
	maxTransactions = 10_000_000
	maxTPS          = 100_000
	maxLanes        = 1_000
)

// validateStartRequest checks request bounds. Zero fields keep server defaults.
func validateStartRequest(req *types.StartRunRequest) error {
	if req.TotalTransactions < 0 {
		return fmt.Errorf("totalTransactions cannot be negative, got %d", req.TotalTransactions)
	}
	if req.TotalTransactions > maxTransactions {
		return fmt.Errorf("totalTransactions exceeds maximum of %d", maxTransactions)
	}
	if req.TargetTPS < 0 {
		return fmt.Errorf("targetTps cannot be negative, got %d", req.TargetTPS)
	}
	if req.TargetTPS > maxTPS {
		return fmt.Errorf("targetTps exceeds maximum of %d", maxTPS)
	}
	if req.Lanes < 0 {
		return fmt.Errorf("lanes cannot be negative, got %d", req.Lanes)
	}
	if req.Lanes > maxLanes {
		return fmt.Errorf("lanes exceeds maximum of %d", maxLanes)
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return fmt.Errorf("invalid kind: %s (valid: transfer, proxied)", req.Kind)
	}
	if req.Network != "" && req.Network != types.NetworkLocal && req.Network != types.NetworkTestnet {
		return fmt.Errorf("invalid network: %s (valid: local, testnet)", req.Network)
	}
	return nil
}

// BenchAPI defines what the handlers need from the run coordinator.
type BenchAPI interface {
	Status() types.LiveStatus
	Start(req types.StartRunRequest) (string, error)
	Stop()

	ListRuns(ctx context.Context, limit, offset int) (*storage.PaginatedRuns, error)
	GetRunDetail(ctx context.Context, id string) (*storage.RunDetail, error)
	DeleteRun(ctx context.Context, id string) error
	UpdateRunMetadata(ctx context.Context, id string, update *storage.RunMetadataUpdate) error
}

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
	CheckStorage(ctx context.Context) error
}

// Server handles HTTP requests for the benchmark.
type Server struct {
	api       BenchAPI
	health    HealthChecker
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer

	corsAllowedOrigins []string
	corsAllowAll       bool // "*" or empty
}

// NewServer creates a new HTTP server and starts its status broadcaster.
func NewServer(api BenchAPI, health HealthChecker, logger *slog.Logger, corsAllowedOrigins string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	wsServer := NewWebSocketServer(api, logger)
	wsServer.Start()

	s := &Server{
		api:       api,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
	}

	origins := strings.TrimSpace(corsAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		s.corsAllowedOrigins = strings.Split(origins, ",")
		for i, o := range s.corsAllowedOrigins {
			s.corsAllowedOrigins[i] = strings.TrimSpace(o)
		}
	}

	return s
}

// Close stops the status broadcaster and disconnects WebSocket clients.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/v1/runs", s.corsMiddleware(s.handleRuns))
	mux.HandleFunc("/v1/runs/", s.corsMiddleware(s.handleRunDetail))
	mux.HandleFunc("/v1/stop", s.corsMiddleware(s.handleStop))
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// corsMiddleware adds CORS headers based on the configured allowed origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range s.corsAllowedOrigins {
				if o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleStatus returns the live progress of the current run.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.api.Status())
}

// handleRuns lists stored runs (GET) or starts a run (POST).
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRuns(w, r)
	case http.MethodPost:
		s.handleStartRun(w, r)
	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req types.StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := validateStartRequest(&req); err != nil {
		s.writeJSONError(w, "Validation error: "+err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.api.Start(req)
	if err != nil {
		var ce *bencherr.ConfigurationError
		switch {
		case errors.As(err, &ce):
			s.writeJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, runner.ErrBusy):
			s.writeJSONError(w, err.Error(), http.StatusConflict)
		default:
			s.logger.Error("Failed to start run", slog.String("error", err.Error()))
			s.writeJSONError(w, "Failed to start run: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started", "id": id})
}

// handleStop cancels the current run.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.api.Stop()
	s.writeJSON(w, map[string]string{"status": "stopped"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	result, err := s.api.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, result)
}

// handleRunDetail handles /v1/runs/{id} and /v1/runs/{id}/batches.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		s.writeJSONError(w, "Missing run ID", http.StatusBadRequest)
		return
	}
	runID := parts[0]

	if len(parts) > 1 && parts[1] == "batches" {
		s.handleRunBatches(w, r, runID)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := s.api.DeleteRun(r.Context(), runID); err != nil {
			if strings.Contains(err.Error(), "not found") {
				s.writeJSONError(w, err.Error(), http.StatusNotFound)
				return
			}
			s.writeJSONError(w, "Failed to delete run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]bool{"deleted": true})

	case http.MethodPatch:
		var update storage.RunMetadataUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.api.UpdateRunMetadata(r.Context(), runID, &update); err != nil {
			if strings.Contains(err.Error(), "not found") {
				s.writeJSONError(w, err.Error(), http.StatusNotFound)
				return
			}
			s.writeJSONError(w, "Failed to update run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		detail, err := s.api.GetRunDetail(r.Context(), runID)
		if err != nil || detail == nil {
			s.writeJSONError(w, "Failed to get updated run", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, detail.Run)

	case http.MethodGet:
		detail, err := s.api.GetRunDetail(r.Context(), runID)
		if err != nil {
			s.writeJSONError(w, "Failed to get run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if detail == nil {
			s.writeJSONError(w, "Run not found", http.StatusNotFound)
			return
		}
		s.writeJSON(w, detail)

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunBatches handles GET /v1/runs/{id}/batches.
func (s *Server) handleRunBatches(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	detail, err := s.api.GetRunDetail(r.Context(), runID)
	if err != nil {
		s.writeJSONError(w, "Failed to get batches: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if detail == nil {
		s.writeJSONError(w, "Run not found", http.StatusNotFound)
		return
	}
	batches := detail.Batches
	if batches == nil {
		batches = []types.BatchOutcome{}
	}
	s.writeJSON(w, batches)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady handles readiness probes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	allHealthy := true

	if s.health != nil {
		for _, c := range []struct {
			name  string
			check func(context.Context) error
		}{
			{"rpc", s.health.CheckRPC},
			{"storage", s.health.CheckStorage},
		} {
			start := time.Now()
			err := c.check(r.Context())
			check := ReadinessCheck{
				Name:      c.name,
				Status:    "ok",
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				check.Status = "failed"
				check.Error = err.Error()
				allHealthy = false
			}
			checks = append(checks, check)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if allHealthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"ready":  allHealthy,
		"checks": checks,
	})
}
