package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/tpsbench/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without Origin header (same-origin or direct)
		}

		// Parse the origin URL
		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		// Allow same origin (same host)
		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		return false
	},
}

// broadcastInterval is how often live status is pushed to clients.
const broadcastInterval = 200 * time.Millisecond

// WebSocketServer streams live run status to connected clients.
type WebSocketServer struct {
	api    BenchAPI
	logger *slog.Logger

	// Connected clients
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(api BenchAPI, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		api:     api,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		done:    make(chan struct{}),
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}

		ws.clientsMu.Lock()
		ws.clients[conn] = true
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		ws.send(conn, ws.api.Status())

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, conn)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Client messages are ignored; reading detects disconnects.
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// Start begins the status broadcasting goroutine.
func (ws *WebSocketServer) Start() {
	go ws.broadcastLoop()
}

// Stop stops the WebSocket server.
func (ws *WebSocketServer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.done)

		ws.clientsMu.Lock()
		for conn := range ws.clients {
			conn.Close()
		}
		ws.clients = make(map[*websocket.Conn]bool)
		ws.clientsMu.Unlock()
	})
}

// broadcastLoop pushes live status to all clients while a run is active,
// and once more when it settles.
func (ws *WebSocketServer) broadcastLoop() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	var last types.RunStatus
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
			status := ws.api.Status()
			if active(status.Status) || status.Status != last {
				ws.broadcast(status)
			}
			last = status.Status
		}
	}
}

func active(s types.RunStatus) bool {
	switch s {
	case types.StatusInitializing, types.StatusRunning, types.StatusFinalizing, types.StatusMeasuring:
		return true
	}
	return false
}

// broadcast sends status to all connected clients.
func (ws *WebSocketServer) broadcast(status types.LiveStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		ws.logger.Error("Failed to marshal status", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()

	for conn := range ws.clients {
		ws.write(conn, data)
	}
}

func (ws *WebSocketServer) send(conn *websocket.Conn, status types.LiveStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()
	ws.write(conn, data)
}

// write must be called with clientsMu held for writing: a connection
// supports one concurrent writer.
func (ws *WebSocketServer) write(conn *websocket.Conn, data []byte) {
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// Cleaned up by the read loop.
		ws.logger.Debug("Failed to write to WebSocket", slog.String("error", err.Error()))
	}
}
