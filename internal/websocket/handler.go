// Package websocket provides WebSocket connection handling for the relay.
// It implements HTTP to WebSocket upgrade, connection lifecycle management,
// and hands inbound frames to the event router. Authentication happens
// in-band: a connection is admitted unauthenticated and must present a
// valid auth event within the configured window.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/real-rm/chatrelay/internal/metrics"
	"github.com/real-rm/chatrelay/internal/util"
)

var (
	// upgrader configures the WebSocket upgrade
	// SECURITY: In production, this service MUST be deployed behind a reverse proxy
	// (nginx, traefik, etc.) that terminates TLS/SSL connections, ensuring all
	// WebSocket connections use the WSS (WebSocket Secure) protocol.
	// The CheckOrigin function is configured per-handler to validate allowed origins.
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// CheckOrigin is set per-handler instance
	}

	// Connection lifecycle timeouts
	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod is the interval for sending ping messages (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// EventRouter consumes inbound frames and disconnects.
// HandleFrame returns false when the connection must be closed
// (failed authentication).
type EventRouter interface {
	HandleFrame(conn *Connection, raw []byte) bool
	HandleDisconnect(conn *Connection)
}

// Handler manages WebSocket connections and upgrades
type Handler struct {
	router         EventRouter
	logger         *zap.SugaredLogger
	allowedOrigins map[string]bool // Allowed origins for upgrade requests
	maxMessageSize int64           // Maximum frame size in bytes
	authWindow     time.Duration   // Deadline for the first successful auth event

	// connections tracks live connections by connection ID for shutdown
	connections map[string]*Connection
	mu          sync.RWMutex
}

// NewHandler creates a new WebSocket handler
func NewHandler(router EventRouter, logger *zap.SugaredLogger, maxMessageSize int64, authWindow time.Duration) *Handler {
	return &Handler{
		router:         router,
		logger:         logger.Named("websocket"),
		allowedOrigins: make(map[string]bool),
		maxMessageSize: maxMessageSize,
		authWindow:     authWindow,
		connections:    make(map[string]*Connection),
	}
}

// SetAllowedOrigins configures the allowed origins for WebSocket connections
// If no origins are set, all origins are allowed (development mode)
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.allowedOrigins = make(map[string]bool)
	for _, origin := range origins {
		h.allowedOrigins[origin] = true
	}

	h.logger.Infow("Configured allowed origins",
		"count", len(origins),
		"origins", origins)
}

// checkOrigin validates the origin of a WebSocket upgrade request
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	defer h.mu.RUnlock()

	// If no origins configured, allow all (development mode)
	if len(h.allowedOrigins) == 0 {
		return true
	}

	// Check if origin is in allowed list
	if h.allowedOrigins[origin] {
		return true
	}

	h.logger.Warnw("Origin not allowed",
		"origin", origin)
	return false
}

// HandleWebSocket handles HTTP to WebSocket upgrade requests.
// The connection is admitted unauthenticated; the protocol state machine
// in the router performs in-band authentication on the first auth event.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	conn, err := localUpgrader.Upgrade(w, r, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(h.logger, "websocket", "upgrade connection", err)
		return
	}

	// Set read limit to prevent memory exhaustion from oversized frames
	conn.SetReadLimit(h.maxMessageSize)

	connection := &Connection{
		conn:         conn,
		ConnectionID: uuid.NewString(),
		send:         make(chan []byte, 256),
	}

	h.registerConnection(connection)

	h.logger.Infow("WebSocket connection established",
		"connection_id", connection.ConnectionID,
		"remote_addr", r.RemoteAddr,
		"component", "websocket")

	// Start read and write pumps in goroutines with panic recovery
	util.SafeGo(h.logger, "readPump", func() { connection.readPump(h) })
	util.SafeGo(h.logger, "writePump", func() { connection.writePump() })
}

// registerConnection adds a connection to the live connections map
func (h *Handler) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn.ConnectionID] = conn

	// Increment WebSocket connections metric
	metrics.WebSocketConnections.Inc()
}

// unregisterConnection removes a connection from the live connections map
func (h *Handler) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ConnectionID]; exists {
		delete(h.connections, conn.ConnectionID)
		conn.closing.Store(true)
		close(conn.send)

		// Decrement WebSocket connections metric
		metrics.WebSocketConnections.Dec()

		h.logger.Infow("Connection unregistered",
			"user_id", conn.UserID(),
			"connection_id", conn.ConnectionID,
			"remaining_connections", len(h.connections))
	}
}

// ConnectionCount returns the number of live connections.
func (h *Handler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ShutdownWithContext gracefully closes all live WebSocket connections.
// It sends close messages to all connected clients and respects the context
// deadline, forcing shutdown if the deadline is exceeded.
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	h.logger.Info("Shutting down WebSocket handler, closing all connections")

	// Get all connections
	h.mu.Lock()
	connections := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.Unlock()

	// Close connections in parallel with context deadline
	var wg sync.WaitGroup

	for _, conn := range connections {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			h.logger.Infow("Closing WebSocket connection",
				"user_id", c.UserID(),
				"connection_id", c.ConnectionID)

			// Send close message
			c.mu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			}
			c.mu.Unlock()

			c.Close()
		}(conn)
	}

	// Wait for all closures or context deadline
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All WebSocket connections closed gracefully")
		return nil
	case <-ctx.Done():
		h.logger.Warnw("Shutdown deadline exceeded, forcing closure",
			"remaining_connections", len(connections))
		return ctx.Err()
	}
}
