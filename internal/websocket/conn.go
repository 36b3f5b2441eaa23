package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/real-rm/chatrelay/internal/metrics"
)

// Connection represents a live duplex channel between the relay and one
// client session. It starts unauthenticated; the router binds a user id
// after a successful auth event.
type Connection struct {
	// conn is the underlying WebSocket connection
	conn *websocket.Conn

	// ConnectionID is a unique identifier for this connection
	ConnectionID string

	// userID is the authenticated user's id, 0 while unauthenticated.
	// Written once by the router; read concurrently by fan-out paths.
	userID atomic.Int64

	// send is a buffered channel for outbound messages
	send chan []byte

	// closing indicates the connection is being torn down.
	// Set before closing the send channel to prevent send-on-closed-channel panics.
	closing atomic.Bool

	// mu protects concurrent access to the underlying socket
	mu sync.Mutex
}

// NewConnection creates a detached Connection for testing purposes.
// It has no underlying socket; outbound frames accumulate in the send
// channel and can be drained with ReceiveForTest.
func NewConnection(connectionID string) *Connection {
	return &Connection{
		ConnectionID: connectionID,
		send:         make(chan []byte, 256),
	}
}

// UserID returns the bound user id, or 0 while unauthenticated.
func (c *Connection) UserID() int64 {
	return c.userID.Load()
}

// Authenticated reports whether a user id has been bound.
func (c *Connection) Authenticated() bool {
	return c.userID.Load() != 0
}

// BindUser binds the authenticated user id to this connection.
// Returns false if the connection was already bound.
func (c *Connection) BindUser(userID int64) bool {
	return c.userID.CompareAndSwap(0, userID)
}

// SetClosing marks the connection as closing.
// After this call, SafeSend will return false.
func (c *Connection) SetClosing() {
	c.closing.Store(true)
}

// SafeSend attempts to send data to the connection's send channel.
// Returns false if the connection is closing or the channel is full.
// This is the preferred method for sending data to avoid panics on closed channels.
func (c *Connection) SafeSend(data []byte) bool {
	if c.closing.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReceiveForTest returns the send channel as a receive channel for testing purposes
// This should only be used in tests to verify messages sent to the connection
func (c *Connection) ReceiveForTest() <-chan []byte {
	return c.send
}

// Close gracefully closes the WebSocket connection and cleans up resources
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// readPump reads frames from the WebSocket connection and hands them to the
// router. It handles:
// - Bounded authentication window before the first successful auth
// - Pong-based liveness once authenticated
// - Graceful cleanup on connection close or error
func (c *Connection) readPump(h *Handler) {
	defer func() {
		h.logger.Infow("WebSocket connection closed",
			"user_id", c.UserID(),
			"connection_id", c.ConnectionID,
			"component", "websocket")

		h.router.HandleDisconnect(c)
		h.unregisterConnection(c)
		c.Close()
	}()

	// An unauthenticated connection may not hold its slot forever: the read
	// deadline doubles as the authentication window until auth succeeds.
	c.conn.SetReadDeadline(time.Now().Add(h.authWindow))

	// Configure pong handler to reset the read deadline once authenticated
	c.conn.SetPongHandler(func(string) error {
		// No else needed: the auth-window deadline stays in force until auth
		if c.Authenticated() {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	authed := false
	for {
		_, rawMessage, err := c.conn.ReadMessage()
		// No else needed: error handling with break (exits loop)
		if err != nil {
			// No else needed: specific error handling (logs and continues to break)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warnw("WebSocket closed unexpectedly",
					"error", err,
					"user_id", c.UserID(),
					"connection_id", c.ConnectionID,
					"component", "websocket")
			} else {
				h.logger.Infow("WebSocket connection closing",
					"user_id", c.UserID(),
					"connection_id", c.ConnectionID,
					"component", "websocket")
			}
			break
		}

		// The router owns parsing, the protocol state machine, and fan-out.
		// Auth failure is terminal: the router has already sent auth_failed.
		if !h.router.HandleFrame(c, rawMessage) {
			break
		}

		// First successful auth switches the deadline from the auth window
		// to the pong liveness cycle.
		if !authed && c.Authenticated() {
			authed = true
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

// writePump writes messages to the WebSocket connection
// It handles:
// - Sending periodic ping messages for heartbeat
// - Writing messages from the send channel
// - Setting write deadlines
// - Graceful connection closure
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			// Set write deadline
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// No else needed: channel closed handling (sends close and returns)
			if !ok {
				// Channel closed, send close message
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// No else needed: error handling with return (exits function)
			// Write each message as a separate WebSocket frame
			// This ensures proper JSON parsing on the client side
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Increment events sent metric
			metrics.EventsSent.Inc()

		case <-ticker.C:
			// No else needed: error handling with return (exits function)
			// Send ping message
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
