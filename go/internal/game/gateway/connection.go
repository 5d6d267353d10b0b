package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/evilcards/go/internal/ctxlog"
	"github.com/rs/zerolog/log"
)

var (
	errConnectionClosed = errors.New("connection closed")
	errSendBufferFull   = errors.New("connection send buffer full")
)

// ConnectionHandler receives what a client sends
type ConnectionHandler interface {
	// HandleMessage is called sequentially for every inbound message of a connection
	HandleMessage(c *Connection, raw []byte)
	// HandleClose is called once when the connection goes away.
	// graceful is set when the client closed with 1000 or 1001.
	HandleClose(c *Connection, graceful bool)
}

// ConnectionManager owns the WebSocket connections opened on this server
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  ConnectionHandler
}

// Connection is one client WebSocket
type Connection struct {
	ID          string
	ConnectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager
	ctx     context.Context

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	sessionID   string
	owner       string
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, handler ConnectionHandler) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		handler: handler,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its pumps
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	id := uuid.NewString()
	connection := &Connection{
		ID:          id,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBuffer),
		manager:     cm,
		ctx:         ctxlog.With(context.WithoutCancel(r.Context()), "conn_id", id),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	ctxlog.From(connection.ctx).Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")
	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("conn_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.ID]; !exists {
		return false
	}
	delete(cm.connections, conn.ID)
	return true
}

// Get returns a live connection by id
func (cm *ConnectionManager) Get(id string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.connections[id]
	return c, ok
}

// Count returns the number of live connections
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every live connection with the given close frame
func (cm *ConnectionManager) CloseAll(code int, reason string) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		targets = append(targets, c)
	}
	cm.mu.RUnlock()

	for _, c := range targets {
		_ = c.Close(code, reason)
	}
	log.Info().Int("connections", len(targets)).Msg("closed all connections")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	attached := 0
	for _, c := range cm.connections {
		if sessionID, _ := c.route(); sessionID != "" {
			attached++
		}
	}

	return map[string]interface{}{
		"total_connections":    len(cm.connections),
		"attached_connections": attached,
	}
}

// Context returns the connection's logging context. It outlives the upgrade request.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Send queues payload for the client. A client that cannot keep up is disconnected.
func (c *Connection) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnectionClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		ctxlog.From(c.ctx).Warn().Msg("connection send buffer full, closing connection")
		c.closeLocked(websocket.ClosePolicyViolation, "too slow")
		return errSendBufferFull
	}
}

// Close flushes queued messages and then closes the socket with code and reason
func (c *Connection) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
	return nil
}

func (c *Connection) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

func (c *Connection) attach(sessionID, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.owner = owner
}

func (c *Connection) detach() {
	c.attach("", "")
}

// route returns the session this connection joined and the server that owns it
func (c *Connection) route() (sessionID, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.owner
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.mu.Lock()
				code, reason := c.closeCode, c.closeReason
				c.mu.Unlock()
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				ctxlog.From(c.ctx).Error().Err(err).Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				ctxlog.From(c.ctx).Error().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	graceful := false
	defer func() {
		if c.manager.unregisterConnection(c) {
			c.manager.handler.HandleClose(c, graceful)
		}
		c.Close(websocket.CloseNormalClosure, "")
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			graceful = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ctxlog.From(c.ctx).Warn().Err(err).Msg("unexpected websocket close error")
			}
			break
		}

		c.manager.handler.HandleMessage(c, message)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
