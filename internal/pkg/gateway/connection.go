package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const defaultSendBuffer = 256

// Connection is one live client socket. Outbound frames are queued on Send
// and written by the connection's write pump, which keeps per-connection
// order equal to enqueue order.
type Connection struct {
	// ID distinguishes several sockets of the same user
	ID string

	UserID   string
	UserName string

	// Conn is nil for connections driven without a transport
	Conn *websocket.Conn

	// Send is a buffered channel for outbound frames
	Send chan []byte

	// rooms is guarded by the router lock
	rooms map[string]struct{}

	// mu serializes writes to Conn
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex

	connectedAt time.Time
}

// NewConnection creates a new Connection instance.
func NewConnection(ctx context.Context, userID, userName string, conn *websocket.Conn, buffer int) *Connection {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	connCtx, cancel := context.WithCancel(ctx)
	return &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		UserName:    userName,
		Conn:        conn,
		Send:        make(chan []byte, buffer),
		rooms:       make(map[string]struct{}),
		ctx:         connCtx,
		cancel:      cancel,
		connectedAt: time.Now(),
	}
}

// enqueue queues a frame without blocking. It reports false when the
// connection is closed or its queue is full.
func (c *Connection) enqueue(frame []byte) bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

// WriteMessage writes a message to the WebSocket connection.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Conn == nil {
		return websocket.ErrCloseSent
	}
	return c.Conn.WriteMessage(messageType, data)
}

// Close cancels the connection context and closes Send, which makes the
// write pump send a close frame and exit. Safe to call more than once.
func (c *Connection) Close() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.Send)
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()

	return c.closed
}

// Context returns the connection context.
func (c *Connection) Context() context.Context {
	return c.ctx
}
