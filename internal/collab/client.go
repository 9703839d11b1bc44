package collab

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentflow/agentflow/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 256 * 1024
	sendBuffer     = 64
)

// Client is one live websocket subscriber of a workflow.
type Client struct {
	workflowID string
	userID     string

	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	log *logger.Logger
}

// NewClient wraps an upgraded connection. The caller starts the pumps.
func NewClient(workflowID, userID string, conn *websocket.Conn, log *logger.Logger) *Client {
	return &Client{
		workflowID: workflowID,
		userID:     userID,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		log: log.WithFields(
			zap.String("workflow_id", workflowID),
			zap.String("user_id", userID)),
	}
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() string { return c.userID }

// trySend queues a frame without blocking. A false return means the
// subscriber is closed or too slow and must be dropped.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close ends the write pump by closing the send channel. Idempotent.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads frames from the socket and feeds them to the hub until
// the peer goes away. Runs on the connection's handler goroutine.
func (c *Client) readPump(hub *Hub, pongWait time.Duration) {
	defer func() {
		hub.Disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		hub.HandleMessage(c, message)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
