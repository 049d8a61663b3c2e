package websocket

import (
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Client is one dashboard connection.
type Client struct {
	id       string
	callerID string
	conn     *gws.Conn
	send     chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *gws.Conn, callerID string) (*Client, error) {
	id, err := gonanoid.New(16)
	if err != nil {
		return nil, err
	}
	return &Client{
		id:       id,
		callerID: callerID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}, nil
}

func (c *Client) ID() string { return c.id }

func (c *Client) watches(callerID string) bool {
	return c.callerID == "" || c.callerID == callerID
}

// trySend queues payload without blocking. It reports false when the
// buffer is full or the client is already closed.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.closeSend()
}

// Serve registers the client and pumps messages until the socket closes.
// Inbound frames are ignored apart from keeping the connection alive.
func (h *Hub) Serve(c *Client) {
	h.Add(c)
	h.logger.Debug("ws connected", "client_id", c.id, "caller_id", c.callerID)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *Client) {
	defer func() {
		h.logger.Debug("ws disconnect", "client_id", c.id)
		_ = c.conn.Close()
		h.Remove(c.id)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.logger.Debug("ws read error", "client_id", c.id, "error", err)
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gws.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gws.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
