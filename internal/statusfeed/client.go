package statusfeed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// snapshot renders the current status on request.
	snapshot func() []byte

	mu      sync.Mutex
	send    chan []byte
	closed  bool
	dropped int
}

func newWSClient(hub *Hub, conn *websocket.Conn, snapshot func() []byte) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		snapshot: snapshot,
		send:     make(chan []byte, wsSendBufferSize),
	}
}

// trySend queues data without blocking. Messages for a full queue or a
// closed client are dropped.
func (c *WSClient) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.dropped++
	}
}

// closeSend closes the send queue once and returns how many messages the
// client missed.
func (c *WSClient) closeSend() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return c.dropped
}

// readPump handles client requests until the connection fails. A client
// that stops answering pings is dropped after pingInterval+pongTimeout.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	idle := c.hub.pingInterval() + c.hub.pongTimeout()
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	}
	c.conn.SetReadLimit(c.hub.maxMessageSize())
	extend("") //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // see above
		c.handleRequest(data)
	}
}

// writePump is the only writer on conn. It forwards queued messages and
// pings on every tick.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	wait := c.hub.pongTimeout()
	write := func(kind int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
			return err
		}
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest answers a client message. The feed is read-only: clients
// may ping or ask for a fresh snapshot.
func (c *WSClient) handleRequest(data []byte) {
	var req WSMessage
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(WSMessage{Type: WSTypeError, Payload: errorPayload("invalid JSON message")})
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(WSMessage{Type: WSTypePong, ID: req.ID})
	case WSTypeSnapshot:
		c.trySend(c.snapshot())
	default:
		c.reply(WSMessage{Type: WSTypeError, ID: req.ID, Payload: errorPayload("unknown message type: " + req.Type)})
	}
}

func (c *WSClient) reply(msg WSMessage) {
	msg.Timestamp = timestamp()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
