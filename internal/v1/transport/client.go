package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConnection is the subset of *websocket.Conn the client pump needs,
// narrowed to an interface so tests can fake a connection without a real
// socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// clientEnvelope is the client→server wire frame: a named event, its
// positional (still-encoded) args, and an optional ack correlation id.
type clientEnvelope struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
	AckID string            `json:"ackId,omitempty"`
}

// serverEventEnvelope is a server→client fan-out or unicast frame.
type serverEventEnvelope struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// ackEnvelope is the reply to one client command.
type ackEnvelope struct {
	AckID string `json:"ackId"`
	Error any    `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type wsClient struct {
	id   SocketID
	conn wsConnection

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	send chan []byte
}

func newWsClient(id SocketID, conn wsConnection) *wsClient {
	return &wsClient{id: id, conn: conn, send: make(chan []byte, 64)}
}

func (c *wsClient) enqueue(data []byte) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("transport: client send buffer full, dropping message", "socket", c.id)
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("transport: write failed", "socket", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump(onCommand func(env clientEnvelope), onClose func()) {
	defer func() {
		c.conn.Close()
		onClose()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var env clientEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("transport: malformed frame", "socket", c.id, "error", err)
			continue
		}
		onCommand(env)
	}
}
