package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var errConnClosed = errors.New("connection closed")

// Connection is one agent websocket with a buffered write loop.
type Connection struct {
	ID      string
	StaffID string

	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newConnection(staffID string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:      uuid.NewString(),
		StaffID: staffID,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		closed:  make(chan struct{}),
	}
}

// Send queues payload without blocking. A client that falls a full buffer
// behind is disconnected.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

// Close terminates the connection once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// readLoop drains client frames so control frames are processed, and returns
// when the peer goes away.
func (c *Connection) readLoop() {
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
