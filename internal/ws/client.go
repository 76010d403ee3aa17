package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aichat/relay/internal/logger"
	"github.com/aichat/relay/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Outbound buffer per connection.
	sendBuffer = 256
)

// Client owns one WebSocket connection and its session. Outbound events go
// through the buffered send channel so the write pump is the only goroutine
// writing to the socket.
type Client struct {
	ID   string
	Sess *session.Session

	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(id string, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:     id,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Emit implements session.Emitter: best-effort, ordered delivery to this
// connection. Frames are dropped if the peer cannot keep up.
func (c *Client) Emit(event string, payload any) {
	env := Envelope{Type: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			logger.L.Error("marshal outbound payload", "event", event, "error", err)
			return
		}
		env.Payload = data
	}
	frame, err := json.Marshal(env)
	if err != nil {
		logger.L.Error("marshal outbound envelope", "event", event, "error", err)
		return
	}
	select {
	case c.send <- frame:
	default:
		logger.L.Warn("send buffer full, dropping event", "client", c.ID, "event", event)
	}
}

// readPump reads frames from the connection and dispatches them until the
// connection closes. Runs as the connection's reader goroutine.
func (c *Client) readPump(s *Server) {
	defer func() {
		s.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L.Warn("websocket read error", "client", c.ID, "error", err)
			}
			return
		}

		event, err := DecodeInbound(data)
		if err != nil {
			logger.L.Debug("rejected inbound frame", "client", c.ID, "error", err)
			c.Emit(EventError, ErrorPayload{Message: err.Error()})
			continue
		}
		s.handleEvent(c, event)
	}
}

// writePump writes queued frames and pings until the send channel closes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
