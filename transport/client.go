package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"relay-lab/domain"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 * 1024
)

// Client is one admitted connection. The principal is bound once at
// handshake time and never changes; nil means the connection is
// anonymous and will never be a targeted-delivery destination.
type Client struct {
	ID        string
	Principal *domain.Principal

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	log  *slog.Logger

	closeOnce sync.Once
}

func newClient(id string, principal *domain.Principal, hub *Hub,
	conn *websocket.Conn, sendBuffer int, log *slog.Logger) *Client {
	return &Client{
		ID:        id,
		Principal: principal,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		log:       log.With("connection_id", id),
	}
}

// UserID returns the bound subject, or "" for anonymous connections.
func (c *Client) UserID() string {
	if c.Principal == nil {
		return ""
	}
	return c.Principal.Subject
}

// readPump drains client frames. Subscription frames are handled inline
// (cheap map update); application frames go to the bounded inbound
// queue. Exits on any read error and always unregisters exactly once.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Connection closed abnormally", "error", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("Dropping unparseable frame", "error", err)
			continue
		}

		if frame.IsSubscription() {
			c.hub.subscribe(c, frame.Destination)
			continue
		}

		c.hub.enqueueInbound(InboundMessage{Client: c, Frame: frame})
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. A closed done channel means the hub dropped the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("Write failed, dropping connection", "error", err)
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}
