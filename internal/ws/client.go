package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Define constants for socket timeouts and buffer sizes.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	authWait       = 10 * time.Second
	maxMessageSize = 8192
	sendBufferSize = 256
)

// Client represents one live client attachment: the websocket connection,
// its exclusively-owned outbound buffer, and the identity established at
// admission. id stays empty until the session gate approves the connection.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	id          string
	userID      string
	displayName string
}

// ServeWs upgrades an HTTP request to a websocket connection and starts the
// client's read and write loops. The connection is not admitted into the
// registry until it authenticates.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hub.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	go client.writePump()
	go client.readPump()
}

// authenticated reports whether the session gate has admitted this client.
func (c *Client) authenticated() bool {
	return c.id != ""
}

// enqueue buffers a payload for delivery on this connection without going
// through the registry. Used for replies to connections that may not be
// admitted yet. Delivery is best-effort: a full buffer drops the payload.
func (c *Client) enqueue(payload []byte) bool {
	if payload == nil {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// readPump reads inbound events in a loop and hands them to the hub's
// router. It owns the read side of the connection; on exit the client is
// queued for cleanup.
func (c *Client) readPump() {
	defer func() {
		c.hub.queueDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	// The first event must be a valid auth within authWait.
	c.conn.SetReadDeadline(time.Now().Add(authWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Debug("WebSocket read error")
			}
			return
		}
		if !c.hub.HandleMessage(c, raw) {
			return
		}
	}
}

// writePump writes buffered payloads to the connection and keeps it alive
// with periodic pings. One goroutine per connection; a closed send channel
// ends the loop.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
