package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syab/docsync/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // generous: whole-document payloads
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client is one websocket connection inside a document room.
type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	documentID string
	userID     string
	username   string
}

// trySend queues a payload for the write pump; false means the client is
// too slow and should be dropped.
func (c *client) trySend(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// ServeWS upgrades an HTTP request into a room member. The document ID
// comes from the route, the user identity from query parameters.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")
	username := r.URL.Query().Get("username")
	if documentID == "" || userID == "" {
		http.Error(w, "document id and user_id are required", http.StatusBadRequest)
		return
	}
	if username == "" {
		username = "Anonymous"
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed",
			map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 64),
		documentID: documentID,
		userID:     userID,
		username:   username,
	}

	select {
	case h.register <- c:
	case <-h.stop:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump forwards client messages to the hub until the connection dies,
// then unregisters.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("client read error",
					map[string]interface{}{
						"document_id": c.documentID,
						"user_id":     c.userID,
						"error":       err.Error(),
					})
			}
			return
		}
		c.hub.handleInbound(c, raw)
	}
}

// writePump drains the send queue to the connection and keeps it alive
// with pings. Exits when the hub closes the send channel.
func (c *client) writePump() {
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
