// Package channel wraps the bidirectional push channel that delivers
// remote change and presence envelopes for one document. The adapter holds
// no business logic: it connects, sends best-effort, exposes the inbound
// envelope stream, and reports liveness. Falling back to pull-based refresh
// when liveness is lost belongs to the session controller.
package channel

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syab/docsync/internal/errors"
	"github.com/syab/docsync/internal/logging"
	"github.com/syab/docsync/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// outbound is the client-to-server message shape: an advisory edit
// broadcast. No acknowledgement is awaited.
type outbound struct {
	Type   string           `json:"type"`
	Change models.EditEvent `json:"change"`
}

// Adapter is a websocket implementation of the change channel. The
// envelope stream survives reconnects: Connect after a drop resumes
// delivery into the same channel returned by Events.
type Adapter struct {
	baseURL string
	dialer  *websocket.Dialer

	mu    sync.Mutex
	conn  *websocket.Conn
	alive bool

	events chan models.ChangeEnvelope
}

// NewAdapter creates an Adapter for a relay reachable at baseURL
// (ws://host:port).
func NewAdapter(baseURL string) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		dialer:  websocket.DefaultDialer,
		events:  make(chan models.ChangeEnvelope, 64),
	}
}

// Connect dials the relay room for the document and starts the read pump.
// Calling Connect again after a drop reconnects and resumes the stream.
func (a *Adapter) Connect(ctx context.Context, documentID, userID, username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}

	endpoint := a.baseURL + "/ws/documents/" + documentID +
		"?user_id=" + url.QueryEscape(userID) + "&username=" + url.QueryEscape(username)

	conn, _, err := a.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		a.alive = false
		return errors.Wrap(errors.ErrChannelUnavailable, "failed to connect change channel", err)
	}

	a.conn = conn
	a.alive = true

	go a.readPump(conn)
	go a.pingLoop(conn)

	logging.Info("change channel connected",
		map[string]interface{}{"document_id": documentID})
	return nil
}

// Send broadcasts a local edit, fire-and-forget. No retry is performed:
// the commit path is the authoritative durable path, this is a latency
// optimization only. Returns CHANNEL_UNAVAILABLE when not connected.
func (a *Adapter) Send(event models.EditEvent) error {
	a.mu.Lock()
	conn := a.conn
	alive := a.alive
	a.mu.Unlock()

	if !alive || conn == nil {
		return errors.New(errors.ErrChannelUnavailable, "change channel is not connected")
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(outbound{Type: "edit", Change: event}); err != nil {
		a.drop(conn)
		return errors.Wrap(errors.ErrChannelUnavailable, "broadcast failed", err)
	}
	return nil
}

// Events returns the inbound envelope stream. The channel is never closed;
// it goes quiet while disconnected and resumes after Connect.
func (a *Adapter) Events() <-chan models.ChangeEnvelope {
	return a.events
}

// Alive reports whether the push channel is currently connected.
func (a *Adapter) Alive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

// Close tears down the connection. The adapter may be reused by calling
// Connect again.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.alive = false
	if a.conn != nil {
		err := a.conn.Close()
		a.conn = nil
		return err
	}
	return nil
}

// drop marks the connection dead if it is still the current one.
func (a *Adapter) drop(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == conn {
		a.alive = false
		a.conn.Close()
		a.conn = nil
	}
}

// readPump decodes inbound envelopes until the connection fails, then
// degrades liveness. One pump runs per successful Connect.
func (a *Adapter) readPump(conn *websocket.Conn) {
	defer a.drop(conn)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("change channel read failed",
					map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var env models.ChangeEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			logging.Warn("dropping malformed envelope",
				map[string]interface{}{"error": err.Error()})
			continue
		}

		select {
		case a.events <- env:
		default:
			// Consumer is stalled; shed the oldest rather than block the pump.
			select {
			case <-a.events:
			default:
			}
			a.events <- env
		}
	}
}

// pingLoop keeps the connection alive until it is replaced or dropped.
func (a *Adapter) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		a.mu.Lock()
		current := a.conn == conn
		a.mu.Unlock()
		if !current {
			return
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			a.drop(conn)
			return
		}
	}
}
