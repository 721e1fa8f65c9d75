// Package relay implements the server side of the change channel: a
// websocket hub with one room per document that fans out change and
// presence envelopes to every connected editor.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/syab/docsync/internal/logging"
	"github.com/syab/docsync/internal/models"
)

// Snapshots is the read side of the document store used to seed new room
// members with the current document state.
type Snapshots interface {
	GetDocument(ctx context.Context, id string) (*models.DocumentSnapshot, error)
}

type message struct {
	documentID string
	payload    []byte
}

type sizeQuery struct {
	documentID string
	reply      chan int
}

type profileQuery struct {
	userID string
	reply  chan *models.Profile
}

// Hub owns every document room. All membership changes and fan-outs go
// through its run loop, so the room maps need no locking.
type Hub struct {
	snapshots Snapshots

	register   chan *client
	unregister chan *client
	broadcast  chan message
	sizeReq    chan sizeQuery
	profileReq chan profileQuery
	stop       chan struct{}

	rooms map[string]map[*client]bool
}

// NewHub creates a Hub. Run must be called for it to do anything.
func NewHub(snapshots Snapshots) *Hub {
	return &Hub{
		snapshots:  snapshots,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, 64),
		sizeReq:    make(chan sizeQuery),
		profileReq: make(chan profileQuery),
		stop:       make(chan struct{}),
		rooms:      make(map[string]map[*client]bool),
	}
}

// Run processes registrations and fan-outs until Stop is called. It is
// meant to run as a dedicated goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case msg := <-h.broadcast:
			h.fanOut(msg.documentID, msg.payload)
		case q := <-h.sizeReq:
			q.reply <- len(h.rooms[q.documentID])
		case q := <-h.profileReq:
			q.reply <- h.findProfile(q.userID)
		case <-h.stop:
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.rooms = make(map[string]map[*client]bool)
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	close(h.stop)
}

// BroadcastChange fans a persisted change out to the document's room. Called
// by the HTTP layer after a successful save, so readers always receive
// already-durable content.
func (h *Hub) BroadcastChange(documentID string, doc *models.DocumentSnapshot, change *models.EditEvent) {
	env := models.ChangeEnvelope{
		Type:     models.EnvelopeChange,
		Document: doc,
		Change:   change,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		logging.Error("failed to encode change envelope", err, nil)
		return
	}
	select {
	case h.broadcast <- message{documentID: documentID, payload: payload}:
	case <-h.stop:
	}
}

// RoomSize reports the number of clients in a document's room, answered by
// the run loop. The value is immediately stale; meant for tests and
// diagnostics.
func (h *Hub) RoomSize(documentID string) int {
	reply := make(chan int, 1)
	select {
	case h.sizeReq <- sizeQuery{documentID: documentID, reply: reply}:
		return <-reply
	case <-h.stop:
		return 0
	}
}

// Profile resolves a connected user's identity from room membership. The
// relay carries no user directory; a user who is not currently connected
// anywhere cannot be resolved.
func (h *Hub) Profile(userID string) (*models.Profile, bool) {
	reply := make(chan *models.Profile, 1)
	select {
	case h.profileReq <- profileQuery{userID: userID, reply: reply}:
		p := <-reply
		return p, p != nil
	case <-h.stop:
		return nil, false
	}
}

func (h *Hub) findProfile(userID string) *models.Profile {
	for _, room := range h.rooms {
		for c := range room {
			if c.userID == userID {
				return &models.Profile{ID: c.userID, Username: c.username}
			}
		}
	}
	return nil
}

func (h *Hub) addClient(c *client) {
	room := h.rooms[c.documentID]
	if room == nil {
		room = make(map[*client]bool)
		h.rooms[c.documentID] = room
	}

	// Tell the newcomer who is already here.
	for existing := range room {
		c.trySend(presencePayload(existing.userID, existing.username, models.PresenceJoined))
	}

	room[c] = true

	// Seed the newcomer with the current document state.
	if h.snapshots != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		doc, err := h.snapshots.GetDocument(ctx, c.documentID)
		cancel()
		if err == nil {
			env := models.ChangeEnvelope{Type: models.EnvelopeInit, Document: doc}
			if payload, err := json.Marshal(env); err == nil {
				c.trySend(payload)
			}
		}
	}

	h.fanOut(c.documentID, presencePayload(c.userID, c.username, models.PresenceJoined))

	logging.Info("client joined document room",
		map[string]interface{}{
			"document_id": c.documentID,
			"user_id":     c.userID,
			"room_size":   len(room),
		})
}

func (h *Hub) removeClient(c *client) {
	room := h.rooms[c.documentID]
	if room == nil || !room[c] {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.documentID)
	}

	h.fanOut(c.documentID, presencePayload(c.userID, c.username, models.PresenceLeft))

	logging.Info("client left document room",
		map[string]interface{}{
			"document_id": c.documentID,
			"user_id":     c.userID,
		})
}

// fanOut delivers a payload to every client in the room, the sender
// included: editors suppress their own echoes.
func (h *Hub) fanOut(documentID string, payload []byte) {
	for c := range h.rooms[documentID] {
		if !c.trySend(payload) {
			delete(h.rooms[documentID], c)
			close(c.send)
		}
	}
}

// handleInbound turns a client's advisory edit into a change envelope for
// its room. Inbound drafts are not persisted here; the durable path is the
// HTTP save.
func (h *Hub) handleInbound(c *client, raw []byte) {
	var in struct {
		Type   string           `json:"type"`
		Change models.EditEvent `json:"change"`
	}
	if err := json.Unmarshal(raw, &in); err != nil || in.Type != "edit" {
		logging.Warn("dropping malformed client message",
			map[string]interface{}{"document_id": c.documentID})
		return
	}

	in.Change.DocumentID = c.documentID
	in.Change.UserID = c.userID
	if in.Change.Timestamp.IsZero() {
		in.Change.Timestamp = time.Now()
	}

	env := models.ChangeEnvelope{Type: models.EnvelopeChange, Change: &in.Change}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- message{documentID: c.documentID, payload: payload}:
	case <-h.stop:
	}
}

func presencePayload(userID, username string, status models.PresenceStatus) []byte {
	env := models.ChangeEnvelope{
		Type:     models.EnvelopePresence,
		Presence: &models.PresenceEvent{UserID: userID, Username: username, Status: status},
	}
	payload, _ := json.Marshal(env)
	return payload
}
