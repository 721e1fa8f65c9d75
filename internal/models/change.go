package models

import "time"

// ChangeKind classifies an edit attempt.
type ChangeKind string

const (
	ChangeKindCreate ChangeKind = "CREATE"
	ChangeKindUpdate ChangeKind = "UPDATE"
)

// EditEvent represents one change attempt, local or remote. Events are
// immutable: constructed at the point of intent (keystroke flush or channel
// receipt) and discarded after processing.
type EditEvent struct {
	DocumentID string     `db:"document_id" json:"document_id"`
	UserID     string     `db:"user_id" json:"user_id"`
	Content    string     `db:"content" json:"content"`
	Kind       ChangeKind `db:"kind" json:"kind"`
	Timestamp  time.Time  `db:"created_at" json:"timestamp"`
}

// TableName returns the table name for EditEvent change rows.
func (EditEvent) TableName() string {
	return "document_changes"
}

// NewEditEvent constructs an EditEvent stamped with the current time.
func NewEditEvent(documentID, userID, content string, kind ChangeKind) EditEvent {
	return EditEvent{
		DocumentID: documentID,
		UserID:     userID,
		Content:    content,
		Kind:       kind,
		Timestamp:  time.Now(),
	}
}

// EnvelopeType identifies the payload carried by a ChangeEnvelope.
type EnvelopeType string

const (
	EnvelopeInit     EnvelopeType = "init"
	EnvelopeChange   EnvelopeType = "change"
	EnvelopePresence EnvelopeType = "presence"
)

// ChangeEnvelope is the wire envelope delivered over the change channel.
// A "change" envelope carries the resulting snapshot plus the edit that
// produced it; a "presence" envelope carries a join/leave notification.
type ChangeEnvelope struct {
	Type     EnvelopeType      `json:"type"`
	Document *DocumentSnapshot `json:"document,omitempty"`
	Change   *EditEvent        `json:"change,omitempty"`
	Presence *PresenceEvent    `json:"presence,omitempty"`
}

// ContentOf returns the document content the envelope carries, preferring
// the snapshot over the raw change.
func (e ChangeEnvelope) ContentOf() string {
	if e.Document != nil {
		return e.Document.Content
	}
	if e.Change != nil {
		return e.Change.Content
	}
	return ""
}

// AuthorOf returns the user ID that authored the change, if known.
func (e ChangeEnvelope) AuthorOf() string {
	if e.Change != nil {
		return e.Change.UserID
	}
	return ""
}
