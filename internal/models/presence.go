package models

// PresenceStatus is the membership transition carried by a presence event.
type PresenceStatus string

const (
	PresenceJoined PresenceStatus = "joined"
	PresenceLeft   PresenceStatus = "left"
)

// PresenceEvent is a join/leave notification for a document room.
type PresenceEvent struct {
	UserID   string         `json:"user_id"`
	Username string         `json:"username"`
	Status   PresenceStatus `json:"status"`
}

// PresenceEntry is one member of a document's current viewer set.
type PresenceEntry struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	IsCurrentUser bool   `json:"is_current_user"`
}

// Profile is the result of a user profile lookup, used for conflict author
// attribution when the author is not in the presence set.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}
