// Package presence tracks the set of users currently viewing or editing a
// document, sourced from channel presence events.
package presence

import (
	"sort"

	"github.com/syab/docsync/internal/models"
)

// Tracker maintains the membership set for one open document. It is pure
// state: applying events mutates the set and reports the delta, nothing
// else. Like the reconciliation engine it is owned and serialized by the
// session loop, so it carries no lock.
type Tracker struct {
	currentUserID string
	entries       map[string]models.PresenceEntry
}

// NewTracker creates a Tracker for the given current-user identity.
func NewTracker(currentUserID string) *Tracker {
	return &Tracker{
		currentUserID: currentUserID,
		entries:       make(map[string]models.PresenceEntry),
	}
}

// Apply folds a join/leave event into the membership set. It returns the
// event back as the emitted delta and whether membership actually changed
// (duplicate joins and leaves of unknown users do not).
func (t *Tracker) Apply(ev models.PresenceEvent) (models.PresenceEvent, bool) {
	switch ev.Status {
	case models.PresenceJoined:
		if existing, ok := t.entries[ev.UserID]; ok && existing.Username == ev.Username {
			return ev, false
		}
		t.entries[ev.UserID] = models.PresenceEntry{
			UserID:        ev.UserID,
			Username:      ev.Username,
			IsCurrentUser: ev.UserID == t.currentUserID,
		}
		return ev, true
	case models.PresenceLeft:
		if _, ok := t.entries[ev.UserID]; !ok {
			return ev, false
		}
		delete(t.entries, ev.UserID)
		return ev, true
	}
	return ev, false
}

// Lookup returns the presence entry for a user, if present.
func (t *Tracker) Lookup(userID string) (models.PresenceEntry, bool) {
	entry, ok := t.entries[userID]
	return entry, ok
}

// List returns the current membership sorted by username, current user
// last (matching how the editor displays the avatar row).
func (t *Tracker) List() []models.PresenceEntry {
	out := make([]models.PresenceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsCurrentUser != out[j].IsCurrentUser {
			return !out[i].IsCurrentUser
		}
		return out[i].Username < out[j].Username
	})
	return out
}

// Count returns the number of present users.
func (t *Tracker) Count() int {
	return len(t.entries)
}

// Reset clears the membership set, used when the channel reconnects and
// will replay the room's presence.
func (t *Tracker) Reset() {
	t.entries = make(map[string]models.PresenceEntry)
}
