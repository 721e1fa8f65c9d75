package models

// ConflictRecord captures a remote change that diverged from local unsaved
// edits and awaits explicit user resolution. It is created by the
// reconciliation engine, destroyed on apply, ignore, or supersession by a
// newer inbound event.
type ConflictRecord struct {
	IncomingContent string `json:"incoming_content"`
	AuthorID        string `json:"author_id"`
	// AuthorName is display attribution resolved from presence or a profile
	// lookup. Empty when unresolved; never blocks the conflict itself.
	AuthorName     string `json:"author_name,omitempty"`
	SelfOriginated bool   `json:"self_originated"`
}

// Clone returns a copy of the conflict record.
func (c *ConflictRecord) Clone() *ConflictRecord {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
