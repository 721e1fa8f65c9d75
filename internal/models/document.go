// Package models provides data model definitions for docsync.
package models

import "time"

// DocumentSnapshot is the last known persisted state of a document.
// Snapshots are replaced wholesale on every accepted update and never
// mutated in place.
type DocumentSnapshot struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	Shared    bool      `db:"is_shared" json:"is_shared"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for DocumentSnapshot.
func (DocumentSnapshot) TableName() string {
	return "documents"
}

// Clone returns a copy of the snapshot.
func (d *DocumentSnapshot) Clone() *DocumentSnapshot {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// VersionRecord is a named checkpoint of a document's content.
type VersionRecord struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Content    string    `db:"content" json:"content"`
	Label      string    `db:"label" json:"label"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the table name for VersionRecord.
func (VersionRecord) TableName() string {
	return "document_versions"
}
