// Package store provides the SQLite-backed document store: the durable side
// of the save path, plus the change history and version checkpoints the
// relay and API serve from.
package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/syab/docsync/internal/errors"
	"github.com/syab/docsync/internal/models"
	"github.com/syab/docsync/internal/uuid"
)

// Store provides CRUD operations over documents, their change history and
// version checkpoints. Statements are prepared on first use and cached.
type Store struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to open database", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(errors.ErrDatabase, "failed to configure database", err)
		}
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.ErrDatabase, "failed to migrate schema", err)
	}

	return &Store{db: db}, nil
}

// NewStore wraps an already-open, migrated database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// prepareStmt gets or creates a prepared statement from the cache.
func (s *Store) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to prepare statement", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached statements and the database handle.
func (s *Store) Close() error {
	s.stmtCache.Range(func(_, value interface{}) bool {
		value.(*sql.Stmt).Close()
		return true
	})
	return s.db.Close()
}

// CreateDocument creates a new, empty document owned by ownerID.
func (s *Store) CreateDocument(ctx context.Context, title, ownerID string) (*models.DocumentSnapshot, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New(errors.ErrInvalid, "document title cannot be empty")
	}
	if ownerID == "" {
		return nil, errors.New(errors.ErrInvalid, "owner id is required")
	}

	now := time.Now()
	doc := &models.DocumentSnapshot{
		ID:        uuid.New(),
		Title:     title,
		OwnerID:   ownerID,
		UpdatedAt: now,
	}

	query := `INSERT INTO documents (id, title, content, owner_id, shared, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.Title, doc.Content, doc.OwnerID, doc.Shared, now.Unix()); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to create document", err)
	}
	return doc, nil
}

// GetDocument retrieves the current persisted snapshot.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.DocumentSnapshot, error) {
	query := `SELECT id, title, content, owner_id, shared, updated_at
			  FROM documents WHERE id = ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	var doc models.DocumentSnapshot
	var updatedAt int64
	err = stmt.QueryRowContext(ctx, id).Scan(
		&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.Shared, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrDocumentNotFound, "document not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to get document", err)
	}
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

// EditDocument persists content as the new document state and records the
// change attributed to userID, atomically.
func (s *Store) EditDocument(ctx context.Context, id, userID, content string, kind models.ChangeKind) (*models.DocumentSnapshot, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New(errors.ErrEmptyContent, "document content cannot be empty")
	}

	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE documents SET content = ?, updated_at = ? WHERE id = ?",
		content, now.Unix(), id)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to update document", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to update document", err)
	}
	if affected == 0 {
		return nil, errors.New(errors.ErrDocumentNotFound, "document not found")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_changes (document_id, user_id, content, kind, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, userID, content, string(kind), now.Unix()); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to record change", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to commit edit", err)
	}

	return s.GetDocument(ctx, id)
}

// ListDocumentsByOwner returns the owner's documents, most recently updated
// first.
func (s *Store) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.DocumentSnapshot, error) {
	query := `SELECT id, title, content, owner_id, shared, updated_at
			  FROM documents WHERE owner_id = ? ORDER BY updated_at DESC`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list documents", err)
	}
	defer rows.Close()

	docs := []models.DocumentSnapshot{}
	for rows.Next() {
		var doc models.DocumentSnapshot
		var updatedAt int64
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.Shared, &updatedAt); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan document", err)
		}
		doc.UpdatedAt = time.Unix(updatedAt, 0)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ListChanges returns the document's change history, newest first, capped
// at limit (<=0 means a default of 50).
func (s *Store) ListChanges(ctx context.Context, documentID string, limit int) ([]models.EditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT document_id, user_id, content, kind, created_at
			  FROM document_changes WHERE document_id = ?
			  ORDER BY created_at DESC, id DESC LIMIT ?`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, documentID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list changes", err)
	}
	defer rows.Close()

	changes := []models.EditEvent{}
	for rows.Next() {
		var ev models.EditEvent
		var kind string
		var createdAt int64
		if err := rows.Scan(&ev.DocumentID, &ev.UserID, &ev.Content, &kind, &createdAt); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan change", err)
		}
		ev.Kind = models.ChangeKind(kind)
		ev.Timestamp = time.Unix(createdAt, 0)
		changes = append(changes, ev)
	}
	return changes, rows.Err()
}

// CreateVersion records a named checkpoint of the document content.
func (s *Store) CreateVersion(ctx context.Context, id, userID, content, label string) (*models.VersionRecord, error) {
	if _, err := s.GetDocument(ctx, id); err != nil {
		return nil, err
	}

	now := time.Now()
	record := &models.VersionRecord{
		ID:         uuid.New(),
		DocumentID: id,
		UserID:     userID,
		Content:    content,
		Label:      label,
		CreatedAt:  now,
	}

	query := `INSERT INTO document_versions (id, document_id, user_id, content, label, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		record.ID, record.DocumentID, record.UserID, record.Content, record.Label, now.Unix()); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to create version", err)
	}
	return record, nil
}

// ListVersions returns the document's checkpoints, newest first.
func (s *Store) ListVersions(ctx context.Context, documentID string) ([]models.VersionRecord, error) {
	query := `SELECT id, document_id, user_id, content, label, created_at
			  FROM document_versions WHERE document_id = ? ORDER BY created_at DESC, id DESC`
	stmt, err := s.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, documentID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list versions", err)
	}
	defer rows.Close()

	versions := []models.VersionRecord{}
	for rows.Next() {
		var v models.VersionRecord
		var createdAt int64
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.UserID, &v.Content, &v.Label, &createdAt); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan version", err)
		}
		v.CreatedAt = time.Unix(createdAt, 0)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
