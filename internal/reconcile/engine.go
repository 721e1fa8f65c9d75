// Package reconcile implements the client-side reconciliation engine for
// one open document: it owns the in-memory document state, merges inbound
// remote snapshots with local unsaved edits, and drives the durable save
// path through the persistence collaborator.
package reconcile

import (
	"context"
	"strings"

	"github.com/syab/docsync/internal/errors"
	"github.com/syab/docsync/internal/logging"
	"github.com/syab/docsync/internal/models"
)

// Persistence is the durable document store collaborator. Transport and
// server failures are reported as PERSISTENCE_FAILURE errors; the engine
// treats any such failure uniformly.
type Persistence interface {
	// CreateDocument creates a new, empty document owned by ownerID.
	CreateDocument(ctx context.Context, title, ownerID string) (*models.DocumentSnapshot, error)

	// EditDocument persists content as the new state of the document and
	// records the change attributed to userID.
	EditDocument(ctx context.Context, id, userID, content string, kind models.ChangeKind) (*models.DocumentSnapshot, error)

	// GetDocument fetches the current persisted snapshot.
	GetDocument(ctx context.Context, id string) (*models.DocumentSnapshot, error)

	// CreateVersion records a named checkpoint of the document content.
	CreateVersion(ctx context.Context, id, userID, content, label string) (*models.VersionRecord, error)
}

// State is the derived reconciliation state for the open document. It is
// never persisted. LocalContent == LastSyncedContent implies no unsaved
// local edits exist.
type State struct {
	LocalContent      string
	LastSyncedContent string
	PendingConflict   *models.ConflictRecord
}

// Dirty reports whether unsaved local edits exist.
func (s State) Dirty() bool {
	return s.LocalContent != s.LastSyncedContent
}

// Engine is the reconciliation state machine for one open document.
//
// The engine is not safe for concurrent use: the session controller
// serializes every call through its single event loop, so no lock guards
// the document state itself. Collaborator calls are the only suspension
// points, and the Begin/FinishCommit split keeps them off the loop.
type Engine struct {
	persistence Persistence
	userID      string

	snapshot   *models.DocumentSnapshot
	local      string
	lastSynced string
	conflict   *models.ConflictRecord

	// snapshot carried by the pending conflict, adopted on accept
	conflictSnapshot *models.DocumentSnapshot

	loaded        bool
	createPending bool
	saving        bool
}

// NewEngine creates an Engine for the given user identity. LoadInitial or
// LoadNew must be called before any edit is accepted.
func NewEngine(persistence Persistence, userID string) *Engine {
	return &Engine{
		persistence: persistence,
		userID:      userID,
	}
}

// LoadInitial seeds the engine with the fetched snapshot of an existing
// document. It must be called exactly once per session.
func (e *Engine) LoadInitial(snap *models.DocumentSnapshot) error {
	if e.loaded {
		return errors.New(errors.ErrInternal, "initial snapshot already loaded")
	}
	if snap == nil {
		return errors.New(errors.ErrInvalid, "nil snapshot")
	}
	e.snapshot = snap.Clone()
	e.local = snap.Content
	e.lastSynced = snap.Content
	e.loaded = true
	return nil
}

// LoadNew seeds the engine with a snapshot the session itself just created.
// The first successful commit is tagged CREATE instead of UPDATE.
func (e *Engine) LoadNew(snap *models.DocumentSnapshot) error {
	if err := e.LoadInitial(snap); err != nil {
		return err
	}
	e.createPending = true
	return nil
}

// ApplyLocalEdit records a keystroke flush. It always succeeds; the autosave
// and broadcast debounce resets are side effects owned by the session.
func (e *Engine) ApplyLocalEdit(text string) {
	e.local = text
}

// BeginCommit validates and captures the content for a save, marking a save
// in flight. The caller performs the persistence call (possibly off-loop)
// and reports back through FinishCommit.
func (e *Engine) BeginCommit() (content string, kind models.ChangeKind, err error) {
	if !e.loaded {
		return "", "", errors.New(errors.ErrInternal, "no document loaded")
	}
	if e.saving {
		return "", "", errors.New(errors.ErrSaveInProgress, "save already in flight")
	}
	if strings.TrimSpace(e.local) == "" {
		return "", "", errors.New(errors.ErrEmptyContent, "document content cannot be empty")
	}
	kind = models.ChangeKindUpdate
	if e.createPending {
		kind = models.ChangeKindCreate
	}
	e.saving = true
	return e.local, kind, nil
}

// FinishCommit applies the outcome of the persistence call started by
// BeginCommit. On failure local state is left unchanged so no work is lost.
// On success LastSyncedContent becomes the content captured at BeginCommit;
// local edits made while the commit was in flight stay ahead of it.
func (e *Engine) FinishCommit(content string, snap *models.DocumentSnapshot, commitErr error) error {
	e.saving = false
	if commitErr != nil {
		if _, ok := commitErr.(*errors.AppError); ok {
			return commitErr
		}
		return errors.Wrap(errors.ErrPersistenceFailure, "failed to save document", commitErr)
	}
	e.lastSynced = content
	if snap != nil {
		e.snapshot = snap.Clone()
	}
	e.createPending = false
	return nil
}

// CommitLocalEdit persists the current local content synchronously. On
// success LastSyncedContent is advanced and the updated snapshot returned.
// Fails with EMPTY_CONTENT without calling the collaborator when the local
// content is blank, or with PERSISTENCE_FAILURE when the collaborator call
// fails; in both cases local state is unchanged.
func (e *Engine) CommitLocalEdit(ctx context.Context) (*models.DocumentSnapshot, error) {
	content, kind, err := e.BeginCommit()
	if err != nil {
		return nil, err
	}
	snap, saveErr := e.persistence.EditDocument(ctx, e.snapshot.ID, e.userID, content, kind)
	if err := e.FinishCommit(content, snap, saveErr); err != nil {
		return nil, err
	}
	return e.snapshot.Clone(), nil
}

// OnRemoteUpdate reconciles an inbound change envelope against the current
// state and returns the conflict it raised, if any.
//
// Rules, given inbound content S:
//  1. S equals LastSyncedContent: no-op (duplicate or echo of a change this
//     client already has).
//  2. No unsaved local edits: adopt S silently.
//  3. Local has unsaved edits. A self-originated event (the echo of this
//     client's own save arriving after it typed further) advances
//     LastSyncedContent only; a foreign event raises a pending conflict and
//     leaves LastSyncedContent unchanged until resolution.
func (e *Engine) OnRemoteUpdate(env models.ChangeEnvelope) *models.ConflictRecord {
	if !e.loaded {
		return nil
	}

	incoming := env.ContentOf()
	if incoming == e.lastSynced {
		return nil
	}

	if e.local == e.lastSynced {
		e.local = incoming
		e.lastSynced = incoming
		if env.Document != nil {
			e.snapshot = env.Document.Clone()
		}
		return nil
	}

	authorID := env.AuthorOf()
	if authorID != "" && authorID == e.userID {
		// Echo of our own save; local typing is already ahead of it.
		e.lastSynced = incoming
		if env.Document != nil {
			e.snapshot = env.Document.Clone()
		}
		return nil
	}

	conflict := &models.ConflictRecord{
		IncomingContent: incoming,
		AuthorID:        authorID,
		SelfOriginated:  false,
	}
	e.conflict = conflict
	e.conflictSnapshot = env.Document.Clone()

	logging.Warn("remote change diverged from local edits",
		map[string]interface{}{
			"document_id": e.snapshot.ID,
			"author_id":   authorID,
		})

	return conflict.Clone()
}

// ResolveConflict settles the pending conflict. Accepting adopts the
// incoming content as both local and last-synced state; rejecting only
// clears the conflict, so the user's edits win locally until their next
// save or the next remote update.
func (e *Engine) ResolveConflict(accept bool) {
	if e.conflict == nil {
		return
	}
	if accept {
		e.local = e.conflict.IncomingContent
		e.lastSynced = e.conflict.IncomingContent
		if e.conflictSnapshot != nil {
			e.snapshot = e.conflictSnapshot
		}
	}
	e.conflict = nil
	e.conflictSnapshot = nil
}

// AttributeConflict attaches a resolved author name to the pending
// conflict, if it still belongs to the same author.
func (e *Engine) AttributeConflict(authorID, name string) *models.ConflictRecord {
	if e.conflict == nil || e.conflict.AuthorID != authorID {
		return nil
	}
	e.conflict.AuthorName = name
	return e.conflict.Clone()
}

// State returns a copy of the current reconciliation state.
func (e *Engine) State() State {
	return State{
		LocalContent:      e.local,
		LastSyncedContent: e.lastSynced,
		PendingConflict:   e.conflict.Clone(),
	}
}

// Snapshot returns a copy of the last accepted document snapshot.
func (e *Engine) Snapshot() *models.DocumentSnapshot {
	return e.snapshot.Clone()
}

// Dirty reports whether unsaved local edits exist.
func (e *Engine) Dirty() bool {
	return e.local != e.lastSynced
}

// Saving reports whether a commit is in flight.
func (e *Engine) Saving() bool {
	return e.saving
}

// Loaded reports whether an initial snapshot has been loaded.
func (e *Engine) Loaded() bool {
	return e.loaded
}
