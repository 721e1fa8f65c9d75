// Package httpapi exposes the document store over JSON HTTP: the durable
// save path editors commit through, plus history, versions and listings.
// Every successful edit is fanned out to the document's relay room after
// the write commits, so subscribers only ever see durable content.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/syab/docsync/internal/errors"
	"github.com/syab/docsync/internal/logging"
	"github.com/syab/docsync/internal/models"
)

// Store is the persistence collaborator behind the API.
type Store interface {
	CreateDocument(ctx context.Context, title, ownerID string) (*models.DocumentSnapshot, error)
	GetDocument(ctx context.Context, id string) (*models.DocumentSnapshot, error)
	EditDocument(ctx context.Context, id, userID, content string, kind models.ChangeKind) (*models.DocumentSnapshot, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.DocumentSnapshot, error)
	ListChanges(ctx context.Context, documentID string, limit int) ([]models.EditEvent, error)
	CreateVersion(ctx context.Context, id, userID, content, label string) (*models.VersionRecord, error)
	ListVersions(ctx context.Context, documentID string) ([]models.VersionRecord, error)
}

// Broadcaster fans persisted changes out to connected editors. A nil
// broadcaster disables fan-out.
type Broadcaster interface {
	BroadcastChange(documentID string, doc *models.DocumentSnapshot, change *models.EditEvent)
}

// ProfileSource resolves user IDs to display profiles. A nil source makes
// every lookup a 404.
type ProfileSource interface {
	Profile(userID string) (*models.Profile, bool)
}

// Handler holds the API route implementations.
type Handler struct {
	store       Store
	broadcaster Broadcaster
	profiles    ProfileSource
}

// NewHandler creates a Handler over the given collaborators.
func NewHandler(store Store, broadcaster Broadcaster, profiles ProfileSource) *Handler {
	return &Handler{store: store, broadcaster: broadcaster, profiles: profiles}
}

// Register mounts all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /documents", h.createDocument)
	mux.HandleFunc("GET /documents", h.listDocuments)
	mux.HandleFunc("GET /documents/{id}", h.getDocument)
	mux.HandleFunc("PUT /documents/{id}", h.editDocument)
	mux.HandleFunc("GET /documents/{id}/changes", h.listChanges)
	mux.HandleFunc("POST /documents/{id}/versions", h.createVersion)
	mux.HandleFunc("GET /documents/{id}/versions", h.listVersions)
	mux.HandleFunc("GET /users/{id}", h.getProfile)
}

type createDocumentRequest struct {
	Title   string `json:"title"`
	OwnerID string `json:"owner_id"`
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrInvalid, "invalid request body"))
		return
	}

	doc, err := h.store.CreateDocument(r.Context(), req.Title, req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, errors.New(errors.ErrInvalid, "owner_id query parameter is required"))
		return
	}

	docs, err := h.store.ListDocumentsByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type editDocumentRequest struct {
	UserID  string            `json:"user_id"`
	Content string            `json:"content"`
	Kind    models.ChangeKind `json:"kind"`
}

func (h *Handler) editDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req editDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrInvalid, "invalid request body"))
		return
	}
	if req.UserID == "" {
		writeError(w, errors.New(errors.ErrInvalid, "user_id is required"))
		return
	}
	if req.Kind == "" {
		req.Kind = models.ChangeKindUpdate
	}

	doc, err := h.store.EditDocument(r.Context(), id, req.UserID, req.Content, req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}

	// Fan out only after the write is durable.
	if h.broadcaster != nil {
		change := models.NewEditEvent(id, req.UserID, req.Content, req.Kind)
		h.broadcaster.BroadcastChange(id, doc, &change)
	}

	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) listChanges(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, errors.New(errors.ErrInvalid, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	changes, err := h.store.ListChanges(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

type createVersionRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
	Label   string `json:"label"`
}

func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.ErrInvalid, "invalid request body"))
		return
	}
	if req.UserID == "" {
		writeError(w, errors.New(errors.ErrInvalid, "user_id is required"))
		return
	}

	// A checkpoint with no explicit content snapshots the current state.
	if req.Content == "" {
		doc, err := h.store.GetDocument(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		req.Content = doc.Content
	}

	version, err := h.store.CreateVersion(r.Context(), id, req.UserID, req.Content, req.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.ListVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	if h.profiles == nil {
		writeError(w, errors.New(errors.ErrNotFound, "user not found"))
		return
	}
	profile, ok := h.profiles.Profile(r.PathValue("id"))
	if !ok {
		writeError(w, errors.New(errors.ErrNotFound, "user not found"))
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", err, nil)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	var body errorBody
	body.Error.Code = string(code)
	if appErr, ok := err.(*errors.AppError); ok {
		body.Error.Message = appErr.Message
	} else {
		body.Error.Message = "internal error"
	}

	writeJSON(w, statusFor(code), body)
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalid, errors.ErrEmptyContent:
		return http.StatusBadRequest
	case errors.ErrNotFound, errors.ErrDocumentNotFound:
		return http.StatusNotFound
	case errors.ErrSaveInProgress, errors.ErrSessionAlreadyOpen:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
