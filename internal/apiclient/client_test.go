package apiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/syab/docsync/internal/errors"
	"github.com/syab/docsync/internal/httpapi"
	"github.com/syab/docsync/internal/models"
	"github.com/syab/docsync/internal/store"
)

type staticProfiles map[string]string

func (p staticProfiles) Profile(userID string) (*models.Profile, bool) {
	name, ok := p[userID]
	if !ok {
		return nil, false
	}
	return &models.Profile{ID: userID, Username: name}, true
}

// newTestClient wires the client against the real API and store, so the
// round trip covers both sides of the wire format.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "client_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mux := http.NewServeMux()
	httpapi.NewHandler(s, nil, staticProfiles{"user-b": "bob"}).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return New(srv.URL)
}

func TestDocumentRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	doc, err := c.CreateDocument(ctx, "Remote notes", "user-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := c.EditDocument(ctx, doc.ID, "user-a", "written remotely", models.ChangeKindUpdate)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if updated.Content != "written remotely" {
		t.Errorf("content = %q", updated.Content)
	}

	got, err := c.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "written remotely" {
		t.Errorf("round trip content = %q", got.Content)
	}

	changes, err := c.ListChanges(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 1 || changes[0].UserID != "user-a" {
		t.Errorf("changes = %+v", changes)
	}
}

func TestGetDocument_notFoundCode(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetDocument(context.Background(), "missing-doc")
	if !errors.Is(err, errors.ErrDocumentNotFound) {
		t.Errorf("err = %v, want DOCUMENT_NOT_FOUND", err)
	}
}

func TestEditDocument_serverCodePreserved(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	doc, err := c.CreateDocument(ctx, "Strict", "user-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = c.EditDocument(ctx, doc.ID, "user-a", "   ", models.ChangeKindUpdate)
	if !errors.Is(err, errors.ErrEmptyContent) {
		t.Errorf("err = %v, want EMPTY_CONTENT carried over the wire", err)
	}
}

func TestEditDocument_transportFailure(t *testing.T) {
	c := New("http://127.0.0.1:1")

	_, err := c.EditDocument(context.Background(), "doc-1", "user-a", "content", models.ChangeKindUpdate)
	if !errors.Is(err, errors.ErrPersistenceFailure) {
		t.Errorf("err = %v, want PERSISTENCE_FAILURE", err)
	}
}

func TestCreateVersion(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	doc, err := c.CreateDocument(ctx, "Versioned", "user-a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.EditDocument(ctx, doc.ID, "user-a", "checkpoint me", models.ChangeKindUpdate); err != nil {
		t.Fatalf("edit: %v", err)
	}

	version, err := c.CreateVersion(ctx, doc.ID, "user-a", "checkpoint me", "v1")
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if version.Label != "v1" || version.Content != "checkpoint me" {
		t.Errorf("version = %+v", version)
	}
}

func TestGetProfile(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	profile, err := c.GetProfile(ctx, "user-b")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if profile.Username != "bob" {
		t.Errorf("username = %q, want bob", profile.Username)
	}

	_, err = c.GetProfile(ctx, "ghost")
	if !errors.Is(err, errors.ErrProfileLookupFailed) {
		t.Errorf("err = %v, want PROFILE_LOOKUP_FAILED", err)
	}
}

func TestListDocuments(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	c.CreateDocument(ctx, "One", "user-a")
	c.CreateDocument(ctx, "Two", "user-a")

	docs, err := c.ListDocuments(ctx, "user-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("docs = %d, want 2", len(docs))
	}
}
