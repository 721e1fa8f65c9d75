// Package apiclient is the editor-side HTTP client for the document API.
// It implements the persistence and profile-lookup collaborators the
// session controller depends on, mapping transport and server failures to
// the error codes the reconciliation engine understands.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/syab/docsync/internal/errors"
	"github.com/syab/docsync/internal/models"
)

// Client talks to a docsync server at a base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the server at baseURL (http://host:port).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateDocument creates a new, empty document owned by ownerID.
func (c *Client) CreateDocument(ctx context.Context, title, ownerID string) (*models.DocumentSnapshot, error) {
	var doc models.DocumentSnapshot
	err := c.do(ctx, http.MethodPost, "/documents",
		map[string]string{"title": title, "owner_id": ownerID}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocument fetches the current persisted snapshot.
func (c *Client) GetDocument(ctx context.Context, id string) (*models.DocumentSnapshot, error) {
	var doc models.DocumentSnapshot
	if err := c.do(ctx, http.MethodGet, "/documents/"+id, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// EditDocument persists content as the new document state.
func (c *Client) EditDocument(ctx context.Context, id, userID, content string, kind models.ChangeKind) (*models.DocumentSnapshot, error) {
	var doc models.DocumentSnapshot
	err := c.do(ctx, http.MethodPut, "/documents/"+id,
		map[string]string{"user_id": userID, "content": content, "kind": string(kind)}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateVersion records a named checkpoint of the document content.
func (c *Client) CreateVersion(ctx context.Context, id, userID, content, label string) (*models.VersionRecord, error) {
	var version models.VersionRecord
	err := c.do(ctx, http.MethodPost, "/documents/"+id+"/versions",
		map[string]string{"user_id": userID, "content": content, "label": label}, &version)
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// ListDocuments returns the owner's documents.
func (c *Client) ListDocuments(ctx context.Context, ownerID string) ([]models.DocumentSnapshot, error) {
	var docs []models.DocumentSnapshot
	if err := c.do(ctx, http.MethodGet, "/documents?owner_id="+ownerID, nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ListChanges returns the document's change history, newest first.
func (c *Client) ListChanges(ctx context.Context, documentID string) ([]models.EditEvent, error) {
	var changes []models.EditEvent
	if err := c.do(ctx, http.MethodGet, "/documents/"+documentID+"/changes", nil, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// GetProfile resolves a user ID to a display profile. Failures are reported
// as PROFILE_LOOKUP_FAILED regardless of cause; attribution is best effort.
func (c *Client) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	if err := c.do(ctx, http.MethodGet, "/users/"+userID, nil, &profile); err != nil {
		return nil, errors.Wrap(errors.ErrProfileLookupFailed, "failed to resolve user profile", err)
	}
	return &profile, nil
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(errors.ErrInternal, "failed to encode request", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrPersistenceFailure, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.asError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(errors.ErrPersistenceFailure, "failed to decode response", err)
		}
	}
	return nil
}

// asError turns a non-2xx response into an AppError, preserving the
// server's error code when the body carries one.
func (c *Client) asError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Code != "" {
		return errors.New(errors.ErrorCode(body.Error.Code), body.Error.Message)
	}

	if resp.StatusCode == http.StatusNotFound {
		return errors.New(errors.ErrDocumentNotFound, "document not found")
	}
	return errors.New(errors.ErrPersistenceFailure,
		fmt.Sprintf("server returned status %d", resp.StatusCode))
}
