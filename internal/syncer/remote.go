// Package syncer reconciles local and remote document state under
// unreliable connectivity: background uploads with retry, pull-based merge
// with last-write-wins, and explicit conflict resolution.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hyperjump/kiroku/internal/models"
)

// ErrRemoteDisabled is returned by the disabled remote used when no sync
// endpoint is configured.
var ErrRemoteDisabled = errors.New("remote sync is disabled")

// Remote is the consumed contract of the remote document store.
type Remote interface {
	// UploadDocument pushes the output file and thumbnail and returns their
	// remote URLs.
	UploadDocument(ctx context.Context, doc *models.Document, filePath, thumbPath string) (fileURL, thumbURL string, err error)
	// DeleteDocument requests a soft or hard delete on the remote.
	DeleteDocument(ctx context.Context, id, fileURL, thumbURL string, hard bool) error
	// GetDocumentsSince returns remote documents updated after since.
	GetDocumentsSince(ctx context.Context, since time.Time) ([]*models.Document, error)
	// UpdateDocumentMetadata pushes record fields without re-uploading files.
	UpdateDocumentMetadata(ctx context.Context, doc *models.Document) error
	// GetSearchSuggestions returns remote title suggestions for a query.
	GetSearchSuggestions(ctx context.Context, query string, limit int) ([]string, error)
}

// Disabled is a Remote that rejects every call. Documents stay local with
// pending sync status.
type Disabled struct{}

func (Disabled) UploadDocument(context.Context, *models.Document, string, string) (string, string, error) {
	return "", "", ErrRemoteDisabled
}

func (Disabled) DeleteDocument(context.Context, string, string, string, bool) error {
	return ErrRemoteDisabled
}

func (Disabled) GetDocumentsSince(context.Context, time.Time) ([]*models.Document, error) {
	return nil, ErrRemoteDisabled
}

func (Disabled) UpdateDocumentMetadata(context.Context, *models.Document) error {
	return ErrRemoteDisabled
}

func (Disabled) GetSearchSuggestions(context.Context, string, int) ([]string, error) {
	return nil, ErrRemoteDisabled
}

// HTTPRemote implements Remote against a JSON/multipart HTTP service.
type HTTPRemote struct {
	base   string
	client *http.Client
}

// NewHTTPRemote creates a client for the service at base.
func NewHTTPRemote(base string) *HTTPRemote {
	return &HTTPRemote{
		base:   base,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type uploadResponse struct {
	FileURL      string `json:"file_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// UploadDocument sends the record plus the output file and thumbnail as a
// multipart request.
func (r *HTTPRemote) UploadDocument(ctx context.Context, doc *models.Document, filePath, thumbPath string) (string, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	recordJSON, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := mw.WriteField("document", string(recordJSON)); err != nil {
		return "", "", fmt.Errorf("failed to write document field: %w", err)
	}
	if err := attachFile(mw, "file", filePath); err != nil {
		return "", "", err
	}
	if thumbPath != "" {
		if err := attachFile(mw, "thumbnail", thumbPath); err != nil {
			return "", "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/documents", &body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", "", fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return out.FileURL, out.ThumbnailURL, nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to copy %s: %w", path, err)
	}
	return nil
}

// DeleteDocument requests a delete on the remote.
func (r *HTTPRemote) DeleteDocument(ctx context.Context, id, fileURL, thumbURL string, hard bool) error {
	payload, err := json.Marshal(map[string]interface{}{
		"file_url":      fileURL,
		"thumbnail_url": thumbURL,
		"hard":          hard,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		r.base+"/documents/"+url.PathEscape(id), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}
	return nil
}

// GetDocumentsSince fetches remote documents updated after since.
func (r *HTTPRemote) GetDocumentsSince(ctx context.Context, since time.Time) ([]*models.Document, error) {
	u := r.base + "/documents?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull failed with status %d", resp.StatusCode)
	}
	var docs []*models.Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode pull response: %w", err)
	}
	return docs, nil
}

// UpdateDocumentMetadata pushes record fields without file content.
func (r *HTTPRemote) UpdateDocumentMetadata(ctx context.Context, doc *models.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		r.base+"/documents/"+url.PathEscape(doc.ID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("metadata update request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata update failed with status %d", resp.StatusCode)
	}
	return nil
}

// GetSearchSuggestions returns remote title suggestions.
func (r *HTTPRemote) GetSearchSuggestions(ctx context.Context, query string, limit int) ([]string, error) {
	u := r.base + "/suggestions?q=" + url.QueryEscape(query) + "&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suggestions request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggestions failed with status %d", resp.StatusCode)
	}
	var out []string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}
	return out, nil
}
