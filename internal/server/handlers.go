package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kiroku/internal/models"
	"github.com/hyperjump/kiroku/internal/storage"
)

type saveRequest struct {
	PageImagePaths []string `json:"page_image_paths"`
	Title          string   `json:"title"`
	ScanMode       string   `json:"scan_mode"`
	Options        *options `json:"options,omitempty"`
}

type saveTextRequest struct {
	Text    string   `json:"text"`
	Title   string   `json:"title"`
	Options *options `json:"options,omitempty"`
}

type options struct {
	Preset           string            `json:"preset"`
	Paper            string            `json:"paper"`
	DPI              int               `json:"dpi"`
	OpaqueBackground bool              `json:"opaque_background"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
}

func (o *options) toSaveOptions() models.SaveOptions {
	opts := models.DefaultSaveOptions()
	if o == nil {
		return opts
	}
	if o.Preset != "" {
		opts.Preset = models.PresetByName(o.Preset)
	}
	if o.Paper != "" {
		opts.Paper = models.PaperByName(o.Paper)
	}
	if o.DPI > 0 {
		opts.DPI = o.DPI
	}
	opts.OpaqueBackground = o.OpaqueBackground
	opts.Metadata = o.Metadata
	opts.Tags = o.Tags
	return opts
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize <= 0 {
		pageSize = s.config.Pagination.DefaultPageSize
	}
	if pageSize > s.config.Pagination.MaxPageSize {
		pageSize = s.config.Pagination.MaxPageSize
	}
	sortBy := storage.SortFieldByName(q.Get("sort_by"))
	desc := q.Get("desc") == "true"

	result, err := s.svc.GetPage(r.Context(), page, pageSize, sortBy, desc)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSaveDocument(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("save request", zap.Int("pages", len(req.PageImagePaths)), zap.String("title", req.Title))
	doc, err := s.svc.Save(r.Context(), req.PageImagePaths, req.Title,
		models.ScanMode(req.ScanMode), req.Options.toSaveOptions())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleSaveText(w http.ResponseWriter, r *http.Request) {
	var req saveTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc, err := s.svc.SaveText(r.Context(), req.Text, req.Title, req.Options.toSaveOptions())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRenameDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc, err := s.svc.Rename(r.Context(), id, body.Title)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hard := r.URL.Query().Get("hard") == "true"
	s.logger.Debug("delete request", zap.String("id", id), zap.Bool("hard", hard))
	if err := s.svc.Delete(r.Context(), id, hard); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRestoreDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Restore(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		KeepLocal bool `json:"keep_local"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.sync.ResolveConflict(r.Context(), id, body.KeepLocal); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}
	suggestions, err := s.svc.Suggestions(r.Context(), query, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	active, err := s.store.Count(ctx, false)
	if err != nil {
		s.logger.Error("status: count failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.store.Count(ctx, true)
	if err != nil {
		s.logger.Error("status: count failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents":         active,
		"documents_total":   total,
		"documents_deleted": total - active,
	}
	diskBytes, err := storage.DiskUsageBytes(
		s.layout.DocumentsDir(),
		s.layout.ThumbnailsDir(),
		s.layout.PageImagesDir(),
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondServiceError maps the typed error kinds onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	var sizeErr *models.BuildSizeExceededError
	var diskErr *models.DiskSpaceError
	var imgErr *models.ImageProcessingError
	switch {
	case errors.As(err, &vErr):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &sizeErr), errors.As(err, &diskErr):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &imgErr):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
