// Package service implements the document lifecycle orchestrator: save,
// update, delete, restore and rename, each serialized through the operation
// queue, plus the non-mutating read surface.
package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kiroku/internal/builder"
	"github.com/hyperjump/kiroku/internal/models"
	"github.com/hyperjump/kiroku/internal/preprocess"
	"github.com/hyperjump/kiroku/internal/queue"
	"github.com/hyperjump/kiroku/internal/resource"
	"github.com/hyperjump/kiroku/internal/storage"
	"github.com/hyperjump/kiroku/internal/syncer"
)

// diskBufferBytes is the fixed headroom required on top of the input image
// bytes before a save or update begins.
const diskBufferBytes = 64 << 20

// UploadQueue is the fire-and-forget upload surface consumed by the service.
type UploadQueue interface {
	Enqueue(id string)
}

// Suggester is the suggestion-index surface consumed by the service.
type Suggester interface {
	Put(ctx context.Context, doc *models.Document) error
	Delete(ctx context.Context, id string) error
	Suggest(ctx context.Context, query string, limit int) ([]string, error)
}

// Service is the public entry point of the document core. All mutating
// operations run inside the operation queue; reads go straight to the
// derived index.
type Service struct {
	store   *storage.SQLiteStore
	index   *storage.Index
	layout  storage.Layout
	ops     *queue.Queue
	pre     *preprocess.Processor
	builder *builder.Builder
	guard   *resource.Guard
	remote  syncer.Remote
	uploads UploadQueue
	suggest Suggester
	logger  *zap.Logger
}

// New wires a Service from its collaborators.
func New(
	store *storage.SQLiteStore,
	index *storage.Index,
	layout storage.Layout,
	ops *queue.Queue,
	pre *preprocess.Processor,
	bld *builder.Builder,
	guard *resource.Guard,
	remote syncer.Remote,
	uploads UploadQueue,
	suggest Suggester,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:   store,
		index:   index,
		layout:  layout,
		ops:     ops,
		pre:     pre,
		builder: bld,
		guard:   guard,
		remote:  remote,
		uploads: uploads,
		suggest: suggest,
		logger:  logger,
	}
}

// Save assembles the given finished page images into a new document: it
// validates input, checks disk headroom, preprocesses the images, builds
// the output, commits all files, writes the record and enqueues a remote
// upload. On any failure after partial commits every file written during
// the attempt is removed before the error propagates.
func (s *Service) Save(ctx context.Context, pageImagePaths []string, title string, mode models.ScanMode, opts models.SaveOptions) (*models.Document, error) {
	v, err := s.ops.Enqueue(ctx, "save", func(ctx context.Context) (interface{}, error) {
		return s.doSave(ctx, pageImagePaths, title, mode, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Document), nil
}

func (s *Service) doSave(ctx context.Context, pageImagePaths []string, title string, mode models.ScanMode, opts models.SaveOptions) (*models.Document, error) {
	if err := s.checkInputs(pageImagePaths); err != nil {
		return nil, err
	}

	results, err := s.pre.ProcessAll(ctx, pageImagePaths)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	doc, err := s.commit(ctx, id, results, fallbackTitle(title), mode, opts)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, doc); err != nil {
		s.removeFiles(doc)
		return nil, err
	}

	s.indexSuggestion(ctx, doc)
	s.uploads.Enqueue(doc.ID)
	s.logger.Info("document saved", zap.String("id", doc.ID), zap.Int("pages", doc.PageCount))
	return doc, nil
}

// commit builds the output and moves every artifact into its permanent
// location. On failure all files written so far, including leftover scratch
// files, are removed; no orphans survive.
func (s *Service) commit(ctx context.Context, id string, results []*preprocess.Result, title string, mode models.ScanMode, opts models.SaveOptions) (doc *models.Document, err error) {
	var committed []string
	defer func() {
		if err != nil {
			for _, p := range committed {
				_ = os.Remove(p)
			}
			for _, r := range results {
				_ = os.Remove(r.Path)
			}
		}
	}()

	pages := make([][]byte, len(results))
	for i, r := range results {
		pages[i], err = os.ReadFile(r.Path)
		if err != nil {
			return nil, &models.StorageError{DocumentID: id, Op: "read scratch", Err: err}
		}
	}

	out, err := s.builder.Build(pages, opts, title)
	if err != nil {
		return nil, err
	}

	outPath := s.layout.OutputPath(id, models.FormatPDF.Extension())
	if err = os.WriteFile(outPath, out, 0644); err != nil {
		return nil, &models.StorageError{DocumentID: id, Op: "write output", Err: err}
	}
	committed = append(committed, outPath)

	thumb, err := s.pre.Thumbnail(ctx, results[0].Path)
	if err != nil {
		return nil, err
	}
	thumbPath := s.layout.ThumbnailPath(id)
	if err = os.Rename(thumb.Path, thumbPath); err != nil {
		_ = os.Remove(thumb.Path)
		return nil, &models.StorageError{DocumentID: id, Op: "commit thumbnail", Err: err}
	}
	committed = append(committed, thumbPath)

	pagePaths := make([]string, len(results))
	for i, r := range results {
		dst := s.layout.PageImagePath(id, i)
		if err = os.Rename(r.Path, dst); err != nil {
			return nil, &models.StorageError{DocumentID: id, Op: "commit page image", Err: err}
		}
		committed = append(committed, dst)
		pagePaths[i] = dst
	}

	return &models.Document{
		ID:             id,
		Title:          title,
		File:           models.LocalRef(outPath),
		Thumbnail:      models.LocalRef(thumbPath),
		PageImagePaths: pagePaths,
		Format:         models.FormatPDF,
		PageCount:      len(pagePaths),
		ScanMode:       mode,
		Tags:           opts.Tags,
		Metadata:       builder.EffectiveMetadata(opts, title),
		SyncStatus:     models.SyncPending,
	}, nil
}

// SaveText creates a text-mode document from extracted or typed text.
func (s *Service) SaveText(ctx context.Context, text, title string, opts models.SaveOptions) (*models.Document, error) {
	v, err := s.ops.Enqueue(ctx, "save-text", func(ctx context.Context) (interface{}, error) {
		out, err := s.builder.BuildText(text, opts)
		if err != nil {
			return nil, err
		}

		id := uuid.NewString()
		outPath := s.layout.OutputPath(id, models.FormatText.Extension())
		if err := os.WriteFile(outPath, out, 0644); err != nil {
			return nil, &models.StorageError{DocumentID: id, Op: "write output", Err: err}
		}

		doc := &models.Document{
			ID:          id,
			Title:       fallbackTitle(title),
			File:        models.LocalRef(outPath),
			Format:      models.FormatText,
			TextContent: text,
			Tags:        opts.Tags,
			Metadata:    builder.EffectiveMetadata(opts, fallbackTitle(title)),
			SyncStatus:  models.SyncPending,
		}
		if err := s.store.Create(ctx, doc); err != nil {
			_ = os.Remove(outPath)
			return nil, err
		}
		s.indexSuggestion(ctx, doc)
		s.uploads.Enqueue(doc.ID)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Document), nil
}

// Update rebuilds an existing document from a new set of page images,
// keeping its id and creation time. New files are committed before any old
// file is deleted, so there is never a window without a valid thumbnail.
func (s *Service) Update(ctx context.Context, id string, pageImagePaths []string, title string, opts models.SaveOptions) (*models.Document, error) {
	v, err := s.ops.Enqueue(ctx, "update", func(ctx context.Context) (interface{}, error) {
		return s.doUpdate(ctx, id, pageImagePaths, title, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Document), nil
}

func (s *Service) doUpdate(ctx context.Context, id string, pageImagePaths []string, title string, opts models.SaveOptions) (doc *models.Document, err error) {
	doc, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.IsDeleted {
		return nil, &models.ValidationError{Field: "documentId", Reason: "document is deleted"}
	}
	if err = s.checkInputs(pageImagePaths); err != nil {
		return nil, err
	}

	results, err := s.pre.ProcessAll(ctx, pageImagePaths)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			for _, r := range results {
				_ = os.Remove(r.Path)
			}
		}
	}()

	pages := make([][]byte, len(results))
	for i, r := range results {
		pages[i], err = os.ReadFile(r.Path)
		if err != nil {
			return nil, &models.StorageError{DocumentID: id, Op: "read scratch", Err: err}
		}
	}

	if title != "" {
		doc.Title = title
	}
	out, err := s.builder.Build(pages, opts, doc.Title)
	if err != nil {
		return nil, err
	}

	// Stage every new artifact under a temp name next to its final path.
	// Nothing of the old version is touched until the complete new set is
	// on disk; a failure while staging discards the staged files and leaves
	// the old version fully intact.
	type staged struct{ tmp, final string }
	var stage []staged
	discard := func() {
		for _, st := range stage {
			_ = os.Remove(st.tmp)
		}
	}

	outPath := s.layout.OutputPath(id, models.FormatPDF.Extension())
	outTmp := outPath + ".tmp"
	if err = os.WriteFile(outTmp, out, 0644); err != nil {
		return nil, &models.StorageError{DocumentID: id, Op: "stage output", Err: err}
	}
	stage = append(stage, staged{outTmp, outPath})

	thumb, err := s.pre.Thumbnail(ctx, results[0].Path)
	if err != nil {
		discard()
		return nil, err
	}
	thumbPath := s.layout.ThumbnailPath(id)
	thumbTmp := thumbPath + ".tmp"
	if err = os.Rename(thumb.Path, thumbTmp); err != nil {
		_ = os.Remove(thumb.Path)
		discard()
		return nil, &models.StorageError{DocumentID: id, Op: "stage thumbnail", Err: err}
	}
	stage = append(stage, staged{thumbTmp, thumbPath})

	oldPages := doc.PageImagePaths
	pagePaths := make([]string, len(results))
	for i, r := range results {
		dst := s.layout.PageImagePath(id, i)
		tmp := dst + ".tmp"
		if err = os.Rename(r.Path, tmp); err != nil {
			discard()
			return nil, &models.StorageError{DocumentID: id, Op: "stage page image", Err: err}
		}
		stage = append(stage, staged{tmp, dst})
		pagePaths[i] = dst
	}

	// The full new set exists; swap it in over the old files.
	for _, st := range stage {
		if err = os.Rename(st.tmp, st.final); err != nil {
			discard()
			return nil, &models.StorageError{DocumentID: id, Op: "commit", Err: err}
		}
	}
	// Only now are old page images beyond the new count unreferenced.
	for i := len(results); i < len(oldPages); i++ {
		_ = os.Remove(oldPages[i])
	}

	doc.File = models.LocalRef(outPath)
	doc.Thumbnail = models.LocalRef(thumbPath)
	doc.PageImagePaths = pagePaths
	doc.PageCount = len(pagePaths)
	doc.Tags = opts.Tags
	doc.Metadata = builder.EffectiveMetadata(opts, doc.Title)
	doc.SyncStatus = models.SyncPending

	if err = s.store.Update(ctx, doc); err != nil {
		return nil, err
	}

	s.indexSuggestion(ctx, doc)
	s.uploads.Enqueue(doc.ID)
	s.logger.Info("document updated", zap.String("id", doc.ID), zap.Int("pages", doc.PageCount))
	return doc, nil
}

// Delete removes a document. An uploaded document is soft-deleted unless
// hard is requested: the local marker is set and the remote asked to mirror
// it; if the remote call fails the local marker is rolled back and the
// document flagged with a sync error. A never-uploaded document, or a hard
// request, is purged immediately: best-effort remote delete, all local
// files removed, record dropped.
func (s *Service) Delete(ctx context.Context, id string, hard bool) error {
	_, err := s.ops.Enqueue(ctx, "delete", func(ctx context.Context) (interface{}, error) {
		return nil, s.doDelete(ctx, id, hard)
	})
	return err
}

func (s *Service) doDelete(ctx context.Context, id string, hard bool) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	if doc.Uploaded() && !hard {
		prev := doc.Clone()
		now := time.Now()
		doc.IsDeleted = true
		doc.DeletedAt = &now
		if err := s.store.Update(ctx, doc); err != nil {
			return err
		}
		if err := s.remote.DeleteDocument(ctx, id, doc.File.URL(), doc.Thumbnail.URL(), false); err != nil {
			prev.SyncStatus = models.SyncError
			if aerr := s.store.Apply(ctx, prev); aerr != nil {
				s.logger.Error("failed to roll back soft delete", zap.String("id", id), zap.Error(aerr))
			}
			return fmt.Errorf("remote soft delete failed: %w", err)
		}
		s.deleteSuggestion(ctx, id)
		s.logger.Info("document soft-deleted", zap.String("id", id))
		return nil
	}

	if doc.Uploaded() {
		// Best effort; local purge continues regardless of remote outcome.
		if err := s.remote.DeleteDocument(ctx, id, doc.File.URL(), doc.Thumbnail.URL(), true); err != nil {
			s.logger.Warn("remote purge failed", zap.String("id", id), zap.Error(err))
		}
	}
	s.removeFiles(doc)
	s.deleteSuggestion(ctx, id)
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	s.logger.Info("document hard-deleted", zap.String("id", id))
	return nil
}

// Restore clears the soft-delete marker and, if the document was uploaded,
// queues a metadata update so the remote clears its own deleted flag.
func (s *Service) Restore(ctx context.Context, id string) error {
	_, err := s.ops.Enqueue(ctx, "restore", func(ctx context.Context) (interface{}, error) {
		doc, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !doc.IsDeleted {
			return nil, nil
		}
		doc.IsDeleted = false
		doc.DeletedAt = nil
		if err := s.store.Update(ctx, doc); err != nil {
			return nil, err
		}
		s.indexSuggestion(ctx, doc)
		if doc.Uploaded() {
			s.uploads.Enqueue(id)
		}
		s.logger.Info("document restored", zap.String("id", id))
		return nil, nil
	})
	return err
}

// Rename is a metadata-only update, still routed through the queue for
// ordering safety.
func (s *Service) Rename(ctx context.Context, id, newTitle string) (*models.Document, error) {
	if newTitle == "" {
		return nil, &models.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	v, err := s.ops.Enqueue(ctx, "rename", func(ctx context.Context) (interface{}, error) {
		doc, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		doc.Title = newTitle
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string)
		}
		doc.Metadata[builder.MetaTitle] = newTitle
		doc.SyncStatus = models.SyncPending
		if err := s.store.Update(ctx, doc); err != nil {
			return nil, err
		}
		s.indexSuggestion(ctx, doc)
		s.uploads.Enqueue(id)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Document), nil
}

// Get returns one document record.
func (s *Service) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.store.Get(ctx, id)
}

// GetPage returns one window of the sorted document list.
func (s *Service) GetPage(ctx context.Context, page, pageSize int, sortBy storage.SortField, desc bool) (*storage.Page, error) {
	return s.index.GetPage(ctx, page, pageSize, sortBy, desc)
}

// Suggestions merges local index hits with remote suggestions. Remote
// failures degrade to local-only results.
func (s *Service) Suggestions(ctx context.Context, query string, limit int) ([]string, error) {
	local, err := s.suggest.Suggest(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	remote, err := s.remote.GetSearchSuggestions(ctx, query, limit)
	if err != nil {
		return local, nil
	}

	seen := make(map[string]struct{}, len(local))
	out := make([]string, 0, limit)
	for _, lists := range [][]string{local, remote} {
		for _, t := range lists {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// checkInputs validates the page image paths and verifies disk headroom:
// the input byte total plus a fixed buffer must be free before heavy work
// begins.
func (s *Service) checkInputs(pageImagePaths []string) error {
	if len(pageImagePaths) == 0 {
		return &models.ValidationError{Field: "pageImagePaths", Reason: "must not be empty"}
	}
	var total uint64
	for _, p := range pageImagePaths {
		if p == "" {
			return &models.ValidationError{Field: "pageImagePaths", Reason: "contains an empty path"}
		}
		info, err := os.Stat(p)
		if err != nil {
			return &models.ValidationError{Field: "pageImagePaths", Reason: fmt.Sprintf("cannot stat %s: %v", p, err)}
		}
		total += uint64(info.Size())
	}
	return s.guard.CheckDiskHeadroom(s.layout.Root, total+diskBufferBytes)
}

func (s *Service) removeFiles(doc *models.Document) {
	if p := doc.File.Path(); p != "" {
		_ = os.Remove(p)
	}
	if p := doc.Thumbnail.Path(); p != "" {
		_ = os.Remove(p)
	}
	for _, p := range doc.PageImagePaths {
		_ = os.Remove(p)
	}
}

func (s *Service) indexSuggestion(ctx context.Context, doc *models.Document) {
	if err := s.suggest.Put(ctx, doc); err != nil {
		s.logger.Warn("failed to index suggestion", zap.String("id", doc.ID), zap.Error(err))
	}
}

func (s *Service) deleteSuggestion(ctx context.Context, id string) {
	if err := s.suggest.Delete(ctx, id); err != nil {
		s.logger.Warn("failed to remove suggestion", zap.String("id", id), zap.Error(err))
	}
}

func fallbackTitle(title string) string {
	if title != "" {
		return title
	}
	return "Scan " + time.Now().Format("2006-01-02 15:04")
}
