package syncer

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/kiroku/internal/models"
	"github.com/hyperjump/kiroku/internal/storage"
)

// Uploader pushes finished documents to the remote in the background.
// Callers fire and forget; a failed attempt is retried with exponential
// backoff up to a bounded count, then the document is flagged with a sync
// error. Callers are never blocked on network success.
type Uploader struct {
	store      *storage.SQLiteStore
	remote     Remote
	logger     *zap.Logger
	maxRetries uint64
	initialGap time.Duration

	jobs     chan string
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithInitialBackoff overrides the first retry interval.
func WithInitialBackoff(d time.Duration) UploaderOption {
	return func(u *Uploader) { u.initialGap = d }
}

// NewUploader creates an uploader with a bounded job queue.
func NewUploader(store *storage.SQLiteStore, remote Remote, queueSize, maxRetries int, logger *zap.Logger, opts ...UploaderOption) *Uploader {
	if queueSize <= 0 {
		queueSize = 128
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	u := &Uploader{
		store:      store,
		remote:     remote,
		logger:     logger,
		maxRetries: uint64(maxRetries),
		initialGap: 500 * time.Millisecond,
		jobs:       make(chan string, queueSize),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Start launches the worker. It runs until ctx is cancelled or Stop is called.
func (u *Uploader) Start(ctx context.Context) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-u.done:
				return
			case id := <-u.jobs:
				u.process(ctx, id)
			}
		}
	}()
}

// Stop shuts the worker down after the in-flight upload finishes.
func (u *Uploader) Stop() {
	u.stopOnce.Do(func() { close(u.done) })
	u.wg.Wait()
}

// Enqueue submits a document id for upload without blocking. When the queue
// is full the job is dropped and the document keeps its pending status; a
// later save, pull or resolve re-queues it.
func (u *Uploader) Enqueue(id string) {
	select {
	case u.jobs <- id:
	default:
		u.logger.Warn("upload queue full, dropping job", zap.String("id", id))
	}
}

func (u *Uploader) process(ctx context.Context, id string) {
	doc, err := u.store.Get(ctx, id)
	if err != nil {
		u.logger.Warn("upload skipped, record missing", zap.String("id", id), zap.Error(err))
		return
	}
	if doc.IsDeleted {
		return
	}

	op := func() error {
		if errors.Is(ctx.Err(), context.Canceled) {
			return backoff.Permanent(ctx.Err())
		}
		return u.attempt(ctx, doc)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.initialGap
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, u.maxRetries), ctx))
	if err != nil {
		u.logger.Warn("upload failed after retries", zap.String("id", id), zap.Error(err))
		if _, aerr := u.commitIfUnchanged(ctx, doc, func(cur *models.Document) {
			cur.SyncStatus = models.SyncError
		}); aerr != nil {
			u.logger.Error("failed to flag sync error", zap.String("id", id), zap.Error(aerr))
		}
		return
	}
	u.logger.Info("upload finished", zap.String("id", id))
}

// attempt performs one upload round-trip for the snapshot. A document whose
// file is already remote only needs a metadata update (rename, restore and
// similar record-only changes).
func (u *Uploader) attempt(ctx context.Context, snap *models.Document) error {
	if snap.Uploaded() {
		if err := u.remote.UpdateDocumentMetadata(ctx, snap); err != nil {
			return err
		}
		_, err := u.commitIfUnchanged(ctx, snap, func(cur *models.Document) {
			cur.SyncStatus = models.SyncSynced
		})
		return err
	}

	fileURL, thumbURL, err := u.remote.UploadDocument(ctx, snap, snap.File.Path(), snap.Thumbnail.Path())
	if err != nil {
		return err
	}

	localFile := snap.File.Path()
	localThumb := snap.Thumbnail.Path()
	committed, err := u.commitIfUnchanged(ctx, snap, func(cur *models.Document) {
		cur.File = models.RemoteRef(fileURL)
		if thumbURL != "" {
			cur.Thumbnail = models.RemoteRef(thumbURL)
		}
		cur.SyncStatus = models.SyncSynced
	})
	if err != nil || !committed {
		return err
	}

	// A remote ref means the upload completed; the local output copy is
	// now redundant and may be discarded. Page images stay for edits.
	if localFile != "" {
		_ = os.Remove(localFile)
	}
	if thumbURL != "" && localThumb != "" {
		_ = os.Remove(localThumb)
	}
	return nil
}

// commitIfUnchanged re-reads the record and applies mutate to the current
// row, touching only the fields the uploader owns. When updatedAt has moved
// since the snapshot was taken the commit is skipped: the mutation that
// moved it re-queued the document, so the newer state wins and this upload's
// result is stale.
func (u *Uploader) commitIfUnchanged(ctx context.Context, snap *models.Document, mutate func(*models.Document)) (bool, error) {
	cur, err := u.store.Get(ctx, snap.ID)
	if err != nil {
		return false, err
	}
	if !cur.UpdatedAt.Equal(snap.UpdatedAt) || cur.IsDeleted != snap.IsDeleted {
		u.logger.Debug("upload commit skipped, record changed underneath",
			zap.String("id", snap.ID))
		return false, nil
	}
	mutate(cur)
	if err := u.store.Apply(ctx, cur); err != nil {
		return false, err
	}
	return true, nil
}
