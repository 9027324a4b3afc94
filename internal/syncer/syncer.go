package syncer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiroku/internal/models"
	"github.com/hyperjump/kiroku/internal/storage"
)

// Syncer combines the background uploader and the periodic puller, and
// exposes conflict resolution.
type Syncer struct {
	store    *storage.SQLiteStore
	uploader *Uploader
	puller   *Puller
	interval time.Duration
	logger   *zap.Logger
}

// New creates a Syncer pulling every interval.
func New(store *storage.SQLiteStore, uploader *Uploader, puller *Puller, interval time.Duration, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:    store,
		uploader: uploader,
		puller:   puller,
		interval: interval,
		logger:   logger,
	}
}

// Uploader returns the background uploader.
func (s *Syncer) Uploader() *Uploader { return s.uploader }

// Run starts the uploader and pulls on a timer until ctx is cancelled.
// Pull failures are logged and retried on the next tick, never surfaced.
func (s *Syncer) Run(ctx context.Context) {
	s.uploader.Start(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.uploader.Stop()
			return
		case <-ticker.C:
			stats, err := s.puller.Pull(ctx)
			if err != nil {
				if !errors.Is(err, ErrRemoteDisabled) {
					s.logger.Warn("pull cycle failed", zap.Error(err))
				}
				continue
			}
			s.logger.Debug("pull cycle complete",
				zap.Int("inserted", stats.Inserted),
				zap.Int("updated", stats.Updated),
				zap.Int("deleted", stats.Deleted),
				zap.Int("conflicts", stats.Conflicts))
		}
	}
}

// ResolveConflict settles a conflicted document. keepLocal re-queues the
// local copy for upload; otherwise the remote copy is fetched and applied
// as a normal pull would. Resolution is whole-document either way.
func (s *Syncer) ResolveConflict(ctx context.Context, id string, keepLocal bool) error {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.SyncStatus != models.SyncConflict {
		return &models.ValidationError{Field: "id", Reason: "document is not in conflict"}
	}

	if keepLocal {
		doc.SyncStatus = models.SyncPending
		if err := s.store.Apply(ctx, doc); err != nil {
			return err
		}
		s.uploader.Enqueue(id)
		return nil
	}

	remote, err := s.puller.FetchRemote(ctx, id)
	if err != nil {
		return err
	}
	r := remote.Clone()
	r.SyncStatus = models.SyncSynced
	if len(r.PageImagePaths) == 0 {
		r.PageImagePaths = doc.PageImagePaths
	}
	return s.store.Apply(ctx, r)
}
