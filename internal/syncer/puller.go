package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiroku/internal/models"
	"github.com/hyperjump/kiroku/internal/storage"
)

// PullStats summarizes one pull cycle.
type PullStats struct {
	Inserted  int
	Updated   int
	Deleted   int
	Conflicts int
	Unchanged int
}

// Puller applies remote changes to the local store. Resolution is whole
// document: last-write-wins by updatedAt, or an explicit conflict marker
// when local is strictly newer. Fields are never merged.
type Puller struct {
	store  *storage.SQLiteStore
	remote Remote
	logger *zap.Logger
}

// NewPuller creates a Puller.
func NewPuller(store *storage.SQLiteStore, remote Remote, logger *zap.Logger) *Puller {
	return &Puller{store: store, remote: remote, logger: logger}
}

// Pull fetches remote documents updated since the last successful pull and
// merges each one. The last-pull timestamp advances only when the whole
// cycle succeeds, so a failed pull re-covers the same window.
func (p *Puller) Pull(ctx context.Context) (*PullStats, error) {
	since, err := p.store.LastPullTime(ctx)
	if err != nil {
		return nil, err
	}
	pullStart := time.Now()

	remoteDocs, err := p.remote.GetDocumentsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}

	stats := &PullStats{}
	for _, remote := range remoteDocs {
		if err := p.merge(ctx, remote, stats); err != nil {
			return nil, err
		}
	}

	if err := p.store.SetLastPullTime(ctx, pullStart); err != nil {
		return nil, err
	}
	return stats, nil
}

func (p *Puller) merge(ctx context.Context, remote *models.Document, stats *PullStats) error {
	local, err := p.store.Get(ctx, remote.ID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}
		// No local copy: insert as synced.
		r := remote.Clone()
		r.SyncStatus = models.SyncSynced
		if err := p.store.Apply(ctx, r); err != nil {
			return err
		}
		stats.Inserted++
		return nil
	}

	switch {
	case remote.IsDeleted && !local.IsDeleted:
		local.IsDeleted = true
		if remote.DeletedAt != nil {
			t := *remote.DeletedAt
			local.DeletedAt = &t
		} else {
			now := time.Now()
			local.DeletedAt = &now
		}
		local.SyncStatus = models.SyncSynced
		if err := p.store.Apply(ctx, local); err != nil {
			return err
		}
		stats.Deleted++

	case remote.UpdatedAt.After(local.UpdatedAt):
		// Last-write-wins: remote overwrites local, including timestamps.
		// A standing conflict marker is superseded once the remote side
		// has advanced past the local edit.
		r := remote.Clone()
		r.SyncStatus = models.SyncSynced
		if len(r.PageImagePaths) == 0 {
			// Page images are device-local; the remote record does not
			// carry usable paths for this device.
			r.PageImagePaths = local.PageImagePaths
		}
		if err := p.store.Apply(ctx, r); err != nil {
			return err
		}
		stats.Updated++

	case local.UpdatedAt.After(remote.UpdatedAt):
		// Local is newer: never silently discarded. Requires explicit
		// resolution; the marker persists across pulls until resolved or
		// superseded.
		if local.SyncStatus != models.SyncConflict {
			local.SyncStatus = models.SyncConflict
			if err := p.store.Apply(ctx, local); err != nil {
				return err
			}
		}
		stats.Conflicts++
		p.logger.Info("sync conflict detected", zap.String("id", local.ID))

	default:
		// Equal timestamps: no data change.
		if local.SyncStatus != models.SyncSynced {
			local.SyncStatus = models.SyncSynced
			if err := p.store.Apply(ctx, local); err != nil {
				return err
			}
		}
		stats.Unchanged++
	}
	return nil
}

// FetchRemote returns the current remote copy of one document, or
// ErrNotFound when the remote does not have it.
func (p *Puller) FetchRemote(ctx context.Context, id string) (*models.Document, error) {
	docs, err := p.remote.GetDocumentsSince(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, models.ErrNotFound
}
