package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kiroku/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testDocument(id, title string) *models.Document {
	return &models.Document{
		ID:             id,
		Title:          title,
		File:           models.LocalRef("/data/scanned_documents/" + id + ".pdf"),
		Thumbnail:      models.LocalRef("/data/thumbnails/" + id + ".jpg"),
		PageImagePaths: []string{"/data/page_images/" + id + "_0.jpg"},
		Format:         models.FormatPDF,
		PageCount:      1,
		ScanMode:       models.ModeDocument,
		Tags:           []string{},
		Metadata:       map[string]string{},
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDocument("d1", "Receipts")
	if err := store.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() || doc.UpdatedAt.IsZero() {
		t.Error("create should assign timestamps")
	}
	if doc.SyncStatus != models.SyncPending {
		t.Errorf("expected pending sync status, got %s", doc.SyncStatus)
	}

	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Receipts" {
		t.Errorf("got title %s", got.Title)
	}
	if !got.File.IsLocal() || got.File.Path() != doc.File.Path() {
		t.Errorf("file ref did not round-trip: %+v", got.File)
	}
	if len(got.PageImagePaths) != 1 {
		t.Errorf("page images did not round-trip: %v", got.PageImagePaths)
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	var sErr *models.StorageError
	if !errors.As(err, &sErr) || sErr.Op != "get" {
		t.Errorf("expected StorageError with op get, got %v", err)
	}
}

func TestUpdateAdvancesUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := testDocument("d1", "Old")
	if err := store.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	// Even with a wall clock that has not moved past the stored value,
	// each update must be strictly newer than the previous one.
	doc.UpdatedAt = time.Now().Add(time.Minute)
	before := doc.UpdatedAt
	doc.Title = "New"
	if err := store.Update(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if !doc.UpdatedAt.After(before) {
		t.Errorf("updated_at did not advance: %v -> %v", before, doc.UpdatedAt)
	}

	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "New" {
		t.Errorf("got title %s", got.Title)
	}
}

func TestUpdateMissing(t *testing.T) {
	store := newTestStore(t)
	doc := testDocument("missing", "x")
	err := store.Update(context.Background(), doc)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyPreservesTimestamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := testDocument("d1", "Remote copy")
	doc.CreatedAt = stamp
	doc.UpdatedAt = stamp
	doc.SyncStatus = models.SyncSynced

	// Apply on a missing record inserts verbatim.
	if err := store.Apply(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(stamp) {
		t.Errorf("apply must not touch updated_at: %v", got.UpdatedAt)
	}
	if got.SyncStatus != models.SyncSynced {
		t.Errorf("got sync status %s", got.SyncStatus)
	}

	// Apply on an existing record upserts, still verbatim.
	got.SyncStatus = models.SyncError
	if err := store.Apply(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if again.SyncStatus != models.SyncError || !again.UpdatedAt.Equal(stamp) {
		t.Errorf("apply upsert mangled record: %s %v", again.SyncStatus, again.UpdatedAt)
	}
}

func TestListFiltersSoftDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, testDocument(id, id)); err != nil {
			t.Fatal(err)
		}
	}
	doc, err := store.Get(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	doc.IsDeleted = true
	doc.DeletedAt = &now
	if err := store.Update(ctx, doc); err != nil {
		t.Fatal(err)
	}

	active, err := store.List(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active documents, got %d", len(active))
	}
	for _, d := range active {
		if d.ID == "b" {
			t.Error("soft-deleted document leaked into active list")
		}
	}

	all, err := store.List(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 total documents, got %d", len(all))
	}

	activeCount, _ := store.Count(ctx, false)
	totalCount, _ := store.Count(ctx, true)
	if activeCount != 2 || totalCount != 3 {
		t.Errorf("counts: active=%d total=%d", activeCount, totalCount)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, testDocument("d1", "x")); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "d1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestGenerationMovesOnMutation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	g0 := store.Generation()
	if err := store.Create(ctx, testDocument("d1", "x")); err != nil {
		t.Fatal(err)
	}
	g1 := store.Generation()
	if g1 == g0 {
		t.Error("create should bump the generation")
	}
	store.Invalidate()
	if store.Generation() == g1 {
		t.Error("invalidate should bump the generation")
	}
}

func TestLastPullTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.LastPullTime(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero time before first pull, got %v", got)
	}

	stamp := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)
	if err := store.SetLastPullTime(ctx, stamp); err != nil {
		t.Fatal(err)
	}
	got, err = store.LastPullTime(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(stamp) {
		t.Errorf("got %v, want %v", got, stamp)
	}

	// Upsert path: a second set overwrites.
	later := stamp.Add(time.Hour)
	if err := store.SetLastPullTime(ctx, later); err != nil {
		t.Fatal(err)
	}
	got, _ = store.LastPullTime(ctx)
	if !got.Equal(later) {
		t.Errorf("got %v, want %v", got, later)
	}
}
