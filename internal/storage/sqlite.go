// Package storage provides the durable document store, its derived
// in-memory index, pagination, and the on-disk file layout.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kiroku/internal/models"
)

// SQLiteStore is the durable single source of truth for document records.
// Every mutation bumps a generation counter that derived caches compare
// against on read.
type SQLiteStore struct {
	db  *sql.DB
	gen atomic.Uint64
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.gen.Store(1)
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		file_kind INTEGER NOT NULL DEFAULT 0,
		file_value TEXT NOT NULL DEFAULT '',
		thumb_kind INTEGER NOT NULL DEFAULT 0,
		thumb_value TEXT NOT NULL DEFAULT '',
		page_images TEXT NOT NULL DEFAULT '[]',
		format TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 0,
		scan_mode TEXT NOT NULL DEFAULT '',
		text_content TEXT NOT NULL DEFAULT '',
		color_profile TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TIMESTAMP,
		sync_status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);
	CREATE INDEX IF NOT EXISTS idx_documents_is_deleted ON documents(is_deleted);

	CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_pull TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, title, file_kind, file_value, thumb_kind, thumb_value,
	page_images, format, page_count, scan_mode, text_content, color_profile,
	tags, metadata, created_at, updated_at, is_deleted, deleted_at, sync_status`

// Generation returns the current mutation generation. Derived caches hold
// the generation they were built from and rebuild when it moves.
func (s *SQLiteStore) Generation() uint64 { return s.gen.Load() }

// Invalidate bumps the generation without a record mutation, forcing derived
// caches to rebuild on the next read.
func (s *SQLiteStore) Invalidate() { s.gen.Add(1) }

// Create inserts a document, assigning creation and update timestamps.
func (s *SQLiteStore) Create(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.SyncStatus == "" {
		doc.SyncStatus = models.SyncPending
	}
	if err := s.insert(ctx, doc); err != nil {
		return &models.StorageError{DocumentID: doc.ID, Op: "create", Err: err}
	}
	s.gen.Add(1)
	return nil
}

// Get returns a document by id, including soft-deleted ones.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, &models.StorageError{DocumentID: id, Op: "get", Err: models.ErrNotFound}
	}
	if err != nil {
		return nil, &models.StorageError{DocumentID: id, Op: "get", Err: err}
	}
	return doc, nil
}

// Update persists a mutated document, advancing updated_at so that it is
// strictly greater than the previous value.
func (s *SQLiteStore) Update(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	if !now.After(doc.UpdatedAt) {
		now = doc.UpdatedAt.Add(time.Millisecond)
	}
	doc.UpdatedAt = now
	n, err := s.update(ctx, doc)
	if err != nil {
		return &models.StorageError{DocumentID: doc.ID, Op: "update", Err: err}
	}
	if n == 0 {
		return &models.StorageError{DocumentID: doc.ID, Op: "update", Err: models.ErrNotFound}
	}
	s.gen.Add(1)
	return nil
}

// Apply upserts a document verbatim, preserving its timestamps and sync
// status. Used by the sync layer, whose bookkeeping must not count as a
// local mutation.
func (s *SQLiteStore) Apply(ctx context.Context, doc *models.Document) error {
	n, err := s.update(ctx, doc)
	if err != nil {
		return &models.StorageError{DocumentID: doc.ID, Op: "apply", Err: err}
	}
	if n == 0 {
		if err := s.insert(ctx, doc); err != nil {
			return &models.StorageError{DocumentID: doc.ID, Op: "apply", Err: err}
		}
	}
	s.gen.Add(1)
	return nil
}

// Remove hard-deletes the record.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return &models.StorageError{DocumentID: id, Op: "remove", Err: err}
	}
	s.gen.Add(1)
	return nil
}

// List returns documents in natural store order (insertion order). When
// includeDeleted is false, soft-deleted documents are filtered out.
func (s *SQLiteStore) List(ctx context.Context, includeDeleted bool) ([]*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents`
	if !includeDeleted {
		q += ` WHERE is_deleted = 0`
	}
	q += ` ORDER BY rowid`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count returns the number of documents; deleted ones are excluded unless
// includeDeleted is set.
func (s *SQLiteStore) Count(ctx context.Context, includeDeleted bool) (int64, error) {
	q := `SELECT COUNT(*) FROM documents`
	if !includeDeleted {
		q += ` WHERE is_deleted = 0`
	}
	var count int64
	err := s.db.QueryRowContext(ctx, q).Scan(&count)
	return count, err
}

// LastPullTime returns the timestamp of the last successful sync pull, or
// the zero time when no pull has succeeded yet.
func (s *SQLiteStore) LastPullTime(ctx context.Context) (time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT last_pull FROM sync_state WHERE id = 1`).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last pull time: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

// SetLastPullTime records a successful pull. Advanced only on success, so a
// failed pull re-covers the same window.
func (s *SQLiteStore) SetLastPullTime(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (id, last_pull) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET last_pull = excluded.last_pull`, t)
	if err != nil {
		return fmt.Errorf("failed to set last pull time: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) insert(ctx context.Context, doc *models.Document) error {
	pages, tags, meta, err := marshalFields(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, int(doc.File.Kind), doc.File.Value,
		int(doc.Thumbnail.Kind), doc.Thumbnail.Value,
		pages, string(doc.Format), doc.PageCount, string(doc.ScanMode),
		doc.TextContent, string(doc.ColorProfile), tags, meta,
		doc.CreatedAt, doc.UpdatedAt, doc.IsDeleted, nullTime(doc.DeletedAt),
		string(doc.SyncStatus),
	)
	return err
}

func (s *SQLiteStore) update(ctx context.Context, doc *models.Document) (int64, error) {
	pages, tags, meta, err := marshalFields(doc)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, file_kind = ?, file_value = ?,
			thumb_kind = ?, thumb_value = ?, page_images = ?, format = ?,
			page_count = ?, scan_mode = ?, text_content = ?, color_profile = ?,
			tags = ?, metadata = ?, created_at = ?, updated_at = ?,
			is_deleted = ?, deleted_at = ?, sync_status = ?
		 WHERE id = ?`,
		doc.Title, int(doc.File.Kind), doc.File.Value,
		int(doc.Thumbnail.Kind), doc.Thumbnail.Value,
		pages, string(doc.Format), doc.PageCount, string(doc.ScanMode),
		doc.TextContent, string(doc.ColorProfile), tags, meta,
		doc.CreatedAt, doc.UpdatedAt, doc.IsDeleted, nullTime(doc.DeletedAt),
		string(doc.SyncStatus), doc.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func marshalFields(doc *models.Document) (pages, tags, meta string, err error) {
	p, err := json.Marshal(doc.PageImagePaths)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal page images: %w", err)
	}
	t, err := json.Marshal(doc.Tags)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	m, err := json.Marshal(doc.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(p), string(t), string(m), nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var fileKind, thumbKind int
	var pages, tags, meta string
	var format, mode, profile, status string
	var deletedAt sql.NullTime

	err := row.Scan(
		&doc.ID, &doc.Title, &fileKind, &doc.File.Value,
		&thumbKind, &doc.Thumbnail.Value,
		&pages, &format, &doc.PageCount, &mode,
		&doc.TextContent, &profile, &tags, &meta,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.IsDeleted, &deletedAt, &status,
	)
	if err != nil {
		return nil, err
	}
	doc.File.Kind = models.RefKind(fileKind)
	doc.Thumbnail.Kind = models.RefKind(thumbKind)
	doc.Format = models.DocumentFormat(format)
	doc.ScanMode = models.ScanMode(mode)
	doc.ColorProfile = models.ColorProfile(profile)
	doc.SyncStatus = models.SyncStatus(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		doc.DeletedAt = &t
	}
	if err := json.Unmarshal([]byte(pages), &doc.PageImagePaths); err != nil {
		return nil, fmt.Errorf("failed to unmarshal page images: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &doc, nil
}
