package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout partitions the data directory into the managed file areas:
// scanned_documents/ for final output files, thumbnails/, page_images/
// (one file per page, named by document id and page index), and scratch/
// for preprocessing intermediates.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at dir.
func NewLayout(dir string) Layout { return Layout{Root: dir} }

// DocumentsDir returns the final output file directory.
func (l Layout) DocumentsDir() string { return filepath.Join(l.Root, "scanned_documents") }

// ThumbnailsDir returns the thumbnail directory.
func (l Layout) ThumbnailsDir() string { return filepath.Join(l.Root, "thumbnails") }

// PageImagesDir returns the per-page image directory.
func (l Layout) PageImagesDir() string { return filepath.Join(l.Root, "page_images") }

// ScratchDir returns the preprocessing scratch directory.
func (l Layout) ScratchDir() string { return filepath.Join(l.Root, "scratch") }

// EnsureDirs creates all managed directories.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.DocumentsDir(), l.ThumbnailsDir(), l.PageImagesDir(), l.ScratchDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// OutputPath returns the final output file path for a document.
func (l Layout) OutputPath(id, ext string) string {
	return filepath.Join(l.DocumentsDir(), id+ext)
}

// ThumbnailPath returns the thumbnail path for a document.
func (l Layout) ThumbnailPath(id string) string {
	return filepath.Join(l.ThumbnailsDir(), id+".jpg")
}

// PageImagePath returns the path of one page image, named by document id
// and page index.
func (l Layout) PageImagePath(id string, index int) string {
	return filepath.Join(l.PageImagesDir(), fmt.Sprintf("%s_%d.jpg", id, index))
}
