package preprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// PruneScratch removes old scratch files to bound disk growth from repeated
// partial operations. The keep newest files survive; anything older than
// maxAge is removed regardless.
func (p *Processor) PruneScratch(keep int, maxAge time.Duration) error {
	entries, err := os.ReadDir(p.scratchDir)
	if err != nil {
		return fmt.Errorf("failed to read scratch directory: %w", err)
	}

	type scratchFile struct {
		path    string
		modTime time.Time
	}
	files := make([]scratchFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, scratchFile{
			path:    filepath.Join(p.scratchDir, e.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	cutoff := time.Now().Add(-maxAge)
	for i, f := range files {
		if i >= keep || f.modTime.Before(cutoff) {
			_ = os.Remove(f.path)
		}
	}
	return nil
}
