package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.pdf"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b.jpg"), make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	total, err := DiskUsageBytes(dir)
	if err != nil {
		t.Fatal(err)
	}
	if total != 150 {
		t.Errorf("got %d, want 150", total)
	}

	// Missing paths contribute zero instead of failing.
	total, err = DiskUsageBytes(dir, filepath.Join(dir, "missing"), "")
	if err != nil {
		t.Fatal(err)
	}
	if total != 150 {
		t.Errorf("got %d, want 150", total)
	}

	// A plain file counts its own size.
	total, err = DiskUsageBytes(filepath.Join(dir, "a.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if total != 100 {
		t.Errorf("got %d, want 100", total)
	}
}
