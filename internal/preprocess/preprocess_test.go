package preprocess

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kiroku/internal/config"
	"github.com/hyperjump/kiroku/internal/models"
	"github.com/hyperjump/kiroku/internal/resource"
)

// testConfig keeps the low-memory values equal to the normal ones so results
// do not depend on the machine running the tests.
func testConfig() config.ProcessingConfig {
	return config.ProcessingConfig{
		MaxLongEdgePx:       500,
		LowMemLongEdgePx:    500,
		JPEGQuality:         85,
		LowMemJPEGQuality:   85,
		ThumbnailLongEdgePx: 100,
		Parallelism:         4,
	}
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := NewProcessor(filepath.Join(t.TempDir(), "scratch"), resource.NewGuard(), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessCapsLongEdge(t *testing.T) {
	p := newTestProcessor(t)
	dir := t.TempDir()
	src := writeJPEG(t, dir, "big.jpg", 1000, 600)

	res, err := p.Process(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != 500 {
		t.Errorf("long edge not capped: %dx%d", res.Width, res.Height)
	}
	if res.Height != 300 {
		t.Errorf("aspect ratio broken: %dx%d", res.Width, res.Height)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("scratch file missing: %v", err)
	}
	if res.Size <= 0 {
		t.Error("size not recorded")
	}
}

func TestProcessKeepsSmallImages(t *testing.T) {
	p := newTestProcessor(t)
	src := writeJPEG(t, t.TempDir(), "small.jpg", 200, 150)

	res, err := p.Process(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != 200 || res.Height != 150 {
		t.Errorf("small image should not be resized: %dx%d", res.Width, res.Height)
	}
}

func TestProcessAcceptsPNG(t *testing.T) {
	p := newTestProcessor(t)
	src := writePNG(t, t.TempDir(), "page.png", 300, 400)

	res, err := p.Process(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	// Output is always JPEG regardless of input format.
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("scratch output is not a JPEG: %v", err)
	}
}

func TestProcessUndecodableInput(t *testing.T) {
	p := newTestProcessor(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "garbage.jpg")
	if err := os.WriteFile(src, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := p.Process(context.Background(), src)
	var imgErr *models.ImageProcessingError
	if !errors.As(err, &imgErr) {
		t.Fatalf("expected ImageProcessingError, got %v", err)
	}
	if imgErr.Path != src {
		t.Errorf("error names wrong path: %s", imgErr.Path)
	}

	if _, err := p.Process(context.Background(), filepath.Join(dir, "missing.jpg")); !errors.As(err, &imgErr) {
		t.Errorf("missing file: got %v", err)
	}
}

func TestProcessAllPreservesOrder(t *testing.T) {
	p := newTestProcessor(t)
	dir := t.TempDir()

	// Distinguish pages by width so order is observable after processing.
	srcs := []string{
		writeJPEG(t, dir, "p0.jpg", 100, 50),
		writeJPEG(t, dir, "p1.jpg", 200, 50),
		writeJPEG(t, dir, "p2.jpg", 300, 50),
		writeJPEG(t, dir, "p3.jpg", 400, 50),
	}
	results, err := p.ProcessAll(context.Background(), srcs)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []int{100, 200, 300, 400} {
		if results[i].Width != want {
			t.Errorf("result %d has width %d, want %d", i, results[i].Width, want)
		}
	}
}

func TestProcessAllCleansUpOnFailure(t *testing.T) {
	p := newTestProcessor(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(bad, []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	srcs := []string{
		writeJPEG(t, dir, "good1.jpg", 100, 100),
		bad,
		writeJPEG(t, dir, "good2.jpg", 100, 100),
	}

	if _, err := p.ProcessAll(context.Background(), srcs); err == nil {
		t.Fatal("expected failure")
	}
	entries, err := os.ReadDir(p.scratchDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d scratch files left behind after failure", len(entries))
	}
}

func TestThumbnail(t *testing.T) {
	p := newTestProcessor(t)
	src := writeJPEG(t, t.TempDir(), "page.jpg", 800, 600)

	res, err := p.Thumbnail(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if res.Width != 100 || res.Height != 75 {
		t.Errorf("got %dx%d", res.Width, res.Height)
	}
}

func TestApplyOrientation(t *testing.T) {
	// 2x1 image: red at (0,0), blue at (1,0).
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	src.Set(0, 0, red)
	src.Set(1, 0, blue)

	at := func(img image.Image, x, y int) color.RGBA {
		r, g, b, a := img.At(x, y).RGBA()
		return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
	}

	// Orientation 1 is a no-op.
	if got := applyOrientation(src, 1); at(got, 0, 0) != red {
		t.Error("orientation 1 should not change pixels")
	}

	// Orientation 2 mirrors horizontally: blue moves to (0,0).
	if got := applyOrientation(src, 2); at(got, 0, 0) != blue {
		t.Error("orientation 2 should mirror horizontally")
	}

	// Orientation 3 rotates 180: blue at (0,0), red at (1,0).
	got := applyOrientation(src, 3)
	if at(got, 0, 0) != blue || at(got, 1, 0) != red {
		t.Error("orientation 3 should rotate 180")
	}

	// Orientation 4 mirrors vertically: on a 1x2 column the pixels swap.
	col := image.NewRGBA(image.Rect(0, 0, 1, 2))
	col.Set(0, 0, red)
	col.Set(0, 1, blue)
	got = applyOrientation(col, 4)
	if at(got, 0, 0) != blue || at(got, 0, 1) != red {
		t.Error("orientation 4 should mirror vertically")
	}

	// Orientation 5 is the transpose: (x,y) maps to (y,x), so the 2x1 row
	// becomes a 1x2 column with red still first.
	got = applyOrientation(src, 5)
	if got.Bounds().Dx() != 1 || got.Bounds().Dy() != 2 {
		t.Fatalf("orientation 5 bounds: %v", got.Bounds())
	}
	if at(got, 0, 0) != red || at(got, 0, 1) != blue {
		t.Error("orientation 5 is not a transpose")
	}

	// Orientation 7 is the transverse: the column comes out reversed.
	got = applyOrientation(src, 7)
	if at(got, 0, 0) != blue || at(got, 0, 1) != red {
		t.Error("orientation 7 is not a transverse")
	}

	// Orientation 6 rotates 90 clockwise: 2x1 becomes 1x2 with red on top.
	got = applyOrientation(src, 6)
	if got.Bounds().Dx() != 1 || got.Bounds().Dy() != 2 {
		t.Fatalf("orientation 6 bounds: %v", got.Bounds())
	}
	if at(got, 0, 0) != red || at(got, 0, 1) != blue {
		t.Error("orientation 6 rotated the wrong way")
	}

	// Orientation 8 rotates 90 counter-clockwise: blue on top.
	got = applyOrientation(src, 8)
	if at(got, 0, 0) != blue || at(got, 0, 1) != red {
		t.Error("orientation 8 rotated the wrong way")
	}

	// Unknown values pass through.
	if got := applyOrientation(src, 99); at(got, 0, 0) != red {
		t.Error("unknown orientation should be a no-op")
	}
}

func TestPruneScratch(t *testing.T) {
	p := newTestProcessor(t)

	var paths []string
	for i := 0; i < 5; i++ {
		path := filepath.Join(p.scratchDir, string(rune('a'+i))+".jpg")
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		// Spread modification times so newest-first ordering is stable.
		stamp := time.Now().Add(time.Duration(i-5) * time.Minute)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}

	// Keep the 2 newest; nothing is old enough for the age cutoff.
	if err := p.PruneScratch(2, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(p.scratchDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d files after prune", len(entries))
	}
	// The survivors are the newest two (latest mod times).
	for _, path := range paths[3:] {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("newest file pruned: %s", path)
		}
	}
}

func TestPruneScratchByAge(t *testing.T) {
	p := newTestProcessor(t)

	fresh := filepath.Join(p.scratchDir, "fresh.jpg")
	stale := filepath.Join(p.scratchDir, "stale.jpg")
	for _, path := range []string{fresh, stale} {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	// Generous keep count; the stale file still goes by age.
	if err := p.PruneScratch(10, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file survived age prune")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh file pruned")
	}
}
