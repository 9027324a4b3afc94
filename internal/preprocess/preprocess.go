// Package preprocess normalizes captured page images before assembly:
// decode, bake EXIF orientation into pixels, downscale, re-encode.
package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kiroku/internal/config"
	"github.com/hyperjump/kiroku/internal/models"
	"github.com/hyperjump/kiroku/internal/resource"
)

// Result describes one normalized page image written to the scratch
// directory.
type Result struct {
	Path   string
	Width  int
	Height int
	Size   int64
}

// Processor normalizes page images. Each image is independent; ProcessAll
// runs them in parallel with a bounded limit.
type Processor struct {
	scratchDir string
	guard      *resource.Guard
	cfg        config.ProcessingConfig
}

// NewProcessor creates a Processor writing normalized images under
// scratchDir. The directory is created if missing.
func NewProcessor(scratchDir string, guard *resource.Guard, cfg config.ProcessingConfig) (*Processor, error) {
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Processor{scratchDir: scratchDir, guard: guard, cfg: cfg}, nil
}

// Process normalizes one source image and writes it to a new scratch file.
// Undecodable input yields an ImageProcessingError.
func (p *Processor) Process(ctx context.Context, srcPath string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, &models.ImageProcessingError{Path: srcPath, Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &models.ImageProcessingError{Path: srcPath, Err: err}
	}

	// Bake any EXIF orientation into pixel data so downstream consumers
	// never re-interpret orientation. Missing or malformed EXIF means
	// orientation 1 (no-op).
	if x, err := exif.Decode(bytes.NewReader(data)); err == nil {
		if tag, err := x.Get(exif.Orientation); err == nil {
			if o, err := tag.Int(0); err == nil {
				img = applyOrientation(img, o)
			}
		}
	}

	maxEdge := p.cfg.MaxLongEdgePx
	quality := p.cfg.JPEGQuality
	if p.guard.LowMemory() {
		maxEdge = p.cfg.LowMemLongEdgePx
		quality = p.cfg.LowMemJPEGQuality
	}
	img = capLongEdge(img, maxEdge)

	return p.encodeScratch(img, quality, srcPath)
}

// Thumbnail produces a small preview of the first page image in the scratch
// directory.
func (p *Processor) Thumbnail(ctx context.Context, srcPath string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, &models.ImageProcessingError{Path: srcPath, Err: err}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &models.ImageProcessingError{Path: srcPath, Err: err}
	}
	img = capLongEdge(img, p.cfg.ThumbnailLongEdgePx)
	return p.encodeScratch(img, 80, srcPath)
}

func (p *Processor) encodeScratch(img image.Image, quality int, srcPath string) (*Result, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, &models.ImageProcessingError{Path: srcPath, Err: err}
	}
	out := filepath.Join(p.scratchDir, uuid.NewString()+".jpg")
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write scratch file: %w", err)
	}
	b := img.Bounds()
	return &Result{Path: out, Width: b.Dx(), Height: b.Dy(), Size: int64(buf.Len())}, nil
}

// ProcessAll normalizes every source image in parallel, preserving input
// order in the results. On any failure, scratch files already written for
// this call are removed.
func (p *Processor) ProcessAll(ctx context.Context, srcPaths []string) ([]*Result, error) {
	results := make([]*Result, len(srcPaths))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Parallelism)

	for i, src := range srcPaths {
		i, src := i, src
		eg.Go(func() error {
			res, err := p.Process(gctx, src)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, r := range results {
			if r != nil {
				_ = os.Remove(r.Path)
			}
		}
		return nil, err
	}
	return results, nil
}

// capLongEdge downscales img so its longer edge does not exceed maxEdge.
// Images already within the cap are returned unchanged.
func capLongEdge(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if maxEdge <= 0 || long <= maxEdge {
		return img
	}
	scale := float64(maxEdge) / float64(long)
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
