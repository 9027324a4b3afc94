// Package builder assembles normalized page images or text into a final
// distributable file, enforcing metadata and size constraints.
package builder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder for DecodeConfig
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/hyperjump/kiroku/internal/models"
)

// Metadata keys committed into the built file.
const (
	MetaTitle    = "title"
	MetaAuthor   = "author"
	MetaSubject  = "subject"
	MetaKeywords = "keywords"
	MetaCreator  = "creator"
)

const (
	defaultAuthor  = "Kiroku"
	defaultCreator = "Kiroku"
	defaultSubject = "Scanned document"
	defaultTitle   = "Scanned Document"
)

// Builder produces final output bytes from normalized page images or text.
type Builder struct{}

// New returns a Builder.
func New() *Builder { return &Builder{} }

// Build lays each JPEG page buffer out on a page of the configured paper
// size and returns the serialized PDF. It fails with a ValidationError when
// the preset caps pages below the input count, an ImageProcessingError for
// an undecodable page buffer, and a BuildSizeExceededError when the output
// exceeds the preset's byte budget.
func (b *Builder) Build(pages [][]byte, opts models.SaveOptions, fallbackTitle string) ([]byte, error) {
	if len(pages) == 0 {
		return nil, &models.ValidationError{Field: "pages", Reason: "no pages to build"}
	}
	if opts.Preset.MaxPages > 0 && len(pages) > opts.Preset.MaxPages {
		return nil, &models.ValidationError{
			Field:  "pages",
			Reason: fmt.Sprintf("preset %q allows at most %d pages, got %d", opts.Preset.Name, opts.Preset.MaxPages, len(pages)),
		}
	}

	meta := EffectiveMetadata(opts, fallbackTitle)
	paper := opts.Paper
	margin := paper.MarginMM

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: paper.WidthMM, Ht: paper.HeightMM},
	})
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(meta[MetaTitle], true)
	pdf.SetAuthor(meta[MetaAuthor], true)
	pdf.SetSubject(meta[MetaSubject], true)
	pdf.SetKeywords(meta[MetaKeywords], true)
	pdf.SetCreator(meta[MetaCreator], true)

	imgOpts := gofpdf.ImageOptions{ImageType: "JPG"}
	for i, page := range pages {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(page))
		if err != nil {
			return nil, &models.ImageProcessingError{Path: fmt.Sprintf("page %d", i), Err: err}
		}

		pdf.AddPage()
		if opts.OpaqueBackground {
			// Opaque white behind the scan so printers reproduce it faithfully.
			pdf.SetFillColor(255, 255, 255)
			pdf.Rect(0, 0, paper.WidthMM, paper.HeightMM, "F")
		}

		name := fmt.Sprintf("page-%d", i)
		pdf.RegisterImageOptionsReader(name, imgOpts, bytes.NewReader(page))

		x, y, w, h := fitPage(cfg.Width, cfg.Height, opts.DPI, paper)
		pdf.ImageOptions(name, x, y, w, h, false, imgOpts, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize pdf: %w", err)
	}

	if err := checkBudget(int64(buf.Len()), opts.Preset, len(pages)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildText returns UTF-8 bytes for a text-mode document. The same preset
// budget applies with a page count of one.
func (b *Builder) BuildText(text string, opts models.SaveOptions) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &models.ValidationError{Field: "text", Reason: "empty text content"}
	}
	out := []byte(text)
	if err := checkBudget(int64(len(out)), opts.Preset, 1); err != nil {
		return nil, err
	}
	return out, nil
}

func checkBudget(size int64, preset models.CompressionPreset, pageCount int) error {
	if preset.MaxPageSizeMB <= 0 {
		return nil
	}
	budget := int64(preset.MaxPageSizeMB * float64(pageCount) * (1 << 20))
	if size > budget {
		return &models.BuildSizeExceededError{SizeBytes: size, BudgetBytes: budget, Preset: preset.Name}
	}
	return nil
}

// fitPage computes the placement of an image on the page: natural size at
// the configured DPI, scaled down to fit within the margins, centered.
func fitPage(pxW, pxH, dpi int, paper models.PaperSize) (x, y, w, h float64) {
	if dpi <= 0 {
		dpi = 300
	}
	availW := paper.WidthMM - 2*paper.MarginMM
	availH := paper.HeightMM - 2*paper.MarginMM

	// Natural print size in mm at the configured DPI.
	w = float64(pxW) / float64(dpi) * 25.4
	h = float64(pxH) / float64(dpi) * 25.4

	scale := 1.0
	if w > availW {
		scale = availW / w
	}
	if s := availH / h; h > availH && s < scale {
		scale = s
	}
	w *= scale
	h *= scale

	x = paper.MarginMM + (availW-w)/2
	y = paper.MarginMM + (availH-h)/2
	return x, y, w, h
}

// EffectiveMetadata fills any unset metadata field from a deterministic
// fallback chain: explicit metadata, then the fallback title and tag list,
// then generic defaults. The title never ends up empty.
func EffectiveMetadata(opts models.SaveOptions, fallbackTitle string) map[string]string {
	meta := make(map[string]string, 5)
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	if meta[MetaTitle] == "" {
		meta[MetaTitle] = strings.TrimSpace(fallbackTitle)
	}
	if meta[MetaTitle] == "" {
		meta[MetaTitle] = defaultTitle
	}
	if meta[MetaKeywords] == "" && len(opts.Tags) > 0 {
		meta[MetaKeywords] = strings.Join(opts.Tags, ", ")
	}
	if meta[MetaAuthor] == "" {
		meta[MetaAuthor] = defaultAuthor
	}
	if meta[MetaSubject] == "" {
		meta[MetaSubject] = defaultSubject
	}
	if meta[MetaCreator] == "" {
		meta[MetaCreator] = defaultCreator
	}
	return meta
}
