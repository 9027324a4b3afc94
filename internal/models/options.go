package models

// CompressionPreset bundles an output-size ceiling and related build
// constraints under a name.
type CompressionPreset struct {
	Name string `json:"name"`
	// MaxPageSizeMB is the byte budget per page; the built output must not
	// exceed MaxPageSizeMB * pageCount.
	MaxPageSizeMB float64 `json:"max_page_size_mb"`
	// MaxPages caps the number of pages the preset accepts; 0 means no cap.
	MaxPages int `json:"max_pages"`
}

// Built-in compression presets.
var (
	PresetEmail    = CompressionPreset{Name: "email", MaxPageSizeMB: 1, MaxPages: 50}
	PresetBalanced = CompressionPreset{Name: "balanced", MaxPageSizeMB: 2.5}
	PresetQuality  = CompressionPreset{Name: "quality", MaxPageSizeMB: 6}
)

// PresetByName returns the built-in preset with the given name, or the
// balanced preset when the name is unknown.
func PresetByName(name string) CompressionPreset {
	switch name {
	case PresetEmail.Name:
		return PresetEmail
	case PresetQuality.Name:
		return PresetQuality
	default:
		return PresetBalanced
	}
}

// PaperSize describes the output page geometry in millimeters. The margin is
// implied by the paper choice.
type PaperSize struct {
	Name     string  `json:"name"`
	WidthMM  float64 `json:"width_mm"`
	HeightMM float64 `json:"height_mm"`
	MarginMM float64 `json:"margin_mm"`
}

// Built-in paper sizes.
var (
	PaperA4     = PaperSize{Name: "a4", WidthMM: 210, HeightMM: 297, MarginMM: 10}
	PaperLetter = PaperSize{Name: "letter", WidthMM: 215.9, HeightMM: 279.4, MarginMM: 10}
	PaperLegal  = PaperSize{Name: "legal", WidthMM: 215.9, HeightMM: 355.6, MarginMM: 10}
)

// PaperByName returns the built-in paper size with the given name, or A4
// when the name is unknown.
func PaperByName(name string) PaperSize {
	switch name {
	case PaperLetter.Name:
		return PaperLetter
	case PaperLegal.Name:
		return PaperLegal
	default:
		return PaperA4
	}
}

// SaveOptions is the configuration surface consumed by the builder and the
// document service.
type SaveOptions struct {
	Preset           CompressionPreset `json:"preset"`
	Paper            PaperSize         `json:"paper"`
	DPI              int               `json:"dpi"`
	OpaqueBackground bool              `json:"opaque_background"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
}

// DefaultSaveOptions returns balanced-preset A4 options at 300 DPI.
func DefaultSaveOptions() SaveOptions {
	return SaveOptions{
		Preset: PresetBalanced,
		Paper:  PaperA4,
		DPI:    300,
	}
}
