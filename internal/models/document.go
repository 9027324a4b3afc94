// Package models defines core data structures for documents, save options, and sync state.
package models

import "time"

// RefKind distinguishes the meaning of a FileRef value.
type RefKind int

const (
	// RefNone means no file is associated.
	RefNone RefKind = iota
	// RefLocal means the value is a path on local storage.
	RefLocal
	// RefRemote means the value is a URL on the remote store. A remote ref
	// implies the file has been fully uploaded and any local temp copy may
	// be discarded.
	RefRemote
)

// FileRef is a tagged reference to a document artifact, either a local path
// or a remote URL. The tag is explicit so a malformed path is never mistaken
// for a URL or vice versa.
type FileRef struct {
	Kind  RefKind `json:"kind"`
	Value string  `json:"value"`
}

// LocalRef returns a FileRef pointing at a local path.
func LocalRef(path string) FileRef { return FileRef{Kind: RefLocal, Value: path} }

// RemoteRef returns a FileRef pointing at a remote URL.
func RemoteRef(url string) FileRef { return FileRef{Kind: RefRemote, Value: url} }

// IsLocal reports whether the ref is a local path.
func (r FileRef) IsLocal() bool { return r.Kind == RefLocal }

// IsRemote reports whether the ref is a remote URL.
func (r FileRef) IsRemote() bool { return r.Kind == RefRemote }

// IsZero reports whether the ref is unset.
func (r FileRef) IsZero() bool { return r.Kind == RefNone }

// Path returns the local path, or "" when the ref is not local.
func (r FileRef) Path() string {
	if r.Kind == RefLocal {
		return r.Value
	}
	return ""
}

// URL returns the remote URL, or "" when the ref is not remote.
func (r FileRef) URL() string {
	if r.Kind == RefRemote {
		return r.Value
	}
	return ""
}

// DocumentFormat is the output kind of a document.
type DocumentFormat string

const (
	FormatPDF  DocumentFormat = "pdf"
	FormatText DocumentFormat = "text"
)

// Extension returns the file extension for the format.
func (f DocumentFormat) Extension() string {
	if f == FormatText {
		return ".txt"
	}
	return ".pdf"
}

// ScanMode classifies capture intent. Used for filtering only; it has no
// behavioral effect on the core.
type ScanMode string

const (
	ModeDocument ScanMode = "document"
	ModeIDCard   ScanMode = "id_card"
	ModeBook     ScanMode = "book"
	ModeSlides   ScanMode = "slides"
	ModePhoto    ScanMode = "photo"
)

// ColorProfile is an informational rendering intent tag.
type ColorProfile string

const (
	ProfileColor      ColorProfile = "color"
	ProfileGreyscale  ColorProfile = "greyscale"
	ProfileBlackWhite ColorProfile = "black_white"
)

// SyncStatus tracks the reconciliation state of a document against the
// remote store.
type SyncStatus string

const (
	// SyncPending means the document has local changes not yet uploaded.
	SyncPending SyncStatus = "pending"
	// SyncSynced means local and remote agree.
	SyncSynced SyncStatus = "synced"
	// SyncError means the last upload or delete round-trip failed.
	SyncError SyncStatus = "error"
	// SyncConflict means both sides changed since the last common state and
	// an explicit user choice is required.
	SyncConflict SyncStatus = "conflict"
)

// Document is the durable record describing one scanned/assembled artifact
// and its pages.
type Document struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	File           FileRef           `json:"file"`
	Thumbnail      FileRef           `json:"thumbnail"`
	PageImagePaths []string          `json:"page_image_paths"`
	Format         DocumentFormat    `json:"format"`
	PageCount      int               `json:"page_count"`
	ScanMode       ScanMode          `json:"scan_mode"`
	TextContent    string            `json:"text_content,omitempty"`
	ColorProfile   ColorProfile      `json:"color_profile,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	IsDeleted      bool              `json:"is_deleted"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
	SyncStatus     SyncStatus        `json:"sync_status"`
}

// Uploaded reports whether the document has been fully uploaded to the
// remote store.
func (d *Document) Uploaded() bool { return d.File.IsRemote() }

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	c.PageImagePaths = append([]string(nil), d.PageImagePaths...)
	c.Tags = append([]string(nil), d.Tags...)
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}
