package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a document record does not exist.
var ErrNotFound = errors.New("document not found")

// ValidationError reports invalid input, rejected before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ImageProcessingError reports an undecodable or unencodable page image. It
// aborts the whole save/update call with no partial commit.
type ImageProcessingError struct {
	Path string
	Err  error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing failed for %s: %v", e.Path, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// DiskSpaceError reports insufficient disk headroom for an operation.
type DiskSpaceError struct {
	NeededBytes    uint64
	AvailableBytes uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space: need %d bytes, %d available", e.NeededBytes, e.AvailableBytes)
}

// BuildSizeExceededError reports that the built output exceeded the
// configured preset's byte budget. Retrying without changing inputs cannot
// succeed, so it is surfaced directly to the caller.
type BuildSizeExceededError struct {
	SizeBytes   int64
	BudgetBytes int64
	Preset      string
}

func (e *BuildSizeExceededError) Error() string {
	return fmt.Sprintf("built output is %d bytes, exceeds %q preset budget of %d bytes", e.SizeBytes, e.Preset, e.BudgetBytes)
}

// StorageError reports an unexpectedly missing record or file, with the
// document id for recovery decisions.
type StorageError struct {
	DocumentID string
	Op         string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed for document %s: %v", e.Op, e.DocumentID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
