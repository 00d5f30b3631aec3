// Package workspace defines the host collaborator boundary: the file system
// the context is read from and the editor surface the assistant writes back
// into. The engine only ever sees these interfaces; the host (an editor
// plugin, the bundled CLI) supplies the implementation.
package workspace

import (
	"errors"

	"sidekick/internal/types"
)

// ErrNotFound is returned by ReadBytes when the reference no longer resolves
// to a file.
var ErrNotFound = errors.New("workspace: file not found")

// FileSystem is the read-only file access the engine needs.
type FileSystem interface {
	// ReadBytes returns the contents of the referenced file.
	ReadBytes(ref types.FileRef) ([]byte, error)
	// ListFiles enumerates files matching the glob pattern, skipping any
	// path under a directory matching the exclude pattern, capped at max
	// entries. Order is the underlying enumeration order.
	ListFiles(glob, exclude string, max int) ([]types.FileRef, error)
}

// Range is an editor selection span, zero-based.
type Range struct {
	StartLine, StartCol int
	EndLine, EndCol     int
}

// Selection is the active editor selection, if any.
type Selection struct {
	Ref        types.FileRef
	Span       Range
	Text       string
	LanguageID string
}

// Editor is the live editor surface.
type Editor interface {
	// ActiveFile returns the reference of the focused file, or "" if no
	// file is active.
	ActiveFile() types.FileRef
	// ActiveSelection returns the current selection, or nil.
	ActiveSelection() *Selection
	// ReplaceRange replaces the span in the referenced file with text.
	ReplaceRange(ref types.FileRef, span Range, text string) bool
	// OpenTabs lists currently open file tabs in tab order. Non-file
	// tabs are excluded by the implementation.
	OpenTabs() []types.FileRef
	// InsertAtCursor inserts text at the cursor of the focused editor.
	InsertAtCursor(text string) bool
}
