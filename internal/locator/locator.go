// Package locator is the read-only file query surface: substring search
// over the workspace and a recents list derived from open editor tabs.
// It holds no state and re-enumerates on every call.
package locator

import (
	"strings"

	"sidekick/internal/types"
	"sidekick/internal/workspace"
)

// DefaultLimit caps result lists when the caller passes no limit.
const DefaultLimit = 10

// enumerationCap bounds how many files one search will walk over before
// matching. Dependency trees are excluded by convention.
const (
	enumerationCap = 2000
	excludeDirGlob = "node_modules"
)

// Locator answers file queries against the workspace.
type Locator struct {
	fs     workspace.FileSystem
	editor workspace.Editor
}

// New returns a locator over the given collaborators.
func New(fs workspace.FileSystem, editor workspace.Editor) *Locator {
	return &Locator{fs: fs, editor: editor}
}

// Search returns up to limit files whose bare name or workspace-relative
// path contains the query, case-insensitively. Order is the underlying
// enumeration order, truncated; ties are not re-sorted.
func (l *Locator) Search(query string, limit int) ([]types.FileHit, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	refs, err := l.fs.ListFiles("", excludeDirGlob, enumerationCap)
	if err != nil {
		return nil, err
	}
	var hits []types.FileHit
	for _, ref := range refs {
		if len(hits) >= limit {
			break
		}
		path := string(ref)
		if strings.Contains(strings.ToLower(ref.Name()), query) ||
			strings.Contains(strings.ToLower(path), query) {
			hits = append(hits, types.FileHit{Path: path, Ref: ref})
		}
	}
	return hits, nil
}

// Recent lists up to limit currently open files, de-duplicated by
// reference, in tab order.
func (l *Locator) Recent(limit int) []types.FileHit {
	if limit <= 0 {
		limit = DefaultLimit
	}
	seen := make(map[types.FileRef]bool)
	var hits []types.FileHit
	for _, ref := range l.editor.OpenTabs() {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		hits = append(hits, types.FileHit{Path: string(ref), Ref: ref})
		if len(hits) >= limit {
			break
		}
	}
	return hits
}
