package locator

import (
	"testing"

	"sidekick/internal/types"
	"sidekick/internal/workspace"
)

type fakeFS struct {
	refs []types.FileRef
}

func (f *fakeFS) ReadBytes(ref types.FileRef) ([]byte, error) {
	return nil, workspace.ErrNotFound
}

func (f *fakeFS) ListFiles(glob, exclude string, max int) ([]types.FileRef, error) {
	if max > 0 && len(f.refs) > max {
		return f.refs[:max], nil
	}
	return f.refs, nil
}

type fakeEditor struct {
	tabs []types.FileRef
}

func (e *fakeEditor) ActiveFile() types.FileRef                { return "" }
func (e *fakeEditor) ActiveSelection() *workspace.Selection    { return nil }
func (e *fakeEditor) OpenTabs() []types.FileRef                { return e.tabs }
func (e *fakeEditor) InsertAtCursor(text string) bool          { return false }
func (e *fakeEditor) ReplaceRange(ref types.FileRef, span workspace.Range, text string) bool {
	return false
}

// TestSearchMatchesNameOrPath verifies a hit on either the bare name or the
// relative path qualifies.
func TestSearchMatchesNameOrPath(t *testing.T) {
	fs := &fakeFS{refs: []types.FileRef{
		"internal/app/server.go",
		"docs/notes.md",
		"cmd/app/main.go",
	}}
	l := New(fs, &fakeEditor{})

	hits, err := l.Search("SERVER", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Ref != "internal/app/server.go" {
		t.Errorf("expected name match, got %v", hits)
	}

	// "app" appears only in the path component of both app files.
	hits, _ = l.Search("app/", 10)
	if len(hits) != 2 {
		t.Errorf("expected 2 path matches, got %v", hits)
	}
}

// TestSearchPreservesEnumerationOrder verifies results come back in walk
// order, truncated at the limit, with no re-ranking.
func TestSearchPreservesEnumerationOrder(t *testing.T) {
	fs := &fakeFS{refs: []types.FileRef{"z/a.go", "m/a.go", "a/a.go"}}
	l := New(fs, &fakeEditor{})

	hits, _ := l.Search("a.go", 2)
	if len(hits) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(hits))
	}
	if hits[0].Ref != "z/a.go" || hits[1].Ref != "m/a.go" {
		t.Errorf("expected enumeration order preserved, got %v", hits)
	}
}

// TestSearchEmptyQuery returns nothing rather than everything.
func TestSearchEmptyQuery(t *testing.T) {
	l := New(&fakeFS{refs: []types.FileRef{"a.go"}}, &fakeEditor{})
	hits, err := l.Search("   ", 10)
	if err != nil || hits != nil {
		t.Errorf("expected no hits for blank query, got %v, %v", hits, err)
	}
}

// TestRecentDeduplicates verifies tab de-duplication and the cap.
func TestRecentDeduplicates(t *testing.T) {
	ed := &fakeEditor{tabs: []types.FileRef{"a.go", "b.go", "a.go", "", "c.go"}}
	l := New(&fakeFS{}, ed)

	hits := l.Recent(2)
	if len(hits) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(hits))
	}
	if hits[0].Ref != "a.go" || hits[1].Ref != "b.go" {
		t.Errorf("expected tab order, got %v", hits)
	}
}
