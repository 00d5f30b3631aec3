package workspace

import (
	"sync"

	"sidekick/internal/types"
)

// Headless is an Editor for surfaces that have no live editor attached,
// such as the terminal client. Focus and tabs are driven by explicit
// commands; selection operations always report failure.
type Headless struct {
	mu     sync.Mutex
	active types.FileRef
	tabs   []types.FileRef
}

// NewHeadless returns an editor with no open files.
func NewHeadless() *Headless {
	return &Headless{}
}

// Open focuses ref and moves it to the front of the tab list.
func (h *Headless) Open(ref types.FileRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = ref
	tabs := []types.FileRef{ref}
	for _, t := range h.tabs {
		if t != ref {
			tabs = append(tabs, t)
		}
	}
	h.tabs = tabs
}

// CloseActive drops focus without closing the tab list.
func (h *Headless) CloseActive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = ""
}

func (h *Headless) ActiveFile() types.FileRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *Headless) ActiveSelection() *Selection {
	return nil
}

func (h *Headless) ReplaceRange(types.FileRef, Range, string) bool {
	return false
}

func (h *Headless) OpenTabs() []types.FileRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.FileRef(nil), h.tabs...)
}

func (h *Headless) InsertAtCursor(string) bool {
	return false
}
