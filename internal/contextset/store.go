// Package contextset owns the mutable context-file state: one auto-tracked
// slot mirroring the active editor plus an ordered collection of manual
// additions. The store is synchronous and eager: every mutation notifies
// the subscriber with a fresh snapshot, and every mutation except the
// auto-activity toggle is flagged as invalidating the live conversation.
package contextset

import (
	"sync"

	"go.uber.org/zap"

	"sidekick/internal/types"
)

// ChangeFunc receives the full snapshot after a mutation. Invalidating is
// false only for the auto-activity toggle and for a session restore.
type ChangeFunc func(entries []types.ContextEntry, invalidating bool)

// Store holds the context set. All methods are safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	auto        *types.ContextEntry
	manual      []types.ContextEntry
	subscribers []ChangeFunc
	logger      *zap.Logger
}

// NewStore returns an empty context store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger.Named("contextset")}
}

// OnChange registers a subscriber. The controller and the file watcher
// install themselves here at construction; there is no ambient global
// reaching back in.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// SetAutoTracked creates or replaces the auto slot for the given file, or
// clears it when ref is empty. Replacement always starts active. If the
// file is already pinned manually, no auto entry is created: manual wins,
// so the same file never shows up twice.
func (s *Store) SetAutoTracked(ref types.FileRef) {
	s.mu.Lock()
	if ref == "" {
		if s.auto == nil {
			s.mu.Unlock()
			return
		}
		s.auto = nil
		s.notifyLocked(true)
		return
	}
	if s.hasManualLocked(ref) {
		if s.auto == nil {
			s.mu.Unlock()
			return
		}
		s.auto = nil
		s.notifyLocked(true)
		return
	}
	if s.auto != nil && s.auto.Ref == ref {
		s.mu.Unlock()
		return
	}
	s.auto = &types.ContextEntry{Ref: ref, Origin: types.OriginAuto, Active: true}
	s.logger.Debug("auto context tracked", zap.String("ref", string(ref)))
	s.notifyLocked(true)
}

// AddManual pins a file explicitly. Returns false without notifying if the
// reference is already present under either origin.
func (s *Store) AddManual(ref types.FileRef) bool {
	s.mu.Lock()
	if ref == "" || s.hasManualLocked(ref) || (s.auto != nil && s.auto.Ref == ref) {
		s.mu.Unlock()
		return false
	}
	s.manual = append(s.manual, types.ContextEntry{Ref: ref, Origin: types.OriginManual, Active: true})
	s.logger.Debug("manual context added", zap.String("ref", string(ref)))
	s.notifyLocked(true)
	return true
}

// RemoveManual unpins by reference key. Returns false if absent.
func (s *Store) RemoveManual(key string) bool {
	s.mu.Lock()
	for i, e := range s.manual {
		if string(e.Ref) == key {
			s.manual = append(s.manual[:i], s.manual[i+1:]...)
			s.logger.Debug("manual context removed", zap.String("ref", key))
			s.notifyLocked(true)
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// ToggleAutoActive flips the eye toggle on the auto entry. Inactive means
// tracked but excluded from the next prompt. This is the one mutation that
// does not invalidate the conversation.
func (s *Store) ToggleAutoActive() {
	s.mu.Lock()
	if s.auto == nil {
		s.mu.Unlock()
		return
	}
	s.auto.Active = !s.auto.Active
	s.notifyLocked(false)
}

// ClearAll drops everything, auto slot included.
func (s *Store) ClearAll() {
	s.mu.Lock()
	if s.auto == nil && len(s.manual) == 0 {
		s.mu.Unlock()
		return
	}
	s.auto = nil
	s.manual = nil
	s.notifyLocked(true)
}

// RestoreManual replaces the whole set with manual entries for the given
// references, in order. Used on session load; auto tracking is re-derived
// from the live editor afterwards, so the restore itself does not
// invalidate the conversation that was just loaded alongside it.
func (s *Store) RestoreManual(refs []types.FileRef) {
	s.mu.Lock()
	s.auto = nil
	s.manual = s.manual[:0]
	seen := make(map[types.FileRef]bool, len(refs))
	for _, ref := range refs {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		s.manual = append(s.manual, types.ContextEntry{Ref: ref, Origin: types.OriginManual, Active: true})
	}
	s.notifyLocked(false)
}

// Snapshot returns the entries in display order: auto slot first, then
// manual entries in insertion order.
func (s *Store) Snapshot() []types.ContextEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ActiveRefs returns the references to include in the next prompt: every
// manual entry plus the auto entry when its toggle is on.
func (s *Store) ActiveRefs() []types.FileRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []types.FileRef
	if s.auto != nil && s.auto.Active {
		refs = append(refs, s.auto.Ref)
	}
	for _, e := range s.manual {
		refs = append(refs, e.Ref)
	}
	return refs
}

func (s *Store) hasManualLocked(ref types.FileRef) bool {
	for _, e := range s.manual {
		if e.Ref == ref {
			return true
		}
	}
	return false
}

func (s *Store) snapshotLocked() []types.ContextEntry {
	out := make([]types.ContextEntry, 0, len(s.manual)+1)
	if s.auto != nil {
		out = append(out, *s.auto)
	}
	out = append(out, s.manual...)
	return out
}

// notifyLocked snapshots under the lock, releases it, then invokes the
// subscribers so callbacks can re-enter the store.
func (s *Store) notifyLocked(invalidating bool) {
	fns := s.subscribers
	snap := s.snapshotLocked()
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap, invalidating)
	}
}
