package contextset

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"sidekick/internal/types"
)

// Watcher drops manual context entries whose files disappear from disk, so
// a deleted file never stays pinned into the next prompt. It keeps one
// fsnotify watch per tracked file and re-syncs the watch list on every
// store change.
type Watcher struct {
	store  *Store
	root   string
	fsw    *fsnotify.Watcher
	logger *zap.Logger

	mu      sync.Mutex
	watched map[string]types.FileRef // absolute path -> ref

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching. root is the workspace directory references
// are relative to.
func NewWatcher(store *Store, root string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		store:   store,
		root:    root,
		fsw:     fsw,
		logger:  logger.Named("ctxwatch"),
		watched: make(map[string]types.FileRef),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	store.OnChange(func(entries []types.ContextEntry, _ bool) {
		w.Sync(entries)
	})
	w.Sync(store.Snapshot())
	return w, nil
}

// Sync updates the watch list to match the given snapshot. The watcher
// subscribes itself to the store, so this normally runs on every mutation.
func (w *Watcher) Sync(entries []types.ContextEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	want := make(map[string]types.FileRef, len(entries))
	for _, e := range entries {
		abs := filepath.Join(w.root, filepath.FromSlash(string(e.Ref)))
		want[abs] = e.Ref
	}
	for abs := range w.watched {
		if _, ok := want[abs]; !ok {
			_ = w.fsw.Remove(abs)
			delete(w.watched, abs)
		}
	}
	for abs, ref := range want {
		if _, ok := w.watched[abs]; ok {
			continue
		}
		if err := w.fsw.Add(abs); err != nil {
			// File may already be gone; the store entry is stale.
			w.logger.Debug("watch failed", zap.String("path", abs), zap.Error(err))
			continue
		}
		w.watched[abs] = ref
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			ref, tracked := w.watched[ev.Name]
			if tracked {
				delete(w.watched, ev.Name)
			}
			w.mu.Unlock()
			if !tracked {
				continue
			}
			w.logger.Info("context file removed from disk", zap.String("ref", string(ref)))
			if !w.store.RemoveManual(string(ref)) {
				for _, e := range w.store.Snapshot() {
					if e.Ref == ref && e.Origin == types.OriginAuto {
						w.store.SetAutoTracked("")
						break
					}
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}
