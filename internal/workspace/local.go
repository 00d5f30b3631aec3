package workspace

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"sidekick/internal/types"
)

// Local is a disk-backed FileSystem rooted at a workspace directory.
// References are workspace-relative, forward-slash paths.
type Local struct {
	root string
}

// NewLocal returns a FileSystem over the given root directory.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Root returns the workspace root directory.
func (l *Local) Root() string {
	return l.root
}

// ReadBytes implements FileSystem.
func (l *Local) ReadBytes(ref types.FileRef) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(string(ref))))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ListFiles implements FileSystem. Enumeration order is the lexical walk
// order of the tree.
func (l *Local) ListFiles(glob, exclude string, max int) ([]types.FileRef, error) {
	var refs []types.FileRef
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep walking
		}
		if max > 0 && len(refs) >= max {
			return fs.SkipAll
		}
		name := d.Name()
		if d.IsDir() {
			if p != l.root && (dirExcluded(name, exclude) || strings.HasPrefix(name, ".")) {
				return fs.SkipDir
			}
			return nil
		}
		if glob != "" {
			if ok, _ := path.Match(glob, name); !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return nil
		}
		refs = append(refs, types.FileRef(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func dirExcluded(name, exclude string) bool {
	if exclude == "" {
		return false
	}
	ok, _ := path.Match(exclude, name)
	return ok
}
