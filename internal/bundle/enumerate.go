package bundle

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

// fileEntry is a file discovered under the site root.
type fileEntry struct {
	sitePath string // "/" + slash-separated path relative to the root
	abs      string
}

// walker collects the publishable files under one site root.
type walker struct {
	root          string // absolute, symlinks resolved
	excludes      []string
	allowExternal bool
	entries       []fileEntry
}

// enumerate walks root and returns every regular file that survives
// exclusion, sorted by site path. Symlinks are followed only when they
// stay inside root or allowExternal is set.
func enumerate(root string, excludes []string, allowExternal bool) ([]fileEntry, error) {
	absRoot, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}

	w := &walker{root: absRoot, excludes: excludes, allowExternal: allowExternal}
	if err := filepath.WalkDir(absRoot, w.visit); err != nil {
		return nil, fmt.Errorf("bundle: walk %q: %w", root, err)
	}

	sort.Slice(w.entries, func(i, j int) bool { return w.entries[i].sitePath < w.entries[j].sitePath })
	return w.entries, nil
}

func (w *walker) visit(p string, d fs.DirEntry, walkErr error) error {
	if walkErr != nil {
		return walkErr
	}

	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return fmt.Errorf("bundle: relative path: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		return nil
	}

	switch {
	case d.IsDir():
		if ShouldExclude(rel, w.excludes) || ShouldExclude(rel+"/", w.excludes) {
			return fs.SkipDir
		}
		return nil
	case ShouldExclude(rel, w.excludes):
		return nil
	case d.Type()&fs.ModeSymlink != 0:
		ok, err := w.followLink(rel, p)
		if err != nil || !ok {
			return err
		}
	case !d.Type().IsRegular():
		// Sockets, pipes and devices are never site content.
		return nil
	}

	w.entries = append(w.entries, fileEntry{sitePath: "/" + rel, abs: p})
	return nil
}
