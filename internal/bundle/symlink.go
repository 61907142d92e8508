package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SymlinkEscapeError is returned when a symlink under the site root
// resolves outside of it and external symlinks were not allowed.
type SymlinkEscapeError struct {
	Path   string
	Target string
}

func (e *SymlinkEscapeError) Error() string {
	return fmt.Sprintf("bundle: symlink %q points outside the site root (%s)", e.Path, e.Target)
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("bundle: resolve root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("bundle: eval root symlinks: %w", err)
	}
	return abs, nil
}

// followLink reports whether the symlink at abs should be published.
// Links to directories are skipped; WalkDir does not descend into them.
func (w *walker) followLink(rel, abs string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return false, fmt.Errorf("bundle: resolve symlink %q: %w", rel, err)
	}
	if !w.allowExternal && !within(w.root, resolved) {
		return false, &SymlinkEscapeError{Path: rel, Target: resolved}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return false, fmt.Errorf("bundle: stat %q: %w", rel, err)
	}
	return info.Mode().IsRegular(), nil
}

func within(root, p string) bool {
	return p == root || strings.HasPrefix(p, root+string(filepath.Separator))
}
