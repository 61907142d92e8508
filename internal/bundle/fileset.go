package bundle

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicatePath is returned when a path is added to a FileSet twice.
var ErrDuplicatePath = errors.New("bundle: duplicate path")

// FileSet is an ordered mapping from root-relative site path ("/index.html")
// to file content. Paths are case-sensitive and unique. Path syntax is not
// validated here; the manifest builder owns that check so that it happens
// in exactly one place before anything reaches a host.
type FileSet struct {
	paths   []string
	content map[string][]byte
}

// NewFileSet returns an empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{content: make(map[string][]byte)}
}

// FileSetFromMap builds a FileSet from an unordered map. Entries are added
// in lexicographic path order so the result is deterministic.
func FileSetFromMap(files map[string][]byte) *FileSet {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fs := NewFileSet()
	for _, k := range keys {
		// Map keys are unique, so Add cannot fail here.
		_ = fs.Add(k, files[k])
	}
	return fs
}

// Add appends a file. It returns ErrDuplicatePath if path is already present.
func (fs *FileSet) Add(path string, content []byte) error {
	if fs.content == nil {
		fs.content = make(map[string][]byte)
	}
	if _, exists := fs.content[path]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePath, path)
	}
	fs.paths = append(fs.paths, path)
	fs.content[path] = content
	return nil
}

// Len returns the number of files. A nil FileSet has length zero.
func (fs *FileSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.paths)
}

// Paths returns the paths in insertion order.
func (fs *FileSet) Paths() []string {
	if fs == nil {
		return nil
	}
	out := make([]string, len(fs.paths))
	copy(out, fs.paths)
	return out
}

// Get returns the content stored for path.
func (fs *FileSet) Get(path string) ([]byte, bool) {
	if fs == nil {
		return nil, false
	}
	c, ok := fs.content[path]
	return c, ok
}

// TotalBytes returns the sum of all content lengths.
func (fs *FileSet) TotalBytes() int64 {
	if fs == nil {
		return 0
	}
	var n int64
	for _, c := range fs.content {
		n += int64(len(c))
	}
	return n
}
