// Package manifest builds the content manifest a host uses to decide which
// files it still needs, and the persisted record of a published deploy.
package manifest

import (
	"crypto/sha1" //nolint:gosec // content addressing, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
)

// HashAlgorithm names the per-file content hash. Hosts cache content by this
// digest, so changing it forces a full re-upload of every site. Bump
// HashVersion when you do.
const (
	HashAlgorithm = "sha1"
	HashVersion   = 1
)

// ErrInvalidPath is wrapped by every path rejected by Build.
var ErrInvalidPath = errors.New("manifest: invalid path")

// PathError reports the offending path and why it was rejected.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("manifest: invalid path %q: %s", e.Path, e.Reason)
}

func (e *PathError) Unwrap() error { return ErrInvalidPath }

// ContentManifest maps a site path to the lowercase hex digest of its bytes.
type ContentManifest map[string]string

// Builder turns a FileSet into a ContentManifest. The zero value is ready to
// use and safe for concurrent calls.
type Builder struct{}

// NewBuilder returns a Builder.
func NewBuilder() *Builder { return &Builder{} }

// Build validates every path in files and hashes its content. It returns the
// first invalid path as a *PathError and does no partial work.
func (b *Builder) Build(files *bundle.FileSet) (ContentManifest, error) {
	paths := files.Paths()
	for _, p := range paths {
		if err := ValidatePath(p); err != nil {
			return nil, err
		}
	}

	m := make(ContentManifest, len(paths))
	for _, p := range paths {
		content, _ := files.Get(p)
		m[p] = Hash(content)
	}
	return m, nil
}

// Hash returns the lowercase hex SHA-1 of content.
func Hash(content []byte) string {
	sum := sha1.Sum(content) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// ValidatePath checks that p is root-relative and cannot climb out of the
// site root.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return &PathError{Path: p, Reason: "empty"}
	case !strings.HasPrefix(p, "/"):
		return &PathError{Path: p, Reason: "must start with /"}
	case strings.Contains(p, "\\"):
		return &PathError{Path: p, Reason: "backslash separator"}
	}
	for _, seg := range strings.Split(p[1:], "/") {
		if seg == ".." {
			return &PathError{Path: p, Reason: "contains .. segment"}
		}
	}
	return nil
}

// Paths returns the manifest paths sorted lexicographically.
func (m ContentManifest) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Hashes returns the distinct digests in the manifest, sorted.
func (m ContentManifest) Hashes() []string {
	seen := make(map[string]struct{}, len(m))
	out := make([]string, 0, len(m))
	for _, h := range m {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Digest is a single hash over the whole manifest. Two manifests with the
// same paths and contents have the same digest, regardless of insertion
// order.
func (m ContentManifest) Digest() string {
	h := sha256.New()
	for _, p := range m.Paths() {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(m[p]))
		h.Write([]byte{'\n'})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Diff describes how a manifest differs from an earlier one.
type Diff struct {
	Added   []string
	Changed []string
	Removed []string
}

// Empty reports whether the two manifests were identical.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Diff compares m against previous. A nil previous treats every path as added.
// All slices are sorted.
func (m ContentManifest) Diff(previous ContentManifest) Diff {
	var d Diff
	for _, p := range m.Paths() {
		old, ok := previous[p]
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case old != m[p]:
			d.Changed = append(d.Changed, p)
		}
	}
	for _, p := range previous.Paths() {
		if _, ok := m[p]; !ok {
			d.Removed = append(d.Removed, p)
		}
	}
	return d
}
