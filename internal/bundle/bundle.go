package bundle

import (
	"fmt"
	"os"
)

// ScanOptions controls ScanDir.
type ScanOptions struct {
	Exclude               []string
	AllowExternalSymlinks bool
}

// Bundle is a scanned site directory.
type Bundle struct {
	Root  string
	Files *FileSet
	Site  *SiteFile
}

// ScanDir reads the built site under root into memory. Site paths are the
// slash-separated relative paths with a leading "/". Patterns from the site
// file's exclude list are applied in addition to opts.Exclude.
func ScanDir(root string, opts ScanOptions) (*Bundle, error) {
	site, err := LoadSiteFile(root)
	if err != nil {
		return nil, err
	}

	excludes := append(append([]string{}, opts.Exclude...), site.Exclude...)

	entries, err := enumerate(root, excludes, opts.AllowExternalSymlinks)
	if err != nil {
		return nil, err
	}

	files := NewFileSet()
	for _, e := range entries {
		data, err := os.ReadFile(e.abs)
		if err != nil {
			return nil, fmt.Errorf("bundle: read %q: %w", e.sitePath, err)
		}
		if err := files.Add(e.sitePath, data); err != nil {
			return nil, err
		}
	}

	return &Bundle{Root: root, Files: files, Site: site}, nil
}
