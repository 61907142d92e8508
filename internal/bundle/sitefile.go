package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SiteFileName is the optional per-site settings file at the site root.
// It is read during scanning and never published.
const SiteFileName = "sitepublish.yaml"

// SiteFile holds settings a project can keep next to its build output.
type SiteFile struct {
	Name         string   `yaml:"name,omitempty"`
	CustomDomain string   `yaml:"custom_domain,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty"`
}

// LoadSiteFile reads SiteFileName from root. A missing file yields a zero
// SiteFile and no error.
func LoadSiteFile(root string) (*SiteFile, error) {
	data, err := os.ReadFile(filepath.Join(root, SiteFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &SiteFile{}, nil
		}
		return nil, fmt.Errorf("bundle: read %s: %w", SiteFileName, err)
	}

	var sf SiteFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("bundle: parse %s: %w", SiteFileName, err)
	}
	return &sf, nil
}
