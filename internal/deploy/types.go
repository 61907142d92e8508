// Package deploy gets a FileSet live on a host: it negotiates which files
// the host lacks, uploads those in parallel with retries, and waits for the
// host to report the deploy ready.
package deploy

import (
	"fmt"
	"regexp"
	"time"
)

var siteNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// MaxSiteNameLength is the longest site name accepted.
const MaxSiteNameLength = 63

// SiteConfig names the target site. CustomDomain is only applied when the
// site is created.
type SiteConfig struct {
	Name         string
	CustomDomain string
}

// Validate checks the site name is a DNS-label style slug.
func (c SiteConfig) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("site name is required")
	case len(c.Name) > MaxSiteNameLength:
		return fmt.Errorf("site name %q is longer than %d characters", c.Name, MaxSiteNameLength)
	case !siteNamePattern.MatchString(c.Name):
		return fmt.Errorf("site name %q must be lowercase letters, digits and inner hyphens", c.Name)
	}
	return nil
}

// DeployResult describes a successful deploy.
type DeployResult struct {
	SiteID        string
	SiteURL       string
	DeployID      string
	FilesUploaded int
	FilesSkipped  int
	Duration      time.Duration
}

// DurationMs is Duration in whole milliseconds.
func (r *DeployResult) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
