// Package hosting defines the capability a static host must offer for a
// content-addressed deploy, and the types that cross that boundary.
package hosting

import (
	"context"
	"strings"
	"time"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

// State is the lifecycle state of a deploy session on the host.
type State string

const (
	StatePending    State = "pending"
	StateUploading  State = "uploading"
	StateProcessing State = "processing"
	StatePrepared   State = "prepared"
	StateReady      State = "ready"
	StateError      State = "error"
)

// Terminal reports whether the host will not move the deploy any further.
func (s State) Terminal() bool {
	return s == StateReady || s == StatePrepared || s == StateError
}

// Succeeded reports whether s is a successful terminal state.
func (s State) Succeeded() bool {
	return s == StateReady || s == StatePrepared
}

// Site is a named deployment target on the host.
type Site struct {
	ID             string
	Name           string
	CustomDomain   string
	DomainVerified bool
	DefaultURL     string
}

// SiteURL is the address site is served at for a deploy that asked for
// requestedDomain: the custom domain once the host has verified it and it
// matches the request, otherwise the host's default URL.
func SiteURL(site *Site, requestedDomain string) string {
	if requestedDomain != "" && site.DomainVerified && strings.EqualFold(site.CustomDomain, requestedDomain) {
		return "https://" + strings.ToLower(site.CustomDomain)
	}
	return site.DefaultURL
}

// DeploySession is one deploy attempt against a site. RequiredPaths is only
// meaningful on the value returned by CreateDeploySession.
type DeploySession struct {
	ID            string
	SiteID        string
	State         State
	RequiredPaths []string
	ErrorMessage  string
	CreatedAt     time.Time
}

// Client is the hosting capability the deploy orchestrator drives.
type Client interface {
	// FindSiteByName returns ErrNotFound when no site has that name.
	FindSiteByName(ctx context.Context, name string) (*Site, error)
	CreateSite(ctx context.Context, name, customDomain string) (*Site, error)
	// CreateDeploySession registers m and reports which paths the host
	// has no content for.
	CreateDeploySession(ctx context.Context, siteID string, m manifest.ContentManifest) (*DeploySession, error)
	// UploadFile is idempotent: uploading the same path and bytes twice
	// has the effect of uploading once.
	UploadFile(ctx context.Context, deployID, path string, content []byte) error
	GetDeployStatus(ctx context.Context, siteID, deployID string) (*DeploySession, error)
}
