package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

// ManifestBuilder turns a FileSet into a content manifest.
type ManifestBuilder interface {
	Build(files *bundle.FileSet) (manifest.ContentManifest, error)
}

// Uploader sends the required files of a deploy.
type Uploader interface {
	Upload(ctx context.Context, deployID string, files *bundle.FileSet, requiredPaths []string, concurrency int) (int, []FailedUpload)
}

// StatusWaiter blocks until a deploy is terminal.
type StatusWaiter interface {
	WaitForTerminal(ctx context.Context, siteID, deployID string, pollInterval, maxWait time.Duration) (*hosting.DeploySession, error)
}

// Poll deadline scaling defaults.
const (
	DefaultPerFileWait = 100 * time.Millisecond
	DefaultMaxWaitCap  = 5 * time.Minute
)

// Orchestrator runs one deploy per Deploy call. It keeps no state between
// calls and may be shared by concurrent callers. Deploys of the same site
// are not serialized; the host arbitrates.
type Orchestrator struct {
	client    hosting.Client
	builder   ManifestBuilder
	scheduler Uploader
	poller    StatusWaiter

	concurrency  int
	pollInterval time.Duration
	maxWait      time.Duration
	perFileWait  time.Duration
	maxWaitCap   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets the number of parallel uploads.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithPollInterval sets the first wait between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithMaxWait sets the base poll deadline.
func WithMaxWait(d time.Duration) Option {
	return func(o *Orchestrator) { o.maxWait = d }
}

// WithPerFileWait adds d to the poll deadline for every uploaded file.
func WithPerFileWait(d time.Duration) Option {
	return func(o *Orchestrator) { o.perFileWait = d }
}

// WithMaxWaitCap bounds the scaled poll deadline.
func WithMaxWaitCap(d time.Duration) Option {
	return func(o *Orchestrator) { o.maxWaitCap = d }
}

// NewOrchestrator wires a deploy pipeline around client. Nil builder,
// scheduler or poller are replaced by the package defaults.
func NewOrchestrator(client hosting.Client, builder ManifestBuilder, scheduler Uploader, poller StatusWaiter, opts ...Option) *Orchestrator {
	if builder == nil {
		builder = manifest.NewBuilder()
	}
	if scheduler == nil {
		scheduler = NewScheduler(client)
	}
	if poller == nil {
		poller = NewPoller(client)
	}

	o := &Orchestrator{
		client:       client,
		builder:      builder,
		scheduler:    scheduler,
		poller:       poller,
		concurrency:  DefaultConcurrency,
		pollInterval: DefaultPollInterval,
		maxWait:      DefaultMaxWait,
		perFileWait:  DefaultPerFileWait,
		maxWaitCap:   DefaultMaxWaitCap,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Deploy publishes files to the site named by cfg and waits for the host
// to make it live. It performs the deploy exactly once; callers may retry
// a failed deploy, which only re-uploads what the host still lacks.
//
// Input is validated before the host is contacted.
func (o *Orchestrator) Deploy(ctx context.Context, files *bundle.FileSet, cfg SiteConfig) (*DeployResult, error) {
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: ErrValidation, Site: cfg.Name, Err: err}
	}
	if files.Len() == 0 {
		return nil, &Error{Kind: ErrEmptyFileSet, Site: cfg.Name, Message: "a deploy must ship at least one file"}
	}
	m, err := o.builder.Build(files)
	if err != nil {
		return nil, &Error{Kind: ErrValidation, Site: cfg.Name, Err: err}
	}

	site, err := o.resolveSite(ctx, cfg)
	if err != nil {
		kind := ErrSiteResolution
		if ctx.Err() != nil {
			kind = ErrTransport
		}
		return nil, &Error{Kind: kind, Site: cfg.Name, Err: err}
	}

	session, err := o.client.CreateDeploySession(ctx, site.ID, m)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Site: cfg.Name, Message: "creating deploy session", Err: err}
	}

	required, known := dedupeRequired(session.RequiredPaths, m)
	partial := &PartialState{
		Required:  len(required),
		Skipped:   len(m) - known,
		LastState: session.State,
	}
	fail := func(kind error, msg string, err error) error {
		return &Error{Kind: kind, Site: cfg.Name, DeployID: session.ID, Message: msg, Partial: partial, Err: err}
	}

	tflog.Info(ctx, "deploy session created", map[string]interface{}{
		"site":      cfg.Name,
		"site_id":   site.ID,
		"deploy_id": session.ID,
		"files":     len(m),
		"required":  len(required),
	})

	if len(required) > 0 {
		uploaded, failed := o.scheduler.Upload(ctx, session.ID, files, required, o.concurrency)
		partial.Uploaded = uploaded
		partial.Failed = failed
		if len(failed) > 0 {
			if ctx.Err() != nil {
				return nil, fail(ErrTransport, "cancelled during upload", ctx.Err())
			}
			return nil, fail(ErrUploadIncomplete, uploadSummary(uploaded, len(required)), uploadFailures(failed))
		}
	}

	final, err := o.poller.WaitForTerminal(ctx, site.ID, session.ID, o.pollInterval, o.waitFor(len(required)))
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			if de.Partial != nil {
				partial.LastState = de.Partial.LastState
			}
			return nil, fail(de.Kind, de.Message, de.Err)
		}
		return nil, fail(ErrTransport, "waiting for deploy", err)
	}
	partial.LastState = final.State

	result := &DeployResult{
		SiteID:        site.ID,
		SiteURL:       hosting.SiteURL(site, cfg.CustomDomain),
		DeployID:      session.ID,
		FilesUploaded: partial.Uploaded,
		FilesSkipped:  partial.Skipped,
		Duration:      time.Since(start),
	}
	tflog.Info(ctx, "deploy live", map[string]interface{}{
		"site":      cfg.Name,
		"deploy_id": result.DeployID,
		"url":       result.SiteURL,
		"uploaded":  result.FilesUploaded,
		"skipped":   result.FilesSkipped,
	})
	return result, nil
}

// resolveSite finds the site by name or creates it.
func (o *Orchestrator) resolveSite(ctx context.Context, cfg SiteConfig) (*hosting.Site, error) {
	site, err := o.client.FindSiteByName(ctx, cfg.Name)
	if err == nil {
		if cfg.CustomDomain != "" && !strings.EqualFold(site.CustomDomain, cfg.CustomDomain) {
			tflog.Warn(ctx, "existing site has a different custom domain, leaving it unchanged", map[string]interface{}{
				"site":       cfg.Name,
				"configured": cfg.CustomDomain,
				"current":    site.CustomDomain,
			})
		}
		return site, nil
	}
	if !errors.Is(err, hosting.ErrNotFound) {
		return nil, err
	}

	site, err = o.client.CreateSite(ctx, cfg.Name, cfg.CustomDomain)
	var se *hosting.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		// Created by a concurrent deploy between our lookup and create.
		return o.client.FindSiteByName(ctx, cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	tflog.Info(ctx, "created site", map[string]interface{}{"site": cfg.Name, "site_id": site.ID})
	return site, nil
}

// waitFor scales the poll deadline with the number of uploaded files. The
// cap never shortens an explicitly longer maxWait.
func (o *Orchestrator) waitFor(required int) time.Duration {
	d := o.maxWait + time.Duration(required)*o.perFileWait
	limit := o.maxWaitCap
	if limit < o.maxWait {
		limit = o.maxWait
	}
	if limit > 0 && d > limit {
		d = limit
	}
	return d
}

// dedupeRequired drops repeated paths from a host's required list, keeping
// first-seen order, and counts how many of them are in the manifest. Paths
// the manifest lacks stay in the list so the upload reports them missing.
func dedupeRequired(paths []string, m manifest.ContentManifest) ([]string, int) {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	known := 0
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
		if _, ok := m[p]; ok {
			known++
		}
	}
	return out, known
}

func uploadSummary(uploaded, required int) string {
	return fmt.Sprintf("%d of %d required files uploaded", uploaded, required)
}
