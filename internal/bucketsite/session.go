package bucketsite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/deployid"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/objstore"
)

// sessionRecord is the JSON stored at <site>/.sitepublish/deploys/<id>/session.json.
// PublishingSince is set by the poll that claimed the publish.
type sessionRecord struct {
	ID              string                   `json:"id"`
	SiteID          string                   `json:"site_id"`
	SiteName        string                   `json:"site_name"`
	State           hosting.State            `json:"state"`
	ErrorMessage    string                   `json:"error_message,omitempty"`
	CreatedAt       string                   `json:"created_at"`
	UpdatedAt       string                   `json:"updated_at"`
	PublishingSince string                   `json:"publishing_since,omitempty"`
	Files           manifest.ContentManifest `json:"files"`
}

func (s *sessionRecord) toSession() *hosting.DeploySession {
	created, _ := time.Parse(time.RFC3339, s.CreatedAt)
	return &hosting.DeploySession{
		ID:           s.ID,
		SiteID:       s.SiteID,
		State:        s.State,
		ErrorMessage: s.ErrorMessage,
		CreatedAt:    created,
	}
}

// readSession loads a session and the version it was read at.
func (h *Host) readSession(ctx context.Context, deployID string) (*sessionRecord, string, error) {
	if !deployid.IsValid(deployID) {
		return nil, "", fmt.Errorf("deploy %s: %w", deployID, hosting.ErrNotFound)
	}

	data, _, err := h.store.Get(ctx, deployIndexKey(deployID))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, "", fmt.Errorf("deploy %s: %w", deployID, hosting.ErrNotFound)
		}
		return nil, "", fmt.Errorf("bucketsite: read deploy index %s: %w", deployID, err)
	}
	site := strings.TrimSpace(string(data))

	data, meta, err := h.store.Get(ctx, sessionKey(site, deployID))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, "", fmt.Errorf("deploy %s: %w", deployID, hosting.ErrNotFound)
		}
		return nil, "", fmt.Errorf("bucketsite: read session %s: %w", deployID, err)
	}

	var s sessionRecord
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, "", fmt.Errorf("bucketsite: decode session %s: %w", deployID, err)
	}
	return &s, meta.Version, nil
}

// writeSession stores s. With ifVersion set the write only succeeds if
// nobody else wrote the session since it was read.
func (h *Host) writeSession(ctx context.Context, s *sessionRecord, ifVersion string) error {
	s.UpdatedAt = h.timestamp()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("bucketsite: encode session %s: %w", s.ID, err)
	}
	opts := objstore.PutOptions{ContentType: bundle.ContentTypeJSON}
	key := sessionKey(s.SiteName, s.ID)
	if ifVersion != "" {
		return h.store.PutIfMatch(ctx, key, data, ifVersion, opts)
	}
	return h.store.Put(ctx, key, data, opts)
}

// missingHashes returns the subset of hashes with no blob under site.
func (h *Host) missingHashes(ctx context.Context, site string, hashes []string) (map[string]bool, error) {
	var (
		mu      sync.Mutex
		missing = make(map[string]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, hash := range hashes {
		g.Go(func() error {
			if err := h.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer h.sem.Release(1)

			_, err := h.store.Stat(gctx, blobKey(site, hash))
			switch {
			case errors.Is(err, objstore.ErrNotFound):
				mu.Lock()
				missing[hash] = true
				mu.Unlock()
			case err != nil:
				return fmt.Errorf("stat blob %s: %w", hash, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return missing, nil
}

func validHash(h string) bool {
	if len(h) != 40 {
		return false
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// CreateDeploySession records m as a new deploy and asks for one path per
// hash the site has no blob for.
func (h *Host) CreateDeploySession(ctx context.Context, siteID string, m manifest.ContentManifest) (*hosting.DeploySession, error) {
	site, err := h.siteNameByID(ctx, siteID)
	if err != nil {
		return nil, err
	}

	for p, hash := range m {
		if err := manifest.ValidatePath(p); err != nil {
			return nil, fmt.Errorf("%v: %w", err, hosting.ErrInvalidContent)
		}
		if !validHash(hash) {
			return nil, fmt.Errorf("%s: hash %q is not a SHA-1 hex digest: %w", p, hash, hosting.ErrInvalidContent)
		}
	}

	missing, err := h.missingHashes(ctx, site, m.Hashes())
	if err != nil {
		return nil, fmt.Errorf("bucketsite: create deploy for %q: %w", site, err)
	}

	var required []string
	wanted := make(map[string]bool, len(missing))
	for _, p := range m.Paths() {
		hash := m[p]
		if !missing[hash] || wanted[hash] {
			continue
		}
		wanted[hash] = true
		required = append(required, p)
	}

	state := hosting.StateProcessing
	if len(required) > 0 {
		state = hosting.StateUploading
	}

	files := make(manifest.ContentManifest, len(m))
	for p, hash := range m {
		files[p] = hash
	}
	s := &sessionRecord{
		ID:        deployid.NewAt(h.now()),
		SiteID:    siteID,
		SiteName:  site,
		State:     state,
		CreatedAt: h.timestamp(),
		Files:     files,
	}

	if err := h.store.Put(ctx, deployIndexKey(s.ID), []byte(site), objstore.PutOptions{ContentType: bundle.ContentTypePlain}); err != nil {
		return nil, fmt.Errorf("bucketsite: index deploy %s: %w", s.ID, err)
	}
	if err := h.writeSession(ctx, s, ""); err != nil {
		return nil, fmt.Errorf("bucketsite: write session %s: %w", s.ID, err)
	}

	tflog.Debug(ctx, "Created bucket deploy session", map[string]interface{}{
		"site":      site,
		"deploy_id": s.ID,
		"files":     len(m),
		"required":  len(required),
	})

	out := s.toSession()
	out.RequiredPaths = required
	return out, nil
}

// UploadFile stores content as a blob after checking it against the
// session's manifest. Blobs are keyed by hash, so repeating an upload
// rewrites identical bytes.
func (h *Host) UploadFile(ctx context.Context, deployID, path string, content []byte) error {
	s, _, err := h.readSession(ctx, deployID)
	if err != nil {
		return err
	}

	want, ok := s.Files[path]
	if !ok {
		return fmt.Errorf("%s is not in deploy %s: %w", path, deployID, hosting.ErrInvalidContent)
	}
	if h.maxFileSize > 0 && len(content) > h.maxFileSize {
		return fmt.Errorf("%s is %d bytes: %w", path, len(content), hosting.ErrPayloadTooLarge)
	}
	if got := manifest.Hash(content); got != want {
		return fmt.Errorf("%s hashes to %s, manifest says %s: %w", path, got, want, hosting.ErrInvalidContent)
	}

	if err := h.store.Put(ctx, blobKey(s.SiteName, want), content, objstore.PutOptions{
		ContentType: bundle.ContentTypeForPath(path),
	}); err != nil {
		return fmt.Errorf("bucketsite: store blob for %s: %w", path, err)
	}
	return nil
}

// GetDeployStatus reports a deploy's state. The first call that finds
// every blob present claims the session and publishes it.
func (h *Host) GetDeployStatus(ctx context.Context, siteID, deployID string) (*hosting.DeploySession, error) {
	s, version, err := h.readSession(ctx, deployID)
	if err != nil {
		return nil, err
	}
	if s.SiteID != siteID {
		return nil, fmt.Errorf("deploy %s on site %s: %w", deployID, siteID, hosting.ErrNotFound)
	}

	switch {
	case s.State.Terminal():
		return s.toSession(), nil
	case s.PublishingSince != "":
		// Claimed by an earlier poll. If that publish moved LIVE but
		// could not record the outcome, the deploy is live.
		live, _, err := h.readLive(ctx, s.SiteName)
		if err != nil {
			return nil, err
		}
		if live == s.ID {
			s.State = hosting.StateReady
			return s.toSession(), nil
		}
		if !h.claimExpired(s.PublishingSince) {
			return s.toSession(), nil
		}
		return h.abandonClaim(ctx, s, version)
	}

	missing, err := h.missingHashes(ctx, s.SiteName, s.Files.Hashes())
	if err != nil {
		return nil, fmt.Errorf("bucketsite: status of %s: %w", deployID, err)
	}
	if len(missing) > 0 {
		return s.toSession(), nil
	}

	s.State = hosting.StateProcessing
	s.PublishingSince = h.timestamp()
	if err := h.writeSession(ctx, s, version); err != nil {
		if errors.Is(err, objstore.ErrPreconditionFailed) {
			// Another poller claimed it first.
			again, _, rerr := h.readSession(ctx, deployID)
			if rerr != nil {
				return nil, rerr
			}
			return again.toSession(), nil
		}
		return nil, fmt.Errorf("bucketsite: claim session %s: %w", deployID, err)
	}

	// Publishing must not stop halfway because the caller gave up.
	pctx := context.WithoutCancel(ctx)
	if perr := h.publish(pctx, s); perr != nil {
		tflog.Warn(ctx, "Bucket publish failed", map[string]interface{}{
			"site":      s.SiteName,
			"deploy_id": s.ID,
			"error":     perr.Error(),
		})
		s.State = hosting.StateError
		s.ErrorMessage = perr.Error()
	} else {
		s.State = hosting.StateReady
	}

	if err := h.writeSession(pctx, s, ""); err != nil {
		return nil, fmt.Errorf("bucketsite: record outcome of %s: %w", deployID, err)
	}

	if s.State == hosting.StateReady {
		if pruned, err := h.prune(pctx, s.SiteName, s.ID); err != nil {
			tflog.Warn(ctx, "Pruning old deploys failed", map[string]interface{}{
				"site":  s.SiteName,
				"error": err.Error(),
			})
		} else if len(pruned) > 0 {
			tflog.Debug(ctx, "Pruned old deploys", map[string]interface{}{
				"site":   s.SiteName,
				"pruned": pruned,
			})
		}
	}
	return s.toSession(), nil
}

// abandonClaim fails a session whose publisher stopped before LIVE moved.
// The conditional write loses to any publisher that finished meanwhile.
func (h *Host) abandonClaim(ctx context.Context, s *sessionRecord, version string) (*hosting.DeploySession, error) {
	tflog.Warn(ctx, "Abandoning stale publish claim", map[string]interface{}{
		"site":             s.SiteName,
		"deploy_id":        s.ID,
		"publishing_since": s.PublishingSince,
	})
	s.State = hosting.StateError
	s.ErrorMessage = "publish was interrupted before the deploy went live (claimed " + s.PublishingSince + ")"
	if err := h.writeSession(ctx, s, version); err != nil {
		if !errors.Is(err, objstore.ErrPreconditionFailed) {
			return nil, fmt.Errorf("bucketsite: fail stale session %s: %w", s.ID, err)
		}
		again, _, rerr := h.readSession(ctx, s.ID)
		if rerr != nil {
			return nil, rerr
		}
		return again.toSession(), nil
	}
	return s.toSession(), nil
}
