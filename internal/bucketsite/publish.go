package bucketsite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/objstore"
)

// readLive returns the deploy ID the site's LIVE pointer names and the
// pointer's version. Both are empty when the site was never published.
func (h *Host) readLive(ctx context.Context, site string) (string, string, error) {
	data, meta, err := h.store.Get(ctx, livePointerKey(site))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("bucketsite: read LIVE for %q: %w", site, err)
	}
	return strings.TrimSpace(string(data)), meta.Version, nil
}

// liveManifest loads the record of the deploy LIVE points at. A missing
// record means every path is treated as new.
func (h *Host) liveManifest(ctx context.Context, site, liveID string) (manifest.ContentManifest, error) {
	if liveID == "" {
		return nil, nil
	}
	data, _, err := h.store.Get(ctx, recordKey(site, liveID))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			tflog.Warn(ctx, "Live deploy has no manifest record, republishing all files", map[string]interface{}{
				"site":      site,
				"deploy_id": liveID,
			})
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest of live deploy %s: %w", liveID, err)
	}
	rec, err := manifest.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode manifest of live deploy %s: %w", liveID, err)
	}
	return rec.Files, nil
}

// publish makes s the live deploy:
//
//  1. Copy added and changed paths from blobs to their public keys
//  2. Write the deploy's manifest record
//  3. Move LIVE with a conditional write
//  4. Delete public objects for paths the new deploy dropped
//
// Until step 3 the previous deploy's files stay in place, except that
// changed paths already serve new bytes.
func (h *Host) publish(ctx context.Context, s *sessionRecord) error {
	liveID, liveVersion, err := h.readLive(ctx, s.SiteName)
	if err != nil {
		return err
	}
	previous, err := h.liveManifest(ctx, s.SiteName, liveID)
	if err != nil {
		return err
	}

	diff := s.Files.Diff(previous)
	tflog.Info(ctx, "Publishing bucket deploy", map[string]interface{}{
		"site":      s.SiteName,
		"deploy_id": s.ID,
		"previous":  liveID,
		"added":     len(diff.Added),
		"changed":   len(diff.Changed),
		"removed":   len(diff.Removed),
	})

	// Step 1: copy content into place.
	if err := h.copyFiles(ctx, s, append(diff.Added, diff.Changed...)); err != nil {
		return fmt.Errorf("copy files: %w", err)
	}

	// Step 2: manifest record.
	rec := manifest.NewRecord(s.SiteID, s.SiteName, s.ID, h.timestamp(), s.Files)
	recJSON, err := manifest.Marshal(rec)
	if err != nil {
		return err
	}
	if err := h.store.Put(ctx, recordKey(s.SiteName, s.ID), recJSON, objstore.PutOptions{ContentType: bundle.ContentTypeJSON}); err != nil {
		return fmt.Errorf("write manifest record: %w", err)
	}

	// Step 3: LIVE pointer.
	if err := h.swapLive(ctx, s.SiteName, s.ID, liveVersion); err != nil {
		return err
	}

	// Step 4: drop removed paths.
	if err := h.deleteKeys(ctx, publicKeys(s.SiteName, diff.Removed)); err != nil {
		return fmt.Errorf("remove dropped files: %w", err)
	}
	return nil
}

func (h *Host) swapLive(ctx context.Context, site, deployID, liveVersion string) error {
	key := livePointerKey(site)
	body := []byte(deployID)
	opts := objstore.PutOptions{ContentType: bundle.ContentTypePlain, CacheControl: "no-store"}

	var err error
	if liveVersion == "" {
		err = h.store.PutIfAbsent(ctx, key, body, opts)
	} else {
		err = h.store.PutIfMatch(ctx, key, body, liveVersion, opts)
	}
	if errors.Is(err, objstore.ErrPreconditionFailed) {
		return fmt.Errorf("another deploy of %q went live while this one was publishing: %w", site, err)
	}
	if err != nil {
		return fmt.Errorf("write LIVE: %w", err)
	}
	return nil
}

// copyFiles writes the blob for each path to the path's public key with
// its content type and cache policy.
func (h *Host) copyFiles(ctx context.Context, s *sessionRecord, paths []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		g.Go(func() error {
			if err := h.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer h.sem.Release(1)

			data, _, err := h.store.Get(gctx, blobKey(s.SiteName, s.Files[p]))
			if err != nil {
				return fmt.Errorf("read blob for %s: %w", p, err)
			}
			if err := h.store.Put(gctx, publicKey(s.SiteName, p), data, objstore.PutOptions{
				ContentType:  bundle.ContentTypeForPath(p),
				CacheControl: bundle.CacheControlForPath(p),
			}); err != nil {
				return fmt.Errorf("put %s: %w", p, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func publicKeys(site string, paths []string) []string {
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = publicKey(site, p)
	}
	return keys
}

// deleteKeys removes keys in parallel, bounded by the host semaphore.
func (h *Host) deleteKeys(ctx context.Context, keys []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			if err := h.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer h.sem.Release(1)

			if err := h.store.Delete(gctx, key); err != nil {
				return fmt.Errorf("delete %q: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}
