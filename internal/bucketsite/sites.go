package bucketsite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/objstore"
)

// siteRecord is the JSON stored at <site>/.sitepublish/site.json.
// DomainVerified is never set by this package; an operator flips it once
// the custom domain's DNS points at the bucket.
type siteRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CustomDomain   string `json:"custom_domain,omitempty"`
	DomainVerified bool   `json:"domain_verified,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func (h *Host) toSite(r *siteRecord) *hosting.Site {
	return &hosting.Site{
		ID:             r.ID,
		Name:           r.Name,
		CustomDomain:   r.CustomDomain,
		DomainVerified: r.DomainVerified,
		DefaultURL:     h.defaultURL(r.Name),
	}
}

func (h *Host) readSiteRecord(ctx context.Context, name string) (*siteRecord, error) {
	data, _, err := h.store.Get(ctx, siteRecordKey(name))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, fmt.Errorf("site %q: %w", name, hosting.ErrNotFound)
		}
		return nil, fmt.Errorf("bucketsite: read site %q: %w", name, err)
	}
	var r siteRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("bucketsite: decode site %q: %w", name, err)
	}
	return &r, nil
}

// siteNameByID follows the .sitepublish/sites/<id> index.
func (h *Host) siteNameByID(ctx context.Context, siteID string) (string, error) {
	data, _, err := h.store.Get(ctx, siteIndexKey(siteID))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return "", fmt.Errorf("site %s: %w", siteID, hosting.ErrNotFound)
		}
		return "", fmt.Errorf("bucketsite: read site index %s: %w", siteID, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// FindSiteByName reads the site record for name.
func (h *Host) FindSiteByName(ctx context.Context, name string) (*hosting.Site, error) {
	if err := checkSiteName(name); err != nil {
		return nil, fmt.Errorf("bucketsite: %w", err)
	}
	r, err := h.readSiteRecord(ctx, name)
	if err != nil {
		return nil, err
	}

	// A CreateSite that failed after writing the record leaves no index.
	if _, err := h.store.Stat(ctx, siteIndexKey(r.ID)); errors.Is(err, objstore.ErrNotFound) {
		if err := h.store.Put(ctx, siteIndexKey(r.ID), []byte(name), objstore.PutOptions{ContentType: bundle.ContentTypePlain}); err != nil {
			return nil, fmt.Errorf("bucketsite: repair site index %q: %w", name, err)
		}
	}
	return h.toSite(r), nil
}

// CreateSite writes the site record with a create-only write. A site that
// already exists yields a 409 StatusError, the same answer a REST host
// gives, so callers can re-find it.
func (h *Host) CreateSite(ctx context.Context, name, customDomain string) (*hosting.Site, error) {
	if err := checkSiteName(name); err != nil {
		return nil, fmt.Errorf("bucketsite: %w", err)
	}

	r := &siteRecord{
		ID:           uuid.NewString(),
		Name:         name,
		CustomDomain: customDomain,
		CreatedAt:    h.timestamp(),
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("bucketsite: encode site %q: %w", name, err)
	}

	err = h.store.PutIfAbsent(ctx, siteRecordKey(name), data, objstore.PutOptions{ContentType: bundle.ContentTypeJSON})
	if errors.Is(err, objstore.ErrPreconditionFailed) {
		return nil, &hosting.StatusError{StatusCode: 409, Code: "site_exists", Message: fmt.Sprintf("site %q already exists", name)}
	}
	if err != nil {
		return nil, fmt.Errorf("bucketsite: create site %q: %w", name, err)
	}

	if err := h.store.Put(ctx, siteIndexKey(r.ID), []byte(name), objstore.PutOptions{ContentType: bundle.ContentTypePlain}); err != nil {
		return nil, fmt.Errorf("bucketsite: index site %q: %w", name, err)
	}

	tflog.Info(ctx, "Created bucket site", map[string]interface{}{
		"site":    name,
		"site_id": r.ID,
		"store":   h.store.Name(),
	})
	return h.toSite(r), nil
}
