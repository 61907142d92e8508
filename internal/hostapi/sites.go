package hostapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
)

var _ hosting.Client = (*Client)(nil)

// FindSiteByName lists sites filtered by name and returns the exact match.
func (c *Client) FindSiteByName(ctx context.Context, name string) (*hosting.Site, error) {
	var sites []site
	if err := c.do(ctx, http.MethodGet, "/sites?name="+url.QueryEscape(name), nil, &sites); err != nil {
		return nil, fmt.Errorf("find site %q: %w", name, err)
	}
	for i := range sites {
		if sites[i].Name == name {
			return sites[i].toHosting(), nil
		}
	}
	return nil, fmt.Errorf("site %q: %w", name, hosting.ErrNotFound)
}

// CreateSite creates a site. A host that already has the name answers 409.
func (c *Client) CreateSite(ctx context.Context, name, customDomain string) (*hosting.Site, error) {
	var s site
	req := createSiteRequest{Name: name, CustomDomain: customDomain}
	if err := c.do(ctx, http.MethodPost, "/sites", req, &s); err != nil {
		return nil, fmt.Errorf("create site %q: %w", name, err)
	}
	return s.toHosting(), nil
}
