package hostapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

// CreateDeploySession posts the manifest and returns the paths the host
// asks for.
func (c *Client) CreateDeploySession(ctx context.Context, siteID string, m manifest.ContentManifest) (*hosting.DeploySession, error) {
	files := m
	if files == nil {
		files = manifest.ContentManifest{}
	}

	var d deployBody
	path := "/sites/" + url.PathEscape(siteID) + "/deploys"
	if err := c.do(ctx, http.MethodPost, path, createDeployRequest{Files: files}, &d); err != nil {
		return nil, fmt.Errorf("create deploy on site %s: %w", siteID, err)
	}

	out := d.toHosting(siteID)
	if len(out.RequiredPaths) == 0 && len(d.Required) > 0 {
		out.RequiredPaths = pathsForHashes(m, d.Required)
	}
	return out, nil
}

// UploadFile sends one file body as application/octet-stream.
func (c *Client) UploadFile(ctx context.Context, deployID, path string, content []byte) error {
	p := "/deploys/" + url.PathEscape(deployID) + "/files" + escapeSitePath(path)
	if _, err := c.send(ctx, http.MethodPut, p, bytes.NewReader(content), "application/octet-stream"); err != nil {
		return fmt.Errorf("upload %s to deploy %s: %w", path, deployID, err)
	}
	return nil
}

// GetDeployStatus reads a deploy's current state.
func (c *Client) GetDeployStatus(ctx context.Context, siteID, deployID string) (*hosting.DeploySession, error) {
	var d deployBody
	path := "/sites/" + url.PathEscape(siteID) + "/deploys/" + url.PathEscape(deployID)
	if err := c.do(ctx, http.MethodGet, path, nil, &d); err != nil {
		return nil, fmt.Errorf("deploy %s status: %w", deployID, err)
	}
	return d.toHosting(siteID), nil
}

// escapeSitePath escapes each segment of a "/a/b c.html" site path and
// keeps the separators.
func escapeSitePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
