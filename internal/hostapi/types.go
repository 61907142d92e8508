package hostapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

// site is the wire form of a hosted site.
type site struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CustomDomain   string `json:"custom_domain,omitempty"`
	DomainVerified bool   `json:"domain_verified"`
	URL            string `json:"url"`
}

func (s *site) toHosting() *hosting.Site {
	return &hosting.Site{
		ID:             s.ID,
		Name:           s.Name,
		CustomDomain:   s.CustomDomain,
		DomainVerified: s.DomainVerified,
		DefaultURL:     s.URL,
	}
}

type createSiteRequest struct {
	Name         string `json:"name"`
	CustomDomain string `json:"custom_domain,omitempty"`
}

type createDeployRequest struct {
	Files manifest.ContentManifest `json:"files"`
}

// deployBody is the wire form of a deploy session. Hosts answer with either
// required_paths or required (hashes); both are accepted.
type deployBody struct {
	ID            string    `json:"id"`
	SiteID        string    `json:"site_id"`
	State         string    `json:"state"`
	RequiredPaths []string  `json:"required_paths,omitempty"`
	Required      []string  `json:"required,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (d *deployBody) toHosting(siteID string) *hosting.DeploySession {
	id := d.SiteID
	if id == "" {
		id = siteID
	}
	return &hosting.DeploySession{
		ID:            d.ID,
		SiteID:        id,
		State:         hosting.State(strings.ToLower(d.State)),
		RequiredPaths: d.RequiredPaths,
		ErrorMessage:  d.ErrorMessage,
		CreatedAt:     d.CreatedAt,
	}
}

// pathsForHashes maps required hashes back to paths, one path per hash,
// choosing the lexically first path with that content. Unknown hashes
// are dropped.
func pathsForHashes(m manifest.ContentManifest, hashes []string) []string {
	want := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		want[strings.ToLower(h)] = true
	}
	var out []string
	for _, p := range m.Paths() {
		h := m[p]
		if want[h] {
			out = append(out, p)
			delete(want, h)
		}
	}
	return out
}

// apiError is the error body. Both {"code","message"} and
// {"error":{"code","message"}} are seen in the wild.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseStatusError(status int, body []byte) *hosting.StatusError {
	se := &hosting.StatusError{StatusCode: status}

	var nested struct {
		Error apiError `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && (nested.Error.Message != "" || nested.Error.Code != "") {
		se.Code = nested.Error.Code
		se.Message = nested.Error.Message
		return se
	}

	var flat apiError
	if json.Unmarshal(body, &flat) == nil {
		se.Code = flat.Code
		se.Message = flat.Message
		return se
	}

	se.Message = strings.TrimSpace(string(body))
	if len(se.Message) > 200 {
		se.Message = se.Message[:200]
	}
	return se
}
