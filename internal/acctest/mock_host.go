package acctest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

// TestToken is the bearer token the mock server accepts.
const TestToken = "test-token"

// mockSite is the wire form of a site.
type mockSite struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CustomDomain   string `json:"custom_domain,omitempty"`
	DomainVerified bool   `json:"domain_verified"`
	URL            string `json:"url"`
}

// mockDeploy is the wire form of a deploy session.
type mockDeploy struct {
	ID            string    `json:"id"`
	SiteID        string    `json:"site_id"`
	State         string    `json:"state"`
	RequiredPaths []string  `json:"required_paths,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MockHostServer serves the hosting REST API over an in-memory host.
type MockHostServer struct {
	Host   *hosting.MemoryHost
	Server *httptest.Server

	mu      sync.Mutex
	uploads int
}

// NewMockHostServer starts a mock hosting API. The server is closed when
// the test finishes.
func NewMockHostServer(t *testing.T) *MockHostServer {
	t.Helper()

	m := &MockHostServer{Host: hosting.NewMemoryHost(hosting.WithDomain("mock.sitepublish.test"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sites", m.findSite)
	mux.HandleFunc("POST /api/v1/sites", m.createSite)
	mux.HandleFunc("POST /api/v1/sites/{site}/deploys", m.createDeploy)
	mux.HandleFunc("PUT /api/v1/deploys/{deploy}/files/{path...}", m.uploadFile)
	mux.HandleFunc("GET /api/v1/sites/{site}/deploys/{deploy}", m.deployStatus)

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+TestToken {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"error": map[string]string{"code": "unauthorized", "message": "invalid token"},
			})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(m.Server.Close)

	return m
}

// URL returns the base URL of the mock server.
func (m *MockHostServer) URL() string {
	return m.Server.URL
}

// Uploads returns the number of file uploads served so far.
func (m *MockHostServer) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

func (m *MockHostServer) findSite(w http.ResponseWriter, r *http.Request) {
	s, err := m.Host.FindSiteByName(r.Context(), r.URL.Query().Get("name"))
	if errors.Is(err, hosting.ErrNotFound) {
		writeJSON(w, http.StatusOK, []mockSite{})
		return
	}
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, []mockSite{toMockSite(s)})
}

func (m *MockHostServer) createSite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		CustomDomain string `json:"custom_domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_request", "message": err.Error()})
		return
	}
	s, err := m.Host.CreateSite(r.Context(), req.Name, req.CustomDomain)
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMockSite(s))
}

func (m *MockHostServer) createDeploy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Files manifest.ContentManifest `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_request", "message": err.Error()})
		return
	}
	d, err := m.Host.CreateDeploySession(r.Context(), r.PathValue("site"), req.Files)
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMockDeploy(d))
}

func (m *MockHostServer) uploadFile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_request", "message": err.Error()})
		return
	}
	if err := m.Host.UploadFile(r.Context(), r.PathValue("deploy"), "/"+r.PathValue("path"), body); err != nil {
		writeHostError(w, err)
		return
	}

	m.mu.Lock()
	m.uploads++
	m.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockHostServer) deployStatus(w http.ResponseWriter, r *http.Request) {
	d, err := m.Host.GetDeployStatus(r.Context(), r.PathValue("site"), r.PathValue("deploy"))
	if err != nil {
		writeHostError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMockDeploy(d))
}

func toMockSite(s *hosting.Site) mockSite {
	return mockSite{ID: s.ID, Name: s.Name, CustomDomain: s.CustomDomain, DomainVerified: s.DomainVerified, URL: s.DefaultURL}
}

func toMockDeploy(d *hosting.DeploySession) mockDeploy {
	return mockDeploy{
		ID:            d.ID,
		SiteID:        d.SiteID,
		State:         string(d.State),
		RequiredPaths: d.RequiredPaths,
		ErrorMessage:  d.ErrorMessage,
		CreatedAt:     d.CreatedAt,
	}
}

// writeHostError maps host errors to the status codes a real API returns.
func writeHostError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var se *hosting.StatusError
	switch {
	case errors.As(err, &se):
		status = se.StatusCode
	case errors.Is(err, hosting.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, hosting.ErrPayloadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, hosting.ErrInvalidContent):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": "host_error", "message": err.Error()},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
