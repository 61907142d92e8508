package hosting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/deployid"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

// DefaultMemoryDomain is the parent domain of MemoryHost default URLs.
const DefaultMemoryDomain = "sitepublish.localhost"

// MemoryHooks inject faults into a MemoryHost. Every hook is optional. A
// non-nil error from a Before hook is returned instead of doing the call.
// Hooks run with the host locked and must not call back into it.
type MemoryHooks struct {
	BeforeFindSite      func(name string) error
	BeforeCreateSite    func(name string) error
	BeforeCreateSession func(siteID string) error
	// BeforeUpload receives the 1-based count of upload calls for path in
	// this deploy, including the current one.
	BeforeUpload func(deployID, path string, call int) error
	// BeforeStatus receives the 1-based poll count for the deploy.
	BeforeStatus func(deployID string, poll int) error
	// OverrideState, when it returns a non-empty State, replaces the state
	// the host would otherwise report. The message is used for StateError.
	OverrideState func(deployID string, poll int) (State, string)
}

// CallCounts records how often each Client method was entered.
type CallCounts struct {
	FindSite      int
	CreateSite    int
	CreateSession int
	Upload        int
	Status        int
}

// Total is the number of Client calls of any kind.
func (c CallCounts) Total() int {
	return c.FindSite + c.CreateSite + c.CreateSession + c.Upload + c.Status
}

type memorySite struct {
	site  Site
	blobs map[string]struct{} // accepted content hashes
}

type memoryDeploy struct {
	session  DeploySession
	manifest manifest.ContentManifest
	uploads  map[string]int
	polls    int
}

// MemoryHost is a Client that keeps everything in process. Like a real
// host it remembers every content hash a site has accepted, so unchanged
// files are never required twice.
type MemoryHost struct {
	mu sync.Mutex

	domain      string
	maxFileSize int
	// readyAfter is how many polls a complete deploy stays in processing.
	readyAfter int

	sites   map[string]*memorySite
	byName  map[string]string
	deploys map[string]*memoryDeploy
	hooks   MemoryHooks
	calls   CallCounts
}

// MemoryOption configures a MemoryHost.
type MemoryOption func(*MemoryHost)

// WithDomain sets the parent domain of default site URLs.
func WithDomain(domain string) MemoryOption {
	return func(h *MemoryHost) { h.domain = domain }
}

// WithMaxFileSize rejects uploads larger than n bytes with ErrPayloadTooLarge.
func WithMaxFileSize(n int) MemoryOption {
	return func(h *MemoryHost) { h.maxFileSize = n }
}

// WithProcessingPolls keeps a fully uploaded deploy in StateProcessing for
// the first n status polls.
func WithProcessingPolls(n int) MemoryOption {
	return func(h *MemoryHost) { h.readyAfter = n }
}

// NewMemoryHost returns an empty MemoryHost.
func NewMemoryHost(opts ...MemoryOption) *MemoryHost {
	h := &MemoryHost{
		domain:  DefaultMemoryDomain,
		sites:   make(map[string]*memorySite),
		byName:  make(map[string]string),
		deploys: make(map[string]*memoryDeploy),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ Client = (*MemoryHost)(nil)

// SetHooks replaces the fault hooks.
func (h *MemoryHost) SetHooks(hooks MemoryHooks) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = hooks
}

// Calls returns a snapshot of the call counters.
func (h *MemoryHost) Calls() CallCounts {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// UploadCalls returns how many times path was uploaded within deployID.
func (h *MemoryHost) UploadCalls(deployID, path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.deploys[deployID]; ok {
		return d.uploads[path]
	}
	return 0
}

// VerifyDomain marks the custom domain of the named site as verified.
func (h *MemoryHost) VerifyDomain(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.byName[name]
	if !ok {
		return fmt.Errorf("site %q: %w", name, ErrNotFound)
	}
	h.sites[id].site.DomainVerified = h.sites[id].site.CustomDomain != ""
	return nil
}

func (h *MemoryHost) FindSiteByName(_ context.Context, name string) (*Site, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls.FindSite++

	if h.hooks.BeforeFindSite != nil {
		if err := h.hooks.BeforeFindSite(name); err != nil {
			return nil, err
		}
	}

	id, ok := h.byName[name]
	if !ok {
		return nil, fmt.Errorf("site %q: %w", name, ErrNotFound)
	}
	s := h.sites[id].site
	return &s, nil
}

func (h *MemoryHost) CreateSite(_ context.Context, name, customDomain string) (*Site, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls.CreateSite++

	if h.hooks.BeforeCreateSite != nil {
		if err := h.hooks.BeforeCreateSite(name); err != nil {
			return nil, err
		}
	}

	if _, exists := h.byName[name]; exists {
		return nil, &StatusError{StatusCode: 409, Code: "site_exists", Message: fmt.Sprintf("site %q already exists", name)}
	}

	s := Site{
		ID:           uuid.NewString(),
		Name:         name,
		CustomDomain: customDomain,
		DefaultURL:   fmt.Sprintf("https://%s.%s", name, h.domain),
	}
	h.sites[s.ID] = &memorySite{site: s, blobs: make(map[string]struct{})}
	h.byName[name] = s.ID
	return &s, nil
}

func (h *MemoryHost) CreateDeploySession(_ context.Context, siteID string, m manifest.ContentManifest) (*DeploySession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls.CreateSession++

	if h.hooks.BeforeCreateSession != nil {
		if err := h.hooks.BeforeCreateSession(siteID); err != nil {
			return nil, err
		}
	}

	site, ok := h.sites[siteID]
	if !ok {
		return nil, fmt.Errorf("site %s: %w", siteID, ErrNotFound)
	}

	// One path per missing hash; identical files only need one upload.
	var required []string
	wanted := make(map[string]bool)
	for _, p := range m.Paths() {
		hash := m[p]
		if _, have := site.blobs[hash]; have || wanted[hash] {
			continue
		}
		wanted[hash] = true
		required = append(required, p)
	}

	state := StateProcessing
	if len(required) > 0 {
		state = StateUploading
	}

	d := &memoryDeploy{
		session: DeploySession{
			ID:        deployid.New(),
			SiteID:    siteID,
			State:     state,
			CreatedAt: time.Now().UTC(),
		},
		manifest: m,
		uploads:  make(map[string]int),
	}
	h.deploys[d.session.ID] = d

	out := d.session
	out.RequiredPaths = required
	return &out, nil
}

func (h *MemoryHost) UploadFile(_ context.Context, deployID, path string, content []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls.Upload++

	d, ok := h.deploys[deployID]
	if !ok {
		return fmt.Errorf("deploy %s: %w", deployID, ErrNotFound)
	}
	d.uploads[path]++

	if h.hooks.BeforeUpload != nil {
		if err := h.hooks.BeforeUpload(deployID, path, d.uploads[path]); err != nil {
			return err
		}
	}

	want, ok := d.manifest[path]
	if !ok {
		return fmt.Errorf("%s is not in deploy %s: %w", path, deployID, ErrInvalidContent)
	}
	if h.maxFileSize > 0 && len(content) > h.maxFileSize {
		return fmt.Errorf("%s is %d bytes: %w", path, len(content), ErrPayloadTooLarge)
	}
	if got := manifest.Hash(content); got != want {
		return fmt.Errorf("%s hashes to %s, manifest says %s: %w", path, got, want, ErrInvalidContent)
	}

	h.sites[d.session.SiteID].blobs[want] = struct{}{}
	return nil
}

func (h *MemoryHost) GetDeployStatus(_ context.Context, siteID, deployID string) (*DeploySession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls.Status++

	d, ok := h.deploys[deployID]
	if !ok || d.session.SiteID != siteID {
		return nil, fmt.Errorf("deploy %s: %w", deployID, ErrNotFound)
	}
	d.polls++

	if h.hooks.BeforeStatus != nil {
		if err := h.hooks.BeforeStatus(deployID, d.polls); err != nil {
			return nil, err
		}
	}

	if !d.session.State.Terminal() {
		site := h.sites[siteID]
		complete := true
		for _, hash := range d.manifest {
			if _, have := site.blobs[hash]; !have {
				complete = false
				break
			}
		}
		switch {
		case !complete:
			d.session.State = StateUploading
		case d.polls > h.readyAfter:
			d.session.State = StateReady
		default:
			d.session.State = StateProcessing
		}
	}

	out := d.session
	if h.hooks.OverrideState != nil {
		if st, msg := h.hooks.OverrideState(deployID, d.polls); st != "" {
			out.State = st
			out.ErrorMessage = msg
		}
	}
	return &out, nil
}

// Sites returns the names of all sites, sorted.
func (h *MemoryHost) Sites() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.byName))
	for n := range h.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
