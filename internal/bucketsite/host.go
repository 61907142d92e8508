// Package bucketsite serves the hosting capability out of a plain object
// storage bucket. Each site lives under its own key prefix: uploaded content
// is kept by hash, and a deploy is published by copying changed files into
// place and moving the site's LIVE pointer with a conditional write.
package bucketsite

import (
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/objstore"
)

// Defaults for a Host.
const (
	DefaultRetainDeploys = 5
	DefaultConcurrency   = 16
	DefaultStaleClaim    = 10 * time.Minute
)

// Host implements hosting.Client over an objstore.Store. It holds no state
// of its own; everything it knows is read back from the bucket, so several
// processes may share one bucket.
type Host struct {
	store objstore.Store
	sem   *semaphore.Weighted

	publicBaseURL string
	retain        int
	maxFileSize   int
	staleClaim    time.Duration
	now           func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithPublicBaseURL sets the URL the bucket is served from. A site's
// default URL is <base>/<site>/.
func WithPublicBaseURL(u string) Option {
	return func(h *Host) { h.publicBaseURL = strings.TrimRight(u, "/") }
}

// WithRetainDeploys sets how many superseded deploy records are kept per
// site. Zero or less keeps them all.
func WithRetainDeploys(n int) Option {
	return func(h *Host) { h.retain = n }
}

// WithConcurrency bounds parallel object operations during session
// creation, publish and prune.
func WithConcurrency(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMaxFileSize rejects uploads larger than n bytes with
// hosting.ErrPayloadTooLarge. Zero means no limit.
func WithMaxFileSize(n int) Option {
	return func(h *Host) { h.maxFileSize = n }
}

// WithStaleClaimAfter sets how long a claimed publish may run before a
// later poll gives up on it and marks the deploy failed.
func WithStaleClaimAfter(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.staleClaim = d
		}
	}
}

// WithClock replaces time.Now for deploy IDs and timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// New returns a Host backed by store.
func New(store objstore.Store, opts ...Option) *Host {
	h := &Host{
		store:      store,
		sem:        semaphore.NewWeighted(DefaultConcurrency),
		retain:     DefaultRetainDeploys,
		staleClaim: DefaultStaleClaim,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ hosting.Client = (*Host)(nil)

func (h *Host) defaultURL(site string) string {
	return h.publicBaseURL + "/" + site + "/"
}

func (h *Host) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

// claimExpired reports whether a publish claimed at since has outlived the
// stale-claim window. An unreadable timestamp counts as expired.
func (h *Host) claimExpired(since string) bool {
	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return true
	}
	return h.now().Sub(t) > h.staleClaim
}
