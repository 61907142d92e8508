package bucketsite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/deploy"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/objstore"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// stepClock advances one second on every reading so deploy IDs made in a
// tight loop still sort by creation.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestHost(t *testing.T, opts ...Option) (*Host, *objstore.MemoryStore) {
	t.Helper()
	store := objstore.NewMemoryStore("test-bucket")
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	base := []Option{
		WithPublicBaseURL("https://cdn.example.com/"),
		WithClock(clock.Now),
		WithConcurrency(4),
	}
	return New(store, append(base, opts...)...), store
}

func mustCreateSite(t *testing.T, h *Host, name string) *hosting.Site {
	t.Helper()
	site, err := h.CreateSite(context.Background(), name, "")
	if err != nil {
		t.Fatalf("CreateSite(%q): %v", name, err)
	}
	return site
}

func mustBuild(t *testing.T, files map[string][]byte) manifest.ContentManifest {
	t.Helper()
	m, err := manifest.NewBuilder().Build(bundle.FileSetFromMap(files))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

// publishAll runs one deploy of files to site through the host API and
// returns the final session.
func publishAll(t *testing.T, h *Host, site *hosting.Site, files map[string][]byte) *hosting.DeploySession {
	t.Helper()
	ctx := context.Background()

	sess, err := h.CreateDeploySession(ctx, site.ID, mustBuild(t, files))
	if err != nil {
		t.Fatalf("CreateDeploySession: %v", err)
	}
	for _, p := range sess.RequiredPaths {
		if err := h.UploadFile(ctx, sess.ID, p, files[p]); err != nil {
			t.Fatalf("UploadFile(%s): %v", p, err)
		}
	}
	final, err := h.GetDeployStatus(ctx, site.ID, sess.ID)
	if err != nil {
		t.Fatalf("GetDeployStatus: %v", err)
	}
	return final
}

func readObject(t *testing.T, store *objstore.MemoryStore, key string) string {
	t.Helper()
	data, _, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return string(data)
}

func assertMissing(t *testing.T, store *objstore.MemoryStore, key string) {
	t.Helper()
	if _, err := store.Stat(context.Background(), key); !errors.Is(err, objstore.ErrNotFound) {
		t.Errorf("expected %q to be absent, Stat err = %v", key, err)
	}
}

// ---------------------------------------------------------------------------
// Sites
// ---------------------------------------------------------------------------

func TestCreateAndFindSite(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)

	if _, err := h.FindSiteByName(ctx, "acme-demo"); !errors.Is(err, hosting.ErrNotFound) {
		t.Fatalf("FindSiteByName before create: err = %v, want ErrNotFound", err)
	}

	created, err := h.CreateSite(ctx, "acme-demo", "www.acme.test")
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	if created.ID == "" {
		t.Error("expected a site ID")
	}
	if created.DefaultURL != "https://cdn.example.com/acme-demo/" {
		t.Errorf("DefaultURL = %q", created.DefaultURL)
	}
	if created.DomainVerified {
		t.Error("a new site's domain should not be verified")
	}

	found, err := h.FindSiteByName(ctx, "acme-demo")
	if err != nil {
		t.Fatalf("FindSiteByName: %v", err)
	}
	if *found != *created {
		t.Errorf("found = %+v, created = %+v", found, created)
	}
}

func TestCreateSite_Exists(t *testing.T) {
	h, _ := newTestHost(t)
	mustCreateSite(t, h, "acme")

	_, err := h.CreateSite(context.Background(), "acme", "")
	var se *hosting.StatusError
	if !errors.As(err, &se) || se.StatusCode != 409 {
		t.Fatalf("second CreateSite err = %v, want 409 StatusError", err)
	}
}

func TestCreateSite_RejectsUnsafeNames(t *testing.T) {
	h, _ := newTestHost(t)
	for _, name := range []string{"", "a/b", `a\b`, ".sitepublish"} {
		if _, err := h.CreateSite(context.Background(), name, ""); err == nil {
			t.Errorf("CreateSite(%q) should fail", name)
		}
	}
}

func TestFindSite_RepairsMissingIndex(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	if err := store.Delete(ctx, siteIndexKey(site.ID)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.FindSiteByName(ctx, "acme"); err != nil {
		t.Fatalf("FindSiteByName: %v", err)
	}
	if got := readObject(t, store, siteIndexKey(site.ID)); got != "acme" {
		t.Errorf("index = %q, want acme", got)
	}
}

// ---------------------------------------------------------------------------
// Sessions and uploads
// ---------------------------------------------------------------------------

func TestCreateDeploySession_OnePathPerMissingHash(t *testing.T) {
	h, _ := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	m := mustBuild(t, map[string][]byte{
		"/a.html":   []byte("same"),
		"/b.html":   []byte("same"),
		"/style.css": []byte("body{}"),
	})
	sess, err := h.CreateDeploySession(context.Background(), site.ID, m)
	if err != nil {
		t.Fatalf("CreateDeploySession: %v", err)
	}
	if sess.State != hosting.StateUploading {
		t.Errorf("State = %s, want uploading", sess.State)
	}
	want := []string{"/a.html", "/style.css"}
	if len(sess.RequiredPaths) != len(want) {
		t.Fatalf("RequiredPaths = %v, want %v", sess.RequiredPaths, want)
	}
	for i := range want {
		if sess.RequiredPaths[i] != want[i] {
			t.Errorf("RequiredPaths[%d] = %q, want %q", i, sess.RequiredPaths[i], want[i])
		}
	}
}

func TestCreateDeploySession_UnknownSite(t *testing.T) {
	h, _ := newTestHost(t)
	_, err := h.CreateDeploySession(context.Background(), "no-such-site", manifest.ContentManifest{})
	if !errors.Is(err, hosting.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateDeploySession_RejectsBadManifest(t *testing.T) {
	h, _ := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	cases := map[string]manifest.ContentManifest{
		"relative path": {"index.html": manifest.Hash([]byte("x"))},
		"dotdot":        {"/../x": manifest.Hash([]byte("x"))},
		"bad hash":      {"/x": "not-a-hash"},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.CreateDeploySession(context.Background(), site.ID, m)
			if !errors.Is(err, hosting.ErrInvalidContent) {
				t.Errorf("err = %v, want ErrInvalidContent", err)
			}
		})
	}
}

func TestUploadFile_Validation(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t, WithMaxFileSize(8))
	site := mustCreateSite(t, h, "acme")

	files := map[string][]byte{"/index.html": []byte("<p>hi</p>"), "/a.txt": []byte("ok")}
	sess, err := h.CreateDeploySession(ctx, site.ID, mustBuild(t, files))
	if err != nil {
		t.Fatal(err)
	}

	if err := h.UploadFile(ctx, sess.ID, "/other.html", []byte("x")); !errors.Is(err, hosting.ErrInvalidContent) {
		t.Errorf("path outside manifest: err = %v", err)
	}
	if err := h.UploadFile(ctx, sess.ID, "/a.txt", []byte("no")); !errors.Is(err, hosting.ErrInvalidContent) {
		t.Errorf("wrong content: err = %v", err)
	}
	if err := h.UploadFile(ctx, sess.ID, "/index.html", files["/index.html"]); !errors.Is(err, hosting.ErrPayloadTooLarge) {
		t.Errorf("oversized: err = %v", err)
	}
	if err := h.UploadFile(ctx, "dep_bogus", "/a.txt", files["/a.txt"]); !errors.Is(err, hosting.ErrNotFound) {
		t.Errorf("unknown deploy: err = %v", err)
	}
	if err := h.UploadFile(ctx, sess.ID, "/a.txt", files["/a.txt"]); err != nil {
		t.Errorf("valid upload: %v", err)
	}
	if err := h.UploadFile(ctx, sess.ID, "/a.txt", files["/a.txt"]); err != nil {
		t.Errorf("repeat upload: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Publish
// ---------------------------------------------------------------------------

func TestGetDeployStatus_WaitsForUploads(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	files := map[string][]byte{"/index.html": []byte("<html>A</html>")}
	sess, err := h.CreateDeploySession(ctx, site.ID, mustBuild(t, files))
	if err != nil {
		t.Fatal(err)
	}

	got, err := h.GetDeployStatus(ctx, site.ID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != hosting.StateUploading {
		t.Errorf("State before upload = %s, want uploading", got.State)
	}
	assertMissing(t, store, livePointerKey("acme"))

	if _, err := h.GetDeployStatus(ctx, "other-site", sess.ID); !errors.Is(err, hosting.ErrNotFound) {
		t.Errorf("status under the wrong site: err = %v, want ErrNotFound", err)
	}
}

func TestPublish_FirstDeploy(t *testing.T) {
	h, store := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	files := map[string][]byte{
		"/index.html":    []byte("<html>A</html>"),
		"/css/style.css": []byte("body{}"),
	}
	final := publishAll(t, h, site, files)
	if final.State != hosting.StateReady {
		t.Fatalf("State = %s (%s), want ready", final.State, final.ErrorMessage)
	}

	if got := readObject(t, store, "acme/index.html"); got != "<html>A</html>" {
		t.Errorf("acme/index.html = %q", got)
	}
	if got := readObject(t, store, "acme/css/style.css"); got != "body{}" {
		t.Errorf("acme/css/style.css = %q", got)
	}
	if attrs, _ := store.Attributes("acme/index.html"); attrs.ContentType != bundle.ContentTypeForPath("/index.html") || attrs.CacheControl != bundle.CacheControlForPath("/index.html") {
		t.Errorf("index.html attributes = %+v", attrs)
	}
	if got := readObject(t, store, livePointerKey("acme")); got != final.ID {
		t.Errorf("LIVE = %q, want %q", got, final.ID)
	}

	rec, err := manifest.Unmarshal([]byte(readObject(t, store, recordKey("acme", final.ID))))
	if err != nil {
		t.Fatalf("manifest record: %v", err)
	}
	if rec.SiteID != site.ID || len(rec.Files) != 2 {
		t.Errorf("record = %+v", rec)
	}

	// Polling a finished deploy does not publish again.
	again, err := h.GetDeployStatus(context.Background(), site.ID, final.ID)
	if err != nil || again.State != hosting.StateReady {
		t.Errorf("repeat status = %+v, %v", again, err)
	}
}

func TestPublish_SecondDeployAppliesDiff(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	publishAll(t, h, site, map[string][]byte{
		"/index.html": []byte("<html>A</html>"),
		"/about.html": []byte("about"),
		"/style.css":  []byte("body{}"),
	})

	next := map[string][]byte{
		"/index.html": []byte("<html>B</html>"),
		"/style.css":  []byte("body{}"),
		"/new.txt":    []byte("about"),
	}
	sess, err := h.CreateDeploySession(ctx, site.ID, mustBuild(t, next))
	if err != nil {
		t.Fatal(err)
	}
	// Only the new index content is unknown; new.txt reuses about.html's blob.
	if len(sess.RequiredPaths) != 1 || sess.RequiredPaths[0] != "/index.html" {
		t.Fatalf("RequiredPaths = %v, want [/index.html]", sess.RequiredPaths)
	}
	if err := h.UploadFile(ctx, sess.ID, "/index.html", next["/index.html"]); err != nil {
		t.Fatal(err)
	}
	final, err := h.GetDeployStatus(ctx, site.ID, sess.ID)
	if err != nil || final.State != hosting.StateReady {
		t.Fatalf("status = %+v, %v", final, err)
	}

	if got := readObject(t, store, "acme/index.html"); got != "<html>B</html>" {
		t.Errorf("index.html = %q", got)
	}
	if got := readObject(t, store, "acme/new.txt"); got != "about" {
		t.Errorf("new.txt = %q", got)
	}
	assertMissing(t, store, "acme/about.html")
}

func TestPublish_NoOpDeploy(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	files := map[string][]byte{"/index.html": []byte("<html>A</html>")}
	publishAll(t, h, site, files)

	sess, err := h.CreateDeploySession(ctx, site.ID, mustBuild(t, files))
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.RequiredPaths) != 0 {
		t.Errorf("RequiredPaths = %v, want none", sess.RequiredPaths)
	}
	if sess.State != hosting.StateProcessing {
		t.Errorf("State = %s, want processing", sess.State)
	}
	final, err := h.GetDeployStatus(ctx, site.ID, sess.ID)
	if err != nil || final.State != hosting.StateReady {
		t.Fatalf("status = %+v, %v", final, err)
	}
}

func TestPublish_FailureMarksError(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	first := publishAll(t, h, site, map[string][]byte{"/index.html": []byte("A")})

	// A corrupt live record cannot be diffed against.
	if err := store.Put(ctx, recordKey("acme", first.ID), []byte("{not json"), objstore.PutOptions{}); err != nil {
		t.Fatal(err)
	}

	final := publishAll(t, h, site, map[string][]byte{"/index.html": []byte("B")})
	if final.State != hosting.StateError {
		t.Fatalf("State = %s, want error", final.State)
	}
	if final.ErrorMessage == "" {
		t.Error("expected an error message")
	}
	if got := readObject(t, store, livePointerKey("acme")); got != first.ID {
		t.Errorf("LIVE moved to %q after a failed publish", got)
	}
}

func TestGetDeployStatus_ClaimedButLive(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHost(t)
	site := mustCreateSite(t, h, "acme")

	final := publishAll(t, h, site, map[string][]byte{"/index.html": []byte("A")})

	// Simulate a publisher that moved LIVE and then died before
	// recording the outcome.
	s, _, err := h.readSession(ctx, final.ID)
	if err != nil {
		t.Fatal(err)
	}
	s.State = hosting.StateProcessing
	if err := h.writeSession(ctx, s, ""); err != nil {
		t.Fatal(err)
	}

	got, err := h.GetDeployStatus(ctx, site.ID, final.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != hosting.StateReady {
		t.Errorf("State = %s, want ready", got.State)
	}
}

// claimWithoutPublishing uploads every blob for a new deploy and then marks
// it claimed at since, as a publisher that died before moving LIVE would.
func claimWithoutPublishing(t *testing.T, h *Host, site *hosting.Site, files map[string][]byte, since string) *hosting.DeploySession {
	t.Helper()
	ctx := context.Background()

	sess, err := h.CreateDeploySession(ctx, site.ID, mustBuild(t, files))
	if err != nil {
		t.Fatalf("CreateDeploySession: %v", err)
	}
	for _, p := range sess.RequiredPaths {
		if err := h.UploadFile(ctx, sess.ID, p, files[p]); err != nil {
			t.Fatalf("UploadFile(%s): %v", p, err)
		}
	}
	s, _, err := h.readSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	s.State = hosting.StateProcessing
	s.PublishingSince = since
	if err := h.writeSession(ctx, s, ""); err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestGetDeployStatus_FreshClaimStaysProcessing(t *testing.T) {
	h, store := newTestHost(t, WithStaleClaimAfter(time.Hour))
	site := mustCreateSite(t, h, "acme")

	sess := claimWithoutPublishing(t, h, site, map[string][]byte{"/index.html": []byte("A")}, h.timestamp())

	got, err := h.GetDeployStatus(context.Background(), site.ID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != hosting.StateProcessing {
		t.Errorf("State = %s, want processing", got.State)
	}
	assertMissing(t, store, "acme/index.html")
}

func TestGetDeployStatus_StaleClaimFails(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHost(t, WithStaleClaimAfter(time.Minute))
	site := mustCreateSite(t, h, "acme")

	sess := claimWithoutPublishing(t, h, site, map[string][]byte{"/index.html": []byte("A")}, "2026-01-01T00:00:00Z")

	got, err := h.GetDeployStatus(ctx, site.ID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != hosting.StateError {
		t.Fatalf("State = %s, want error", got.State)
	}
	if got.ErrorMessage == "" {
		t.Error("expected an error message")
	}
	assertMissing(t, store, livePointerKey("acme"))

	// The outcome is recorded, so later polls agree.
	again, err := h.GetDeployStatus(ctx, site.ID, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.State != hosting.StateError {
		t.Errorf("second poll State = %s, want error", again.State)
	}
}

func TestStaleClaimDoesNotBlockRedeploy(t *testing.T) {
	h, _ := newTestHost(t, WithStaleClaimAfter(time.Minute))
	site := mustCreateSite(t, h, "acme")
	files := map[string][]byte{"/index.html": []byte("A")}
	claimWithoutPublishing(t, h, site, files, "2026-01-01T00:00:00Z")

	// A fresh deploy of the same content is unaffected by the stuck one.
	orch := deploy.NewOrchestrator(h, nil, nil, nil, deploy.WithPollInterval(time.Millisecond))
	res, err := orch.Deploy(context.Background(), bundle.FileSetFromMap(files), deploy.SiteConfig{Name: "acme"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if res.FilesUploaded != 0 {
		t.Errorf("FilesUploaded = %d, want 0 (blobs already stored)", res.FilesUploaded)
	}
}

// ---------------------------------------------------------------------------
// Prune
// ---------------------------------------------------------------------------

func TestPrune_KeepsNewestAndLive(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHost(t, WithRetainDeploys(1))
	site := mustCreateSite(t, h, "acme")

	var ids []string
	for _, body := range []string{"1", "2", "3", "4"} {
		final := publishAll(t, h, site, map[string][]byte{"/index.html": []byte(body)})
		if final.State != hosting.StateReady {
			t.Fatalf("deploy %s: state %s", body, final.State)
		}
		ids = append(ids, final.ID)
	}

	// Live (4) plus one retained (3).
	for _, id := range ids[:2] {
		assertMissing(t, store, sessionKey("acme", id))
		assertMissing(t, store, deployIndexKey(id))
	}
	for _, id := range ids[2:] {
		if _, err := store.Stat(ctx, sessionKey("acme", id)); err != nil {
			t.Errorf("deploy %s should be kept: %v", id, err)
		}
	}

	// Blobs are shared and survive pruning.
	if _, err := store.Stat(ctx, blobKey("acme", manifest.Hash([]byte("1")))); err != nil {
		t.Errorf("blob of pruned deploy removed: %v", err)
	}
}

func TestPrune_Disabled(t *testing.T) {
	h, store := newTestHost(t, WithRetainDeploys(0))
	site := mustCreateSite(t, h, "acme")

	var ids []string
	for _, body := range []string{"1", "2", "3"} {
		ids = append(ids, publishAll(t, h, site, map[string][]byte{"/i.html": []byte(body)}).ID)
	}
	for _, id := range ids {
		if _, err := store.Stat(context.Background(), sessionKey("acme", id)); err != nil {
			t.Errorf("deploy %s removed with pruning disabled: %v", id, err)
		}
	}
}

func TestDeployIDFromKey(t *testing.T) {
	cases := []struct {
		key  string
		id   string
		want bool
	}{
		{"acme/.sitepublish/deploys/dep_x/session.json", "dep_x", true},
		{"acme/.sitepublish/deploys/dep_x", "", false},
		{"other/.sitepublish/deploys/dep_x/session.json", "", false},
	}
	for _, tc := range cases {
		id, ok := deployIDFromKey("acme", tc.key)
		if ok != tc.want || id != tc.id {
			t.Errorf("deployIDFromKey(%q) = %q, %v", tc.key, id, ok)
		}
	}
}

// ---------------------------------------------------------------------------
// Orchestrator end to end
// ---------------------------------------------------------------------------

func TestOrchestratorAgainstBucket(t *testing.T) {
	h, store := newTestHost(t)
	orch := deploy.NewOrchestrator(h, nil, nil, nil,
		deploy.WithPollInterval(time.Millisecond),
		deploy.WithMaxWait(5*time.Second),
	)

	files := bundle.FileSetFromMap(map[string][]byte{
		"/index.html": []byte("<html>A</html>"),
		"/style.css":  []byte("body{}"),
	})
	res, err := orch.Deploy(context.Background(), files, deploy.SiteConfig{Name: "acme-demo"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if res.FilesUploaded != 2 || res.FilesSkipped != 0 {
		t.Errorf("uploaded=%d skipped=%d", res.FilesUploaded, res.FilesSkipped)
	}
	if res.SiteURL != "https://cdn.example.com/acme-demo/" {
		t.Errorf("SiteURL = %q", res.SiteURL)
	}
	if got := readObject(t, store, "acme-demo/style.css"); got != "body{}" {
		t.Errorf("style.css = %q", got)
	}

	again, err := orch.Deploy(context.Background(), files, deploy.SiteConfig{Name: "acme-demo"})
	if err != nil {
		t.Fatalf("second Deploy: %v", err)
	}
	if again.FilesUploaded != 0 || again.FilesSkipped != 2 {
		t.Errorf("second deploy uploaded=%d skipped=%d", again.FilesUploaded, again.FilesSkipped)
	}
	if again.SiteID != res.SiteID {
		t.Errorf("site changed between deploys: %s vs %s", res.SiteID, again.SiteID)
	}
}
