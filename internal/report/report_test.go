package report

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/deploy"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

func assertContains(t *testing.T, out string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q\n--- output ---\n%s", w, out)
		}
	}
}

func TestSuccess(t *testing.T) {
	r := &deploy.DeployResult{
		SiteID:        "site-1",
		SiteURL:       "https://acme-demo.example.net",
		DeployID:      "dep-1",
		FilesUploaded: 2,
		FilesSkipped:  1,
		Duration:      1500 * time.Millisecond,
	}
	out := Success("acme-demo", r)
	assertContains(t, out,
		"# acme-demo is live",
		"https://acme-demo.example.net",
		"dep-1",
		"2 uploaded, 1 unchanged in 1.5s.",
	)

	sum := Summary("acme-demo", r)
	if strings.Contains(sum, "\n") {
		t.Errorf("Summary should be one line: %q", sum)
	}
	assertContains(t, sum, "acme-demo", "dep-1", "2 uploaded")
}

func TestFailure_UploadIncomplete(t *testing.T) {
	err := &deploy.Error{
		Kind:     deploy.ErrUploadIncomplete,
		Site:     "acme-demo",
		DeployID: "dep-9",
		Message:  "1 of 2 required files uploaded",
		Partial: &deploy.PartialState{
			Required:  2,
			Uploaded:  1,
			Skipped:   3,
			LastState: hosting.StateUploading,
			Failed: []deploy.FailedUpload{
				{Path: "/z.css", Attempts: 3, Err: errors.New("connection reset")},
			},
		},
		Err: errors.New("/z.css: connection reset"),
	}

	out := Failure(err)
	assertContains(t, out,
		"# acme-demo: deploy failed",
		"reason:    upload incomplete",
		"dep-9",
		"Progress: 1 of 2 required files uploaded, 3 unchanged.",
		"Last host state: uploading.",
		"- /z.css (3 attempts): connection reset",
	)
	if strings.Contains(out, "cause:") {
		t.Errorf("per-file failures should replace the joined cause:\n%s", out)
	}
}

func TestFailure_Timeout(t *testing.T) {
	err := &deploy.Error{
		Kind:     deploy.ErrDeployTimeout,
		Site:     "acme-demo",
		DeployID: "dep-2",
		Partial:  &deploy.PartialState{Required: 1, Uploaded: 1, LastState: hosting.StateProcessing},
	}
	out := Failure(err)
	assertContains(t, out, "status unknown", "Last host state: processing.", "may still finish")
}

func TestFailure_ManyFailuresTruncated(t *testing.T) {
	var fs []deploy.FailedUpload
	for i := 0; i < maxListedFailures+5; i++ {
		fs = append(fs, deploy.FailedUpload{Path: fmt.Sprintf("/f%03d", i), Attempts: 1, Err: errors.New("x")})
	}
	out := Failure(&deploy.Error{Kind: deploy.ErrUploadIncomplete, Partial: &deploy.PartialState{Failed: fs}})
	assertContains(t, out, "(unnamed site)", "... and 5 more", "(1 attempt)")
	if strings.Contains(out, "/f024") {
		t.Error("failures past the limit should not be listed")
	}
}

func TestFailure_PlainError(t *testing.T) {
	out := Failure(errors.New("boom"))
	if out != "  Deploy failed: boom\n" {
		t.Errorf("out = %q", out)
	}
}

func TestFailure_WrappedDeployError(t *testing.T) {
	inner := &deploy.Error{Kind: deploy.ErrTransport, Site: "s", Err: errors.New("dial tcp: refused")}
	out := Failure(fmt.Errorf("cli: %w", inner))
	assertContains(t, out, "reason:    transport failure", "cause: dial tcp: refused")
}

func TestManifest(t *testing.T) {
	files := bundle.FileSetFromMap(map[string][]byte{
		"/index.html": []byte("hello"),
		"/copy.html":  []byte("hello"),
		"/big.bin":    make([]byte, 2048),
	})
	m, err := manifest.NewBuilder().Build(files)
	if err != nil {
		t.Fatal(err)
	}

	out := Manifest(files, m)
	assertContains(t, out,
		"aaf4c61d",
		"/index.html",
		"2.0 KiB",
		"3 files, 2 distinct",
		m.Digest(),
	)
	if strings.Index(out, "/big.bin") > strings.Index(out, "/index.html") {
		t.Error("paths should be listed in sorted order")
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KiB", 1536: "1.5 KiB", 5 << 20: "5.0 MiB"}
	for n, want := range cases {
		if got := humanBytes(n); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", n, got, want)
		}
	}
}
