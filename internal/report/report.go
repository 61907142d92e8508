// Package report renders deploy outcomes and scanned manifests as plain
// text for terminals and Terraform diagnostics.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/deploy"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

// maxListedFailures bounds the per-file lines in a failure report.
const maxListedFailures = 20

// Success renders a finished deploy.
func Success(site string, r *deploy.DeployResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "  # %s is live\n", site)
	fmt.Fprintf(&b, "  # url:       %s\n", r.SiteURL)
	fmt.Fprintf(&b, "  # deploy_id: %s\n", r.DeployID)
	fmt.Fprintf(&b, "  # site_id:   %s\n", r.SiteID)
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %d uploaded, %d unchanged in %s.\n",
		r.FilesUploaded, r.FilesSkipped, r.Duration.Round(time.Millisecond))

	return b.String()
}

// Summary returns a single-line description of a finished deploy.
func Summary(site string, r *deploy.DeployResult) string {
	return fmt.Sprintf("%s: deployed %s (%d uploaded, %d unchanged) at %s",
		site, r.DeployID, r.FilesUploaded, r.FilesSkipped, r.SiteURL)
}

// Failure renders a failed deploy, stating how far it got. Errors that are
// not *deploy.Error are rendered as their message.
func Failure(err error) string {
	var de *deploy.Error
	if !errors.As(err, &de) {
		return "  Deploy failed: " + err.Error() + "\n"
	}

	var b strings.Builder
	site := de.Site
	if site == "" {
		site = "(unnamed site)"
	}

	if de.StatusUnknown() {
		fmt.Fprintf(&b, "  # %s: status unknown\n", site)
	} else {
		fmt.Fprintf(&b, "  # %s: deploy failed\n", site)
	}
	if de.Kind != nil {
		fmt.Fprintf(&b, "  # reason:    %s\n", de.Kind)
	}
	if de.DeployID != "" {
		fmt.Fprintf(&b, "  # deploy_id: %s\n", de.DeployID)
	}
	b.WriteString("\n")

	if de.Message != "" {
		fmt.Fprintf(&b, "  %s\n", de.Message)
	}
	if de.Err != nil && len(failed(de)) == 0 {
		fmt.Fprintf(&b, "  cause: %s\n", de.Err)
	}

	if p := de.Partial; p != nil {
		b.WriteString("\n")
		fmt.Fprintf(&b, "  Progress: %d of %d required files uploaded, %d unchanged.\n",
			p.Uploaded, p.Required, p.Skipped)
		if p.LastState != "" {
			fmt.Fprintf(&b, "  Last host state: %s.\n", p.LastState)
		}

		if fs := failed(de); len(fs) > 0 {
			b.WriteString("\n  Failed files:\n")
			for i, f := range fs {
				if i == maxListedFailures {
					fmt.Fprintf(&b, "    ... and %d more\n", len(fs)-maxListedFailures)
					break
				}
				fmt.Fprintf(&b, "    - %s (%d attempt%s): %v\n", f.Path, f.Attempts, plural(f.Attempts), f.Err)
			}
		}
	}

	if de.StatusUnknown() {
		b.WriteString("\n  The host may still finish this deploy. Run the deploy again to converge.\n")
	}
	return b.String()
}

// failed returns the partial state's failures sorted by path.
func failed(de *deploy.Error) []deploy.FailedUpload {
	if de.Partial == nil || len(de.Partial.Failed) == 0 {
		return nil
	}
	out := append([]deploy.FailedUpload(nil), de.Partial.Failed...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Manifest renders the result of scanning a directory: one line per path
// with a short hash and size, then totals and the manifest digest.
func Manifest(files *bundle.FileSet, m manifest.ContentManifest) string {
	var b strings.Builder

	paths := m.Paths()
	for _, p := range paths {
		size := 0
		if data, ok := files.Get(p); ok {
			size = len(data)
		}
		fmt.Fprintf(&b, "    %s  %s  %s\n", shortHash(m[p]), padLeft(humanBytes(int64(size)), 9), p)
	}
	fmt.Fprintf(&b, "\n  %d file%s, %d distinct, %s.\n",
		len(paths), plural(len(paths)), len(m.Hashes()), humanBytes(files.TotalBytes()))
	fmt.Fprintf(&b, "  digest: %s\n", m.Digest())
	return b.String()
}

// shortHash keeps the first 8 hex characters of a digest.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func padLeft(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return strings.Repeat(" ", w-len(s)) + s
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
