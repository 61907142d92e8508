package deploy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
)

// Error kinds. Every error returned by Orchestrator.Deploy is an *Error
// whose Kind is one of these, so errors.Is(err, ErrDeployTimeout) works.
var (
	ErrSiteResolution   = errors.New("site resolution failed")
	ErrEmptyFileSet     = errors.New("file set is empty")
	ErrUploadIncomplete = errors.New("upload incomplete")
	ErrDeployFailed     = errors.New("host rejected deploy")
	ErrDeployTimeout    = errors.New("timed out waiting for deploy, status unknown")
	ErrTransport        = errors.New("transport failure")
	ErrValidation       = errors.New("invalid input")
)

// ErrMissingContent is recorded for a required path the FileSet has no
// content for.
var ErrMissingContent = errors.New("required path not in file set")

// FailedUpload is one file the scheduler gave up on.
type FailedUpload struct {
	Path     string
	Attempts int
	Err      error
}

// PartialState says how far a deploy got before it stopped.
type PartialState struct {
	Required  int
	Uploaded  int
	Skipped   int
	Failed    []FailedUpload
	LastState hosting.State
}

// FailedPaths returns the paths of failed uploads, sorted.
func (p *PartialState) FailedPaths() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Failed))
	for _, f := range p.Failed {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}

// Error is a classified deploy failure.
type Error struct {
	Kind     error
	Site     string
	DeployID string
	Message  string
	Partial  *PartialState
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("deploy")
	if e.Site != "" {
		fmt.Fprintf(&b, " %q", e.Site)
	}
	if e.DeployID != "" {
		fmt.Fprintf(&b, " (%s)", e.DeployID)
	}
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("failed")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// StatusUnknown reports whether the host may still finish the deploy on
// its own. Only timeouts are ambiguous; every other kind is a definite
// failure.
func (e *Error) StatusUnknown() bool {
	return e.Kind == ErrDeployTimeout
}

// uploadFailures joins the per-file causes so each stays reachable through
// errors.Is.
func uploadFailures(failed []FailedUpload) error {
	errs := make([]error, 0, len(failed))
	for _, f := range failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
	}
	return errors.Join(errs...)
}
