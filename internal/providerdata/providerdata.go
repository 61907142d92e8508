// Package providerdata defines the ProviderData struct that is shared between
// the provider and its resources. It is separated into its own package to
// avoid import cycles (provider -> resource -> provider).
package providerdata

import (
	"time"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/deploy"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
)

// Host kinds selected by the provider configuration.
const (
	HostAPI    = "api"
	HostBucket = "bucket"
	HostMemory = "memory"
)

// ProviderData is configured during provider.Configure() and shared with
// resources via resp.ResourceData.
type ProviderData struct {
	Host     hosting.Client
	HostKind string

	// Defaults for resources that leave the matching argument unset.
	MaxConcurrency int
	PollInterval   time.Duration
	MaxWait        time.Duration
}

// DeploySettings are the per-resource overrides of the provider defaults.
// Zero values fall back to ProviderData.
type DeploySettings struct {
	Concurrency  int
	PollInterval time.Duration
	MaxWait      time.Duration
}

// Orchestrator builds a deploy.Orchestrator for the configured host. A
// resource concurrency above the provider's max_concurrency is clamped.
func (pd *ProviderData) Orchestrator(s DeploySettings) *deploy.Orchestrator {
	concurrency := pd.MaxConcurrency
	if s.Concurrency > 0 && (concurrency <= 0 || s.Concurrency < concurrency) {
		concurrency = s.Concurrency
	}
	pollInterval := pd.PollInterval
	if s.PollInterval > 0 {
		pollInterval = s.PollInterval
	}
	maxWait := pd.MaxWait
	if s.MaxWait > 0 {
		maxWait = s.MaxWait
	}

	var opts []deploy.Option
	if concurrency > 0 {
		opts = append(opts, deploy.WithConcurrency(concurrency))
	}
	if pollInterval > 0 {
		opts = append(opts, deploy.WithPollInterval(pollInterval))
	}
	if maxWait > 0 {
		opts = append(opts, deploy.WithMaxWait(maxWait))
	}
	return deploy.NewOrchestrator(pd.Host, nil, nil, nil, opts...)
}
