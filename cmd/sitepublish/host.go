package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bucketsite"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/config"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hostapi"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/objstore"
)

var errNoHost = errors.New("no host configured: set SITEPUBLISH_API_URL or SITEPUBLISH_BUCKET_TYPE")

// newHost builds the host the environment selects.
func newHost(ctx context.Context, env *config.Config) (hosting.Client, error) {
	switch env.HostKind() {
	case "api":
		if env.API.Token == "" {
			return nil, fmt.Errorf("SITEPUBLISH_API_TOKEN is required with SITEPUBLISH_API_URL")
		}
		return hostapi.NewClient(hostapi.ClientConfig{
			BaseURL:        env.API.URL,
			Token:          env.API.Token,
			TimeoutSeconds: int(env.API.Timeout.Seconds()),
			UserAgent:      "sitepublish-cli",
		})

	case "bucket":
		storeCfg := objstore.Config{
			Name:            "sitepublish",
			Type:            env.Bucket.Type,
			Bucket:          env.Bucket.Name,
			Prefix:          env.Bucket.Prefix,
			Region:          env.Bucket.Region,
			Endpoint:        env.Bucket.Endpoint,
			AccessKeyID:     env.Bucket.AccessKeyID,
			SecretAccessKey: env.Bucket.SecretKey,
			StorageAccount:  env.Bucket.StorageAccount,
			ContainerName:   env.Bucket.ContainerName,
			MaxRetries:      env.Bucket.MaxRetries,
		}
		store, err := objstore.NewStore(ctx, storeCfg)
		if err != nil {
			return nil, err
		}
		publicURL := env.Bucket.PublicBaseURL
		if publicURL == "" {
			publicURL = storeCfg.PublicBaseURL()
		}
		return bucketsite.New(store,
			bucketsite.WithPublicBaseURL(publicURL),
			bucketsite.WithRetainDeploys(env.Bucket.RetainDeploys),
			bucketsite.WithConcurrency(env.Deploy.MaxConcurrency),
		), nil
	}
	return nil, errNoHost
}
