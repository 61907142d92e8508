package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bucketsite"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/config"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hostapi"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/objstore"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/providerdata"
	siteresource "github.com/sitepublish/terraform-provider-sitepublish/internal/resource/site"
)

// defaultMemoryHost names the shared in-memory host used when the memory
// block leaves name unset.
const defaultMemoryHost = "default"

// Ensure SitePublishProvider satisfies the provider.Provider interface.
var _ provider.Provider = &SitePublishProvider{}

// SitePublishProvider implements the sitepublish Terraform provider.
type SitePublishProvider struct {
	// version is set to the provider version on release, "dev" when the
	// provider is built and run locally.
	version string
}

// New returns a factory function that creates a new SitePublishProvider
// instance for the given version string. This is the entry-point used in
// main.go.
func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &SitePublishProvider{
			version: version,
		}
	}
}

// Metadata returns the provider type name.
func (p *SitePublishProvider) Metadata(_ context.Context, _ provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "sitepublish"
	resp.Version = p.version
}

// Schema returns the provider schema.
func (p *SitePublishProvider) Schema(_ context.Context, _ provider.SchemaRequest, resp *provider.SchemaResponse) {
	atMostOne := []validator.List{listvalidator.SizeAtMost(1)}

	resp.Schema = schema.Schema{
		MarkdownDescription: "The sitepublish provider deploys static sites to a hosting API or to an object storage bucket, uploading only the files the host does not already have. Configure exactly one of the `api`, `bucket` or `memory` blocks, or select a host through `SITEPUBLISH_API_URL` / `SITEPUBLISH_BUCKET_TYPE`.",
		Attributes: map[string]schema.Attribute{
			"max_concurrency": schema.Int64Attribute{
				MarkdownDescription: "Upper bound on parallel uploads per deploy. Resources may lower it with `concurrency`. Defaults to `SITEPUBLISH_MAX_CONCURRENCY` or `10`.",
				Optional:            true,
				Validators:          []validator.Int64{int64validator.AtLeast(1)},
			},
		},
		Blocks: map[string]schema.Block{
			"api": schema.ListNestedBlock{
				MarkdownDescription: "Deploy through a REST static hosting API. At most one block may be specified.",
				Validators:          atMostOne,
				NestedObject: schema.NestedBlockObject{
					Attributes: map[string]schema.Attribute{
						"base_url": schema.StringAttribute{
							MarkdownDescription: "Base URL of the hosting API. Defaults to `SITEPUBLISH_API_URL`.",
							Optional:            true,
						},
						"token": schema.StringAttribute{
							MarkdownDescription: "Bearer token for the hosting API. Defaults to `SITEPUBLISH_API_TOKEN`. This value is sensitive and will not appear in plan output.",
							Optional:            true,
							Sensitive:           true,
						},
						"timeout_seconds": schema.Int64Attribute{
							MarkdownDescription: "Timeout in seconds for individual API requests. Defaults to `SITEPUBLISH_API_TIMEOUT` or `60`.",
							Optional:            true,
							Validators:          []validator.Int64{int64validator.AtLeast(1)},
						},
					},
				},
			},
			"bucket": schema.ListNestedBlock{
				MarkdownDescription: "Host sites directly from an object storage bucket. Every site lives under `<prefix>/<site name>/`. At most one block may be specified.",
				Validators:          atMostOne,
				NestedObject: schema.NestedBlockObject{
					Attributes: map[string]schema.Attribute{
						"type": schema.StringAttribute{
							MarkdownDescription: "Storage backend type. Supported values are `\"s3\"`, `\"gcs\"`, `\"azure\"` and `\"memory\"`. Defaults to `SITEPUBLISH_BUCKET_TYPE`.",
							Optional:            true,
							Validators:          []validator.String{stringvalidator.OneOf("s3", "gcs", "azure", "memory")},
						},
						"bucket": schema.StringAttribute{
							MarkdownDescription: "S3 or GCS bucket name. Required for `s3` and `gcs`.",
							Optional:            true,
						},
						"region": schema.StringAttribute{
							MarkdownDescription: "AWS region of the S3 bucket.",
							Optional:            true,
						},
						"endpoint": schema.StringAttribute{
							MarkdownDescription: "Custom endpoint for S3-compatible services. Switches to path-style addressing.",
							Optional:            true,
						},
						"access_key_id": schema.StringAttribute{
							MarkdownDescription: "Static S3 access key. The default AWS credential chain is used when unset.",
							Optional:            true,
						},
						"secret_access_key": schema.StringAttribute{
							MarkdownDescription: "Static S3 secret key, set together with `access_key_id`.",
							Optional:            true,
							Sensitive:           true,
						},
						"prefix": schema.StringAttribute{
							MarkdownDescription: "Key prefix prepended to every object written by the provider.",
							Optional:            true,
						},
						"storage_account": schema.StringAttribute{
							MarkdownDescription: "Azure Storage account name. Required for `azure`.",
							Optional:            true,
						},
						"container_name": schema.StringAttribute{
							MarkdownDescription: "Azure Blob Storage container name. Required for `azure`.",
							Optional:            true,
						},
						"public_base_url": schema.StringAttribute{
							MarkdownDescription: "URL the bucket prefix is served from, usually a CDN. Site URLs are `<public_base_url>/<site name>/`. Defaults to the backend's public object URL.",
							Optional:            true,
						},
						"max_retries": schema.Int64Attribute{
							MarkdownDescription: "Maximum number of retries for failed storage operations. Defaults to `3`.",
							Optional:            true,
							Validators:          []validator.Int64{int64validator.AtLeast(0)},
						},
						"retain_deploys": schema.Int64Attribute{
							MarkdownDescription: "Number of old deploy records kept per site besides the live one. `0` keeps all. Defaults to `5`.",
							Optional:            true,
							Validators:          []validator.Int64{int64validator.AtLeast(0)},
						},
					},
				},
			},
			"memory": schema.ListNestedBlock{
				MarkdownDescription: "Deploy to a process-local in-memory host. Intended for tests. At most one block may be specified.",
				Validators:          atMostOne,
				NestedObject: schema.NestedBlockObject{
					Attributes: map[string]schema.Attribute{
						"name": schema.StringAttribute{
							MarkdownDescription: "Name of the shared in-memory host. Defaults to `\"default\"`.",
							Optional:            true,
						},
					},
				},
			},
		},
	}
}

// Configure resolves the host from the provider blocks, falling back to
// the environment, and stores it in ProviderData for the resources.
func (p *SitePublishProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var cfg ProviderModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &cfg)...)
	if resp.Diagnostics.HasError() {
		return
	}

	env, err := config.Load()
	if err != nil {
		resp.Diagnostics.AddError("Invalid Environment Configuration", err.Error())
		return
	}

	// ----------------------------------------------------------------
	// Resolve top-level defaults
	// ----------------------------------------------------------------
	maxConcurrency := int64Or(cfg.MaxConcurrency, int64(env.Deploy.MaxConcurrency))

	// ----------------------------------------------------------------
	// Select the host
	// ----------------------------------------------------------------
	var kinds []string
	if len(cfg.API) > 0 {
		kinds = append(kinds, providerdata.HostAPI)
	}
	if len(cfg.Bucket) > 0 {
		kinds = append(kinds, providerdata.HostBucket)
	}
	if len(cfg.Memory) > 0 {
		kinds = append(kinds, providerdata.HostMemory)
	}

	var kind string
	switch len(kinds) {
	case 0:
		kind = env.HostKind()
		if kind == "" {
			resp.Diagnostics.AddError(
				"Missing Host Configuration",
				"Configure one of the api, bucket or memory blocks, or set SITEPUBLISH_API_URL or SITEPUBLISH_BUCKET_TYPE.",
			)
			return
		}
	case 1:
		kind = kinds[0]
	default:
		resp.Diagnostics.AddError(
			"Conflicting Host Configuration",
			fmt.Sprintf("Only one host block may be configured, found: %s.", strings.Join(kinds, ", ")),
		)
		return
	}

	var host hosting.Client
	switch kind {
	case providerdata.HostAPI:
		var block APIConfigModel
		if len(cfg.API) == 1 {
			block = cfg.API[0]
		}
		host, err = newAPIHost(block, env.API, p.version)
	case providerdata.HostBucket:
		var block BucketConfigModel
		if len(cfg.Bucket) == 1 {
			block = cfg.Bucket[0]
		}
		host, err = newBucketHost(ctx, block, env.Bucket, int(maxConcurrency))
	case providerdata.HostMemory:
		name := defaultMemoryHost
		if len(cfg.Memory) == 1 {
			name = stringOr(cfg.Memory[0].Name, defaultMemoryHost)
		}
		host = hosting.SharedMemoryHost(name)
	}
	if err != nil {
		resp.Diagnostics.AddError(
			"Host Initialization Failed",
			fmt.Sprintf("Failed to configure the %s host: %s", kind, err),
		)
		return
	}

	tflog.Debug(ctx, "sitepublish host configured", map[string]interface{}{
		"host":            kind,
		"max_concurrency": maxConcurrency,
	})

	// ----------------------------------------------------------------
	// Build ProviderData and share with resources
	// ----------------------------------------------------------------
	pd := &ProviderData{
		Host:           host,
		HostKind:       kind,
		MaxConcurrency: int(maxConcurrency),
		PollInterval:   env.Deploy.PollInterval,
		MaxWait:        env.Deploy.MaxWait,
	}

	resp.DataSourceData = pd
	resp.ResourceData = pd
}

// newAPIHost builds the REST client. Block values win over env.
func newAPIHost(block APIConfigModel, env config.APIConfig, version string) (hosting.Client, error) {
	token := stringOr(block.Token, env.Token)
	if token == "" {
		return nil, fmt.Errorf("token is required (set it in the api block or SITEPUBLISH_API_TOKEN)")
	}
	return hostapi.NewClient(hostapi.ClientConfig{
		BaseURL:        stringOr(block.BaseURL, env.URL),
		Token:          token,
		TimeoutSeconds: int(int64Or(block.TimeoutSeconds, int64(env.Timeout.Seconds()))),
		UserAgent:      "terraform-provider-sitepublish/" + version,
	})
}

// newBucketHost builds the object store and the bucket host on top of it.
// Block values win over env.
func newBucketHost(ctx context.Context, block BucketConfigModel, env config.BucketConfig, concurrency int) (hosting.Client, error) {
	storeCfg := objstore.Config{
		Name:            "sitepublish",
		Type:            stringOr(block.Type, env.Type),
		Bucket:          stringOr(block.Bucket, env.Name),
		Prefix:          stringOr(block.Prefix, env.Prefix),
		Region:          stringOr(block.Region, env.Region),
		Endpoint:        stringOr(block.Endpoint, env.Endpoint),
		AccessKeyID:     stringOr(block.AccessKeyID, env.AccessKeyID),
		SecretAccessKey: stringOr(block.SecretAccessKey, env.SecretKey),
		StorageAccount:  stringOr(block.StorageAccount, env.StorageAccount),
		ContainerName:   stringOr(block.ContainerName, env.ContainerName),
		MaxRetries:      int(int64Or(block.MaxRetries, int64(env.MaxRetries))),
	}

	store, err := objstore.NewStore(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	publicURL := stringOr(block.PublicBaseURL, env.PublicBaseURL)
	if publicURL == "" {
		publicURL = storeCfg.PublicBaseURL()
	}

	return bucketsite.New(store,
		bucketsite.WithPublicBaseURL(publicURL),
		bucketsite.WithRetainDeploys(int(int64Or(block.RetainDeploys, int64(env.RetainDeploys)))),
		bucketsite.WithConcurrency(concurrency),
	), nil
}

// Resources returns the set of resource types supported by this provider.
func (p *SitePublishProvider) Resources(_ context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		siteresource.NewSiteResource,
	}
}

// DataSources returns the set of data source types supported by this provider.
func (p *SitePublishProvider) DataSources(_ context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{}
}

func stringOr(v types.String, def string) string {
	if v.IsNull() || v.IsUnknown() || v.ValueString() == "" {
		return def
	}
	return v.ValueString()
}

func int64Or(v types.Int64, def int64) int64 {
	if v.IsNull() || v.IsUnknown() {
		return def
	}
	return v.ValueInt64()
}
