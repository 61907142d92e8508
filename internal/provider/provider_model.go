package provider

import "github.com/hashicorp/terraform-plugin-framework/types"

// ProviderModel maps the provider schema to a Go struct.
type ProviderModel struct {
	MaxConcurrency types.Int64         `tfsdk:"max_concurrency"`
	API            []APIConfigModel    `tfsdk:"api"`    // max 1
	Bucket         []BucketConfigModel `tfsdk:"bucket"` // max 1
	Memory         []MemoryConfigModel `tfsdk:"memory"` // max 1
}

// APIConfigModel maps the api {} block.
type APIConfigModel struct {
	BaseURL        types.String `tfsdk:"base_url"`
	Token          types.String `tfsdk:"token"`
	TimeoutSeconds types.Int64  `tfsdk:"timeout_seconds"`
}

// BucketConfigModel maps the bucket {} block.
type BucketConfigModel struct {
	Type            types.String `tfsdk:"type"`
	Bucket          types.String `tfsdk:"bucket"`
	Region          types.String `tfsdk:"region"`
	Endpoint        types.String `tfsdk:"endpoint"`
	AccessKeyID     types.String `tfsdk:"access_key_id"`
	SecretAccessKey types.String `tfsdk:"secret_access_key"`
	Prefix          types.String `tfsdk:"prefix"`
	StorageAccount  types.String `tfsdk:"storage_account"`
	ContainerName   types.String `tfsdk:"container_name"`
	PublicBaseURL   types.String `tfsdk:"public_base_url"`
	MaxRetries      types.Int64  `tfsdk:"max_retries"`
	RetainDeploys   types.Int64  `tfsdk:"retain_deploys"`
}

// MemoryConfigModel maps the memory {} block.
type MemoryConfigModel struct {
	Name types.String `tfsdk:"name"`
}
