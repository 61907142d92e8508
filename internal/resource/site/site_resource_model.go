package site

import "github.com/hashicorp/terraform-plugin-framework/types"

// SiteResourceModel maps the sitepublish_site resource schema to a Go struct.
type SiteResourceModel struct {
	// Config
	Name                  types.String `tfsdk:"name"`
	SourceDir             types.String `tfsdk:"source_dir"`
	CustomDomain          types.String `tfsdk:"custom_domain"`           // optional, falls back to sitepublish.yaml
	Exclude               types.List   `tfsdk:"exclude"`                 // optional list of strings
	AllowExternalSymlinks types.Bool   `tfsdk:"allow_external_symlinks"` // default false
	Concurrency           types.Int64  `tfsdk:"concurrency"`             // optional, provider default
	PollIntervalSeconds   types.Int64  `tfsdk:"poll_interval_seconds"`   // optional, provider default
	MaxWaitSeconds        types.Int64  `tfsdk:"max_wait_seconds"`        // optional, provider default

	// Computed
	ID            types.String `tfsdk:"id"`
	SiteID        types.String `tfsdk:"site_id"`
	URL           types.String `tfsdk:"url"`
	DeployID      types.String `tfsdk:"deploy_id"`
	ContentHash   types.String `tfsdk:"content_hash"`
	FilesUploaded types.Int64  `tfsdk:"files_uploaded"`
	FilesSkipped  types.Int64  `tfsdk:"files_skipped"`
	DeployedAt    types.String `tfsdk:"deployed_at"`
}
