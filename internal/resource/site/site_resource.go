package site

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/booldefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/listdefault"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/deploy"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/providerdata"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/report"
)

// Compile-time interface checks.
var (
	_ resource.Resource                = &SiteResource{}
	_ resource.ResourceWithConfigure   = &SiteResource{}
	_ resource.ResourceWithModifyPlan  = &SiteResource{}
	_ resource.ResourceWithImportState = &SiteResource{}
)

var siteNameRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// NewSiteResource returns a new resource.Resource for the sitepublish_site type.
func NewSiteResource() resource.Resource {
	return &SiteResource{}
}

// SiteResource implements the sitepublish_site Terraform resource.
type SiteResource struct {
	providerData *providerdata.ProviderData
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

func (r *SiteResource) Metadata(_ context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_site"
}

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

func (r *SiteResource) Schema(_ context.Context, _ resource.SchemaRequest, resp *resource.SchemaResponse) {
	emptyListDefault, _ := types.ListValue(types.StringType, []attr.Value{})

	resp.Schema = schema.Schema{
		MarkdownDescription: "Deploys a directory of built static files to a site. Only files whose content the host does not already have are uploaded; a changed `content_hash` at plan time triggers a new deploy.",

		Attributes: map[string]schema.Attribute{
			// ---- Required ----
			"name": schema.StringAttribute{
				MarkdownDescription: "Site name: lowercase letters, digits and inner hyphens, at most 63 characters. The site is created on first deploy. Changing it deploys to a different site.",
				Required:            true,
				Validators: []validator.String{
					stringvalidator.LengthBetween(1, deploy.MaxSiteNameLength),
					stringvalidator.RegexMatches(siteNameRegexp, "must be lowercase letters, digits and inner hyphens"),
				},
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.RequiresReplace(),
				},
			},
			"source_dir": schema.StringAttribute{
				MarkdownDescription: "Path to the directory holding the built site. A `sitepublish.yaml` at its root may set `exclude` and `custom_domain`; it is never uploaded.",
				Required:            true,
			},

			// ---- Optional ----
			"custom_domain": schema.StringAttribute{
				MarkdownDescription: "Custom domain requested when the site is created. Defaults to `custom_domain` from `sitepublish.yaml`. The domain is used for `url` once the host has verified it.",
				Optional:            true,
			},
			"exclude": schema.ListAttribute{
				MarkdownDescription: "Additional gitignore-style glob patterns that exclude files from the deploy.",
				Optional:            true,
				Computed:            true,
				ElementType:         types.StringType,
				Default:             listdefault.StaticValue(emptyListDefault),
			},
			"allow_external_symlinks": schema.BoolAttribute{
				MarkdownDescription: "Whether to allow symlinks that resolve outside `source_dir`. Defaults to `false`.",
				Optional:            true,
				Computed:            true,
				Default:             booldefault.StaticBool(false),
			},
			"concurrency": schema.Int64Attribute{
				MarkdownDescription: "Parallel uploads for this site, capped by the provider's `max_concurrency`.",
				Optional:            true,
				Validators:          []validator.Int64{int64validator.AtLeast(1)},
			},
			"poll_interval_seconds": schema.Int64Attribute{
				MarkdownDescription: "Initial wait between deploy status polls. Defaults to `SITEPUBLISH_POLL_INTERVAL` or `2`.",
				Optional:            true,
				Validators:          []validator.Int64{int64validator.AtLeast(1)},
			},
			"max_wait_seconds": schema.Int64Attribute{
				MarkdownDescription: "How long to wait for the host to make a deploy live before reporting its status as unknown. Defaults to `SITEPUBLISH_MAX_WAIT` or `60`.",
				Optional:            true,
				Validators:          []validator.Int64{int64validator.AtLeast(1)},
			},

			// ---- Computed ----
			"id": schema.StringAttribute{
				MarkdownDescription: "Host identifier of the site.",
				Computed:            true,
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.UseStateForUnknown(),
				},
			},
			"site_id": schema.StringAttribute{
				MarkdownDescription: "Host identifier of the site.",
				Computed:            true,
				PlanModifiers: []planmodifier.String{
					stringplanmodifier.UseStateForUnknown(),
				},
			},
			"url": schema.StringAttribute{
				MarkdownDescription: "URL the site is served from.",
				Computed:            true,
			},
			"deploy_id": schema.StringAttribute{
				MarkdownDescription: "Identifier of the last deploy.",
				Computed:            true,
			},
			"content_hash": schema.StringAttribute{
				MarkdownDescription: "Digest over every deployed path and its SHA-1 content hash.",
				Computed:            true,
			},
			"files_uploaded": schema.Int64Attribute{
				MarkdownDescription: "Number of files the last deploy had to upload.",
				Computed:            true,
			},
			"files_skipped": schema.Int64Attribute{
				MarkdownDescription: "Number of files the last deploy did not upload because the host already had their content.",
				Computed:            true,
			},
			"deployed_at": schema.StringAttribute{
				MarkdownDescription: "RFC 3339 timestamp of the last deploy that went live. Empty while a deploy's status is unknown.",
				Computed:            true,
			},
		},
	}
}

// --------------------------------------------------------------------------
// Configure
// --------------------------------------------------------------------------

func (r *SiteResource) Configure(_ context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	if req.ProviderData == nil {
		return
	}

	pd, ok := req.ProviderData.(*providerdata.ProviderData)
	if !ok {
		resp.Diagnostics.AddError(
			"Unexpected Resource Configure Type",
			fmt.Sprintf("Expected *providerdata.ProviderData, got: %T. Please report this issue to the provider developers.", req.ProviderData),
		)
		return
	}

	r.providerData = pd
}

// --------------------------------------------------------------------------
// Create
// --------------------------------------------------------------------------

func (r *SiteResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var plan SiteResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &plan)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if !r.deploy(ctx, &plan, &resp.Diagnostics) {
		return
	}
	resp.Diagnostics.Append(resp.State.Set(ctx, &plan)...)
}

// --------------------------------------------------------------------------
// Read (refresh)
// --------------------------------------------------------------------------

func (r *SiteResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var state SiteResourceModel
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}
	if !r.checkConfigured(&resp.Diagnostics) {
		return
	}

	host := r.providerData.Host
	name := state.Name.ValueString()

	site, err := host.FindSiteByName(ctx, name)
	if errors.Is(err, hosting.ErrNotFound) {
		tflog.Info(ctx, "site not found on host, removing from state", map[string]interface{}{
			"site": name,
		})
		resp.State.RemoveResource(ctx)
		return
	}
	if err != nil {
		resp.Diagnostics.AddError(
			"Refresh Failed",
			fmt.Sprintf("Failed to look up site %q: %s", name, err),
		)
		return
	}

	state.ID = types.StringValue(site.ID)
	state.SiteID = types.StringValue(site.ID)
	if state.URL.ValueString() == "" {
		state.URL = types.StringValue(hosting.SiteURL(site, requestedDomain(state, site)))
	}

	// A deploy the host lost or failed leaves nothing live for the recorded
	// content, so clear content_hash and let the next plan redeploy.
	if deployID := state.DeployID.ValueString(); deployID != "" {
		session, statusErr := host.GetDeployStatus(ctx, site.ID, deployID)
		switch {
		case errors.Is(statusErr, hosting.ErrNotFound):
			tflog.Warn(ctx, "deploy no longer known to host, scheduling redeploy", map[string]interface{}{
				"site":      name,
				"deploy_id": deployID,
			})
			state.ContentHash = types.StringValue("")
		case statusErr != nil:
			resp.Diagnostics.AddError(
				"Refresh Failed",
				fmt.Sprintf("Failed to read deploy %s of site %q: %s", deployID, name, statusErr),
			)
			return
		case session.State == hosting.StateError:
			tflog.Warn(ctx, "recorded deploy failed on host, scheduling redeploy", map[string]interface{}{
				"site":      name,
				"deploy_id": deployID,
				"error":     session.ErrorMessage,
			})
			state.ContentHash = types.StringValue("")
		case session.State.Succeeded() && state.DeployedAt.ValueString() == "":
			state.DeployedAt = types.StringValue(time.Now().UTC().Format(time.RFC3339))
		case !session.State.Terminal():
			tflog.Debug(ctx, "recorded deploy still in progress", map[string]interface{}{
				"site":      name,
				"deploy_id": deployID,
				"state":     string(session.State),
			})
		}
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &state)...)
}

// --------------------------------------------------------------------------
// Update
// --------------------------------------------------------------------------

func (r *SiteResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var plan SiteResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &plan)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if !r.deploy(ctx, &plan, &resp.Diagnostics) {
		return
	}
	resp.Diagnostics.Append(resp.State.Set(ctx, &plan)...)
}

// --------------------------------------------------------------------------
// Delete
// --------------------------------------------------------------------------

// Delete only forgets the site. Hosts are not asked to remove sites or
// deploys, so the last deploy stays live.
func (r *SiteResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var state SiteResourceModel
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	tflog.Info(ctx, "removing site from state, host content left in place", map[string]interface{}{
		"site":      state.Name.ValueString(),
		"deploy_id": state.DeployID.ValueString(),
	})
	resp.Diagnostics.AddWarning(
		"Site Left On Host",
		fmt.Sprintf("Site %q was removed from Terraform state. Its last deploy remains live on the host and must be removed there.", state.Name.ValueString()),
	)
}

// --------------------------------------------------------------------------
// ImportState
// --------------------------------------------------------------------------

// ImportState takes the site name as the import ID. The next Read fills in
// the host identifiers.
func (r *SiteResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	if !siteNameRegexp.MatchString(req.ID) {
		resp.Diagnostics.AddError(
			"Invalid Import ID",
			fmt.Sprintf("Import ID %q must be a site name (lowercase letters, digits and inner hyphens).", req.ID),
		)
		return
	}
	resource.ImportStatePassthroughID(ctx, path.Root("name"), req, resp)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// deploy scans the source directory, publishes it and fills the computed
// attributes of m. It reports whether m should be saved: a timed-out
// deploy is saved with a warning, any other failure is an error.
func (r *SiteResource) deploy(ctx context.Context, m *SiteResourceModel, diags *diag.Diagnostics) bool {
	if !r.checkConfigured(diags) {
		return false
	}

	src, scanDiags := scanSource(ctx, *m)
	diags.Append(scanDiags...)
	if diags.HasError() {
		return false
	}

	cfg := deploy.SiteConfig{
		Name:         m.Name.ValueString(),
		CustomDomain: m.CustomDomain.ValueString(),
	}
	if cfg.CustomDomain == "" {
		cfg.CustomDomain = src.bundle.Site.CustomDomain
	}

	tflog.Info(ctx, "deploying site", map[string]interface{}{
		"site":       cfg.Name,
		"source_dir": src.bundle.Root,
		"files":      src.bundle.Files.Len(),
		"host":       r.providerData.HostKind,
	})

	orch := r.providerData.Orchestrator(deploySettings(*m))
	result, err := orch.Deploy(ctx, src.bundle.Files, cfg)
	if err != nil {
		var de *deploy.Error
		if !errors.As(err, &de) || !de.StatusUnknown() {
			diags.AddError("Deploy Failed", report.Failure(err))
			return false
		}

		diags.AddWarning("Deploy Status Unknown", report.Failure(err))
		r.recordPending(ctx, m, cfg, de)
		m.ContentHash = types.StringValue(src.manifest.Digest())
		return true
	}

	tflog.Info(ctx, report.Summary(cfg.Name, result))

	m.ID = types.StringValue(result.SiteID)
	m.SiteID = types.StringValue(result.SiteID)
	m.URL = types.StringValue(result.SiteURL)
	m.DeployID = types.StringValue(result.DeployID)
	m.ContentHash = types.StringValue(src.manifest.Digest())
	m.FilesUploaded = types.Int64Value(int64(result.FilesUploaded))
	m.FilesSkipped = types.Int64Value(int64(result.FilesSkipped))
	m.DeployedAt = types.StringValue(time.Now().UTC().Format(time.RFC3339))
	return true
}

// recordPending fills m for a deploy whose outcome is unknown. The deploy
// ID is kept so the next Read can see whether the host finished it.
func (r *SiteResource) recordPending(ctx context.Context, m *SiteResourceModel, cfg deploy.SiteConfig, de *deploy.Error) {
	m.DeployID = types.StringValue(de.DeployID)
	m.DeployedAt = types.StringValue("")
	m.FilesUploaded = types.Int64Value(0)
	m.FilesSkipped = types.Int64Value(0)
	if p := de.Partial; p != nil {
		m.FilesUploaded = types.Int64Value(int64(p.Uploaded))
		m.FilesSkipped = types.Int64Value(int64(p.Skipped))
	}

	if !m.SiteID.IsUnknown() && !m.SiteID.IsNull() && !m.URL.IsUnknown() {
		return
	}

	var site *hosting.Site
	if s, err := r.providerData.Host.FindSiteByName(ctx, m.Name.ValueString()); err == nil {
		site = s
	} else {
		tflog.Warn(ctx, "site lookup after timed-out deploy failed", map[string]interface{}{
			"site":  m.Name.ValueString(),
			"error": err.Error(),
		})
	}

	if m.SiteID.IsUnknown() || m.SiteID.IsNull() {
		id := m.Name.ValueString()
		if site != nil {
			id = site.ID
		}
		m.ID = types.StringValue(id)
		m.SiteID = types.StringValue(id)
	}
	if m.URL.IsUnknown() {
		url := ""
		if site != nil {
			url = hosting.SiteURL(site, cfg.CustomDomain)
		}
		m.URL = types.StringValue(url)
	}
}

func (r *SiteResource) checkConfigured(diags *diag.Diagnostics) bool {
	if r.providerData == nil || r.providerData.Host == nil {
		diags.AddError(
			"Provider Not Configured",
			"The sitepublish provider has no host configured. Configure one of the api, bucket or memory blocks.",
		)
		return false
	}
	return true
}

// deploySettings converts the optional per-resource tuning arguments.
func deploySettings(m SiteResourceModel) providerdata.DeploySettings {
	var s providerdata.DeploySettings
	if !m.Concurrency.IsNull() && !m.Concurrency.IsUnknown() {
		s.Concurrency = int(m.Concurrency.ValueInt64())
	}
	if !m.PollIntervalSeconds.IsNull() && !m.PollIntervalSeconds.IsUnknown() {
		s.PollInterval = time.Duration(m.PollIntervalSeconds.ValueInt64()) * time.Second
	}
	if !m.MaxWaitSeconds.IsNull() && !m.MaxWaitSeconds.IsUnknown() {
		s.MaxWait = time.Duration(m.MaxWaitSeconds.ValueInt64()) * time.Second
	}
	return s
}

// requestedDomain is the custom domain a refresh resolves the URL against.
// Without one in state, as after an import, the site's own domain is used.
func requestedDomain(m SiteResourceModel, site *hosting.Site) string {
	if d := m.CustomDomain.ValueString(); d != "" {
		return d
	}
	return site.CustomDomain
}
