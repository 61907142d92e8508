package site

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/manifest"
)

// scannedSource is a source directory read into memory with its manifest.
type scannedSource struct {
	bundle   *bundle.Bundle
	manifest manifest.ContentManifest
}

// scanSource reads m.SourceDir with the resource's exclude settings and
// builds its manifest.
func scanSource(ctx context.Context, m SiteResourceModel) (*scannedSource, diag.Diagnostics) {
	var diags diag.Diagnostics

	var excludes []string
	if !m.Exclude.IsNull() && !m.Exclude.IsUnknown() {
		diags.Append(m.Exclude.ElementsAs(ctx, &excludes, false)...)
		if diags.HasError() {
			return nil, diags
		}
	}

	sourceDir := m.SourceDir.ValueString()
	b, err := bundle.ScanDir(sourceDir, bundle.ScanOptions{
		Exclude:               excludes,
		AllowExternalSymlinks: m.AllowExternalSymlinks.ValueBool(),
	})
	if err != nil {
		diags.AddError("Source Scan Failed", fmt.Sprintf("Failed to scan source directory %q: %s", sourceDir, err))
		return nil, diags
	}

	cm, err := manifest.NewBuilder().Build(b.Files)
	if err != nil {
		diags.AddError("Invalid Source Path", fmt.Sprintf("Source directory %q holds a file that cannot be published: %s", sourceDir, err))
		return nil, diags
	}

	return &scannedSource{bundle: b, manifest: cm}, diags
}

// ModifyPlan implements resource.ResourceWithModifyPlan. It computes the
// plan-time content_hash so that a changed source directory shows up as
// an update.
func (r *SiteResource) ModifyPlan(ctx context.Context, req resource.ModifyPlanRequest, resp *resource.ModifyPlanResponse) {
	// If the entire resource is being destroyed there is nothing to validate.
	if req.Plan.Raw.IsNull() {
		return
	}

	var plan SiteResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &plan)...)
	if resp.Diagnostics.HasError() {
		return
	}

	if plan.SourceDir.IsNull() || plan.SourceDir.IsUnknown() || plan.Exclude.IsUnknown() {
		return
	}

	// The directory may not exist yet in plan-only runs, or may be
	// produced by another resource during apply.
	sourceDir := plan.SourceDir.ValueString()
	absDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return
	}
	if info, statErr := os.Stat(absDir); statErr != nil || !info.IsDir() {
		tflog.Debug(ctx, "source_dir not present at plan time, content hash will be computed at apply", map[string]interface{}{
			"source_dir": sourceDir,
		})
		return
	}

	src, scanDiags := scanSource(ctx, plan)
	if scanDiags.HasError() {
		// Apply reports the scan error with full detail.
		tflog.Warn(ctx, "plan-time source scan failed, content hash will be computed at apply", map[string]interface{}{
			"source_dir": sourceDir,
		})
		return
	}
	if src.bundle.Files.Len() == 0 {
		resp.Diagnostics.AddError(
			"Empty Source Directory",
			fmt.Sprintf("Source directory %q has no files to publish after exclusions.", sourceDir),
		)
		return
	}

	newHash := src.manifest.Digest()
	plan.ContentHash = types.StringValue(newHash)

	// On update, if the content changed, mark the deploy outputs as
	// unknown so Terraform knows they will change during apply.
	if !req.State.Raw.IsNull() {
		var state SiteResourceModel
		resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
		if resp.Diagnostics.HasError() {
			return
		}

		if state.ContentHash.ValueString() != newHash {
			tflog.Info(ctx, "site content changed, planning redeploy", map[string]interface{}{
				"site":     plan.Name.ValueString(),
				"previous": state.ContentHash.ValueString(),
				"next":     newHash,
			})
			plan.URL = types.StringUnknown()
			plan.DeployID = types.StringUnknown()
			plan.FilesUploaded = types.Int64Unknown()
			plan.FilesSkipped = types.Int64Unknown()
			plan.DeployedAt = types.StringUnknown()
		}
	}

	resp.Diagnostics.Append(resp.Plan.Set(ctx, &plan)...)
}
