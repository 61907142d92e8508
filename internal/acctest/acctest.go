package acctest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	"github.com/hashicorp/terraform-plugin-go/tfprotov6"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/objstore"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/provider"
)

// TestProtoV6ProviderFactories is a map of provider factory functions
// suitable for use with the terraform-plugin-testing framework.
var TestProtoV6ProviderFactories = map[string]func() (tfprotov6.ProviderServer, error){
	"sitepublish": providerserver.NewProtocol6WithError(provider.New("test")()),
}

// hostEnv lists the variables that select a host from the environment.
// They are cleared so a developer's shell cannot leak into a test.
var hostEnv = []string{
	"SITEPUBLISH_API_URL",
	"SITEPUBLISH_API_TOKEN",
	"SITEPUBLISH_BUCKET_TYPE",
	"SITEPUBLISH_BUCKET",
	"SITEPUBLISH_MAX_CONCURRENCY",
	"SITEPUBLISH_POLL_INTERVAL",
	"SITEPUBLISH_MAX_WAIT",
}

// SetupTest resets the shared in-memory hosts and stores so each test
// starts with a clean slate, and clears host selection from the
// environment.
func SetupTest(t *testing.T) {
	t.Helper()
	for _, k := range hostEnv {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %s", k, err)
		}
	}

	hosting.ResetSharedMemoryHosts()
	objstore.ResetSharedMemoryStores()
	t.Cleanup(func() {
		hosting.ResetSharedMemoryHosts()
		objstore.ResetSharedMemoryStores()
	})
}

// CreateTempSourceDir creates a temporary directory with the given files
// and returns the absolute path. The files map keys are relative paths and
// values are file contents. The directory is automatically cleaned up when
// the test finishes.
func CreateTempSourceDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for relPath, content := range files {
		WriteSourceFile(t, dir, relPath, content)
	}
	return dir
}

// WriteSourceFile creates or replaces one file under dir.
func WriteSourceFile(t *testing.T, dir, relPath, content string) {
	t.Helper()

	fullPath := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("failed to create parent dir for %s: %s", relPath, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %s", relPath, err)
	}
}

// RemoveSourceFile deletes one file under dir.
func RemoveSourceFile(t *testing.T, dir, relPath string) {
	t.Helper()

	if err := os.Remove(filepath.Join(dir, relPath)); err != nil {
		t.Fatalf("failed to remove file %s: %s", relPath, err)
	}
}

// ProviderConfigMemory returns an HCL snippet that configures the
// sitepublish provider with the named shared in-memory host.
func ProviderConfigMemory(name string) string {
	return fmt.Sprintf(`
provider "sitepublish" {
  memory {
    name = %q
  }
}
`, name)
}

// ProviderConfigMemoryBucket returns an HCL snippet that configures the
// sitepublish provider with a bucket host over an in-memory store.
func ProviderConfigMemoryBucket(bucket string) string {
	return fmt.Sprintf(`
provider "sitepublish" {
  bucket {
    type            = "memory"
    bucket          = %q
    public_base_url = "https://cdn.example.com"
    retain_deploys  = 2
  }
}
`, bucket)
}

// ProviderConfigAPI returns an HCL snippet that configures the sitepublish
// provider against a hosting API at baseURL.
func ProviderConfigAPI(baseURL string) string {
	return fmt.Sprintf(`
provider "sitepublish" {
  api {
    base_url = %q
    token    = %q
  }
}
`, baseURL, TestToken)
}

// SiteConfig returns an HCL snippet for a sitepublish_site resource named
// "test".
func SiteConfig(name, sourceDir string) string {
	return fmt.Sprintf(`
resource "sitepublish_site" "test" {
  name       = %q
  source_dir = %q

  poll_interval_seconds = 1
}
`, name, sourceDir)
}
