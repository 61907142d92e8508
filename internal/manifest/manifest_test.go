package manifest

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
)

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

func TestBuild_KnownHashes(t *testing.T) {
	files := bundle.FileSetFromMap(map[string][]byte{
		"/index.html": []byte("hello"),
		"/empty.txt":  {},
	})

	m, err := NewBuilder().Build(files)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := ContentManifest{
		"/index.html": "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		"/empty.txt":  "da39a3ee5e6b4b0d3255bfef95601890afd80709",
	}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("Build = %v, want %v", m, want)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	files := bundle.FileSetFromMap(map[string][]byte{
		"/index.html":    []byte("<html>A</html>"),
		"/css/style.css": []byte("body{}"),
	})
	b := NewBuilder()

	first, err := b.Build(files)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(files)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("builds differ: %v vs %v", first, second)
	}
}

func TestBuild_KeysMatchFileSet(t *testing.T) {
	files := bundle.NewFileSet()
	for _, p := range []string{"/b.html", "/A.html", "/a.html"} {
		if err := files.Add(p, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	m, err := NewBuilder().Build(files)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/A.html", "/a.html", "/b.html"}
	if got := m.Paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("Paths = %v, want %v", got, want)
	}
}

func TestBuild_InvalidPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"relative", "index.html"},
		{"parent escape", "../etc/passwd"},
		{"nested parent", "/assets/../../etc/passwd"},
		{"trailing parent", "/assets/.."},
		{"backslash", "/assets\\app.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := bundle.NewFileSet()
			if err := files.Add("/ok.html", []byte("ok")); err != nil {
				t.Fatal(err)
			}
			if err := files.Add(tt.path, []byte("x")); err != nil {
				t.Fatal(err)
			}

			m, err := NewBuilder().Build(files)
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("err = %v, want ErrInvalidPath", err)
			}
			var pe *PathError
			if !errors.As(err, &pe) || pe.Path != tt.path {
				t.Errorf("PathError = %+v, want path %q", pe, tt.path)
			}
			if m != nil {
				t.Errorf("expected no manifest on error, got %v", m)
			}
		})
	}
}

func TestValidatePath_AllowsDotsInNames(t *testing.T) {
	for _, p := range []string{"/..well", "/a..b/c.html", "/.well-known/x", "/"} {
		if err := ValidatePath(p); err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", p, err)
		}
	}
}

func TestBuild_ConcurrentUse(t *testing.T) {
	files := bundle.FileSetFromMap(map[string][]byte{"/index.html": []byte("x")})
	b := NewBuilder()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Build(files); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}

// ---------------------------------------------------------------------------
// Digest / Diff
// ---------------------------------------------------------------------------

func TestDigest_OrderIndependent(t *testing.T) {
	a := ContentManifest{"/a": "1", "/b": "2"}
	b := ContentManifest{"/b": "2", "/a": "1"}
	if a.Digest() != b.Digest() {
		t.Error("digest depends on map order")
	}
	if !strings.HasPrefix(a.Digest(), "sha256:") {
		t.Errorf("digest = %q, want sha256: prefix", a.Digest())
	}

	c := ContentManifest{"/a": "1", "/b": "3"}
	if a.Digest() == c.Digest() {
		t.Error("different content produced the same digest")
	}
}

func TestDiff(t *testing.T) {
	prev := ContentManifest{"/index.html": "1", "/a.html": "2", "/old.html": "3"}
	next := ContentManifest{"/index.html": "1", "/a.html": "9", "/new.html": "4"}

	d := next.Diff(prev)
	if !reflect.DeepEqual(d.Added, []string{"/new.html"}) {
		t.Errorf("Added = %v", d.Added)
	}
	if !reflect.DeepEqual(d.Changed, []string{"/a.html"}) {
		t.Errorf("Changed = %v", d.Changed)
	}
	if !reflect.DeepEqual(d.Removed, []string{"/old.html"}) {
		t.Errorf("Removed = %v", d.Removed)
	}
	if d.Empty() {
		t.Error("Empty() = true")
	}

	if !prev.Diff(prev).Empty() {
		t.Error("self diff not empty")
	}
	if got := next.Diff(nil).Added; len(got) != 3 {
		t.Errorf("diff against nil: Added = %v", got)
	}
}

func TestHashes_Distinct(t *testing.T) {
	m := ContentManifest{"/a": "x", "/b": "x", "/c": "y"}
	if got := m.Hashes(); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("Hashes = %v", got)
	}
}

// ---------------------------------------------------------------------------
// Record
// ---------------------------------------------------------------------------

func sampleRecord() *Record {
	return NewRecord("site-1", "acme-demo", "dep_20260213T200102Z_6f2c9a1b", "2026-02-13T20:01:02Z",
		ContentManifest{
			"/z.html":     "3333333333333333333333333333333333333333",
			"/index.html": "1111111111111111111111111111111111111111",
			"/css/a.css":  "2222222222222222222222222222222222222222",
		})
}

func TestMarshal_Deterministic(t *testing.T) {
	first, err := Marshal(sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(sampleRecord())
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("iteration %d produced different bytes", i)
		}
	}

	s := string(first)
	ia := strings.Index(s, `"/css/a.css"`)
	ii := strings.Index(s, `"/index.html"`)
	iz := strings.Index(s, `"/z.html"`)
	if ia >= ii || ii >= iz {
		t.Errorf("files not sorted in output:\n%s", s)
	}
}

func TestUnmarshal_RoundTripsFiles(t *testing.T) {
	r := sampleRecord()
	data, err := Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Files, r.Files) {
		t.Errorf("Files = %v, want %v", got.Files, r.Files)
	}
	if got.Digest != r.Files.Digest() {
		t.Errorf("Digest = %q, want %q", got.Digest, r.Files.Digest())
	}
}

func TestUnmarshal_RejectsOtherHashAlgorithm(t *testing.T) {
	data := []byte(`{"schema_version":1,"hash_algorithm":"sha256","hash_version":1,"files":{}}`)
	if _, err := Unmarshal(data); err == nil {
		t.Fatal("expected error for foreign hash algorithm")
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	if _, err := Unmarshal([]byte("{not json")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestMarshal_Nil(t *testing.T) {
	if _, err := Marshal(nil); err == nil {
		t.Fatal("expected error for nil record")
	}
}

func TestMarshal_NilFilesWritesEmptyObject(t *testing.T) {
	data, err := Marshal(&Record{HashAlgorithm: HashAlgorithm, HashVersion: HashVersion})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"files": {}`) {
		t.Errorf("expected empty files object:\n%s", data)
	}
}
