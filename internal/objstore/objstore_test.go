package objstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/retry"
)

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore_PutGetStat(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("mem")

	if err := m.Put(ctx, "site/index.html", []byte("hello"), PutOptions{ContentType: "text/html", CacheControl: "no-cache"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, meta, err := m.Get(ctx, "site/index.html")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q", data)
	}
	if meta.Size != 5 || meta.ContentType != "text/html" || meta.Version == "" {
		t.Errorf("meta = %+v", meta)
	}

	st, err := m.Stat(ctx, "site/index.html")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st != meta {
		t.Errorf("Stat = %+v, Get meta = %+v", st, meta)
	}

	opts, ok := m.Attributes("site/index.html")
	if !ok || opts.CacheControl != "no-cache" {
		t.Errorf("Attributes = %+v, %v", opts, ok)
	}

	// Returned bytes are a copy.
	data[0] = 'J'
	again, _, _ := m.Get(ctx, "site/index.html")
	if string(again) != "hello" {
		t.Errorf("store mutated through returned slice: %q", again)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("mem")

	if _, _, err := m.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v", err)
	}
	if _, err := m.Stat(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat err = %v", err)
	}
	if err := m.Delete(ctx, "nope"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestMemoryStore_ListSortedByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("mem")
	for _, k := range []string{"b/2", "a/1", "b/1", "c"} {
		if err := m.Put(ctx, k, []byte(k), PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	items, err := m.List(ctx, "b/")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Key != "b/1" || items[1].Key != "b/2" {
		t.Errorf("List(b/) = %+v", items)
	}

	all, _ := m.List(ctx, "")
	if len(all) != 4 {
		t.Errorf("List(\"\") returned %d items", len(all))
	}
}

func TestMemoryStore_PutIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("mem")

	if err := m.PutIfAbsent(ctx, "k", []byte("1"), PutOptions{}); err != nil {
		t.Fatalf("first PutIfAbsent: %v", err)
	}
	if err := m.PutIfAbsent(ctx, "k", []byte("2"), PutOptions{}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("second PutIfAbsent err = %v", err)
	}
	data, _, _ := m.Get(ctx, "k")
	if string(data) != "1" {
		t.Errorf("data = %q, want original", data)
	}
}

func TestMemoryStore_PutIfMatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("mem")

	if err := m.PutIfMatch(ctx, "k", []byte("x"), "1", PutOptions{}); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("PutIfMatch on missing key err = %v", err)
	}

	_ = m.Put(ctx, "k", []byte("v1"), PutOptions{})
	meta, _ := m.Stat(ctx, "k")

	if err := m.PutIfMatch(ctx, "k", []byte("v2"), meta.Version, PutOptions{}); err != nil {
		t.Fatalf("PutIfMatch with current version: %v", err)
	}
	if err := m.PutIfMatch(ctx, "k", []byte("v3"), meta.Version, PutOptions{}); !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("PutIfMatch with stale version err = %v", err)
	}
	data, _, _ := m.Get(ctx, "k")
	if string(data) != "v2" {
		t.Errorf("data = %q, want v2", data)
	}
}

func TestSharedMemoryStore(t *testing.T) {
	t.Cleanup(ResetSharedMemoryStores)

	a := SharedMemoryStore("bucket")
	if SharedMemoryStore("bucket") != a {
		t.Error("same name should return the same store")
	}

	s, err := NewStore(context.Background(), Config{Type: "memory", Bucket: "bucket"})
	if err != nil {
		t.Fatal(err)
	}
	if s != Store(a) {
		t.Error("NewStore(memory) should return the shared store")
	}
}

// ---------------------------------------------------------------------------
// RetryStore
// ---------------------------------------------------------------------------

// flakyStore fails the first n calls to Put with err.
type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	err      error
	calls    atomic.Int32
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return f.err
	}
	return f.MemoryStore.Put(ctx, key, data, opts)
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 2 * time.Millisecond}
}

func TestRetryStore_RetriesTransient(t *testing.T) {
	f := &flakyStore{MemoryStore: NewMemoryStore("m"), err: errors.New("connection reset")}
	f.failures.Store(2)

	r := NewRetryStore(f, fastPolicy(3))
	if err := r.Put(context.Background(), "k", []byte("v"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRetryStore_GivesUp(t *testing.T) {
	f := &flakyStore{MemoryStore: NewMemoryStore("m"), err: errors.New("connection reset")}
	f.failures.Store(10)

	r := NewRetryStore(f, fastPolicy(2))
	if err := r.Put(context.Background(), "k", []byte("v"), PutOptions{}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := f.calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestRetryStore_NoRetryOnPermanent(t *testing.T) {
	for _, perm := range []error{ErrNotFound, ErrPreconditionFailed, context.Canceled} {
		f := &flakyStore{MemoryStore: NewMemoryStore("m"), err: perm}
		f.failures.Store(10)

		r := NewRetryStore(f, fastPolicy(5))
		if err := r.Put(context.Background(), "k", nil, PutOptions{}); !errors.Is(err, perm) {
			t.Errorf("err = %v, want %v", err, perm)
		}
		if got := f.calls.Load(); got != 1 {
			t.Errorf("%v: calls = %d, want 1", perm, got)
		}
	}
}

func TestRetryStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("inner")
	r := NewRetryStore(m, fastPolicy(3))

	if r.Name() != "inner" {
		t.Errorf("Name = %q", r.Name())
	}
	if err := r.PutIfAbsent(ctx, "k", []byte("1"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	meta, err := r.Stat(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.PutIfMatch(ctx, "k", []byte("2"), meta.Version, PutOptions{}); err != nil {
		t.Fatal(err)
	}
	data, _, err := r.Get(ctx, "k")
	if err != nil || string(data) != "2" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	items, err := r.List(ctx, "")
	if err != nil || len(items) != 1 {
		t.Fatalf("List = %+v, %v", items, err)
	}
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stat(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat after delete err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestNewStore_UnsupportedType(t *testing.T) {
	if _, err := NewStore(context.Background(), Config{Type: "ftp"}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestNewStore_MemoryWithRetries(t *testing.T) {
	t.Cleanup(ResetSharedMemoryStores)

	s, err := NewStore(context.Background(), Config{Type: "memory", Bucket: "b", MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*RetryStore); !ok {
		t.Errorf("store type = %T, want *RetryStore", s)
	}
}

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{"": "", "sites": "sites/", "sites/": "sites/"}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"s3", Config{Type: "s3", Bucket: "www"}, true},
		{"s3 without bucket", Config{Type: "s3"}, false},
		{"gcs without bucket", Config{Type: "gcs"}, false},
		{"azure", Config{Type: "azure", StorageAccount: "acct", ContainerName: "web"}, true},
		{"azure without container", Config{Type: "azure", StorageAccount: "acct"}, false},
		{"half static keys", Config{Type: "s3", Bucket: "www", AccessKeyID: "AKIA"}, false},
		{"unknown type", Config{Type: "ftp", Bucket: "www"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConfig_PublicBaseURL(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{Type: "s3", Bucket: "www", Region: "eu-west-1"}, "https://www.s3.eu-west-1.amazonaws.com"},
		{Config{Type: "s3", Bucket: "www"}, "https://www.s3.amazonaws.com"},
		{Config{Type: "s3", Bucket: "www", Endpoint: "http://localhost:9000/", Prefix: "/sites/"}, "http://localhost:9000/www/sites"},
		{Config{Type: "gcs", Bucket: "www", Prefix: "public"}, "https://storage.googleapis.com/www/public"},
		{Config{Type: "azure", StorageAccount: "acct", ContainerName: "$web"}, "https://acct.blob.core.windows.net/$web"},
		{Config{Type: "memory", Bucket: "test"}, "memory://test"},
		{Config{Type: "ftp"}, ""},
	}
	for _, tc := range cases {
		if got := tc.cfg.PublicBaseURL(); got != tc.want {
			t.Errorf("PublicBaseURL(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}
