package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	gcsstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// gcsStore implements Store for Google Cloud Storage. Versions are object
// generations.
type gcsStore struct {
	client *gcsstorage.Client
	bucket string
	prefix string
	name   string
}

// newGCSStore uses Application Default Credentials.
func newGCSStore(ctx context.Context, cfg Config) (*gcsStore, error) {
	client, err := gcsstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}
	return &gcsStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
		name:   cfg.Name,
	}, nil
}

var _ Store = (*gcsStore)(nil)

func (g *gcsStore) Name() string { return g.name }

func (g *gcsStore) obj(key string) *gcsstorage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + key)
}

func (g *gcsStore) write(ctx context.Context, o *gcsstorage.ObjectHandle, key string, data []byte, opts PutOptions) error {
	w := o.NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.CacheControl = opts.CacheControl
	if len(opts.Metadata) > 0 {
		w.Metadata = opts.Metadata
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		if isGCSPreconditionFailed(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("gcs close writer %q: %w", key, err)
	}
	return nil
}

func (g *gcsStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	return g.write(ctx, g.obj(key), key, data, opts)
}

func (g *gcsStore) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	r, err := g.obj(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcsstorage.ErrObjectNotExist) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("gcs NewReader %q: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("gcs read %q: %w", key, err)
	}
	return data, Meta{
		Version:     strconv.FormatInt(r.Attrs.Generation, 10),
		Size:        int64(len(data)),
		ContentType: r.Attrs.ContentType,
	}, nil
}

func (g *gcsStore) Stat(ctx context.Context, key string) (Meta, error) {
	attrs, err := g.obj(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcsstorage.ErrObjectNotExist) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, fmt.Errorf("gcs Attrs %q: %w", key, err)
	}
	return Meta{
		Version:     strconv.FormatInt(attrs.Generation, 10),
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}, nil
}

func (g *gcsStore) Delete(ctx context.Context, key string) error {
	if err := g.obj(key).Delete(ctx); err != nil && !errors.Is(err, gcsstorage.ErrObjectNotExist) {
		return fmt.Errorf("gcs Delete %q: %w", key, err)
	}
	return nil
}

func (g *gcsStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &gcsstorage.Query{Prefix: g.prefix + prefix})

	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs List prefix %q: %w", prefix, err)
		}
		out = append(out, ObjectInfo{
			Key:     strings.TrimPrefix(attrs.Name, g.prefix),
			Size:    attrs.Size,
			Version: strconv.FormatInt(attrs.Generation, 10),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (g *gcsStore) PutIfAbsent(ctx context.Context, key string, data []byte, opts PutOptions) error {
	o := g.obj(key).If(gcsstorage.Conditions{DoesNotExist: true})
	return g.write(ctx, o, key, data, opts)
}

func (g *gcsStore) PutIfMatch(ctx context.Context, key string, data []byte, version string, opts PutOptions) error {
	gen, err := strconv.ParseInt(version, 10, 64)
	if err != nil || gen <= 0 {
		return fmt.Errorf("gcs: version %q of %q is not a generation: %w", version, key, ErrPreconditionFailed)
	}
	o := g.obj(key).If(gcsstorage.Conditions{GenerationMatch: gen})
	return g.write(ctx, o, key, data, opts)
}

func isGCSPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 412
	}
	return strings.Contains(err.Error(), "conditionNotMet")
}
