package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// azureStore implements Store for Azure Blob Storage. Versions are ETags.
type azureStore struct {
	client        *azblob.Client
	containerName string
	prefix        string
	name          string
}

// newAzureStore authenticates with DefaultAzureCredential.
func newAzureStore(cfg Config) (*azureStore, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.StorageAccount)
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure blob client: %w", err)
	}

	containerName := cfg.ContainerName
	if containerName == "" {
		containerName = cfg.Bucket
	}
	return &azureStore{
		client:        client,
		containerName: containerName,
		prefix:        normalizePrefix(cfg.Prefix),
		name:          cfg.Name,
	}, nil
}

var _ Store = (*azureStore)(nil)

func (a *azureStore) Name() string { return a.name }

func (a *azureStore) uploadOptions(opts PutOptions) *blockblob.UploadBufferOptions {
	uo := &blockblob.UploadBufferOptions{HTTPHeaders: &blob.HTTPHeaders{}}
	if opts.ContentType != "" {
		uo.HTTPHeaders.BlobContentType = &opts.ContentType
	}
	if opts.CacheControl != "" {
		uo.HTTPHeaders.BlobCacheControl = &opts.CacheControl
	}
	if len(opts.Metadata) > 0 {
		m := make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			m[k] = &v
		}
		uo.Metadata = m
	}
	return uo
}

func (a *azureStore) upload(ctx context.Context, key string, data []byte, uo *blockblob.UploadBufferOptions) error {
	_, err := a.client.UploadBuffer(ctx, a.containerName, a.prefix+key, data, uo)
	if err != nil {
		if isAzurePreconditionFailed(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("azure UploadBuffer %q: %w", key, err)
	}
	return nil
}

func (a *azureStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	return a.upload(ctx, key, data, a.uploadOptions(opts))
}

func (a *azureStore) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	resp, err := a.client.DownloadStream(ctx, a.containerName, a.prefix+key, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("azure DownloadStream %q: %w", key, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, Meta{}, fmt.Errorf("azure read %q: %w", key, err)
	}

	meta := Meta{Size: int64(buf.Len())}
	if resp.ETag != nil {
		meta.Version = string(*resp.ETag)
	}
	if resp.ContentType != nil {
		meta.ContentType = *resp.ContentType
	}
	return buf.Bytes(), meta, nil
}

func (a *azureStore) Stat(ctx context.Context, key string) (Meta, error) {
	bc := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(a.prefix + key)
	props, err := bc.GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, fmt.Errorf("azure GetProperties %q: %w", key, err)
	}

	var meta Meta
	if props.ETag != nil {
		meta.Version = string(*props.ETag)
	}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.ContentType != nil {
		meta.ContentType = *props.ContentType
	}
	return meta, nil
}

func (a *azureStore) Delete(ctx context.Context, key string) error {
	if _, err := a.client.DeleteBlob(ctx, a.containerName, a.prefix+key, nil); err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("azure DeleteBlob %q: %w", key, err)
	}
	return nil
}

func (a *azureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	full := a.prefix + prefix
	pager := a.client.NewListBlobsFlatPager(a.containerName, &container.ListBlobsFlatOptions{Prefix: &full})

	var out []ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure ListBlobsFlat prefix %q: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: strings.TrimPrefix(*item.Name, a.prefix)}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
				if p.ETag != nil {
					info.Version = string(*p.ETag)
				}
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (a *azureStore) PutIfAbsent(ctx context.Context, key string, data []byte, opts PutOptions) error {
	star := azcore.ETagAny
	uo := a.uploadOptions(opts)
	uo.AccessConditions = &blob.AccessConditions{
		ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &star},
	}
	return a.upload(ctx, key, data, uo)
}

func (a *azureStore) PutIfMatch(ctx context.Context, key string, data []byte, version string, opts PutOptions) error {
	etag := azcore.ETag(version)
	uo := a.uploadOptions(opts)
	uo.AccessConditions = &blob.AccessConditions{
		ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &etag},
	}
	err := a.upload(ctx, key, data, uo)
	if err != nil && isAzureNotFound(err) {
		return ErrPreconditionFailed
	}
	return err
}

func isAzureNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound)
}

func isAzurePreconditionFailed(err error) bool {
	if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobAlreadyExists) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && (respErr.StatusCode == 412 || respErr.StatusCode == 409)
}
