// Package objstore is a small key/value view over object storage buckets
// (S3 and S3-compatible services, Google Cloud Storage, Azure Blob Storage)
// with an in-memory implementation for tests.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for store operations.
var (
	ErrNotFound           = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed: object was modified by another process")
)

// PutOptions sets the HTTP-visible attributes of a written object.
type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// Meta describes a stored object. Version is the backend's concurrency
// token: the ETag on S3 and Azure, the generation on GCS.
type Meta struct {
	Version     string
	Size        int64
	ContentType string
}

// ObjectInfo is a single entry returned from List.
type ObjectInfo struct {
	Key     string
	Size    int64
	Version string
}

// Store is a bucket, optionally scoped to a key prefix.
type Store interface {
	// Put writes an object unconditionally.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	// Get returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, Meta, error)
	// Stat returns ErrNotFound if the key does not exist.
	Stat(ctx context.Context, key string) (Meta, error)
	// Delete succeeds when the key is already gone.
	Delete(ctx context.Context, key string) error
	// List returns every object under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// PutIfAbsent returns ErrPreconditionFailed if the key exists.
	PutIfAbsent(ctx context.Context, key string, data []byte, opts PutOptions) error
	// PutIfMatch returns ErrPreconditionFailed unless the current version
	// of key is version.
	PutIfMatch(ctx context.Context, key string, data []byte, version string, opts PutOptions) error
	// Name identifies the store in logs.
	Name() string
}

// Config selects and configures a backend for NewStore.
type Config struct {
	Name   string
	Type   string // "s3", "gcs", "azure", "memory"
	Bucket string
	Prefix string

	// S3
	Region          string
	Endpoint        string // S3-compatible services
	AccessKeyID     string
	SecretAccessKey string

	// Azure
	StorageAccount string
	ContainerName  string

	MaxRetries int
}

// Validate reports the first missing setting for cfg.Type.
func (c Config) Validate() error {
	switch c.Type {
	case "s3", "gcs", "memory":
		if c.Bucket == "" {
			return fmt.Errorf("bucket is required for %s stores", c.Type)
		}
	case "azure":
		if c.StorageAccount == "" || c.ContainerName == "" {
			return errors.New("storage_account and container_name are required for azure stores")
		}
	default:
		return fmt.Errorf("unsupported store type %q (must be s3, gcs, azure, or memory)", c.Type)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// PublicBaseURL guesses the anonymous read URL of the store's prefix from
// the backend's default hostnames. Buckets served through a CDN or website
// endpoint need an explicit URL instead.
func (c Config) PublicBaseURL() string {
	var base string
	switch c.Type {
	case "s3":
		switch {
		case c.Endpoint != "":
			base = strings.TrimRight(c.Endpoint, "/") + "/" + c.Bucket
		case c.Region != "":
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.Bucket, c.Region)
		default:
			base = fmt.Sprintf("https://%s.s3.amazonaws.com", c.Bucket)
		}
	case "gcs":
		base = "https://storage.googleapis.com/" + c.Bucket
	case "azure":
		base = fmt.Sprintf("https://%s.blob.core.windows.net/%s", c.StorageAccount, c.ContainerName)
	case "memory":
		base = "memory://" + c.Bucket
	default:
		return ""
	}
	if p := strings.Trim(c.Prefix, "/"); p != "" {
		base += "/" + p
	}
	return base
}

func normalizePrefix(p string) string {
	if p != "" && p[len(p)-1] != '/' {
		p += "/"
	}
	return p
}
