package objstore

import (
	"context"
	"fmt"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/retry"
)

// NewStore builds the backend named by cfg.Type and wraps it in a
// RetryStore when cfg.MaxRetries > 0. Memory stores are shared by bucket
// name within the process.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		s   Store
		err error
	)

	switch cfg.Type {
	case "s3":
		s, err = newS3Store(ctx, cfg)
	case "gcs":
		s, err = newGCSStore(ctx, cfg)
	case "azure":
		s, err = newAzureStore(cfg)
	case "memory":
		s = SharedMemoryStore(cfg.Bucket)
	default:
		return nil, fmt.Errorf("unsupported store type %q (must be s3, gcs, azure, or memory)", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s store %q: %w", cfg.Type, cfg.Name, err)
	}

	if cfg.MaxRetries > 0 {
		s = NewRetryStore(s, retry.Storage(cfg.MaxRetries))
	}
	return s, nil
}
