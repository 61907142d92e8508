package objstore

import (
	"context"
	"errors"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/retry"
)

// RetryStore retries transient failures of the wrapped Store.
type RetryStore struct {
	inner  Store
	policy retry.Policy
}

// NewRetryStore wraps inner with policy.
func NewRetryStore(inner Store, policy retry.Policy) *RetryStore {
	return &RetryStore{inner: inner, policy: policy}
}

var _ Store = (*RetryStore)(nil)

// IsTransient reports whether a store error may succeed on retry. Missing
// objects, failed preconditions and cancellation are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrPreconditionFailed) &&
		!errors.Is(err, context.Canceled)
}

func (r *RetryStore) do(ctx context.Context, op func() error) error {
	return r.policy.Do(ctx, IsTransient, func(int) error { return op() })
}

func (r *RetryStore) Name() string { return r.inner.Name() }

func (r *RetryStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	return r.do(ctx, func() error { return r.inner.Put(ctx, key, data, opts) })
}

func (r *RetryStore) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	var (
		data []byte
		meta Meta
	)
	err := r.do(ctx, func() error {
		var err error
		data, meta, err = r.inner.Get(ctx, key)
		return err
	})
	return data, meta, err
}

func (r *RetryStore) Stat(ctx context.Context, key string) (Meta, error) {
	var meta Meta
	err := r.do(ctx, func() error {
		var err error
		meta, err = r.inner.Stat(ctx, key)
		return err
	})
	return meta, err
}

func (r *RetryStore) Delete(ctx context.Context, key string) error {
	return r.do(ctx, func() error { return r.inner.Delete(ctx, key) })
}

func (r *RetryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var items []ObjectInfo
	err := r.do(ctx, func() error {
		var err error
		items, err = r.inner.List(ctx, prefix)
		return err
	})
	return items, err
}

func (r *RetryStore) PutIfAbsent(ctx context.Context, key string, data []byte, opts PutOptions) error {
	return r.do(ctx, func() error { return r.inner.PutIfAbsent(ctx, key, data, opts) })
}

func (r *RetryStore) PutIfMatch(ctx context.Context, key string, data []byte, version string, opts PutOptions) error {
	return r.do(ctx, func() error { return r.inner.PutIfMatch(ctx, key, data, version, opts) })
}
