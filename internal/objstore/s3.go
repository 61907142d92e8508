package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store for Amazon S3 and S3-compatible services.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	name   string
}

// NewS3Store wraps an existing client. prefix scopes every key.
func NewS3Store(client *s3.Client, bucket, prefix, name string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: normalizePrefix(prefix), name: name}
}

// newS3Store builds a client from the default AWS credential chain, or
// from static keys when cfg carries them. A custom Endpoint switches to
// path-style addressing, which most S3-compatible services require.
func newS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Store(client, cfg.Bucket, cfg.Prefix, cfg.Name), nil
}

var _ Store = (*S3Store)(nil)

func (s *S3Store) Name() string { return s.name }

func (s *S3Store) fullKey(key string) string { return s.prefix + key }

func (s *S3Store) putInput(key string, data []byte, opts PutOptions) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	return input
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if _, err := s.client.PutObject(ctx, s.putInput(key, data, opts)); err != nil {
		return fmt.Errorf("s3 PutObject %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, Meta{}, ErrNotFound
		}
		return nil, Meta{}, fmt.Errorf("s3 GetObject %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("s3 read %q: %w", key, err)
	}
	return data, Meta{
		Version:     aws.ToString(out.ETag),
		Size:        int64(len(data)),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (Meta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, fmt.Errorf("s3 HeadObject %q: %w", key, err)
	}
	return Meta{
		Version:     aws.ToString(out.ETag),
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("s3 DeleteObject %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 ListObjectsV2 prefix %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:     strings.TrimPrefix(aws.ToString(obj.Key), s.prefix),
				Size:    aws.ToInt64(obj.Size),
				Version: aws.ToString(obj.ETag),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *S3Store) PutIfAbsent(ctx context.Context, key string, data []byte, opts PutOptions) error {
	input := s.putInput(key, data, opts)
	input.IfNoneMatch = aws.String("*")
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isS3PreconditionFailed(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("s3 PutObject (If-None-Match) %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) PutIfMatch(ctx context.Context, key string, data []byte, version string, opts PutOptions) error {
	input := s.putInput(key, data, opts)
	input.IfMatch = aws.String(version)
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if isS3PreconditionFailed(err) || isS3NotFound(err) {
			return ErrPreconditionFailed
		}
		return fmt.Errorf("s3 PutObject (If-Match) %q: %w", key, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	// HeadObject has no modelled error body, only the status.
	var respErr interface{ HTTPStatusCode() int }
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}

// isS3PreconditionFailed also accepts 409, which S3 returns when a
// conditional write races another one in flight.
func isS3PreconditionFailed(err error) bool {
	var respErr interface{ HTTPStatusCode() int }
	if !errors.As(err, &respErr) {
		return false
	}
	code := respErr.HTTPStatusCode()
	return code == 412 || code == 409
}
