// Package s3 provides an S3/MinIO object store backend. Locations have the
// form s3://<bucket>/<key>.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/storage"
)

// Config holds S3 backend settings.
type Config struct {
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
	Prefix    string `json:"prefix"`
}

// client is the subset of *s3.Client the backend uses.
type client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	s3.ListObjectsV2APIClient
}

// S3Backend implements storage.Backend using S3/MinIO.
type S3Backend struct {
	client client
	bucket string
	prefix string
}

// New creates a new S3 backend.
func New(ctx context.Context, cfg Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.Contains(endpoint, "://") {
				scheme := "http://"
				if cfg.UseSSL {
					scheme = "https://"
				}
				endpoint = scheme + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	b := newWithClient(c, cfg.Bucket, cfg.Prefix)

	// Verify bucket exists
	if err := b.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}

	return b, nil
}

func newWithClient(c client, bucket, prefix string) *S3Backend {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Backend{client: c, bucket: bucket, prefix: prefix}
}

func (b *S3Backend) ensureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}
	if _, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}); createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
	}
	logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// Put uploads data under the configured prefix.
func (b *S3Backend) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := b.prefix + name
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", classify("put", fmt.Errorf("put object %s: %w", key, err))
	}

	logging.Debug("S3 put object", zap.String("key", key), zap.Int("size", len(data)))
	return b.Location(key), nil
}

// Get downloads the object a location points to.
func (b *S3Backend) Get(ctx context.Context, location string) ([]byte, error) {
	key, err := b.key(location)
	if err != nil {
		return nil, err
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get", fmt.Errorf("get object %s: %w", key, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storage.Unreachable(storage.SchemeS3, "get", fmt.Errorf("read object %s: %w", key, err))
	}
	return data, nil
}

// Delete removes the object a location points to. S3 deletes are
// idempotent, so a missing key succeeds.
func (b *S3Backend) Delete(ctx context.Context, location string) error {
	key, err := b.key(location)
	if err != nil {
		return err
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("delete", fmt.Errorf("delete object %s: %w", key, err))
	}
	logging.Debug("S3 delete object", zap.String("key", key))
	return nil
}

// List enumerates objects under the prefix.
func (b *S3Backend) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list", err)
		}
		for _, obj := range page.Contents {
			info := storage.ObjectInfo{Location: b.Location(aws.ToString(obj.Key))}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			} else {
				info.ModTime = time.Now()
			}
			out = append(out, info)
		}
	}
	return out, nil
}

// Location formats the location of a key in this bucket.
func (b *S3Backend) Location(key string) string {
	return storage.SchemeS3 + "://" + b.bucket + "/" + key
}

func (b *S3Backend) key(location string) (string, error) {
	prefix := storage.SchemeS3 + "://" + b.bucket + "/"
	if !strings.HasPrefix(location, prefix) || len(location) == len(prefix) {
		return "", storage.Rejected(storage.SchemeS3, "resolve",
			fmt.Errorf("location %s is not in bucket %s", location, b.bucket))
	}
	return strings.TrimPrefix(location, prefix), nil
}

// Scheme returns "s3".
func (b *S3Backend) Scheme() string { return storage.SchemeS3 }

// Close is a no-op for S3 backends.
func (b *S3Backend) Close() error { return nil }

// classify maps S3 API errors onto the storage taxonomy. Errors without an
// API error code never reached the service and count as unreachable.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return storage.NotFound(storage.SchemeS3, op, err)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return storage.Unreachable(storage.SchemeS3, op, err)
		default:
			return storage.Rejected(storage.SchemeS3, op, err)
		}
	}
	return storage.Unreachable(storage.SchemeS3, op, err)
}
