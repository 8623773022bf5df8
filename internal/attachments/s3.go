package attachments

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the object store.
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// S3Store deletes image objects from an S3 compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store loads the default AWS credential chain. A custom endpoint
// switches to path-style addressing for MinIO or LocalStack.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("attachments: bucket required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("attachments: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/")}, nil
}

// Delete removes the object behind ref. Missing objects are not an error in S3.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(ref)),
	})
	return err
}

// Key maps an image reference, which may be a URL path, to its object key.
func (s *S3Store) Key(ref string) string {
	key := strings.TrimLeft(ref, "/")
	if i := strings.Index(key, s.bucket+"/"); i >= 0 {
		key = key[i+len(s.bucket)+1:]
	}
	if s.prefix != "" && !strings.HasPrefix(key, s.prefix+"/") {
		key = s.prefix + "/" + key
	}
	return key
}

// DiscardStore stands in when no bucket is configured. Deletes succeed without
// touching any storage.
type DiscardStore struct{}

// Delete implements ObjectStore.
func (DiscardStore) Delete(context.Context, string) error { return nil }
