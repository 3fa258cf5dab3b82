package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store stores uploads in an S3-compatible bucket. Per-user directories
// are key prefixes, so EnsureUserDir has nothing to create.
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Options configures an S3Store.
type S3Options struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewS3Store creates an S3 client using static credentials and an optional
// custom endpoint (R2, MinIO).
func NewS3Store(opts S3Options) *S3Store {
	cfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Region:      opts.Region,
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	slog.Info("initialized s3 client", "bucket", opts.Bucket, "endpoint", opts.Endpoint)
	return &S3Store{client: client, bucket: opts.Bucket}
}

// EnsureRoot verifies that the bucket exists and is reachable.
func (s *S3Store) EnsureRoot(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", s.bucket, err)
	}
	return nil
}

// EnsureUserDir only validates the owner id.
func (s *S3Store) EnsureUserDir(ctx context.Context, ownerID string) error {
	if !validSegment(ownerID) {
		return ErrInvalidKey
	}
	return nil
}

// Save uploads data under key with an If-None-Match precondition so an
// existing object is never replaced. Seekable readers are sent as-is; others
// are buffered by the SDK.
func (s *S3Store) Save(ctx context.Context, key string, data io.Reader) (int64, error) {
	if !validKey(key) {
		return 0, ErrInvalidKey
	}

	counter := &countingReader{r: data}
	var body io.Reader = counter
	if rs, ok := data.(io.ReadSeeker); ok {
		body = &countingReadSeeker{countingReader: counter, seeker: rs}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return 0, ErrObjectExists
		}
		return 0, fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return counter.n, nil
}

// Open streams the object body.
func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 treats missing keys as success.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Locate returns an s3:// URI for key.
func (s *S3Store) Locate(key string) string {
	return "s3://" + s.bucket + "/" + key
}

// Walk lists every object in the bucket page by page.
func (s *S3Store) Walk(ctx context.Context, fn func(Object) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list bucket %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !validKey(key) {
				continue
			}
			if err := fn(Object{
				Key:     key,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// countingReadSeeker keeps the body seekable for request signing and
// retries. Rewinding resets the count.
type countingReadSeeker struct {
	*countingReader
	seeker io.Seeker
}

func (c *countingReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.seeker.Seek(offset, whence)
	if err == nil {
		c.n = pos
	}
	return pos, err
}
