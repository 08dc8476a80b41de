// Package s3 stores ciphertext blobs as objects in one S3 bucket. Each vault
// bucket is a key prefix inside it.
package s3

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/jun/gophvault/internal/blob"
)

const markerObject = ".vault"

// S3API is the subset of the S3 client used by Backend.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options configures the S3 client.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient builds an S3 client. A custom endpoint switches to path-style
// addressing for S3-compatible stores.
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// Backend implements blob.Backend.
type Backend struct {
	client   S3API
	bucket   string
	bucketID string
}

func NewBackend(client S3API, bucket, bucketID string) *Backend {
	return &Backend{client: client, bucket: bucket, bucketID: bucketID}
}

func (b *Backend) key(id string) string {
	return path.Join("vault", b.bucketID, id)
}

// Initialize assigns a prefix and writes a marker object under it.
func (b *Backend) Initialize(ctx context.Context) (string, error) {
	if b.bucketID == "" {
		b.bucketID = uuid.NewString()
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(markerObject)),
		Body:   blob.NewProgressReader(nil, nil),
	})
	if err != nil {
		return "", fmt.Errorf("%w: initialize %s: %w", blob.ErrBackend, b.bucketID, err)
	}
	return b.bucketID, nil
}

func (b *Backend) PutBlob(ctx context.Context, data []byte, onProgress blob.ProgressFunc) (string, error) {
	id := uuid.NewString()
	body := blob.NewProgressReader(data, onProgress)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key(id)),
		Body:          body,
		ContentLength: aws.Int64(body.Len()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put object: %w", blob.ErrBackend, err)
	}
	return id, nil
}

func (b *Backend) GetBlob(ctx context.Context, id string, onProgress blob.ProgressFunc) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get object %s: %w", blob.ErrBackend, id, err)
	}
	defer out.Body.Close()

	data, err := blob.ReadAllWithProgress(out.Body, onProgress)
	if err != nil {
		return nil, fmt.Errorf("%w: read object %s: %w", blob.ErrBackend, id, err)
	}
	return data, nil
}

func (b *Backend) DeleteBlob(ctx context.Context, id string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return blob.ErrNotFound
		}
		return fmt.Errorf("%w: delete object %s: %w", blob.ErrBackend, id, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// Provider implements blob.Provider on a single S3 bucket.
type Provider struct {
	client S3API
	bucket string
}

func NewProvider(client S3API, bucket string) *Provider {
	return &Provider{client: client, bucket: bucket}
}

func (p *Provider) Backend(_ context.Context, _ string, bucketID string) (blob.Backend, error) {
	return NewBackend(p.client, p.bucket, bucketID), nil
}
