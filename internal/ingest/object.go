package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	ErrObjectSourceDisabled = errors.New("object import is not configured")
	ErrObjectTooLarge       = errors.New("object exceeds the upload size limit")
)

// ObjectConfig points at an S3 compatible bucket (AWS S3 or Cloudflare R2)
// where the frontend stages large spreadsheets.
type ObjectConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	MaxBytes  int64
}

// ObjectGetter is the part of the S3 client the source needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type ObjectSource struct {
	client   ObjectGetter
	bucket   string
	maxBytes int64
}

// NewObjectSource builds an S3 client from cfg. An empty bucket yields a
// source whose Fetch always returns ErrObjectSourceDisabled.
func NewObjectSource(ctx context.Context, cfg ObjectConfig) (*ObjectSource, error) {
	if cfg.Bucket == "" {
		return &ObjectSource{}, nil
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load object storage config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewObjectSourceWithClient(client, cfg.Bucket, cfg.MaxBytes), nil
}

func NewObjectSourceWithClient(client ObjectGetter, bucket string, maxBytes int64) *ObjectSource {
	return &ObjectSource{client: client, bucket: bucket, maxBytes: maxBytes}
}

func (o *ObjectSource) Enabled() bool {
	return o != nil && o.client != nil
}

// Fetch downloads key and parses it as a spreadsheet. The key's extension
// decides between .xlsx and .xls.
func (o *ObjectSource) Fetch(ctx context.Context, key string) (Sheet, error) {
	if !o.Enabled() {
		return Sheet{}, ErrObjectSourceDisabled
	}
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Sheet{}, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	defer out.Body.Close()

	var body io.Reader = out.Body
	if o.maxBytes > 0 {
		body = io.LimitReader(out.Body, o.maxBytes+1)
	}
	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, body); err != nil {
		return Sheet{}, fmt.Errorf("failed to read object body: %w", err)
	}
	if o.maxBytes > 0 && int64(buf.Len()) > o.maxBytes {
		return Sheet{}, ErrObjectTooLarge
	}
	return ReadSheet(key, bytes.NewReader(buf.Bytes()))
}
