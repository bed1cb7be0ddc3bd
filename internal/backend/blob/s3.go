// Package blob is the S3 implementation of the blob store used for image
// attachments. Uploads go through a presigned PUT URL; public URLs are a pure
// projection of bucket and path onto the configured endpoint.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/groupchat/internal/netx"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// Config holds the S3 connection settings.
type Config struct {
	Region        string
	AccessKey     string
	SecretKey     string
	BaseEndpoint  string
	PresignExpiry time.Duration
}

// S3Store implements client.BlobStore.
type S3Store struct {
	presign      *s3.PresignClient
	baseEndpoint string
	expiry       time.Duration
	httpClient   *http.Client
}

// New builds an S3Store for an S3-compatible endpoint (path-style addressing,
// static credentials).
func New(ctx context.Context, cfg Config, httpClient *http.Client) (*S3Store, error) {
	if cfg.BaseEndpoint == "" {
		return nil, errors.New("s3 base endpoint is required")
	}

	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		o.UsePathStyle = true
	})

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &S3Store{
		presign:      s3.NewPresignClient(client),
		baseEndpoint: cfg.BaseEndpoint,
		expiry:       expiry,
		httpClient:   httpClient,
	}, nil
}

// Upload stores data under bucket/path.
func (s *S3Store) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	req, err := presignPutObject(s.presign, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(path),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return fmt.Errorf("presign put %s: %w", path, err)
	}

	if err := netx.PutPresigned(ctx, s.httpClient, req.URL, data, contentType); err != nil {
		return fmt.Errorf("upload %s: %w", path, err)
	}
	return nil
}

// PublicURL returns the path-style object URL. It does no I/O.
func (s *S3Store) PublicURL(bucket, path string) string {
	return PublicURL(s.baseEndpoint, bucket, path)
}

// PublicURL projects bucket/path onto endpoint.
func PublicURL(endpoint, bucket, path string) string {
	u, err := url.JoinPath(endpoint, bucket, strings.TrimLeft(path, "/"))
	if err != nil {
		return strings.TrimRight(endpoint, "/") + "/" + bucket + "/" + strings.TrimLeft(path, "/")
	}
	return u
}
