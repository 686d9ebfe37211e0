// Package presign issues presigned S3 upload destinations. It is the backend
// counterpart of the upload queue: NewHandler exposes the destination resolver
// endpoint the queue's client consumes.
package presign

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/uploadkit-io/go-uploadkit/upload/filemeta"
)

// DefaultExpiry is the presigned URL lifetime applied when Config.Expiry is unset.
const DefaultExpiry = 15 * time.Minute

// Seams for the AWS presign calls, swapped out in tests.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Config ...
type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// BaseEndpoint overrides the S3 endpoint, e.g. for MinIO or R2.
	BaseEndpoint string

	// PublicBaseURL is the public prefix objects are served from (CDN or
	// website endpoint). When empty, a presigned GET URL is issued instead.
	PublicBaseURL string

	// KeyPrefix is prepended to every generated storage key.
	KeyPrefix string

	// Expiry is the presigned URL lifetime. Default: DefaultExpiry
	Expiry time.Duration
}

// UploadRequest describes the file a destination is requested for.
type UploadRequest struct {
	FileName    string
	ContentType string
	Size        int64
}

// Destination is a presigned upload target.
type Destination struct {
	URL       string
	Method    string
	Headers   map[string]string
	Key       string
	PublicURL string
	ExpiresIn int64
}

// Service generates presigned upload and download URLs for one bucket.
type Service struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	config        Config
	logger        log.Logger
}

// NewService creates a presign service for the configured bucket.
func NewService(ctx context.Context, config Config, logger log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.NewLogger()
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("Bucket must not be empty")
	}
	if config.Expiry <= 0 {
		config.Expiry = DefaultExpiry
	}

	cfg, err := loadAWSCredentials(ctx, config.Region, config.AccessKeyID, config.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	client := newS3ClientFromConfig(*cfg, func(o *s3.Options) {
		if config.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(config.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	return &Service{
		client:        client,
		presignClient: newS3PresignClient(client),
		config:        config,
		logger:        logger,
	}, nil
}

// UploadURL issues a one-time presigned PUT destination for the given file.
func (s *Service) UploadURL(ctx context.Context, req UploadRequest) (Destination, error) {
	if req.Size < 0 {
		return Destination{}, fmt.Errorf("file size must not be negative")
	}

	key := s.storageKey(req.FileName)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}
	if req.Size > 0 {
		input.ContentLength = aws.Int64(req.Size)
	}

	presigned, err := presignPutObject(s.presignClient, ctx, input, s3.WithPresignExpires(s.config.Expiry))
	if err != nil {
		return Destination{}, fmt.Errorf("presign put object: %w", err)
	}

	publicURL, err := s.publicURL(ctx, key)
	if err != nil {
		return Destination{}, err
	}

	return Destination{
		URL:       presigned.URL,
		Method:    presigned.Method,
		Headers:   flattenHeader(presigned.SignedHeader),
		Key:       key,
		PublicURL: publicURL,
		ExpiresIn: int64(s.config.Expiry.Seconds()),
	}, nil
}

// DownloadURL issues a presigned GET URL for an already stored object.
func (s *Service) DownloadURL(ctx context.Context, key string) (string, error) {
	presigned, err := presignGetObject(s.presignClient, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.config.Expiry))
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}
	return presigned.URL, nil
}

// storageKey builds a collision-free object key: prefix, date path, a random
// id and the sanitized file name.
func (s *Service) storageKey(fileName string) string {
	prefix := strings.Trim(s.config.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	d := time.Now()
	return fmt.Sprintf("%s%d/%02d/%02d/%s-%s", prefix, d.Year(), int(d.Month()), d.Day(), uuid.New(), filemeta.SanitizeFileName(fileName))
}

func (s *Service) publicURL(ctx context.Context, key string) (string, error) {
	if s.config.PublicBaseURL != "" {
		return strings.TrimRight(s.config.PublicBaseURL, "/") + "/" + key, nil
	}
	url, err := s.DownloadURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("presign public URL: %w", err)
	}
	return url, nil
}

func flattenHeader(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string]string, len(header))
	for k, values := range header {
		out[k] = strings.Join(values, ",")
	}
	return out
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	if accessKeyID != "" && secretKey != "" {
		opts = append(opts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	} else {
		logger.Debugf("aws credentials not defined, loading credentials from environment...")
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
