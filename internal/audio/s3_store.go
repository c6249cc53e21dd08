package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultRegion       = "auto"
	defaultMaxSizeBytes = 15 * 1024 * 1024
)

var (
	// ErrPayloadTooLarge indicates audio above the configured upload limit.
	ErrPayloadTooLarge = errors.New("audio: payload exceeds maximum size")
	// ErrInvalidObjectKey indicates an owner or recording id that sanitizes to nothing.
	ErrInvalidObjectKey = errors.New("audio: invalid object key component")
)

// BlobStoreConfig holds configuration for the S3-compatible audio bucket.
type BlobStoreConfig struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	PublicBaseURL   string
	MaxSizeBytes    int64
}

// S3BlobStore uploads recordings to an S3-compatible bucket and returns their public URLs.
type S3BlobStore struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
	maxSizeBytes  int64
}

// NewS3BlobStore creates a blob store with static credentials and path-style addressing.
func NewS3BlobStore(cfg BlobStoreConfig) (*S3BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("endpoint is required")
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	maxSize := cfg.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxSizeBytes
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	publicBaseURL := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if publicBaseURL == "" {
		publicBaseURL = endpoint + "/" + cfg.Bucket
	}

	client := s3.New(s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		// S3-compatible stores (R2, MinIO) reject trailing checksums on PUT.
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	})

	return &S3BlobStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: publicBaseURL,
		maxSizeBytes:  maxSize,
	}, nil
}

// ObjectKey builds the storage key {userId}/{recordingId}{ext}.
func ObjectKey(userID string, recordingID string, contentType string) (string, error) {
	owner := sanitizePathComponent(userID)
	recording := sanitizePathComponent(recordingID)
	if owner == "" || recording == "" {
		return "", ErrInvalidObjectKey
	}
	return fmt.Sprintf("%s/%s%s", owner, recording, ExtensionFor(contentType)), nil
}

// Upload stores the payload, overwriting any previous upload for the recording.
func (s *S3BlobStore) Upload(ctx context.Context, userID string, recordingID string, payload Payload) (string, error) {
	if len(payload.Data) == 0 {
		return "", ErrEmptyPayload
	}
	if int64(len(payload.Data)) > s.maxSizeBytes {
		return "", ErrPayloadTooLarge
	}
	contentType := strings.TrimSpace(payload.ContentType)
	if contentType == "" {
		contentType = ContentTypeWebM
	}
	key, err := ObjectKey(userID, recordingID, contentType)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload.Data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(payload.Data))),
	})
	if err != nil {
		return "", fmt.Errorf("put audio object: %w", err)
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the URL clients use to fetch the object.
func (s *S3BlobStore) PublicURL(key string) string {
	return s.publicBaseURL + "/" + key
}

// sanitizePathComponent removes potentially dangerous characters from path components.
func sanitizePathComponent(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
