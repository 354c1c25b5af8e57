package source

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/peek-labs/peek/internal/errors"
)

// S3Source reads s3://bucket/key references from MinIO or any S3-compatible endpoint
type S3Source struct {
	client  *minio.Client
	maxSize int64
}

// NewS3Source connects to endpoint (host[:port], no scheme)
func NewS3Source(endpoint, region, accessKey, secretKey string, useSSL bool, maxSize int64) (*S3Source, error) {
	if endpoint == "" {
		return nil, apperrors.NewValidationError("S3 endpoint is required", nil)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}

	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid S3 endpoint", err)
	}
	return &S3Source{client: cli, maxSize: maxSize}, nil
}

// Kind implements Source
func (s *S3Source) Kind() Kind { return KindS3 }

// Fetch downloads the referenced object
func (s *S3Source) Fetch(ctx context.Context, ref string) (*Image, error) {
	bucket, key, err := splitBucketRef(ref, "s3")
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperrors.NewNetworkError("Object download failed", err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NoSuchBucket":
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("Object %s/%s not found", bucket, key), err)
		}
		return nil, apperrors.NewNetworkError("Object download failed", err)
	}
	if info.Size > s.maxSize {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Image exceeds %d bytes", s.maxSize), nil)
	}

	data, err := readLimited(obj, s.maxSize)
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to read object", err)
	}
	return &Image{
		Name:        baseName(key),
		Data:        data,
		ContentType: detectContentType(info.ContentType, data),
	}, nil
}
