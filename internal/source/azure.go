package source

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	apperrors "github.com/peek-labs/peek/internal/errors"
)

// AzureSource reads azblob://container/blob references with shared-key credentials
type AzureSource struct {
	client  *azblob.Client
	maxSize int64
}

// NewAzureSource creates a source for the given storage account
func NewAzureSource(accountName, accountKey string, maxSize int64) (*AzureSource, error) {
	return NewAzureSourceWithURL(fmt.Sprintf("https://%s.blob.core.windows.net", accountName), accountName, accountKey, maxSize)
}

// NewAzureSourceWithURL targets a non-default blob endpoint such as Azurite
func NewAzureSourceWithURL(serviceURL, accountName, accountKey string, maxSize int64) (*AzureSource, error) {
	if accountName == "" || accountKey == "" {
		return nil, apperrors.NewValidationError("Azure account name and key are required", nil)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid Azure credentials", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to create Azure client", err)
	}

	return &AzureSource{client: client, maxSize: maxSize}, nil
}

// Kind implements Source
func (s *AzureSource) Kind() Kind { return KindAzure }

// Fetch downloads the referenced blob
func (s *AzureSource) Fetch(ctx context.Context, ref string) (*Image, error) {
	container, blob, err := splitBucketRef(ref, "azblob")
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}

	resp, err := s.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("Blob %s/%s not found", container, blob), err)
		}
		return nil, apperrors.NewNetworkError("Blob download failed", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength != nil && *resp.ContentLength > s.maxSize {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Image exceeds %d bytes", s.maxSize), nil)
	}

	data, err := readLimited(resp.Body, s.maxSize)
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to read blob", err)
	}

	declared := ""
	if resp.ContentType != nil {
		declared = *resp.ContentType
	}
	return &Image{
		Name:        baseName(blob),
		Data:        data,
		ContentType: detectContentType(declared, data),
	}, nil
}
