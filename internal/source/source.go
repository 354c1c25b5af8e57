// Package source resolves an image reference (path or URL) to the bytes handed to Upload.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// DefaultMaxImageSize bounds every source read
const DefaultMaxImageSize = 10 * 1024 * 1024

// Kind identifies the backend a reference belongs to
type Kind string

const (
	// KindLocal for paths on the local file system or file:// URLs
	KindLocal Kind = "local"
	// KindHTTP for http(s) URLs
	KindHTTP Kind = "http"
	// KindAzure for azblob://container/blob references
	KindAzure Kind = "azure"
	// KindS3 for s3://bucket/key references served by MinIO or any S3 endpoint
	KindS3 Kind = "s3"
)

// Image is a fetched image ready for submission
type Image struct {
	Name        string
	Data        []byte
	ContentType string
}

// Source fetches image bytes for references of one Kind
type Source interface {
	Fetch(ctx context.Context, ref string) (*Image, error)
	Kind() Kind
}

// KindOf classifies a reference by its scheme; anything without a known scheme is a local path
func KindOf(ref string) Kind {
	ref = strings.TrimSpace(ref)
	scheme, _, found := strings.Cut(ref, "://")
	if !found {
		return KindLocal
	}
	switch strings.ToLower(scheme) {
	case "http", "https":
		return KindHTTP
	case "azblob":
		return KindAzure
	case "s3":
		return KindS3
	case "file":
		return KindLocal
	default:
		return Kind(strings.ToLower(scheme))
	}
}

// splitBucketRef parses scheme://bucket/key/with/slashes
func splitBucketRef(ref, scheme string) (bucket, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", fmt.Errorf("invalid %s reference: %w", scheme, err)
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return "", "", fmt.Errorf("expected %s:// reference, got %q", scheme, ref)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%s reference must be %s://<container>/<name>, got %q", scheme, scheme, ref)
	}
	return bucket, key, nil
}

// readLimited reads at most max bytes and fails if the body is larger
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("image exceeds %d bytes", max)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	return data, nil
}

func detectContentType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

func baseName(p string) string {
	name := path.Base(p)
	if name == "." || name == "/" {
		return "image"
	}
	return name
}
