package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/peek-labs/peek/internal/errors"
)

// LocalSource reads images from the local file system
type LocalSource struct {
	maxSize int64
}

// NewLocalSource creates a file system source
func NewLocalSource(maxSize int64) *LocalSource {
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}
	return &LocalSource{maxSize: maxSize}
}

// Kind implements Source
func (s *LocalSource) Kind() Kind { return KindLocal }

// Fetch reads the file named by ref
func (s *LocalSource) Fetch(ctx context.Context, ref string) (*Image, error) {
	p := strings.TrimPrefix(strings.TrimSpace(ref), "file://")
	if p == "" {
		return nil, apperrors.NewValidationError("Image path cannot be empty", nil)
	}

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("Image %s not found", p), err)
		}
		return nil, apperrors.NewInternalError("Failed to read image", err)
	}
	if info.IsDir() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s is a directory", p), nil)
	}
	if info.Size() > s.maxSize {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Image exceeds %d bytes", s.maxSize), nil)
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to read image", err)
	}
	defer f.Close()

	data, err := readLimited(f, s.maxSize)
	if err != nil {
		return nil, apperrors.NewValidationError("Failed to read image", err)
	}
	return &Image{
		Name:        filepath.Base(p),
		Data:        data,
		ContentType: detectContentType("", data),
	}, nil
}
