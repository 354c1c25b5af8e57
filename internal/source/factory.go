package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/peek-labs/peek/internal/config"
	apperrors "github.com/peek-labs/peek/internal/errors"
	"github.com/peek-labs/peek/internal/logger"
)

// Factory routes a reference to the Source registered for its Kind
type Factory struct {
	mu      sync.RWMutex
	sources map[Kind]Source
}

// NewFactory creates an empty factory
func NewFactory(sources ...Source) *Factory {
	f := &Factory{sources: make(map[Kind]Source)}
	for _, s := range sources {
		f.Register(s)
	}
	return f
}

// NewFactoryFromConfig registers the local and HTTP sources, plus Azure and
// S3 when their credentials are configured
func NewFactoryFromConfig(cfg *config.Config) (*Factory, error) {
	f := NewFactory(
		NewLocalSource(cfg.MaxRequestBodySize),
		NewHTTPSource(cfg.ImageFetchTimeout, cfg.MaxRequestBodySize,
			WithAllowedHosts(cfg.ImageAllowedHosts),
			WithPrivateNetworks(cfg.ImageAllowPrivateHosts),
		),
	)

	if cfg.Azure.Enabled() {
		azure, err := NewAzureSource(cfg.Azure.AccountName, cfg.Azure.AccountKey, cfg.MaxRequestBodySize)
		if err != nil {
			return nil, fmt.Errorf("azure source: %w", err)
		}
		f.Register(azure)
	}

	if cfg.Minio.Enabled() {
		s3, err := NewS3Source(cfg.Minio.Endpoint, cfg.Minio.Region, cfg.Minio.AccessKey,
			cfg.Minio.SecretKey, cfg.Minio.UseSSL, cfg.MaxRequestBodySize)
		if err != nil {
			return nil, fmt.Errorf("s3 source: %w", err)
		}
		f.Register(s3)
	}

	logger.WithField("kinds", f.Kinds()).Info("Image sources registered")
	return f, nil
}

// Register adds or replaces the source for its Kind
func (f *Factory) Register(s Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[s.Kind()] = s
}

// Kinds lists the registered kinds in a stable order
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]string, 0, len(f.sources))
	for k := range f.sources {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}

// For returns the source able to read ref
func (f *Factory) For(ref string) (Source, error) {
	kind := KindOf(ref)
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sources[kind]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported image source: %s", kind), nil)
	}
	return s, nil
}

// Fetch resolves ref through the matching source
func (f *Factory) Fetch(ctx context.Context, ref string) (*Image, error) {
	s, err := f.For(ref)
	if err != nil {
		return nil, err
	}
	return s.Fetch(ctx, ref)
}
