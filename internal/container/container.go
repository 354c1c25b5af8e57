package container

import (
	"fmt"
	"net/http"

	"github.com/peek-labs/peek/internal/client"
	"github.com/peek-labs/peek/internal/config"
	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/internal/observer"
	"github.com/peek-labs/peek/internal/orchestrator"
	"github.com/peek-labs/peek/internal/proxy"
	"github.com/peek-labs/peek/internal/source"
	"github.com/peek-labs/peek/internal/transport"
)

// eventQueueSize bounds pending stage-transition events
const eventQueueSize = 64

// Container holds all application dependencies
type Container struct {
	config       *config.Config
	client       *client.Client
	publisher    *observer.EventPublisher
	metrics      *observer.MetricsObserver
	orchestrator *orchestrator.Orchestrator
	sources      *source.Factory
	proxy        *proxy.Proxy
	handler      http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	logger.Configure(cfg.LogLevel)

	// Build dependency graph
	apiClient := client.New(cfg.APIBaseURL, cfg.RequestTimeout)

	publisher := observer.NewEventPublisher(eventQueueSize)
	metrics := observer.NewMetricsObserver()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)

	orch := orchestrator.New(apiClient,
		orchestrator.WithPollInterval(cfg.PollInterval),
		orchestrator.WithTimeout(cfg.AnalysisTimeout),
		orchestrator.WithPublisher(publisher),
	)

	sources, err := source.NewFactoryFromConfig(cfg)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to build image sources: %w", err)
	}

	apiProxy, err := proxy.New(cfg.APIBaseURL, cfg.ProxyTimeout)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to build api proxy: %w", err)
	}

	handler := transport.NewHandler(transport.Dependencies{
		Cycles:  orch,
		Links:   apiClient,
		Sources: sources,
		Metrics: metrics,
		Events:  publisher,
		API:     apiProxy,
	}, cfg)

	return &Container{
		config:       cfg,
		client:       apiClient,
		publisher:    publisher,
		metrics:      metrics,
		orchestrator: orch,
		sources:      sources,
		proxy:        apiProxy,
		handler:      handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Client returns the analysis service client
func (c *Container) Client() *client.Client {
	return c.client
}

// Orchestrator returns the shared upload-poll orchestrator
func (c *Container) Orchestrator() *orchestrator.Orchestrator {
	return c.orchestrator
}

// Sources returns the image source factory
func (c *Container) Sources() *source.Factory {
	return c.sources
}

// Metrics returns the cycle metrics observer
func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}

// Close cancels any cycle in flight and drains pending events
func (c *Container) Close() {
	c.orchestrator.Reset()
	c.publisher.Close()
}
