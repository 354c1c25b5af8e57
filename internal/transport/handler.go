package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/peek-labs/peek/internal/config"
	apperrors "github.com/peek-labs/peek/internal/errors"
	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/internal/observer"
	"github.com/peek-labs/peek/internal/orchestrator"
	"github.com/peek-labs/peek/internal/source"
	"github.com/peek-labs/peek/pkg/models"
)

// Cycles is the orchestrator surface the web front end drives
type Cycles interface {
	StartUpload(ctx context.Context, name string, data []byte) error
	Reset()
	Snapshot() orchestrator.Snapshot
}

// ImageLinker builds variant URLs for a finished analysis
type ImageLinker interface {
	ImageURL(id models.AnalysisID, variant models.ImageVariant) string
}

// ImageFetcher resolves an image reference submitted through the upload form
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) (*source.Image, error)
}

// MetricsReporter exposes cycle counters
type MetricsReporter interface {
	GetMetrics() observer.CycleMetrics
}

// EventQueue exposes the delivery counters of the cycle event publisher
type EventQueue interface {
	Stats() observer.PoolStats
}

// Dependencies groups what the handler needs. Sources, Metrics, Events and API are optional.
type Dependencies struct {
	Cycles  Cycles
	Links   ImageLinker
	Sources ImageFetcher
	Metrics MetricsReporter
	Events  EventQueue
	API     http.Handler
}

type handler struct {
	deps         Dependencies
	cfg          *config.Config
	expectations *expectations
	slideshow    *slideshow
}

func NewHandler(deps Dependencies, cfg *config.Config) http.Handler {
	h := &handler{
		deps:         deps,
		cfg:          cfg,
		expectations: &expectations{},
		slideshow:    newSlideshow(cfg.SlideshowImages),
	}

	r := gin.Default()
	r.SetHTMLTemplate(pageTemplates)

	// Add middleware
	r.Use(
		corsMiddleware(cfg.CORSAllowedOrigins),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/", h.index)
	r.POST("/upload", h.upload)
	r.POST("/reset", h.reset)
	r.GET("/state", h.state)
	r.GET("/health", healthCheck)
	r.GET("/health/", healthCheck)

	if deps.Metrics != nil {
		r.GET("/metrics/cycles", h.cycleMetrics)
	}
	if deps.API != nil {
		r.Any("/api/*path", gin.WrapH(deps.API))
	}

	return r
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:  "ok",
		Service: "peek_client",
	})
}

func (h *handler) cycleMetrics(c *gin.Context) {
	m := h.deps.Metrics.GetMetrics()
	if h.deps.Events != nil {
		stats := h.deps.Events.Stats()
		m.Events = &stats
	}
	c.JSON(http.StatusOK, m)
}

// Middleware and helper functions

// corsMiddleware runs go-chi/cors inside the gin chain. Preflight requests are
// answered by cors itself and never reach a route.
func corsMiddleware(origins []string) gin.HandlerFunc {
	apply := cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	return func(c *gin.Context) {
		reached := false
		apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if !reached {
			c.Abort()
		}
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err
			respondError(c, determineStatusCode(err), err)
		}
	}
}

func determineStatusCode(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, err error) {
	message := apperrors.UserMessage(err)

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
	})
}

// wantsJSON reports whether the caller asked for JSON rather than a page
func wantsJSON(c *gin.Context) bool {
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}

// refreshSeconds is the meta-refresh period of busy pages
func refreshSeconds(pollInterval time.Duration) int {
	secs := int((pollInterval + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
