// Package proxy forwards /api/* requests from the web front end to the analysis service.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/pkg/models"
)

const requestIDHeader = "X-Request-ID"

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// Proxy is an http.Handler relaying requests to the analysis service
type Proxy struct {
	target  *url.URL
	timeout time.Duration
	rp      *httputil.ReverseProxy
	log     *logrus.Entry
}

// New creates a proxy for baseURL; request paths are appended to its path
func New(baseURL string, timeout time.Duration) (*Proxy, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy target: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxy target %q must be an absolute URL", baseURL)
	}

	p := &Proxy{
		target:  target,
		timeout: timeout,
		log:     logger.WithComponent("proxy"),
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		ErrorHandler: p.handleError,
	}
	return p, nil
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowedMethods[r.Method] {
		writeError(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "Method not allowed"})
		return
	}

	if r.Header.Get(requestIDHeader) == "" {
		r.Header.Set(requestIDHeader, uuid.NewString())
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	start := time.Now()
	p.rp.ServeHTTP(w, r.WithContext(ctx))

	p.log.WithFields(logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": r.Header.Get(requestIDHeader),
		"duration":   time.Since(start).String(),
	}).Debug("proxied request")
}

// Handler adapts the proxy to a gin route
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.ServeHTTP(c.Writer, c.Request)
	}
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(r.Context(), err)

	entry := p.log.WithFields(logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"request_id": r.Header.Get(requestIDHeader),
	}).WithError(err)
	if status == http.StatusInternalServerError {
		entry.Error("Proxy error")
	} else {
		entry.Warn("Analysis service unavailable")
	}

	writeError(w, status, body)
}

// classify maps a transport failure onto the status and body the front end expects
func classify(ctx context.Context, err error) (int, models.ErrorResponse) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, models.ErrorResponse{Error: "Request timeout"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, models.ErrorResponse{Error: "Request timeout"}
	}

	var opErr *net.OpError
	if errors.Is(err, syscall.ECONNREFUSED) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		return http.StatusServiceUnavailable, models.ErrorResponse{Error: "Cannot connect to API"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusServiceUnavailable, models.ErrorResponse{Error: "Cannot connect to API"}
	}

	return http.StatusInternalServerError, models.ErrorResponse{Error: "Internal server error", Detail: err.Error()}
}

func writeError(w http.ResponseWriter, status int, body models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
