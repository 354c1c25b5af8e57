package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/peek-labs/peek/internal/errors"
	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/pkg/validation"
)

const maxFetchAttempts = 3

// errBlockedAddress is returned by the dialer for addresses outside the public internet
var errBlockedAddress = errors.New("address is not publicly routable")

// HTTPSource downloads images over http(s) with a small retry budget for transient failures
type HTTPSource struct {
	client    *http.Client
	validator *validation.URLValidator
	maxSize   int64
	backoff   func(attempt int) time.Duration
}

type httpOptions struct {
	allowedHosts    []string
	privateNetworks bool
}

// HTTPOption configures an HTTPSource
type HTTPOption func(*httpOptions)

// WithAllowedHosts restricts downloads to the named hosts; an empty list allows any host
func WithAllowedHosts(hosts []string) HTTPOption {
	return func(o *httpOptions) { o.allowedHosts = hosts }
}

// WithPrivateNetworks lets downloads reach loopback, private and link-local addresses
func WithPrivateNetworks(allow bool) HTTPOption {
	return func(o *httpOptions) { o.privateNetworks = allow }
}

// NewHTTPSource creates an HTTP image source. Unless WithPrivateNetworks is
// given, every connection (redirects included) must land on a public address.
func NewHTTPSource(timeout time.Duration, maxSize int64, opts ...HTTPOption) *HTTPSource {
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}
	var o httpOptions
	for _, opt := range opts {
		opt(&o)
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !o.privateNetworks {
		dialer.Control = refusePrivateAddresses
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DisableCompression:     false,
		MaxResponseHeaderBytes: 4096,
	}

	validator := validation.NewURLValidatorWithOptions([]string{"http", "https"}, o.allowedHosts)

	return &HTTPSource{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return validator.ValidateImageURL(req.URL.String())
			},
		},
		validator: validator,
		maxSize:   maxSize,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * time.Second
		},
	}
}

// Kind implements Source
func (s *HTTPSource) Kind() Kind { return KindHTTP }

// Fetch downloads ref. 5xx responses and network errors are retried, 4xx are not.
func (s *HTTPSource) Fetch(ctx context.Context, ref string) (*Image, error) {
	if err := s.validator.ValidateImageURL(ref); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		img, retry, err := s.fetchOnce(ctx, ref)
		if err == nil {
			return img, nil
		}
		lastErr = err
		if !retry || attempt == maxFetchAttempts-1 {
			break
		}

		logger.WithFields(logrus.Fields{
			"url":     ref,
			"attempt": attempt + 1,
		}).WithError(err).Debug("retrying image download")

		select {
		case <-ctx.Done():
			return nil, apperrors.NewNetworkError("Image download cancelled", ctx.Err())
		case <-time.After(s.backoff(attempt)):
		}
	}

	if apperrors.IsType(lastErr, apperrors.ErrorTypeNotFound) || apperrors.IsType(lastErr, apperrors.ErrorTypeValidation) {
		return nil, lastErr
	}
	return nil, apperrors.NewNetworkError(
		fmt.Sprintf("Failed to fetch image after %d attempts", maxFetchAttempts), lastErr)
}

func (s *HTTPSource) fetchOnce(ctx context.Context, ref string) (*Image, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, false, apperrors.NewValidationError("Invalid URL format", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")
	req.Header.Set("User-Agent", "Peek/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, errBlockedAddress) || apperrors.IsType(err, apperrors.ErrorTypeValidation) {
			return nil, false, apperrors.NewValidationError("Image host not allowed", err)
		}
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, apperrors.NewNotFoundError("Image not found", fmt.Errorf("client error: status code %d", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err := readLimited(resp.Body, s.maxSize)
	if err != nil {
		return nil, false, apperrors.NewValidationError("Failed to read image", err)
	}

	name := "image"
	if u, perr := url.Parse(ref); perr == nil {
		name = baseName(u.Path)
	}
	return &Image{
		Name:        name,
		Data:        data,
		ContentType: detectContentType(resp.Header.Get("Content-Type"), data),
	}, false, nil
}

// refusePrivateAddresses runs after name resolution, so it sees the address actually dialed
func refusePrivateAddresses(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", errBlockedAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", errBlockedAddress, host)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast())
}
