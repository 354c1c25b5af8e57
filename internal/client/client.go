package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/peek-labs/peek/internal/errors"
	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/pkg/models"
)

const (
	analyzePath = "/api/analyze"
	resultsPath = "/api/results/"
	imagePath   = "/api/image/"

	// maxErrorBody bounds how much of a failed response is read for its message
	maxErrorBody = 64 * 1024
	// maxImageBody bounds variant downloads
	maxImageBody = 32 * 1024 * 1024
)

// Client talks to the analysis service over HTTP. It never retries on its own;
// a retry is a reset followed by a new upload.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL with a per-request timeout
func New(baseURL string, timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	return NewWithHTTPClient(baseURL, &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("too many redirects (limit: 3)")
			}
			return nil
		},
	})
}

// NewWithHTTPClient creates a client around an existing *http.Client
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// BaseURL returns the service root requests are made against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit uploads image bytes as the multipart field "image"
func (c *Client) Submit(ctx context.Context, name string, data []byte) (*models.SubmitResponse, error) {
	if len(data) == 0 {
		return nil, apperrors.NewUploadError("", fmt.Errorf("image %q is empty", name))
	}
	if name == "" {
		name = "image"
	}

	body, contentType, err := multipartImage(name, data)
	if err != nil {
		return nil, apperrors.NewUploadError("", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, body)
	if err != nil {
		return nil, apperrors.NewUploadError("", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logger.WithError(err).WithField("bytes", len(data)).Warn("submit request failed")
		return nil, apperrors.NewUploadError("", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serviceError(resp.Body)
		logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"message":     msg,
		}).Warn("submit rejected by analysis service")
		return nil, apperrors.NewUploadError(msg, fmt.Errorf("status code %d", resp.StatusCode))
	}

	var submitted models.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		return nil, apperrors.NewUploadError("", fmt.Errorf("decode submit response: %w", err))
	}
	if submitted.ID.IsZero() {
		return nil, apperrors.NewUploadError("", fmt.Errorf("submit response carries no id"))
	}

	logger.WithFields(logrus.Fields{
		"analysis_id": submitted.ID.String(),
		"status":      submitted.Status,
		"bytes":       len(data),
	}).Info("image submitted")
	return &submitted, nil
}

// Poll fetches the current result for id. Any failure, a 404 included, is a PollError.
func (c *Client) Poll(ctx context.Context, id models.AnalysisID) (*models.AnalysisResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+resultsPath+url.PathEscape(id.String()), nil)
	if err != nil {
		return nil, apperrors.NewPollError("", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewPollError("", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperrors.NewPollError("", fmt.Errorf("status code %d", resp.StatusCode))
	}

	var result models.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.NewPollError("", fmt.Errorf("decode result: %w", err))
	}
	if result.ID.IsZero() {
		result.ID = id
	}
	return &result, nil
}

// ImageURL builds the address of an image variant. It performs no I/O.
func (c *Client) ImageURL(id models.AnalysisID, variant models.ImageVariant) string {
	return c.baseURL + imagePath + url.PathEscape(id.String()) + "/" + string(variant)
}

// FetchImage downloads an image variant and returns its bytes and content type
func (c *Client) FetchImage(ctx context.Context, id models.AnalysisID, variant models.ImageVariant) ([]byte, string, error) {
	if !variant.Valid() {
		return nil, "", apperrors.NewValidationError(fmt.Sprintf("unknown image variant %q", variant), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ImageURL(id, variant), nil)
	if err != nil {
		return nil, "", apperrors.NewNetworkError("Failed to fetch image", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", apperrors.NewNetworkError("Failed to fetch image", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", apperrors.NewNotFoundError(fmt.Sprintf("Image %s/%s not found", id, variant), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, "", apperrors.NewNetworkError("Failed to fetch image", fmt.Errorf("status code %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBody+1))
	if err != nil {
		return nil, "", apperrors.NewNetworkError("Failed to read image", err)
	}
	if len(data) > maxImageBody {
		return nil, "", apperrors.NewNetworkError("Image exceeds download limit", nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func multipartImage(name string, data []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	header.Set("Content-Type", http.DetectContentType(data))

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write image part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

// serviceError extracts the "error" field of a failed response, if any
func serviceError(body io.Reader) string {
	var payload models.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(body, maxErrorBody)).Decode(&payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Error)
}
