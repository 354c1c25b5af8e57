package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/pkg/models"
)

func init() {
	logger.Discard()
	gin.SetMode(gin.TestMode)
}

func newProxy(t *testing.T, target string, timeout time.Duration) *httptest.Server {
	t.Helper()
	p, err := New(target, timeout)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	router := gin.New()
	router.Any("/api/*path", p.Handler())
	front := httptest.NewServer(router)
	t.Cleanup(front.Close)
	return front
}

func decodeError(t *testing.T, resp *http.Response) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Expected JSON error body: %v", err)
	}
	return body
}

func TestProxy_ForwardsRequests(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/results/42":
			if r.URL.Query().Get("verbose") != "1" {
				t.Errorf("Expected query string to be forwarded, got %q", r.URL.RawQuery)
			}
			if r.Header.Get("X-Custom") != "yes" || r.Header.Get("Proxy-Authorization") != "" {
				t.Errorf("Unexpected forwarded headers %v", r.Header)
			}
			if r.Header.Get(requestIDHeader) == "" {
				t.Error("Expected a request id to be added")
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id": 42, "status": "processing"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/analyze":
			if _, _, err := r.FormFile("image"); err != nil {
				t.Errorf("Expected multipart image to be forwarded: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 43, "status": "processing"}`))
		case r.URL.Path == "/api/image/42/annotated":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backend.Close()
	front := newProxy(t, backend.URL, 5*time.Second)

	req, _ := http.NewRequest(http.MethodGet, front.URL+"/api/results/42?verbose=1", nil)
	req.Header.Set("X-Custom", "yes")
	req.Header.Set("Proxy-Authorization", "Basic secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var result models.AnalysisResult
	_ = json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || result.ID != "42" {
		t.Errorf("Unexpected proxied result %d %+v", resp.StatusCode, result)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, _ := mw.CreateFormFile("image", "a.png")
	_, _ = part.Write([]byte("\x89PNG"))
	_ = mw.Close()
	resp, err = http.Post(front.URL+"/api/analyze", mw.FormDataContentType(), body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201 from upload, got %d", resp.StatusCode)
	}

	resp, err = http.Get(front.URL + "/api/image/42/annotated")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" || string(data) != "\x89PNG" {
		t.Errorf("Expected image to pass through, got %s %q", resp.Header.Get("Content-Type"), data)
	}
}

func TestProxy_PrefixedTarget(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analysis/api/results/1" {
			t.Errorf("Expected prefixed path, got %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer backend.Close()
	front := newProxy(t, backend.URL+"/analysis", 5*time.Second)

	resp, err := http.Get(front.URL + "/api/results/1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
}

func TestProxy_MethodNotAllowed(t *testing.T) {
	front := newProxy(t, "http://127.0.0.1:1", time.Second)

	req, _ := http.NewRequest(http.MethodPatch, front.URL+"/api/results/1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error != "Method not allowed" {
		t.Errorf("Unexpected body %+v", body)
	}
}

func TestProxy_ServiceDown(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	target := backend.URL
	backend.Close()
	front := newProxy(t, target, time.Second)

	resp, err := http.Get(front.URL + "/api/results/1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error != "Cannot connect to API" {
		t.Errorf("Unexpected body %+v", body)
	}
}

func TestProxy_Timeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer backend.Close()
	front := newProxy(t, backend.URL, 50*time.Millisecond)

	resp, err := http.Get(front.URL + "/api/results/1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("Expected 504, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error != "Request timeout" {
		t.Errorf("Unexpected body %+v", body)
	}
}

func TestNew_RejectsRelativeTarget(t *testing.T) {
	if _, err := New("localhost:8000", time.Second); err == nil {
		t.Error("Expected relative target to be rejected")
	}
}
