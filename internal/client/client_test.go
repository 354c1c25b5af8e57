package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/peek-labs/peek/internal/errors"
	"github.com/peek-labs/peek/internal/logger"
	"github.com/peek-labs/peek/pkg/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func init() {
	logger.Discard()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL+"/", 5*time.Second), server
}

func TestSubmit_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("Expected image field: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "cat.png" || len(data) != len(pngHeader) {
			t.Errorf("Unexpected upload %s (%d bytes)", header.Filename, len(data))
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("Expected image/png part, got %s", ct)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "status": "processing"}`))
	})

	resp, err := c.Submit(context.Background(), "cat.png", pngHeader)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.ID != "42" || resp.Status != models.StatusProcessing {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{"service message", http.StatusBadRequest, `{"error": "No image provided"}`, "No image provided"},
		{"no body", http.StatusInternalServerError, ``, apperrors.MsgUploadFailed},
		{"html body", http.StatusBadGateway, `<html>bad gateway</html>`, apperrors.MsgUploadFailed},
		{"empty error field", http.StatusBadRequest, `{"error": ""}`, apperrors.MsgUploadFailed},
		{"success without id", http.StatusOK, `{"status": "processing"}`, apperrors.MsgUploadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Submit(context.Background(), "a.png", pngHeader)
			if !apperrors.IsType(err, apperrors.ErrorTypeUpload) {
				t.Fatalf("Expected upload error, got %v", err)
			}
			if msg := apperrors.UserMessage(err); msg != tt.expected {
				t.Errorf("Expected message %q, got %q", tt.expected, msg)
			}
		})
	}
}

func TestSubmit_EmptyDataSkipsNetwork(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := c.Submit(context.Background(), "empty.png", nil)
	if !apperrors.IsType(err, apperrors.ErrorTypeUpload) {
		t.Fatalf("Expected upload error, got %v", err)
	}
	if called {
		t.Error("Expected no request for empty image data")
	}
}

func TestSubmit_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	_, err := New(server.URL, time.Second).Submit(context.Background(), "a.png", pngHeader)
	if !apperrors.IsType(err, apperrors.ErrorTypeUpload) {
		t.Fatalf("Expected upload error, got %v", err)
	}
	if apperrors.UserMessage(err) != apperrors.MsgUploadFailed {
		t.Errorf("Unexpected message %q", apperrors.UserMessage(err))
	}
}

func TestPoll(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/results/42":
			_, _ = w.Write([]byte(`{"id": 42, "status": "processing"}`))
		case "/api/results/7":
			_, _ = w.Write([]byte(`{"id": 7, "status": "failed", "error": "corrupt image"}`))
		case "/api/results/9":
			_, _ = w.Write([]byte(`{"id": 9, "status": `))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "Analysis not found"}`))
		}
	})
	ctx := context.Background()

	result, err := c.Poll(ctx, "42")
	if err != nil || result.Status != models.StatusProcessing {
		t.Fatalf("Expected processing result, got %+v, %v", result, err)
	}

	result, err = c.Poll(ctx, "7")
	if err != nil || result.Status != models.StatusFailed || result.Error != "corrupt image" {
		t.Fatalf("Expected failed result, got %+v, %v", result, err)
	}

	for _, id := range []models.AnalysisID{"9", "404"} {
		_, err = c.Poll(ctx, id)
		if !apperrors.IsType(err, apperrors.ErrorTypePoll) {
			t.Fatalf("Poll(%s): expected poll error, got %v", id, err)
		}
		if apperrors.UserMessage(err) != apperrors.MsgPollFailed {
			t.Errorf("Poll(%s): unexpected message %q", id, apperrors.UserMessage(err))
		}
	}
}

func TestPoll_ContextCancelled(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Poll(ctx, "1"); !apperrors.IsType(err, apperrors.ErrorTypePoll) {
		t.Fatalf("Expected poll error, got %v", err)
	}
}

func TestImageURL(t *testing.T) {
	c := New("http://localhost:8000/", time.Second)

	if got := c.ImageURL("42", models.VariantOriginal); got != "http://localhost:8000/api/image/42/original" {
		t.Errorf("Unexpected original URL %s", got)
	}
	if got := c.ImageURL("42", models.VariantAnnotated); got != "http://localhost:8000/api/image/42/annotated" {
		t.Errorf("Unexpected annotated URL %s", got)
	}
}

func TestFetchImage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/image/42/") {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngHeader)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	ctx := context.Background()

	data, contentType, err := c.FetchImage(ctx, "42", models.VariantAnnotated)
	if err != nil {
		t.Fatalf("FetchImage failed: %v", err)
	}
	if contentType != "image/png" || len(data) != len(pngHeader) {
		t.Errorf("Unexpected image %s (%d bytes)", contentType, len(data))
	}

	if _, _, err := c.FetchImage(ctx, "5", models.VariantOriginal); !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Errorf("Expected not found error, got %v", err)
	}
	if _, _, err := c.FetchImage(ctx, "42", "thumbnail"); !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
