package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults to load, got: %v", err)
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("Expected base URL %s, got %s", DefaultAPIBaseURL, cfg.APIBaseURL)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("Expected 2s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.AnalysisTimeout != 120*time.Second {
		t.Errorf("Expected 120s analysis timeout, got %s", cfg.AnalysisTimeout)
	}
	if cfg.ProxyTimeout != 30*time.Second {
		t.Errorf("Expected 30s proxy timeout, got %s", cfg.ProxyTimeout)
	}
	if cfg.ServerAddress() != "0.0.0.0:8080" {
		t.Errorf("Unexpected server address %s", cfg.ServerAddress())
	}
	if cfg.Azure.Enabled() || cfg.Minio.Enabled() {
		t.Error("Expected object-store sources to be disabled by default")
	}
	if cfg.ImageAllowPrivateHosts || cfg.WebObjectStoreRefs || len(cfg.ImageAllowedHosts) != 0 {
		t.Errorf("Expected web image references to be restricted by default, got private=%v objectStore=%v hosts=%v",
			cfg.ImageAllowPrivateHosts, cfg.WebObjectStoreRefs, cfg.ImageAllowedHosts)
	}
}

func TestLoad_SlideshowImages(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.SlideshowImages) != len(DefaultSlideshowImages) {
		t.Errorf("Expected default slideshow, got %d images", len(cfg.SlideshowImages))
	}

	t.Setenv("SLIDESHOW_IMAGES", "https://img.test/a.jpg,https://img.test/b.jpg")
	if cfg, _ = Load(""); len(cfg.SlideshowImages) != 2 || cfg.SlideshowImages[0] != "https://img.test/a.jpg" {
		t.Errorf("Unexpected slideshow %v", cfg.SlideshowImages)
	}

	t.Setenv("SLIDESHOW_IMAGES", "none")
	if cfg, _ = Load(""); len(cfg.SlideshowImages) != 0 {
		t.Errorf("Expected slideshow to be hidden, got %v", cfg.SlideshowImages)
	}
}

func TestLoad_ImageSourceRestrictions(t *testing.T) {
	t.Setenv("IMAGE_ALLOWED_HOSTS", "images.example.com, cdn.example.com")
	t.Setenv("IMAGE_ALLOW_PRIVATE_HOSTS", "true")
	t.Setenv("WEB_OBJECT_STORE_REFS", "1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.ImageAllowedHosts) != 2 || cfg.ImageAllowedHosts[1] != "cdn.example.com" {
		t.Errorf("Unexpected allowed hosts %v", cfg.ImageAllowedHosts)
	}
	if !cfg.ImageAllowPrivateHosts {
		t.Error("Expected private hosts to be allowed")
	}
	if !cfg.WebObjectStoreRefs {
		t.Error("Expected object-store references to be accepted from the web")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PEEK_API_URL", "https://peek.internal:9000/")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("ANALYSIS_TIMEOUT", "10s")
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test ,")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIBaseURL != "https://peek.internal:9000" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 500*time.Millisecond || cfg.AnalysisTimeout != 10*time.Second {
		t.Errorf("Unexpected timings: %s / %s", cfg.PollInterval, cfg.AnalysisTimeout)
	}
	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://b.test" {
		t.Errorf("Unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.Minio.Enabled() || !cfg.Minio.UseSSL || cfg.Minio.Region != "us-east-1" {
		t.Errorf("Unexpected minio config %+v", cfg.Minio)
	}
}

func TestLoad_InvalidEnvDurationKeepsDefault(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("Expected default poll interval, got %s", cfg.PollInterval)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peek.yaml")
	body := `
server:
  port: "7000"
api:
  baseUrl: http://analysis:8000
  analysisTimeout: 1m
sources:
  allowedHosts: ["images.example.com"]
  azure:
    accountName: peekdev
    accountKey: c2VjcmV0
cors:
  allowedOrigins: ["https://peek.example.com"]
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "7100" {
		t.Errorf("Expected environment to win over file, got port %s", cfg.Port)
	}
	if cfg.APIBaseURL != "http://analysis:8000" || cfg.AnalysisTimeout != time.Minute {
		t.Errorf("Unexpected api settings: %s %s", cfg.APIBaseURL, cfg.AnalysisTimeout)
	}
	if !cfg.Azure.Enabled() || cfg.Azure.AccountName != "peekdev" {
		t.Errorf("Unexpected azure config %+v", cfg.Azure)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.LogLevel)
	}
	if cfg.CORSAllowedOrigins[0] != "https://peek.example.com" {
		t.Errorf("Unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if len(cfg.ImageAllowedHosts) != 1 || cfg.ImageAllowedHosts[0] != "images.example.com" {
		t.Errorf("Unexpected allowed hosts %v", cfg.ImageAllowedHosts)
	}
}

func TestLoad_YAMLBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peek.yaml")
	if err := os.WriteFile(path, []byte("api:\n  pollInterval: often\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "api.pollInterval") {
		t.Fatalf("Expected pollInterval error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = "http" }},
		{"port out of range", func(c *Config) { c.Port = "70000" }},
		{"zero body size", func(c *Config) { c.MaxRequestBodySize = 0 }},
		{"zero proxy timeout", func(c *Config) { c.ProxyTimeout = 0 }},
		{"poll not shorter than timeout", func(c *Config) { c.PollInterval = c.AnalysisTimeout }},
		{"base url scheme", func(c *Config) { c.APIBaseURL = "ftp://analysis" }},
		{"base url query", func(c *Config) { c.APIBaseURL = "http://analysis?x=1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}
