package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/peek-labs/peek/pkg/validation"
)

const (
	configPathEnv = "PEEK_CONFIG"

	DefaultAPIBaseURL      = "http://localhost:8000"
	DefaultPollInterval    = 2 * time.Second
	DefaultAnalysisTimeout = 120 * time.Second
	DefaultProxyTimeout    = 30 * time.Second
)

// DefaultSlideshowImages are the sample photos shown on the idle page
var DefaultSlideshowImages = []string{
	"https://hebbkx1anhila5yf.public.blob.vercel-storage.com/deb390cf-a1a1-41dc-a116-26bd31312edb-compressed-24fgJSfSAiPTpIZsGZGzbiK6ngG7T5.jpg",
	"https://hebbkx1anhila5yf.public.blob.vercel-storage.com/25d3fc55-3915-44af-8e90-ff082a3c3928-compressed-tpaucojSMCcZYddyvQU8PSSb8JpgPm.jpg",
	"https://hebbkx1anhila5yf.public.blob.vercel-storage.com/ccc081e4-8059-418d-ad87-a2c4473499d4-compressed-0lyDANUCO0z8ar4SSurR7VKqKbMVwJ.jpg",
	"https://hebbkx1anhila5yf.public.blob.vercel-storage.com/e75b49a7-6881-4c93-a506-9c2a7c206a8b-compressed-UEkRaji4IIGFz9NMqKSjpceAilJ1PK.jpg",
	"https://hebbkx1anhila5yf.public.blob.vercel-storage.com/b54f8781-379a-4210-a6cc-67e4cc9246fc-compressed-cu2wRScVVRB0LFwZVFXjBWs30lWtV2.jpg",
	"https://hebbkx1anhila5yf.public.blob.vercel-storage.com/c0018972-afdb-42b1-bc32-7693d288b0b8-compressed-iQ4ErmlOfijJJmjf6RI4sojFZZEUVt.jpg",
	"https://hebbkx1anhila5yf.public.blob.vercel-storage.com/Steve%20Jobs%20in%20ASCII-S8W77oZpXYAACCqsCOLQp3Se1ZMUdz.jpg",
	"https://hebbkx1anhila5yf.public.blob.vercel-storage.com/0a81cbe0-14e8-4b91-a9c4-609878f94d30-compressed-Y3YOnHZhDUUIDJ8vPtQr6Rx7Gx6hAh.png",
}

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	LogLevel           string

	// Analysis service
	APIBaseURL      string
	PollInterval    time.Duration
	AnalysisTimeout time.Duration
	ProxyTimeout    time.Duration

	// Image sources
	ImageFetchTimeout time.Duration
	Azure             AzureConfig
	Minio             MinioConfig

	// ImageAllowedHosts restricts http(s) image references to these hosts; empty allows any public host
	ImageAllowedHosts []string
	// ImageAllowPrivateHosts lets http(s) image references reach loopback, private and link-local addresses
	ImageAllowPrivateHosts bool
	// WebObjectStoreRefs accepts azblob:// and s3:// references from the web form
	WebObjectStoreRefs bool

	CORSAllowedOrigins []string

	// SlideshowImages rotate on the idle page; empty hides the slideshow
	SlideshowImages []string
}

// AzureConfig holds shared-key credentials for azblob:// sources
type AzureConfig struct {
	AccountName string `yaml:"accountName"`
	AccountKey  string `yaml:"accountKey"`
}

// Enabled reports whether Azure credentials were supplied
func (a AzureConfig) Enabled() bool {
	return a.AccountName != "" && a.AccountKey != ""
}

// MinioConfig holds credentials for s3:// sources
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Enabled reports whether an S3-compatible endpoint was configured
func (m MinioConfig) Enabled() bool {
	return m.Endpoint != ""
}

// fileConfig mirrors the optional YAML file; durations are Go duration strings
type fileConfig struct {
	Server struct {
		Host               string `yaml:"host"`
		Port               string `yaml:"port"`
		RequestTimeout     string `yaml:"requestTimeout"`
		MaxRequestBodySize int64  `yaml:"maxRequestBodySize"`
	} `yaml:"server"`
	API struct {
		BaseURL         string `yaml:"baseUrl"`
		PollInterval    string `yaml:"pollInterval"`
		AnalysisTimeout string `yaml:"analysisTimeout"`
		ProxyTimeout    string `yaml:"proxyTimeout"`
	} `yaml:"api"`
	Sources struct {
		FetchTimeout       string      `yaml:"fetchTimeout"`
		AllowedHosts       []string    `yaml:"allowedHosts"`
		AllowPrivateHosts  bool        `yaml:"allowPrivateHosts"`
		WebObjectStoreRefs bool        `yaml:"webObjectStoreRefs"`
		Azure              AzureConfig `yaml:"azure"`
		Minio              MinioConfig `yaml:"minio"`
	} `yaml:"sources"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`
	UI struct {
		SlideshowImages []string `yaml:"slideshowImages"`
	} `yaml:"ui"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// LoadFromEnv builds the configuration from defaults, the YAML file named by
// PEEK_CONFIG (if any) and the environment, in increasing precedence.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(configPathEnv))
}

// Load is LoadFromEnv with an explicit YAML path; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := cfg.mergeFile(fc); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               "8080",
		RequestTimeout:     30 * time.Second,
		MaxRequestBodySize: 10 * 1024 * 1024, // 10MB
		LogLevel:           "info",
		APIBaseURL:         DefaultAPIBaseURL,
		PollInterval:       DefaultPollInterval,
		AnalysisTimeout:    DefaultAnalysisTimeout,
		ProxyTimeout:       DefaultProxyTimeout,
		ImageFetchTimeout:  15 * time.Second,
		Minio:              MinioConfig{Region: "us-east-1"},
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		SlideshowImages:    append([]string(nil), DefaultSlideshowImages...),
	}
}

// Validate checks ranges and the service base URL
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.ProxyTimeout <= 0 || c.ImageFetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, proxy=%s, fetch=%s)",
			c.RequestTimeout, c.ProxyTimeout, c.ImageFetchTimeout)
	}
	if c.PollInterval <= 0 || c.AnalysisTimeout <= 0 {
		return fmt.Errorf("POLL_INTERVAL and ANALYSIS_TIMEOUT must be > 0 (got %s, %s)",
			c.PollInterval, c.AnalysisTimeout)
	}
	if c.PollInterval >= c.AnalysisTimeout {
		return fmt.Errorf("POLL_INTERVAL (%s) must be shorter than ANALYSIS_TIMEOUT (%s)",
			c.PollInterval, c.AnalysisTimeout)
	}
	if err := validation.NewURLValidator().ValidateBaseURL(c.APIBaseURL); err != nil {
		return fmt.Errorf("invalid PEEK_API_URL %q: %w", c.APIBaseURL, err)
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	return nil
}

func (c *Config) mergeFile(fc fileConfig) error {
	if fc.Server.Host != "" {
		c.Host = fc.Server.Host
	}
	if fc.Server.Port != "" {
		c.Port = fc.Server.Port
	}
	if fc.Server.MaxRequestBodySize != 0 {
		c.MaxRequestBodySize = fc.Server.MaxRequestBodySize
	}
	if fc.API.BaseURL != "" {
		c.APIBaseURL = fc.API.BaseURL
	}
	if fc.Log.Level != "" {
		c.LogLevel = fc.Log.Level
	}
	if fc.Sources.Azure.Enabled() {
		c.Azure = fc.Sources.Azure
	}
	if fc.Sources.Minio.Enabled() {
		region := c.Minio.Region
		c.Minio = fc.Sources.Minio
		if c.Minio.Region == "" {
			c.Minio.Region = region
		}
	}
	if len(fc.CORS.AllowedOrigins) > 0 {
		c.CORSAllowedOrigins = fc.CORS.AllowedOrigins
	}
	if len(fc.UI.SlideshowImages) > 0 {
		c.SlideshowImages = fc.UI.SlideshowImages
	}
	if len(fc.Sources.AllowedHosts) > 0 {
		c.ImageAllowedHosts = fc.Sources.AllowedHosts
	}
	c.ImageAllowPrivateHosts = c.ImageAllowPrivateHosts || fc.Sources.AllowPrivateHosts
	c.WebObjectStoreRefs = c.WebObjectStoreRefs || fc.Sources.WebObjectStoreRefs

	durations := []struct {
		key    string
		value  string
		target *time.Duration
	}{
		{"server.requestTimeout", fc.Server.RequestTimeout, &c.RequestTimeout},
		{"api.pollInterval", fc.API.PollInterval, &c.PollInterval},
		{"api.analysisTimeout", fc.API.AnalysisTimeout, &c.AnalysisTimeout},
		{"api.proxyTimeout", fc.API.ProxyTimeout, &c.ProxyTimeout},
		{"sources.fetchTimeout", fc.Sources.FetchTimeout, &c.ImageFetchTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.target = parsed
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Host = getEnvOrDefault("HOST", c.Host)
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", c.RequestTimeout)
	c.MaxRequestBodySize = parseIntOrDefault("MAX_REQUEST_BODY_SIZE", c.MaxRequestBodySize)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)

	c.APIBaseURL = getEnvOrDefault("PEEK_API_URL", c.APIBaseURL)
	c.PollInterval = parseDurationOrDefault("POLL_INTERVAL", c.PollInterval)
	c.AnalysisTimeout = parseDurationOrDefault("ANALYSIS_TIMEOUT", c.AnalysisTimeout)
	c.ProxyTimeout = parseDurationOrDefault("PROXY_TIMEOUT", c.ProxyTimeout)
	c.ImageFetchTimeout = parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", c.ImageFetchTimeout)

	c.Azure.AccountName = getEnvOrDefault("AZURE_STORAGE_ACCOUNT", c.Azure.AccountName)
	c.Azure.AccountKey = getEnvOrDefault("AZURE_STORAGE_KEY", c.Azure.AccountKey)

	c.Minio.Endpoint = getEnvOrDefault("MINIO_ENDPOINT", c.Minio.Endpoint)
	c.Minio.AccessKey = getEnvOrDefault("MINIO_ACCESS_KEY", c.Minio.AccessKey)
	c.Minio.SecretKey = getEnvOrDefault("MINIO_SECRET_KEY", c.Minio.SecretKey)
	c.Minio.Region = getEnvOrDefault("MINIO_REGION", c.Minio.Region)
	c.Minio.UseSSL = parseBoolOrDefault("MINIO_USE_SSL", c.Minio.UseSSL)

	c.ImageAllowPrivateHosts = parseBoolOrDefault("IMAGE_ALLOW_PRIVATE_HOSTS", c.ImageAllowPrivateHosts)
	c.WebObjectStoreRefs = parseBoolOrDefault("WEB_OBJECT_STORE_REFS", c.WebObjectStoreRefs)
	if v := os.Getenv("IMAGE_ALLOWED_HOSTS"); v != "" {
		c.ImageAllowedHosts = splitList(v)
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = splitList(v)
	}

	// "none" hides the slideshow
	if v := os.Getenv("SLIDESHOW_IMAGES"); v == "none" {
		c.SlideshowImages = nil
	} else if v != "" {
		c.SlideshowImages = splitList(v)
	}
}

func splitList(v string) []string {
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
