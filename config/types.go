package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Core settings
	Environment string
	ServiceName string
	Version     string
	LogLevel    string

	// Component configurations
	HTTP          HTTPConfig
	Handler       HandlerConfig
	Fetch         FetchConfig
	Engine        EngineConfig
	Workspace     WorkspaceConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// HandlerConfig holds request handling configuration
type HandlerConfig struct {
	Timeout        time.Duration
	MaxRequestSize int64
	EnableMetrics  bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// FetchConfig holds the remote document fetch client configuration.
// ConnectTimeout bounds dialing and TLS, ReadTimeout bounds the whole
// response read of a single attempt.
type FetchConfig struct {
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	UserAgent         string
	MaxBytes          int64
}

// EngineConfig holds rendering engine configuration
type EngineConfig struct {
	Path           string // empty means auto-detect
	Timeout        time.Duration
	KillGrace      time.Duration
	MaxConcurrency int // 0 means GOMAXPROCS
	OutputLimit    int // bytes of engine diagnostics kept per job
}

// WorkspaceConfig holds temporary file configuration
type WorkspaceConfig struct {
	Root string // empty means os.TempDir()
}

// ArchiveConfig holds the optional converted-PDF archive configuration
type ArchiveConfig struct {
	Provider string // none, fs, s3
	Path     string // fs root
	Timeout  time.Duration
	S3       S3Config
}

// S3Config holds S3 archive configuration
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // custom endpoint (MinIO, LocalStack)
	AccessKeyID     string
	SecretAccessKey string
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogFile        string // empty means stdout only
	TimeLogFile    string // conversion timing log, empty means main log
	MetricsEnabled bool
	MetricsPath    string
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ServiceName == "" {
		errors = append(errors, "SERVICE_NAME is required")
	}
	if c.HTTP.Addr == "" {
		errors = append(errors, "HTTP_ADDR is required")
	}

	if c.Handler.Timeout <= 0 {
		errors = append(errors, "HANDLER_TIMEOUT must be positive")
	}
	if c.Handler.MaxRequestSize <= 0 {
		errors = append(errors, "HANDLER_MAX_REQUEST_SIZE must be positive")
	}
	if c.Handler.RateLimitRPS < 0 {
		errors = append(errors, "HANDLER_RATE_LIMIT_RPS cannot be negative")
	}

	if c.Fetch.ConnectTimeout <= 0 {
		errors = append(errors, "FETCH_CONNECT_TIMEOUT must be positive")
	}
	if c.Fetch.ReadTimeout <= 0 {
		errors = append(errors, "FETCH_READ_TIMEOUT must be positive")
	}
	if c.Fetch.MaxRetries < 0 {
		errors = append(errors, "FETCH_MAX_RETRIES cannot be negative")
	}
	if c.Fetch.BackoffMultiplier < 1.0 {
		errors = append(errors, "FETCH_BACKOFF_MULTIPLIER must be >= 1.0")
	}
	if c.Fetch.MaxBytes <= 0 {
		errors = append(errors, "FETCH_MAX_BYTES must be positive")
	}

	if c.Engine.Timeout <= 0 {
		errors = append(errors, "ENGINE_TIMEOUT must be positive")
	}
	if c.Engine.KillGrace <= 0 {
		errors = append(errors, "ENGINE_KILL_GRACE must be positive")
	}
	if c.Engine.MaxConcurrency < 0 {
		errors = append(errors, "ENGINE_MAX_CONCURRENCY cannot be negative")
	}

	switch strings.ToLower(c.Archive.Provider) {
	case "", "none":
	case "fs":
		if c.Archive.Path == "" {
			errors = append(errors, "ARCHIVE_PATH is required for the fs archive")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			errors = append(errors, "S3_BUCKET is required for the s3 archive")
		}
	default:
		errors = append(errors, fmt.Sprintf("unsupported ARCHIVE_PROVIDER %q", c.Archive.Provider))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsArchiveEnabled reports whether converted PDFs are copied to an archive
func (c *Config) IsArchiveEnabled() bool {
	p := strings.ToLower(c.Archive.Provider)
	return p != "" && p != "none"
}

// applyDefaults applies environment-specific defaults
func (c *Config) applyDefaults() {
	c.Archive.Provider = strings.ToLower(c.Archive.Provider)

	if c.IsProduction() {
		// Never debug-log document paths in production
		if strings.ToLower(c.LogLevel) == "debug" {
			c.LogLevel = "info"
		}
		c.Observability.MetricsEnabled = true
	}

	if c.IsTest() && c.Engine.Timeout > 30*time.Second {
		c.Engine.Timeout = 30 * time.Second
	}
}
