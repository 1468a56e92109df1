package config

import "time"

// DefaultHTTPConfig returns defaults for the HTTP server
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Addr:            ":8000",
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// DefaultHandlerConfig returns defaults for request handling
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Timeout:        3 * time.Minute,
		MaxRequestSize: 50 * 1024 * 1024, // 50MB
		EnableMetrics:  true,
	}
}

// DefaultFetchConfig returns defaults for the remote fetch client
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		ConnectTimeout:    10 * time.Second,
		ReadTimeout:       60 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        8 * time.Second,
		BackoffMultiplier: 2.0,
		UserAgent:         "office-pdf-gateway/1.0",
		MaxBytes:          50 * 1024 * 1024,
	}
}

// DefaultEngineConfig returns defaults for the rendering engine
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Timeout:     2 * time.Minute,
		KillGrace:   5 * time.Second,
		OutputLimit: 16 * 1024,
	}
}

// DefaultConfig returns a complete configuration with sensible defaults.
// Useful for tests that override only a few fields.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		ServiceName: "office-pdf-gateway",
		Version:     "1.0.0",
		LogLevel:    "info",

		HTTP:    DefaultHTTPConfig(),
		Handler: DefaultHandlerConfig(),
		Fetch:   DefaultFetchConfig(),
		Engine:  DefaultEngineConfig(),
		Archive: ArchiveConfig{
			Provider: "none",
			Timeout:  30 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPath:    "/metrics",
		},
	}
}
