package config

// parse reads configuration from environment variables
func parse() (*Config, error) {
	defaults := DefaultConfig()

	cfg := &Config{
		// Core
		Environment: getEnv("ENVIRONMENT", getEnv("ENV", "local")),
		ServiceName: getEnv("SERVICE_NAME", defaults.ServiceName),
		Version:     getEnv("SERVICE_VERSION", defaults.Version),
		LogLevel:    getEnv("LOG_LEVEL", defaults.LogLevel),

		// HTTP Server
		HTTP: HTTPConfig{
			Addr:            listenAddr(defaults.HTTP.Addr),
			ReadTimeout:     getDuration("HTTP_READ_TIMEOUT", "60s"),
			WriteTimeout:    getDuration("HTTP_WRITE_TIMEOUT", "5m"),
			ShutdownTimeout: getDuration("HTTP_SHUTDOWN_TIMEOUT", "30s"),
		},

		// Handler
		Handler: HandlerConfig{
			Timeout:        getDuration("HANDLER_TIMEOUT", "3m"),
			MaxRequestSize: getInt64("HANDLER_MAX_REQUEST_SIZE", defaults.Handler.MaxRequestSize),
			EnableMetrics:  getBool("HANDLER_ENABLE_METRICS", true),
			RateLimitRPS:   getFloat64("HANDLER_RATE_LIMIT_RPS", 0),
			RateLimitBurst: getInt("HANDLER_RATE_LIMIT_BURST", 10),
		},

		// Remote fetch client
		Fetch: FetchConfig{
			ConnectTimeout:    getDuration("FETCH_CONNECT_TIMEOUT", "10s"),
			ReadTimeout:       getDuration("FETCH_READ_TIMEOUT", "60s"),
			MaxRetries:        getInt("FETCH_MAX_RETRIES", defaults.Fetch.MaxRetries),
			InitialBackoff:    getDuration("FETCH_INITIAL_BACKOFF", "500ms"),
			MaxBackoff:        getDuration("FETCH_MAX_BACKOFF", "8s"),
			BackoffMultiplier: getFloat64("FETCH_BACKOFF_MULTIPLIER", defaults.Fetch.BackoffMultiplier),
			UserAgent:         getEnv("FETCH_USER_AGENT", defaults.Fetch.UserAgent),
			MaxBytes:          getInt64("FETCH_MAX_BYTES", defaults.Fetch.MaxBytes),
		},

		// Rendering engine
		Engine: EngineConfig{
			Path:           getEnv("ENGINE_PATH", ""),
			Timeout:        getDuration("ENGINE_TIMEOUT", "2m"),
			KillGrace:      getDuration("ENGINE_KILL_GRACE", "5s"),
			MaxConcurrency: getInt("ENGINE_MAX_CONCURRENCY", 0),
			OutputLimit:    getInt("ENGINE_OUTPUT_LIMIT", defaults.Engine.OutputLimit),
		},

		Workspace: WorkspaceConfig{
			Root: getEnv("WORKSPACE_ROOT", ""),
		},

		// Archive
		Archive: ArchiveConfig{
			Provider: getEnv("ARCHIVE_PROVIDER", "none"),
			Path:     getEnv("ARCHIVE_PATH", ""),
			Timeout:  getDuration("ARCHIVE_TIMEOUT", "30s"),
			S3: S3Config{
				Region:          getEnv("AWS_REGION", "us-east-2"),
				Bucket:          getEnv("S3_BUCKET", ""),
				Prefix:          getEnv("S3_PREFIX", "converted"),
				Endpoint:        getEnv("S3_ENDPOINT", ""),
				AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			},
		},

		Observability: ObservabilityConfig{
			LogFile:        getEnv("LOG_FILE", ""),
			TimeLogFile:    getEnv("TIME_LOG_FILE", ""),
			MetricsEnabled: getBool("METRICS_ENABLED", true),
			MetricsPath:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	cfg.applyDefaults()

	return cfg, nil
}
