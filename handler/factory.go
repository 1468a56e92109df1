package handler

import (
	"golang.org/x/time/rate"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability"
)

// Factory creates handlers with the standard middleware stack.
type Factory struct {
	worker     Worker
	provider   observability.Provider
	handlerCfg config.HandlerConfig
}

// NewFactory creates a new handler factory with default configuration.
func NewFactory(worker Worker, provider observability.Provider) *Factory {
	return &Factory{
		worker:     worker,
		provider:   provider,
		handlerCfg: config.DefaultHandlerConfig(),
	}
}

// WithHandlerConfig sets custom handler configuration.
func (f *Factory) WithHandlerConfig(cfg config.HandlerConfig) *Factory {
	f.handlerCfg = cfg
	return f
}

// Create creates a handler with the default middleware applied.
func (f *Factory) Create() *Handler {
	cfg := f.handlerCfg
	handler := NewHandler(f.worker, f.provider, &cfg)
	f.applyDefaultMiddleware(handler)
	return handler
}

// applyDefaultMiddleware adds, outermost first: recovery, rate limiting,
// tracing, metrics, logging.
func (f *Factory) applyDefaultMiddleware(handler *Handler) {
	handler.Use(RecoveryMiddleware(f.provider))

	if f.handlerCfg.RateLimitRPS > 0 {
		burst := f.handlerCfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(f.handlerCfg.RateLimitRPS), burst)
		handler.Use(RateLimitMiddleware(limiter, f.provider))
	}

	handler.Use(TracingMiddleware())

	if f.handlerCfg.EnableMetrics {
		handler.Use(MetricsMiddleware(f.provider))
	}

	handler.Use(LoggingMiddleware(f.provider))
}
