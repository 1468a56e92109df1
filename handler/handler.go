// Package handler runs HTTP requests through a middleware chain into a
// Worker and writes the worker's result back: a streamed file on success,
// a JSON error otherwise.
package handler

import (
	"context"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// Handler wraps a Worker with middleware, timeouts and health checks.
type Handler struct {
	worker      Worker
	obs         observability.Provider
	middlewares []Middleware
	config      *config.HandlerConfig
}

// Middleware wraps a HandlerFunc to add a cross-cutting concern.
type Middleware func(next HandlerFunc) HandlerFunc

// HandlerFunc is the function signature for handling requests.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

type ctxKey string

const workerKey ctxKey = "worker"

// NewHandler creates a handler with no middleware. Most callers should use
// the Factory instead.
func NewHandler(worker Worker, provider observability.Provider, cfg *config.HandlerConfig) *Handler {
	return &Handler{
		worker:      worker,
		obs:         provider,
		config:      cfg,
		middlewares: []Middleware{},
	}
}

// Use adds middleware to the handler chain.
// Middleware is executed in the order it's added.
func (h *Handler) Use(middleware Middleware) {
	h.middlewares = append(h.middlewares, middleware)
}

// Handle processes a request through the middleware chain and worker.
// The configured timeout bounds processing only; a returned file is
// streamed by the caller after Handle returns.
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	handler := h.buildHandlerChain()

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	ctx = types.WithRequestID(ctx, req.ID)
	ctx = context.WithValue(ctx, workerKey, h.worker.Name())

	return handler(ctx, req)
}

// buildHandlerChain builds the middleware chain with the worker at the end.
// Middleware is applied in reverse order so that the first middleware
// added is the outermost layer.
func (h *Handler) buildHandlerChain() HandlerFunc {
	handler := h.workerHandler

	for i := len(h.middlewares) - 1; i >= 0; i-- {
		handler = h.middlewares[i](handler)
	}

	return handler
}

func (h *Handler) workerHandler(ctx context.Context, req Request) (Response, error) {
	return h.worker.Process(ctx, req)
}

// Health checks the health of the worker.
func (h *Handler) Health(ctx context.Context) error {
	return h.worker.Health(ctx)
}

// Config returns the handler configuration.
func (h *Handler) Config() *config.HandlerConfig {
	return h.config
}

// WorkerName returns the name of the worker handling the request in ctx.
func WorkerName(ctx context.Context) string {
	name, _ := ctx.Value(workerKey).(string)
	return name
}
