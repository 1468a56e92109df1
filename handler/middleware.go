package handler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

const (
	CodeRateLimited      = "RATE_LIMITED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeNotFound         = "NOT_FOUND"
)

// LoggingMiddleware logs the start and outcome of every request.
// Client errors are logged at warn level, everything else at error.
func LoggingMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			requestLogger := provider.Logger("handler").WithFields(types.Fields{
				"type":   req.Type,
				"source": req.Source,
				"worker": WorkerName(ctx),
			})

			requestLogger.Info(ctx, "Processing request", types.Fields{
				"content_type":   req.Metadata["content_type"],
				"content_length": req.Metadata["content_length"],
			})

			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			switch {
			case err != nil:
				de := domain.AsError(err)
				fields := types.Fields{
					"error_code":  string(de.Code),
					"duration_ms": duration.Milliseconds(),
				}
				if de.Kind() == domain.KindInput {
					fields["error_msg"] = de.Error()
					requestLogger.Warn(ctx, "Request rejected", fields)
				} else {
					requestLogger.Error(ctx, "Request failed with error", err, fields)
				}
			case !resp.Success && resp.Error != nil:
				requestLogger.Warn(ctx, "Request completed with failure", types.Fields{
					"error_code":  resp.Error.Code,
					"error_msg":   resp.Error.Message,
					"duration_ms": duration.Milliseconds(),
				})
			default:
				fields := types.Fields{"duration_ms": duration.Milliseconds()}
				if resp.File != nil {
					fields["file_size"] = resp.File.Size
				}
				requestLogger.Info(ctx, "Request completed successfully", fields)
			}

			resp.Duration = duration
			return resp, err
		}
	}
}

// MetricsMiddleware records metrics for request processing
func MetricsMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			metrics := provider.Metrics("handler")

			workerName := WorkerName(ctx)
			if workerName == "" {
				workerName = "unknown"
			}

			metrics.StartOperation(workerName)
			defer metrics.EndOperation(workerName)

			start := time.Now()
			resp, err := next(ctx, req)
			metrics.RecordDuration(workerName, time.Since(start).Seconds())

			switch {
			case err != nil:
				metrics.RecordError(workerName, string(domain.CodeOf(err)))
			case !resp.Success:
				errorType := "unknown_error"
				if resp.Error != nil {
					errorType = resp.Error.Code
				}
				metrics.RecordError(workerName, errorType)
			default:
				metrics.RecordSuccess(workerName)
			}

			return resp, err
		}
	}
}

// RecoveryMiddleware turns a panic into an INTERNAL_ERROR response.
// It should be the outermost layer to catch all panics.
func RecoveryMiddleware(provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (resp Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					provider.Logger("handler").Error(ctx, "Panic recovered", fmt.Errorf("%v", r), types.Fields{
						"worker": WorkerName(ctx),
						"stack":  string(debug.Stack()),
					})
					provider.Metrics("handler").RecordError("panic", "panic_recovered")

					// Panic details stay in the logs.
					resp = NewErrorResponse(req.ID, string(domain.CodeInternal), "internal error")
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()

			return next(ctx, req)
		}
	}
}

// TracingMiddleware propagates the caller's trace ID, or starts a new one,
// and returns it in the response metadata.
func TracingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			traceID := req.Metadata["trace_id"]
			if traceID == "" {
				traceID = uuid.New().String()
			}
			ctx = types.WithTraceID(ctx, traceID)

			resp, err := next(ctx, req)

			if resp.Metadata == nil {
				resp.Metadata = make(map[string]string)
			}
			resp.Metadata["Trace-ID"] = traceID

			return resp, err
		}
	}
}

// RateLimitMiddleware rejects requests beyond the limiter's token bucket
// with a RATE_LIMITED response.
func RateLimitMiddleware(limiter *rate.Limiter, provider observability.Provider) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (Response, error) {
			if !limiter.Allow() {
				provider.Logger("handler").Warn(ctx, "Rate limit exceeded", types.Fields{
					"limit": float64(limiter.Limit()),
					"burst": limiter.Burst(),
				})
				return NewErrorResponse(req.ID, CodeRateLimited, "rate limit exceeded"), nil
			}
			return next(ctx, req)
		}
	}
}
