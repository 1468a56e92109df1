// Package types holds the observability contracts shared by every component
// of the gateway. Implementations live in the logger and metrics packages;
// test doubles live in observability/mocks.
package types

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines the contract for structured logging.
// Entries are JSON lines. All methods are context-aware so request and job
// identifiers stored with WithRequestID/WithJobID end up on every entry.
type Logger interface {
	// Info logs an informational message.
	Info(ctx context.Context, msg string, fields Fields)

	// Error logs a failure together with the error that caused it.
	// err may be nil.
	Error(ctx context.Context, msg string, err error, fields Fields)

	// Warn logs a condition that did not stop the operation.
	Warn(ctx context.Context, msg string, fields Fields)

	// Debug logs detail useful during troubleshooting. Filtered out at
	// the default info level.
	Debug(ctx context.Context, msg string, fields Fields)

	// WithFields returns a Logger that adds fields to every entry.
	// The receiver is left unchanged.
	WithFields(fields Fields) Logger
}

// Metrics defines the contract for metrics collection.
// Implementations are Prometheus-compatible; operation and error type
// values become label values, so keep them low-cardinality.
type Metrics interface {
	// RecordSuccess counts a successful operation.
	RecordSuccess(operationType string)

	// RecordError counts a failed operation under an error category
	// (e.g. "timeout", "validation", "network").
	RecordError(operationType string, errorType string)

	// RecordDuration observes an operation duration in seconds.
	RecordDuration(operation string, duration float64)

	// RecordFileSize observes the size of a processed file in bytes.
	RecordFileSize(fileType string, bytes int64)

	// StartOperation increments the in-progress gauge for an operation.
	// Pair every call with EndOperation, usually deferred.
	StartOperation(operation string)

	// EndOperation decrements the in-progress gauge for an operation.
	EndOperation(operation string)
}

// Fields represents structured logging fields as key-value pairs.
// Values must be JSON-serializable.
type Fields map[string]interface{}

// Config holds observability configuration for the provider.
type Config struct {
	// ServiceName identifies the service in logs and prefixes metric names.
	ServiceName string

	// Environment is the deployment environment ("local", "production", ...).
	Environment string

	// LogLevel is the minimum level written: "debug", "info", "warn", "error".
	LogLevel string

	// LogOutput receives log lines. Defaults to os.Stdout.
	LogOutput io.Writer

	// ComponentOutputs redirects the logs of single components, e.g. the
	// conversion timing log, to their own writer.
	ComponentOutputs map[string]io.Writer

	// AdditionalFields are added to every log entry (version, region, ...).
	AdditionalFields Fields

	// Registerer receives every metric collector. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Provider hands out one Logger and one Metrics instance per component and
// owns the writers behind them.
type Provider interface {
	// Logger returns the logger for component. Repeated calls with the
	// same name return the same instance.
	Logger(component string) Logger

	// Metrics returns the metrics collector for component. Repeated calls
	// with the same name return the same instance, so collectors are
	// registered once.
	Metrics(component string) Metrics

	// Close releases writers owned by the provider. os.Stdout and
	// os.Stderr are never closed.
	Close() error
}
