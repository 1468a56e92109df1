// Package logger provides the JSON line logger used by every component.
// It is a thin contract adapter over zerolog: each entry carries timestamp,
// level, service, env, hostname and message, plus request/job identifiers
// taken from the context.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// ParseLevel converts a level name to a zerolog level.
// Unrecognized names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// JSONLogger implements types.Logger on top of a zerolog.Logger.
type JSONLogger struct {
	zl          zerolog.Logger
	serviceName string
	environment string
	minLevel    zerolog.Level
}

// New creates a logger writing one JSON object per line to output
// (os.Stdout when nil). additionalFields are attached to every entry.
//
//	log := logger.New("office-pdf-gateway.engine", "production", "info", os.Stdout,
//		types.Fields{"version": "1.0.0"})
func New(serviceName, environment, logLevel string, output io.Writer, additionalFields types.Fields) *JSONLogger {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	if output == nil {
		output = os.Stdout
	}

	level := ParseLevel(logLevel)
	zctx := zerolog.New(output).Level(level).With().
		Str("service", serviceName).
		Str("env", environment).
		Str("hostname", hostname)
	if len(additionalFields) > 0 {
		zctx = zctx.Fields(map[string]interface{}(additionalFields))
	}

	return &JSONLogger{
		zl:          zctx.Logger(),
		serviceName: serviceName,
		environment: environment,
		minLevel:    level,
	}
}

// Info logs at info level.
func (l *JSONLogger) Info(ctx context.Context, msg string, fields types.Fields) {
	l.write(ctx, l.zl.Info(), msg, nil, fields)
}

// Error logs at error level. The error message and its dynamic type are
// recorded as "error" and "error_type".
func (l *JSONLogger) Error(ctx context.Context, msg string, err error, fields types.Fields) {
	l.write(ctx, l.zl.Error(), msg, err, fields)
}

// Warn logs at warn level.
func (l *JSONLogger) Warn(ctx context.Context, msg string, fields types.Fields) {
	l.write(ctx, l.zl.Warn(), msg, nil, fields)
}

// Debug logs at debug level.
func (l *JSONLogger) Debug(ctx context.Context, msg string, fields types.Fields) {
	l.write(ctx, l.zl.Debug(), msg, nil, fields)
}

// WithFields returns a child logger carrying fields on every entry.
//
//	jobLog := log.WithFields(types.Fields{"job_id": job.ID})
//	jobLog.Info(ctx, "Engine started", nil)
func (l *JSONLogger) WithFields(fields types.Fields) types.Logger {
	return &JSONLogger{
		zl:          l.zl.With().Fields(map[string]interface{}(fields)).Logger(),
		serviceName: l.serviceName,
		environment: l.environment,
		minLevel:    l.minLevel,
	}
}

// write finishes an event. A nil event means the level is disabled.
func (l *JSONLogger) write(ctx context.Context, e *zerolog.Event, msg string, err error, fields types.Fields) {
	if e == nil {
		return
	}

	e = e.Str("timestamp", time.Now().UTC().Format(time.RFC3339Nano))

	if ctx != nil {
		if id := types.RequestID(ctx); id != "" {
			e = e.Str("request_id", id)
		}
		if id := types.JobID(ctx); id != "" {
			e = e.Str("job_id", id)
		}
		if traceID, ok := ctx.Value(types.TraceIDKey).(string); ok {
			e = e.Str("trace_id", traceID)
		}
	}

	if err != nil {
		e = e.Str("error", err.Error()).Str("error_type", fmt.Sprintf("%T", err))
	}

	if len(fields) > 0 {
		e = e.Fields(map[string]interface{}(fields))
	}

	e.Msg(msg)
}
