/*
Package observability provides structured logging and metrics collection for
the office-to-PDF gateway.

# Architecture

	Provider (one instance per process, built in cmd/server)
	    ├── Logger   JSON lines through zerolog
	    └── Metrics  Prometheus collectors on an injectable registerer

Each component (acquire, engine, service, handler, conversion_time) asks the
provider for its own logger and collector. Loggers tag every entry with the
component name; collectors are named {service}_{component}_{metric}.

# Usage

	provider := observability.NewProvider(&observability.Config{
	    ServiceName: "office-pdf-gateway",
	    Environment: "production",
	    LogLevel:    "info",
	    Registerer:  prometheus.DefaultRegisterer,
	})
	defer provider.Close()

	log := provider.Logger("engine")
	m := provider.Metrics("engine")

	ctx = types.WithJobID(ctx, job.ID)
	m.StartOperation("convert")
	defer m.EndOperation("convert")

	if err != nil {
	    log.Error(ctx, "Conversion failed", err, observability.Fields{"format": job.Extension})
	    m.RecordError("convert", "CONVERSION_FAILED")
	}

# Context

The logger copies request_id, job_id and trace_id from the context when
present. Use types.WithRequestID and types.WithJobID to set them.

# Timing log

Config.ComponentOutputs routes a single component to its own writer. The
server sends the "conversion_time" component to TIME_LOG_FILE so conversion
durations can be tailed separately from the main log.

# Testing

observability/mocks holds testify doubles. NewNopProvider, NewNopLogger and
NewNopMetrics accept every call; use the plain types with On(...) when a
test asserts on a specific entry.
*/
package observability
