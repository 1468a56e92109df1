// Package metrics provides the Prometheus implementation of types.Metrics.
package metrics

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements types.Metrics with one set of collectors per
// component. Metric names are {namespace}_{component}_{metric}.
type PrometheusMetrics struct {
	namespace string
	component string

	processedTotal  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	durationSeconds *prometheus.HistogramVec
	fileSizeBytes   *prometheus.HistogramVec
	inProgress      *prometheus.GaugeVec
}

// New creates the collectors for component and registers them on reg
// (prometheus.DefaultRegisterer when nil). If an identical collector is
// already registered it is reused, so building the same component twice
// against one registry is safe.
//
// Collectors:
//   - {ns}_{component}_processed_total{status,type}
//   - {ns}_{component}_errors_total{error_type,operation}
//   - {ns}_{component}_duration_seconds{operation}
//   - {ns}_{component}_file_size_bytes{file_type}
//   - {ns}_{component}_in_progress{operation}
func New(namespace, component string, reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		namespace: SanitizeName(namespace),
		component: SanitizeName(component),
	}

	m.processedTotal = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.component,
			Name:      "processed_total",
			Help:      "Total processed items by status and type.",
		},
		[]string{"status", "type"},
	))

	m.errorsTotal = register(reg, prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.component,
			Name:      "errors_total",
			Help:      "Total errors by error type and operation.",
		},
		[]string{"error_type", "operation"},
	))

	// Conversions run from under a second to several minutes.
	m.durationSeconds = register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.component,
			Name:      "duration_seconds",
			Help:      "Operation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	))

	m.fileSizeBytes = register(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.component,
			Name:      "file_size_bytes",
			Help:      "Sizes of processed files in bytes.",
			Buckets: []float64{
				1024,      // 1KB
				10240,     // 10KB
				102400,    // 100KB
				1048576,   // 1MB
				10485760,  // 10MB
				52428800,  // 50MB
				104857600, // 100MB
			},
		},
		[]string{"file_type"},
	))

	m.inProgress = register(reg, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.component,
			Name:      "in_progress",
			Help:      "Operations currently in progress.",
		},
		[]string{"operation"},
	))

	return m
}

// register registers c, returning the already registered collector when an
// equal one exists. Any other registration failure panics, like MustRegister.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// SanitizeName turns an arbitrary service or component name into a valid
// metric name fragment: lowercase, with every character outside [a-z0-9_]
// replaced by an underscore.
func SanitizeName(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// RecordSuccess counts a successful operation of operationType.
func (m *PrometheusMetrics) RecordSuccess(operationType string) {
	m.processedTotal.WithLabelValues("success", operationType).Inc()
}

// RecordError counts a failed operation both in processed_total and in
// errors_total under errorType.
func (m *PrometheusMetrics) RecordError(operationType string, errorType string) {
	m.processedTotal.WithLabelValues("error", operationType).Inc()
	m.errorsTotal.WithLabelValues(errorType, operationType).Inc()
}

// RecordDuration observes duration seconds for operation.
func (m *PrometheusMetrics) RecordDuration(operation string, duration float64) {
	m.durationSeconds.WithLabelValues(operation).Observe(duration)
}

// RecordFileSize observes a file size. Negative sizes are ignored.
func (m *PrometheusMetrics) RecordFileSize(fileType string, bytes int64) {
	if bytes < 0 {
		return
	}
	m.fileSizeBytes.WithLabelValues(fileType).Observe(float64(bytes))
}

// StartOperation increments the in-progress gauge.
func (m *PrometheusMetrics) StartOperation(operation string) {
	m.inProgress.WithLabelValues(operation).Inc()
}

// EndOperation decrements the in-progress gauge.
func (m *PrometheusMetrics) EndOperation(operation string) {
	m.inProgress.WithLabelValues(operation).Dec()
}
