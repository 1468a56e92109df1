package platforms

import (
	"encoding/json"
	"net/http"

	"github.com/beladevo/libreoffice-docx-to-pdf/handler"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

var healthPaths = []string{
	"/health",
	"/healthz",
	"/readyz",
	"/livez",
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Routes maps POST paths to the request type they carry.
	Routes map[string]string

	// MetricsPath and Metrics mount a Prometheus exposition handler.
	// Metrics nil disables the endpoint.
	MetricsPath string
	Metrics     http.Handler
}

// DefaultRoutes are the conversion routes: /convert and its older
// /docxToPdf alias.
func DefaultRoutes() map[string]string {
	return map[string]string{
		"/convert":   "convert",
		"/docxToPdf": "convert",
	}
}

// NewRouter mounts h on every route in opts together with the health and
// metrics endpoints. Unknown paths get a JSON 404.
func NewRouter(h *handler.Handler, logger types.Logger, opts RouterOptions) http.Handler {
	routes := opts.Routes
	if len(routes) == 0 {
		routes = DefaultRoutes()
	}

	mux := http.NewServeMux()
	for path, requestType := range routes {
		mux.Handle(path, NewHTTPAdapter(h, requestType, logger))
	}

	health := HealthHandler(h, logger)
	for _, path := range healthPaths {
		mux.Handle(path, health)
	}

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, opts.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})

	return mux
}

// HealthHandler reports the worker's health as {"status":"ok"} or a 503.
func HealthHandler(h *handler.Handler, logger types.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		w.Header().Set("Content-Type", "application/json")

		if err := h.Health(r.Context()); err != nil {
			// The cause may name filesystem paths; it stays in the logs.
			logger.Warn(r.Context(), "Health check failed", types.Fields{"error": err.Error()})
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}
