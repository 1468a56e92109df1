// Package platforms adapts a handler.Handler to net/http.
package platforms

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/beladevo/libreoffice-docx-to-pdf/handler"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// HTTPAdapter serves one POST route through a handler.
type HTTPAdapter struct {
	handler     *handler.Handler
	requestType string
	logger      types.Logger
}

// NewHTTPAdapter creates an adapter whose requests carry requestType.
func NewHTTPAdapter(h *handler.Handler, requestType string, logger types.Logger) *HTTPAdapter {
	return &HTTPAdapter{handler: h, requestType: requestType, logger: logger}
}

// ServeHTTP implements http.Handler. Resources held by the worker's
// response are released only after the body has been written.
func (a *HTTPAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if maxSize := a.handler.Config().MaxRequestSize; maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	}

	req := a.buildRequest(r)

	resp, err := a.handler.Handle(r.Context(), req)
	defer resp.Release()

	a.writeResponse(w, req, resp, err)
}

// buildRequest creates a handler request from r
func (a *HTTPAdapter) buildRequest(r *http.Request) handler.Request {
	req := handler.NewRequest(a.requestType, r)
	if id := extractRequestID(r); id != "" {
		req.ID = id
	}
	req.Metadata = extractMetadata(r)
	return req
}

// extractRequestID attempts to extract request ID from headers
func extractRequestID(r *http.Request) string {
	headers := []string{
		"X-Request-ID",
		"X-Correlation-ID",
		"Request-ID",
	}

	for _, header := range headers {
		if id := r.Header.Get(header); id != "" {
			return id
		}
	}

	return ""
}

// extractMetadata builds loggable metadata from r. The body is never read
// here.
func extractMetadata(r *http.Request) map[string]string {
	metadata := map[string]string{
		"http_method":    r.Method,
		"http_path":      r.URL.Path,
		"content_type":   r.Header.Get("Content-Type"),
		"content_length": strconv.FormatInt(r.ContentLength, 10),
	}

	if ua := r.Header.Get("User-Agent"); ua != "" {
		metadata["user_agent"] = ua
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		metadata["forwarded_for"] = fwd
	}
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		metadata["trace_id"] = traceID
	}

	return metadata
}

// writeResponse writes resp, or err when the worker failed.
func (a *HTTPAdapter) writeResponse(w http.ResponseWriter, req handler.Request, resp handler.Response, err error) {
	w.Header().Set("X-Request-ID", req.ID)
	for key, value := range resp.Metadata {
		w.Header().Set("X-"+key, value)
	}

	if resp.Error != nil {
		writeJSONError(w, determineStatusCode(resp.Error), resp.Error.Message)
		return
	}
	if err != nil {
		de := domain.AsError(err)
		writeJSONError(w, de.HTTPStatus(), de.Message)
		return
	}
	if resp.File == nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.streamFile(w, req, resp.File)
}

// streamFile copies file to w. Once the status line is out, failures can
// only be logged.
func (a *HTTPAdapter) streamFile(w http.ResponseWriter, req handler.Request, file *handler.File) {
	f, err := os.Open(file.Path)
	if err != nil {
		a.logger.Error(req.HTTP.Context(), "Failed to open response file", err, types.Fields{
			"path": file.Path,
		})
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer f.Close()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition(file.Name))
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		a.logger.Warn(req.HTTP.Context(), "Response stream interrupted", types.Fields{
			"error": err.Error(),
		})
	}
}

func contentDisposition(name string) string {
	name = strings.NewReplacer(`"`, "", `\`, "", "\r", "", "\n", "").Replace(name)
	if name == "" {
		name = "document.pdf"
	}
	return fmt.Sprintf(`attachment; filename="%s"`, name)
}

// determineStatusCode maps an error response to an HTTP status code
func determineStatusCode(e *handler.ErrorResponse) int {
	if e.Status != 0 {
		return e.Status
	}

	switch e.Code {
	case handler.CodeRateLimited:
		return http.StatusTooManyRequests
	case handler.CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case handler.CodeNotFound:
		return http.StatusNotFound
	default:
		return domain.NewError(domain.Code(e.Code), e.Message, nil).HTTPStatus()
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: message})
}
