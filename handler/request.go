package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is an incoming request as seen by middleware and workers.
type Request struct {
	// ID is a unique identifier for the request (for tracing)
	ID string

	// Source identifies where the request came from
	Source string

	// Type is the route the request arrived on, e.g. "convert"
	Type string

	// HTTP is the underlying request. Its body is already size-limited.
	HTTP *http.Request

	// Metadata contains headers and attributes useful for logging
	Metadata map[string]string

	// Timestamp when the request was received
	Timestamp time.Time
}

// File is a response body stored on disk.
type File struct {
	Path        string
	Name        string // attachment filename
	ContentType string
	Size        int64
}

// Response is the result of a worker. Exactly one of File or Error is set.
type Response struct {
	// ID correlates with the request ID
	ID string

	// Success indicates if processing was successful
	Success bool

	// File is streamed to the client on success
	File *File

	// Error contains error information if Success is false
	Error *ErrorResponse

	// Metadata is exposed as X- response headers
	Metadata map[string]string

	ProcessedAt time.Time
	Duration    time.Duration

	release func()
}

// ErrorResponse represents structured error information.
// Only Message is sent to clients.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g. "FORMAT_MISMATCH")
	Code string

	// Message is a human-readable error message
	Message string

	// Status overrides the status derived from Code when non-zero
	Status int
}

// NewRequest creates a request for r with a generated ID and timestamp.
func NewRequest(requestType string, r *http.Request) Request {
	return Request{
		ID:        uuid.New().String(),
		Source:    "http",
		Type:      requestType,
		HTTP:      r,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UTC(),
	}
}

// NewFileResponse creates a success response streaming file. release runs
// once the file has been written to the client, or when the response is
// discarded.
func NewFileResponse(id string, file *File, release func()) Response {
	return Response{
		ID:          id,
		Success:     true,
		File:        file,
		Metadata:    make(map[string]string),
		ProcessedAt: time.Now().UTC(),
		release:     onceFunc(release),
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code string, message string) Response {
	return Response{
		ID:      id,
		Success: false,
		Error: &ErrorResponse{
			Code:    code,
			Message: message,
		},
		ProcessedAt: time.Now().UTC(),
	}
}

// Release frees the resources held by the response. It is a no-op for
// responses without a file and after the first call.
func (r Response) Release() {
	if r.release != nil {
		r.release()
	}
}

func onceFunc(fn func()) func() {
	if fn == nil {
		return nil
	}
	return sync.OnceFunc(fn)
}
