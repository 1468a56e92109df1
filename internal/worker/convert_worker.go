// Package worker turns conversion HTTP requests into sources for the
// conversion service and hands the produced PDF back to the handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/beladevo/libreoffice-docx-to-pdf/handler"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/service"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/workspace"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

const (
	methodHeader    = "X-Convert-Method"
	extensionHeader = "X-File-Extension"

	// Multipart parts above this size spill to disk.
	multipartMemory = 8 << 20
)

// ConvertService is the conversion pipeline the worker drives.
type ConvertService interface {
	Convert(ctx context.Context, src domain.Source, janitor *workspace.Janitor) (*service.Output, error)
}

// ConvertWorker implements handler.Worker for the conversion routes.
type ConvertWorker struct {
	service       ConvertService
	enginePath    string
	workspaceRoot string
	logger        types.Logger
	metrics       types.Metrics
}

// NewConvertWorker creates the worker. Each request gets its own janitor
// rooted at workspaceRoot.
func NewConvertWorker(
	svc ConvertService,
	enginePath string,
	workspaceRoot string,
	logger types.Logger,
	metrics types.Metrics,
) *ConvertWorker {
	return &ConvertWorker{
		service:       svc,
		enginePath:    enginePath,
		workspaceRoot: workspaceRoot,
		logger:        logger,
		metrics:       metrics,
	}
}

// Name returns the worker name
func (w *ConvertWorker) Name() string {
	return "converter"
}

// Process converts the document carried by request. On success the
// response owns every temporary file of the request; they are removed when
// the handler releases it after streaming. On any other exit they are
// removed before Process returns.
func (w *ConvertWorker) Process(ctx context.Context, request handler.Request) (handler.Response, error) {
	w.metrics.StartOperation("worker_process")
	defer w.metrics.EndOperation("worker_process")

	startTime := time.Now()
	defer func() {
		w.metrics.RecordDuration("worker_process", time.Since(startTime).Seconds())
	}()

	janitor := workspace.New(w.workspaceRoot, w.logger)
	handedOver := false
	defer func() {
		if !handedOver {
			janitor.Release()
		}
	}()

	r := request.HTTP
	if r == nil {
		return handler.Response{}, domain.Errorf(domain.CodeMissingPayload, "no request payload")
	}

	src, err := w.resolveSource(r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		w.metrics.RecordError("worker_process", string(domain.CodeOf(err)))
		return handler.Response{}, err
	}

	defer closeBody(src)

	w.logger.Debug(ctx, "Conversion request resolved", types.Fields{
		"mode": string(src.Mode()),
	})

	out, err := w.service.Convert(ctx, src, janitor)
	if err != nil {
		w.metrics.RecordError("worker_process", string(domain.CodeOf(err)))
		return handler.Response{}, err
	}

	resp := handler.NewFileResponse(request.ID, &handler.File{
		Path:        out.PDFPath,
		Name:        out.Job.AttachmentName(),
		ContentType: "application/pdf",
		Size:        out.Size,
	}, janitor.Release)
	resp.Metadata["Job-ID"] = out.Job.ID
	resp.Duration = out.Duration
	handedOver = true

	w.metrics.RecordSuccess("worker_process")
	return resp, nil
}

// Health reports whether the engine executable is still in place.
func (w *ConvertWorker) Health(ctx context.Context) error {
	w.metrics.RecordSuccess("health_check")

	info, err := os.Stat(w.enginePath)
	if err != nil {
		return fmt.Errorf("engine unavailable: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("engine unavailable: %s is a directory", w.enginePath)
	}
	return nil
}

// resolveSource selects the acquisition mode of r. An explicit method
// (header, then form or query field) wins; otherwise a multipart file part
// means upload, a url field means URL, and anything else is a raw stream.
func (w *ConvertWorker) resolveSource(r *http.Request) (src domain.Source, err error) {
	mediaType := mediaTypeOf(r)
	multipartBody := mediaType == "multipart/form-data"
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, bodyError(err)
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
	}

	file, fileHeader := formFile(r)
	if file != nil {
		defer func() {
			if !usesBody(src, file) {
				_ = file.Close()
			}
		}()
	}

	method := strings.ToLower(strings.TrimSpace(r.Header.Get(methodHeader)))
	if method == "" {
		method = strings.ToLower(strings.TrimSpace(formValue(r, "method")))
	}

	if method == "" {
		switch {
		case file != nil:
			method = string(domain.ModeUpload)
		case formValue(r, "url") != "":
			method = string(domain.ModeURL)
		default:
			method = string(domain.ModeRaw)
		}
	}

	switch method {
	case "file", "upload":
		if file == nil {
			return nil, domain.Errorf(domain.CodeMissingPayload, "no file part named 'file' in the request")
		}
		return domain.Upload{Filename: fileHeader.Filename, Body: file}, nil

	case "ms", "raw", "stream":
		ext := r.Header.Get(extensionHeader)
		if ext == "" {
			ext = formValue(r, "extension")
		}
		if multipartBody {
			// The body has been consumed by the form parser; a file part,
			// if any, carries the bytes.
			if file == nil {
				return nil, domain.Errorf(domain.CodeMissingPayload, "no document bytes in the request")
			}
			return domain.RawStream{Extension: ext, Body: file}, nil
		}
		return domain.RawStream{Extension: ext, Body: r.Body}, nil

	case "url":
		return domain.RemoteURL{URL: formValue(r, "url")}, nil

	default:
		return nil, domain.Errorf(domain.CodeInvalidMethod,
			"unsupported conversion method %q; use file, raw or url", method)
	}
}

func usesBody(src domain.Source, body io.Reader) bool {
	switch s := src.(type) {
	case domain.Upload:
		return s.Body == body
	case domain.RawStream:
		return s.Body == body
	}
	return false
}

func mediaTypeOf(r *http.Request) string {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mediaType
}

func closeBody(src domain.Source) {
	var body io.Reader
	switch s := src.(type) {
	case domain.Upload:
		body = s.Body
	case domain.RawStream:
		body = s.Body
	}
	if c, ok := body.(io.Closer); ok {
		_ = c.Close()
	}
}

// formFile returns the "file" part of a parsed multipart form.
func formFile(r *http.Request) (multipart.File, *multipart.FileHeader) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, nil
	}
	f, err := headers[0].Open()
	if err != nil {
		return nil, nil
	}
	return f, headers[0]
}

// formValue reads a form field or query parameter. Only form bodies parsed
// by resolveSource are consulted; other bodies may hold document bytes.
func formValue(r *http.Request, key string) string {
	if r.MultipartForm != nil {
		if vs := r.MultipartForm.Value[key]; len(vs) > 0 {
			return strings.TrimSpace(vs[0])
		}
	}
	if vs := r.PostForm[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return domain.Errorf(domain.CodePayloadTooLarge, "document exceeds the %d byte limit", mbe.Limit)
	}
	return domain.NewError(domain.CodeMissingPayload, "could not read multipart form", err)
}
