// Package acquire turns a request Source into a job input file on disk.
package acquire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	httpadapter "github.com/beladevo/libreoffice-docx-to-pdf/internal/adapters/http"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/workspace"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// Downloader fetches a remote document into dst.
type Downloader interface {
	Download(ctx context.Context, url string, dst httpadapter.Sink) (int64, error)
}

// Acquirer writes uploads, raw streams and remote documents to uniquely
// named files. Nothing touches the filesystem until the extension is known
// to be supported and at least one byte of the document is available.
type Acquirer struct {
	downloader Downloader
	maxBytes   int64
	logger     types.Logger
	metrics    types.Metrics
}

// New creates an Acquirer. maxBytes bounds uploads and raw streams; remote
// downloads are bounded by the downloader.
func New(downloader Downloader, maxBytes int64, logger types.Logger, metrics types.Metrics) *Acquirer {
	return &Acquirer{
		downloader: downloader,
		maxBytes:   maxBytes,
		logger:     logger,
		metrics:    metrics,
	}
}

// Acquire stores the document of src in a new job directory tracked by
// janitor and returns the pending job.
func (a *Acquirer) Acquire(ctx context.Context, src domain.Source, janitor *workspace.Janitor) (*domain.Job, error) {
	var (
		job *domain.Job
		err error
	)

	switch s := src.(type) {
	case domain.Upload:
		job, err = a.fromUpload(ctx, s, janitor)
	case domain.RawStream:
		job, err = a.fromRaw(ctx, s, janitor)
	case domain.RemoteURL:
		job, err = a.fromURL(ctx, s, janitor)
	default:
		err = domain.Errorf(domain.CodeInvalidMethod, "unsupported conversion method")
	}

	if err != nil {
		a.metrics.RecordError("acquire", string(domain.CodeOf(err)))
		return nil, err
	}

	a.metrics.RecordFileSize(job.Format.Extension, job.Size)
	a.logger.Info(ctx, "Document acquired", types.Fields{
		"job_id":     job.ID,
		"mode":       string(job.Mode),
		"format":     job.Format.Extension,
		"size_bytes": job.Size,
	})
	return job, nil
}

func (a *Acquirer) fromUpload(ctx context.Context, s domain.Upload, janitor *workspace.Janitor) (*domain.Job, error) {
	if s.Body == nil || strings.TrimSpace(s.Filename) == "" {
		return nil, domain.Errorf(domain.CodeMissingPayload, "no file uploaded")
	}
	format, err := lookup(domain.ExtensionOf(s.Filename))
	if err != nil {
		return nil, err
	}
	return a.fromBody(ctx, domain.ModeUpload, format, s.Filename, s.Body, janitor)
}

func (a *Acquirer) fromRaw(ctx context.Context, s domain.RawStream, janitor *workspace.Janitor) (*domain.Job, error) {
	if s.Body == nil {
		return nil, domain.Errorf(domain.CodeMissingPayload, "request body is missing")
	}
	if domain.NormalizeExtension(s.Extension) == "" {
		return nil, domain.Errorf(domain.CodeUnsupportedFormat,
			"file extension is required for raw uploads (X-File-Extension header or extension field)")
	}
	format, err := lookup(s.Extension)
	if err != nil {
		return nil, err
	}
	return a.fromBody(ctx, domain.ModeRaw, format, "document."+format.Extension, s.Body, janitor)
}

func (a *Acquirer) fromBody(ctx context.Context, mode domain.Mode, format domain.Format, original string, body io.Reader, janitor *workspace.Janitor) (*domain.Job, error) {
	br := bufio.NewReader(body)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.Errorf(domain.CodeEmptyPayload, "uploaded document is empty")
		}
		return nil, readError(err)
	}

	job := newJob(mode, format, original)
	f, err := a.materialize(job, janitor)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src := io.Reader(br)
	if a.maxBytes > 0 {
		src = io.LimitReader(br, a.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return nil, readError(err)
	}
	if a.maxBytes > 0 && n > a.maxBytes {
		return nil, tooLarge(a.maxBytes)
	}
	if err := f.Close(); err != nil {
		return nil, domain.NewError(domain.CodeInternal, "could not store document", err)
	}

	job.Size = n
	return job, nil
}

func (a *Acquirer) fromURL(ctx context.Context, s domain.RemoteURL, janitor *workspace.Janitor) (*domain.Job, error) {
	u, name, err := ParseDocumentURL(s.URL)
	if err != nil {
		return nil, err
	}
	format, err := lookup(domain.ExtensionOf(name))
	if err != nil {
		return nil, err
	}

	job := newJob(domain.ModeURL, format, name)
	sink := &lazySink{open: func() (*os.File, error) { return a.materialize(job, janitor) }}
	defer sink.Close()

	n, err := a.downloader.Download(ctx, u.String(), sink)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, de
		}
		if errors.Is(err, httpadapter.ErrTooLarge) {
			return nil, domain.NewError(domain.CodePayloadTooLarge, "remote document exceeds the size limit", err)
		}
		return nil, domain.NewError(domain.CodeDownloadFailed, "could not download document", err)
	}
	if n == 0 || sink.f == nil {
		return nil, domain.Errorf(domain.CodeEmptyPayload, "remote document is empty")
	}
	if err := sink.Close(); err != nil {
		return nil, domain.NewError(domain.CodeInternal, "could not store document", err)
	}

	job.Size = n
	return job, nil
}

func newJob(mode domain.Mode, format domain.Format, original string) *domain.Job {
	return &domain.Job{
		ID:           uuid.NewString(),
		Mode:         mode,
		Format:       format,
		OriginalName: original,
		CreatedAt:    time.Now(),
		Status:       domain.StatusPending,
	}
}

// materialize allocates the job directory and the input file, both tracked
// by janitor, and sets job.InputPath. Stored names are
// <unix-nano>-<uuid>.<ext>.
func (a *Acquirer) materialize(job *domain.Job, janitor *workspace.Janitor) (*os.File, error) {
	dir, err := janitor.MkdirTemp("", "job")
	if err != nil {
		return nil, domain.NewError(domain.CodeInternal, "could not prepare workspace", err)
	}

	inputPath := filepath.Join(dir.Path(),
		fmt.Sprintf("%d-%s.%s", job.CreatedAt.UnixNano(), job.ID, job.Format.Extension))

	f, err := os.OpenFile(inputPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, domain.NewError(domain.CodeInternal, "could not store document", err)
	}
	janitor.TrackFile(inputPath)

	job.InputPath = inputPath
	return f, nil
}

// lazySink defers creating the job file until the download delivers its
// first byte, so an empty remote document never touches the workspace.
type lazySink struct {
	open func() (*os.File, error)
	f    *os.File
}

func (s *lazySink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if s.f == nil {
		f, err := s.open()
		if err != nil {
			return 0, err
		}
		s.f = f
	}
	return s.f.Write(p)
}

func (s *lazySink) Seek(offset int64, whence int) (int64, error) {
	if s.f == nil {
		return 0, nil
	}
	return s.f.Seek(offset, whence)
}

func (s *lazySink) Truncate(size int64) error {
	if s.f == nil {
		return nil
	}
	return s.f.Truncate(size)
}

// Close is safe to call more than once.
func (s *lazySink) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// ParseDocumentURL checks that raw is an absolute http(s) URL with a host
// and returns it with the sanitized file name taken from its path.
func ParseDocumentURL(raw string) (*url.URL, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", domain.Errorf(domain.CodeMissingPayload, "no URL provided")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", domain.NewError(domain.CodeInvalidURL, "invalid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", domain.Errorf(domain.CodeInvalidURL, "URL scheme must be http or https")
	}
	if u.Hostname() == "" {
		return nil, "", domain.Errorf(domain.CodeInvalidURL, "URL has no host")
	}

	name, ok := sanitizeName(u.Path)
	if !ok {
		return nil, "", domain.Errorf(domain.CodeInvalidURL, "URL does not name a file")
	}
	return u, name, nil
}

// sanitizeName reduces an already percent-decoded URL path to a bare file
// name. Names that are empty, dot segments or contain NUL are rejected.
func sanitizeName(p string) (string, bool) {
	if strings.ContainsRune(p, 0) {
		return "", false
	}
	p = strings.ReplaceAll(p, "\\", "/")
	name := path.Base(p)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", false
	}
	return name, true
}

func lookup(ext string) (domain.Format, error) {
	format, ok := domain.LookupFormat(ext)
	if !ok {
		if ext == "" {
			return domain.Format{}, domain.Errorf(domain.CodeUnsupportedFormat, "file has no extension; supported: %s",
				strings.Join(domain.SupportedExtensions(), ", "))
		}
		return domain.Format{}, domain.Errorf(domain.CodeUnsupportedFormat, "unsupported file extension %q; supported: %s",
			ext, strings.Join(domain.SupportedExtensions(), ", "))
	}
	return format, nil
}

func readError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return tooLarge(mbe.Limit)
	}
	return domain.NewError(domain.CodeMissingPayload, "could not read request payload", err)
}

func tooLarge(limit int64) error {
	return domain.Errorf(domain.CodePayloadTooLarge, "document exceeds the %d byte limit", limit)
}
