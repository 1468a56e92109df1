package acquire

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	httpadapter "github.com/beladevo/libreoffice-docx-to-pdf/internal/adapters/http"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/workspace"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/mocks"
)

var storedName = regexp.MustCompile(`^\d+-[0-9a-f-]{36}\.(docx|xlsx|pptx|doc|xls|ppt)$`)

type mockDownloader struct {
	mock.Mock
}

func (m *mockDownloader) Download(ctx context.Context, url string, dst httpadapter.Sink) (int64, error) {
	args := m.Called(ctx, url, dst)
	if fn, ok := args.Get(0).(func(httpadapter.Sink) int64); ok {
		return fn(dst), args.Error(1)
	}
	return args.Get(0).(int64), args.Error(1)
}

// failingReader fails on first read.
type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func newAcquirer(d Downloader, maxBytes int64) *Acquirer {
	return New(d, maxBytes, mocks.NewNopLogger(), mocks.NewNopMetrics())
}

func newJanitor(t *testing.T) (*workspace.Janitor, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "work")
	return workspace.New(root, mocks.NewNopLogger()), root
}

// assertUntouched checks that nothing was written below root.
func assertUntouched(t *testing.T, root string, j *workspace.Janitor) {
	t.Helper()
	_, err := os.Stat(root)
	assert.True(t, errors.Is(err, os.ErrNotExist), "workspace root must not be created")
	assert.Equal(t, 0, j.Len())
}

func TestAcquire_Upload(t *testing.T) {
	j, root := newJanitor(t)
	a := newAcquirer(nil, 1024)

	job, err := a.Acquire(context.Background(), domain.Upload{
		Filename: "Report.DOCX",
		Body:     strings.NewReader("docx bytes"),
	}, j)
	require.NoError(t, err)

	assert.Equal(t, domain.ModeUpload, job.Mode)
	assert.Equal(t, "docx", job.Format.Extension)
	assert.Equal(t, "Report.DOCX", job.OriginalName)
	assert.Equal(t, "Report.pdf", job.AttachmentName())
	assert.Equal(t, int64(10), job.Size)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Regexp(t, storedName, filepath.Base(job.InputPath))
	assert.Contains(t, filepath.Base(job.InputPath), job.ID)

	data, err := os.ReadFile(job.InputPath)
	require.NoError(t, err)
	assert.Equal(t, "docx bytes", string(data))

	j.Release()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAcquire_RawStream(t *testing.T) {
	j, _ := newJanitor(t)
	defer j.Release()
	a := newAcquirer(nil, 1024)

	job, err := a.Acquire(context.Background(), domain.RawStream{
		Extension: ".XLS",
		Body:      bytes.NewReader([]byte{0xD0, 0xCF}),
	}, j)
	require.NoError(t, err)

	assert.Equal(t, domain.ModeRaw, job.Mode)
	assert.Equal(t, "xls", job.Format.Extension)
	assert.Equal(t, "document.pdf", job.AttachmentName())
	assert.True(t, strings.HasSuffix(job.InputPath, ".xls"))
}

func TestAcquire_RejectsBeforeWriting(t *testing.T) {
	tests := []struct {
		name string
		src  domain.Source
		code domain.Code
	}{
		{"empty upload", domain.Upload{Filename: "a.docx", Body: strings.NewReader("")}, domain.CodeEmptyPayload},
		{"empty raw stream", domain.RawStream{Extension: "docx", Body: strings.NewReader("")}, domain.CodeEmptyPayload},
		{"upload without file", domain.Upload{}, domain.CodeMissingPayload},
		{"upload with unsupported extension", domain.Upload{Filename: "a.png", Body: strings.NewReader("x")}, domain.CodeUnsupportedFormat},
		{"upload without extension", domain.Upload{Filename: "README", Body: strings.NewReader("x")}, domain.CodeUnsupportedFormat},
		{"raw without extension", domain.RawStream{Body: strings.NewReader("x")}, domain.CodeUnsupportedFormat},
		{"raw with unsupported extension", domain.RawStream{Extension: "exe", Body: strings.NewReader("x")}, domain.CodeUnsupportedFormat},
		{"raw without body", domain.RawStream{Extension: "docx"}, domain.CodeMissingPayload},
		{"empty url", domain.RemoteURL{}, domain.CodeMissingPayload},
		{"ftp url", domain.RemoteURL{URL: "ftp://example.com/a.docx"}, domain.CodeInvalidURL},
		{"url without host", domain.RemoteURL{URL: "http:///a.docx"}, domain.CodeInvalidURL},
		{"url without file", domain.RemoteURL{URL: "https://example.com/"}, domain.CodeInvalidURL},
		{"url with unsupported extension", domain.RemoteURL{URL: "https://example.com/a.pdf"}, domain.CodeUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, root := newJanitor(t)
			d := new(mockDownloader)

			job, err := newAcquirer(d, 1024).Acquire(context.Background(), tt.src, j)

			assert.Nil(t, job)
			assert.Equal(t, tt.code, domain.CodeOf(err))
			assert.Equal(t, http.StatusBadRequest, domain.AsError(err).HTTPStatus())
			assertUntouched(t, root, j)
			d.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAcquire_UploadTooLarge(t *testing.T) {
	j, _ := newJanitor(t)
	defer j.Release()

	_, err := newAcquirer(nil, 4).Acquire(context.Background(), domain.Upload{
		Filename: "a.docx",
		Body:     strings.NewReader("12345"),
	}, j)

	assert.Equal(t, domain.CodePayloadTooLarge, domain.CodeOf(err))
}

func TestAcquire_BodyReadErrors(t *testing.T) {
	j, _ := newJanitor(t)
	defer j.Release()
	a := newAcquirer(nil, 0)

	_, err := a.Acquire(context.Background(), domain.RawStream{
		Extension: "docx",
		Body:      failingReader{err: &http.MaxBytesError{Limit: 10}},
	}, j)
	assert.Equal(t, domain.CodePayloadTooLarge, domain.CodeOf(err))

	_, err = a.Acquire(context.Background(), domain.RawStream{
		Extension: "docx",
		Body:      failingReader{err: io.ErrUnexpectedEOF},
	}, j)
	assert.Equal(t, domain.CodeMissingPayload, domain.CodeOf(err))
}

func TestAcquire_RemoteURL(t *testing.T) {
	j, _ := newJanitor(t)
	defer j.Release()

	d := new(mockDownloader)
	d.On("Download", mock.Anything, "https://files.example.com/docs/Q3%20Report.pptx?sig=abc", mock.Anything).
		Return(func(dst httpadapter.Sink) int64 {
			n, _ := io.WriteString(dst, "pptx bytes")
			return int64(n)
		}, nil).Once()

	job, err := newAcquirer(d, 1024).Acquire(context.Background(), domain.RemoteURL{
		URL: "https://files.example.com/docs/Q3%20Report.pptx?sig=abc",
	}, j)
	require.NoError(t, err)

	d.AssertExpectations(t)
	assert.Equal(t, domain.ModeURL, job.Mode)
	assert.Equal(t, "Q3 Report.pptx", job.OriginalName)
	assert.Equal(t, "Q3 Report.pdf", job.AttachmentName())
	assert.Equal(t, int64(10), job.Size)
	assert.Regexp(t, storedName, filepath.Base(job.InputPath))
}

func TestAcquire_RemoteURLFailures(t *testing.T) {
	tests := []struct {
		name   string
		n      int64
		err    error
		code   domain.Code
		status int
	}{
		{"download failed", 0, errors.New("download failed after 1 attempts: unexpected status code: 404"), domain.CodeDownloadFailed, 500},
		{"empty body", 0, nil, domain.CodeEmptyPayload, 400},
		{"too large", 0, httpadapter.ErrTooLarge, domain.CodePayloadTooLarge, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, root := newJanitor(t)
			d := new(mockDownloader)
			d.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(tt.n, tt.err)

			_, err := newAcquirer(d, 1024).Acquire(context.Background(), domain.RemoteURL{URL: "http://example.com/a.docx"}, j)

			assert.Equal(t, tt.code, domain.CodeOf(err))
			assert.Equal(t, tt.status, domain.AsError(err).HTTPStatus())
			assertUntouched(t, root, j)
		})
	}
}

func TestAcquire_RemoteURL_EmptyBodyThroughRetryClient(t *testing.T) {
	j, root := newJanitor(t)
	defer j.Release()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := os.Stat(root)
		assert.True(t, errors.Is(err, os.ErrNotExist), "workspace touched before the body arrived")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := httpadapter.NewClient(config.DefaultFetchConfig(), mocks.NewNopLogger(), mocks.NewNopMetrics())
	_, err := newAcquirer(client, 1024).Acquire(context.Background(), domain.RemoteURL{URL: srv.URL + "/empty.docx"}, j)

	assert.Equal(t, domain.CodeEmptyPayload, domain.CodeOf(err))
	assertUntouched(t, root, j)
}

func TestAcquire_RemoteURL_RetryRewindsPartialBody(t *testing.T) {
	j, _ := newJanitor(t)
	defer j.Release()

	d := new(mockDownloader)
	d.On("Download", mock.Anything, mock.Anything, mock.Anything).
		Return(func(dst httpadapter.Sink) int64 {
			_, _ = io.WriteString(dst, "half of a fir")
			_ = dst.Truncate(0)
			_, _ = dst.Seek(0, io.SeekStart)
			n, _ := io.WriteString(dst, "full body")
			return int64(n)
		}, nil).Once()

	job, err := newAcquirer(d, 1024).Acquire(context.Background(), domain.RemoteURL{URL: "http://example.com/a.docx"}, j)
	require.NoError(t, err)

	data, err := os.ReadFile(job.InputPath)
	require.NoError(t, err)
	assert.Equal(t, "full body", string(data))
}

func TestAcquire_RemoteURL_ThroughRetryClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := httpadapter.NewClient(config.FetchConfig{
		ConnectTimeout:    time.Second,
		ReadTimeout:       time.Second,
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1,
		MaxBytes:          1024,
	}, mocks.NewNopLogger(), mocks.NewNopMetrics())

	j, _ := newJanitor(t)
	defer j.Release()

	_, err := newAcquirer(client, 1024).Acquire(context.Background(), domain.RemoteURL{URL: srv.URL + "/missing.docx"}, j)

	assert.Equal(t, domain.CodeDownloadFailed, domain.CodeOf(err))
	assert.Equal(t, http.StatusInternalServerError, domain.AsError(err).HTTPStatus())
}

func TestParseDocumentURL(t *testing.T) {
	tests := []struct {
		raw  string
		name string
		ok   bool
	}{
		{"https://example.com/a/b/report.docx", "report.docx", true},
		{"http://example.com:8080/x%2F..%2Fevil.docx", "evil.docx", true},
		{"http://example.com/dir/..", "", false},
		{"http://example.com/a%00b.docx", "", false},
		{"  https://example.com/space.xlsx  ", "space.xlsx", true},
		{"mailto:someone@example.com", "", false},
		{"not a url at all", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, name, err := ParseDocumentURL(tt.raw)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.NotContains(t, name, "/")
		})
	}
}
