//go:build !windows

package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/handler"
	"github.com/beladevo/libreoffice-docx-to-pdf/handler/platforms"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/acquire"
	httpadapter "github.com/beladevo/libreoffice-docx-to-pdf/internal/adapters/http"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/engine"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/service"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/validate"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/mocks"
)

// The stub engine writes "%PDF-1.4" followed by the input bytes to
// <outdir>/<input base>.pdf, the way soffice names its output.
const stubEngine = `#!/bin/sh
out=""; in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --outdir) out="$2"; shift 2 ;;
    --convert-to) shift 2 ;;
    *) in="$1"; shift ;;
  esac
done
base=$(basename "$in"); base="${base%.*}"
{ printf '%%PDF-1.4\n'; cat "$in"; } > "$out/$base.pdf"
`

const hangingEngine = "#!/bin/sh\nsleep 30 & wait\n"

type gateway struct {
	server *httptest.Server
	remote *httptest.Server
	root   string

	// workspace entries seen while the remote served an empty document
	entriesDuringEmptyFetch atomic.Int32
}

func newGateway(t *testing.T, script string, engineTimeout time.Duration) *gateway {
	t.Helper()

	enginePath := filepath.Join(t.TempDir(), "soffice")
	require.NoError(t, os.WriteFile(enginePath, []byte(script), 0o755))
	root := t.TempDir()

	logger := mocks.NewNopLogger()
	metrics := mocks.NewNopMetrics()

	fetchCfg := config.DefaultFetchConfig()
	fetchCfg.MaxRetries = 2
	fetchCfg.InitialBackoff = 5 * time.Millisecond
	fetchCfg.MaxBackoff = 10 * time.Millisecond
	fetchCfg.MaxBytes = 1 << 20

	supervisor := engine.NewSupervisor(enginePath, config.EngineConfig{
		Timeout:     engineTimeout,
		KillGrace:   time.Second,
		OutputLimit: 1024,
	}, logger, metrics)

	svc := service.NewConvertService(
		acquire.New(httpadapter.NewClient(fetchCfg, logger, metrics), 1<<20, logger, metrics),
		validate.New(),
		supervisor,
		service.Options{MaxConcurrency: 4},
		logger, logger, metrics,
	)

	w := NewConvertWorker(svc, enginePath, root, logger, metrics)

	handlerCfg := config.DefaultHandlerConfig()
	handlerCfg.MaxRequestSize = 2 << 20
	h := handler.NewFactory(w, mocks.NewNopProvider()).WithHandlerConfig(handlerCfg).Create()

	g := &gateway{
		server: httptest.NewServer(platforms.NewRouter(h, logger, platforms.RouterOptions{})),
		root:   root,
	}
	g.remote = httptest.NewServer(g.remoteDocuments())
	t.Cleanup(g.server.Close)
	t.Cleanup(g.remote.Close)
	return g
}

func (g *gateway) remoteDocuments() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/files/report.docx", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(docx("remote report"))
	})
	mux.HandleFunc("/files/empty.docx", func(w http.ResponseWriter, r *http.Request) {
		entries, _ := os.ReadDir(g.root)
		g.entriesDuringEmptyFetch.Add(int32(len(entries)))
	})
	mux.HandleFunc("/", http.NotFound)
	return mux
}

// docx builds a minimal stored (uncompressed) docx so marker appears
// verbatim in the converted output.
func docx(marker string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "word/document.xml"} {
		f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			panic(err)
		}
		_, _ = io.WriteString(f, "<w>"+marker+"</w>")
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func (g *gateway) upload(t *testing.T, filename string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(g.server.URL+"/convert", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func (g *gateway) raw(t *testing.T, ext string, content []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, g.server.URL+"/convert", bytes.NewReader(content))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Convert-Method", "ms")
	req.Header.Set("X-File-Extension", ext)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (g *gateway) fromURL(t *testing.T, path string) *http.Response {
	t.Helper()
	form := url.Values{"url": {g.remote.URL + path}}
	resp, err := http.PostForm(g.server.URL+"/convert", form)
	require.NoError(t, err)
	return resp
}

// assertClean waits for the post-stream release and checks the workspace
// root is empty.
func (g *gateway) assertClean(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(g.root)
		return err == nil && len(entries) == 0
	}, 3*time.Second, 10*time.Millisecond, "leftover workspace entries")
}

func readPDF(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
	return string(data)
}

func readError(t *testing.T, resp *http.Response, status int) string {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, status, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.NotEmpty(t, payload["error"])
	return payload["error"]
}

func TestConvert_UploadReturnsPDF(t *testing.T) {
	g := newGateway(t, stubEngine, 10*time.Second)

	resp := g.upload(t, "report.docx", docx("quarterly numbers"))
	assert.Equal(t, `attachment; filename="report.pdf"`, resp.Header.Get("Content-Disposition"))
	assert.NotEmpty(t, resp.Header.Get("X-Job-Id"))

	body := readPDF(t, resp)
	assert.Contains(t, body, "quarterly numbers")
	g.assertClean(t)
}

func TestConvert_UploadEverySupportedExtension(t *testing.T) {
	g := newGateway(t, stubEngine, 10*time.Second)

	for _, ext := range []string{"doc", "docx", "xls", "xlsx", "ppt", "pptx"} {
		t.Run(ext, func(t *testing.T) {
			resp := g.upload(t, "input."+ext, []byte("content of "+ext))
			assert.Equal(t, `attachment; filename="input.pdf"`, resp.Header.Get("Content-Disposition"))
			assert.Contains(t, readPDF(t, resp), "content of "+ext)
		})
	}
	g.assertClean(t)
}

func TestConvert_SameInputTwice(t *testing.T) {
	g := newGateway(t, stubEngine, 10*time.Second)
	doc := docx("repeatable")

	first := readPDF(t, g.upload(t, "report.docx", doc))
	second := readPDF(t, g.upload(t, "report.docx", doc))

	assert.Equal(t, first, second)
	g.assertClean(t)
}

func TestConvert_LegacyRoute(t *testing.T) {
	g := newGateway(t, stubEngine, 10*time.Second)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "slides.pptx")
	require.NoError(t, err)
	_, _ = part.Write([]byte("presentation"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(g.server.URL+"/docxToPdf", mw.FormDataContentType(), &body)
	require.NoError(t, err)

	assert.Equal(t, `attachment; filename="slides.pdf"`, resp.Header.Get("Content-Disposition"))
	readPDF(t, resp)
	g.assertClean(t)
}

func TestConvert_RawStream(t *testing.T) {
	g := newGateway(t, stubEngine, 10*time.Second)

	t.Run("valid docx", func(t *testing.T) {
		resp := g.raw(t, "docx", docx("raw body"))
		assert.Equal(t, `attachment; filename="document.pdf"`, resp.Header.Get("Content-Disposition"))
		assert.Contains(t, readPDF(t, resp), "raw body")
		g.assertClean(t)
	})

	t.Run("png declared as docx", func(t *testing.T) {
		msg := readError(t, g.raw(t, "docx", pngBytes), http.StatusBadRequest)
		assert.Contains(t, msg, "does not match")
		g.assertClean(t)
	})

	t.Run("docx declared as doc", func(t *testing.T) {
		readError(t, g.raw(t, "doc", docx("zip not ole")), http.StatusBadRequest)
		g.assertClean(t)
	})

	t.Run("missing extension", func(t *testing.T) {
		readError(t, g.raw(t, "", docx("x")), http.StatusBadRequest)
		g.assertClean(t)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		msg := readError(t, g.raw(t, "odt", []byte("data")), http.StatusBadRequest)
		assert.Contains(t, msg, "docx")
		g.assertClean(t)
	})
}

func TestConvert_URL(t *testing.T) {
	g := newGateway(t, stubEngine, 10*time.Second)

	t.Run("downloads and converts", func(t *testing.T) {
		resp := g.fromURL(t, "/files/report.docx")
		assert.Equal(t, `attachment; filename="report.pdf"`, resp.Header.Get("Content-Disposition"))
		assert.Contains(t, readPDF(t, resp), "remote report")
		g.assertClean(t)
	})

	t.Run("query parameter selects url mode", func(t *testing.T) {
		target := url.QueryEscape(g.remote.URL + "/files/report.docx")
		resp, err := http.Post(g.server.URL+"/convert?url="+target, "text/plain", nil)
		require.NoError(t, err)
		readPDF(t, resp)
		g.assertClean(t)
	})

	t.Run("not found", func(t *testing.T) {
		readError(t, g.fromURL(t, "/files/missing.docx"), http.StatusInternalServerError)
		g.assertClean(t)
	})

	t.Run("invalid scheme", func(t *testing.T) {
		resp, err := http.PostForm(g.server.URL+"/convert", url.Values{
			"method": {"url"},
			"url":    {"ftp://example.com/report.docx"},
		})
		require.NoError(t, err)
		readError(t, resp, http.StatusBadRequest)
	})
}

func TestConvert_EmptyPayloads(t *testing.T) {
	g := newGateway(t, stubEngine, 10*time.Second)

	t.Run("upload", func(t *testing.T) {
		readError(t, g.upload(t, "report.docx", nil), http.StatusBadRequest)
	})
	t.Run("raw", func(t *testing.T) {
		readError(t, g.raw(t, "docx", nil), http.StatusBadRequest)
	})
	t.Run("url", func(t *testing.T) {
		readError(t, g.fromURL(t, "/files/empty.docx"), http.StatusBadRequest)
		assert.Zero(t, g.entriesDuringEmptyFetch.Load(), "job files created before the payload arrived")
	})
	t.Run("missing file part", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("method", "file"))
		require.NoError(t, mw.Close())

		resp, err := http.Post(g.server.URL+"/convert", mw.FormDataContentType(), &body)
		require.NoError(t, err)
		readError(t, resp, http.StatusBadRequest)
	})

	g.assertClean(t)
}

func TestConvert_InvalidMethod(t *testing.T) {
	g := newGateway(t, stubEngine, 10*time.Second)

	req, err := http.NewRequest(http.MethodPost, g.server.URL+"/convert", strings.NewReader("x"))
	require.NoError(t, err)
	req.Header.Set("X-Convert-Method", "telepathy")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	msg := readError(t, resp, http.StatusBadRequest)
	assert.Contains(t, msg, "telepathy")

	resp, err = http.Get(g.server.URL + "/convert")
	require.NoError(t, err)
	readError(t, resp, http.StatusMethodNotAllowed)
}

func TestConvert_Timeout(t *testing.T) {
	g := newGateway(t, hangingEngine, 300*time.Millisecond)

	start := time.Now()
	resp := g.raw(t, "docx", docx("slow"))
	readError(t, resp, http.StatusInternalServerError)

	assert.Less(t, time.Since(start), 5*time.Second)
	g.assertClean(t)
}

func TestConvert_ConcurrentRequestsAreIsolated(t *testing.T) {
	const n = 8
	g := newGateway(t, stubEngine, 20*time.Second)

	var wg sync.WaitGroup
	bodies := make([]string, n)
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			req, err := http.NewRequest(http.MethodPost, g.server.URL+"/convert", bytes.NewReader(docx(fmt.Sprintf("document-%02d", i))))
			if err != nil {
				return
			}
			req.Header.Set("X-Convert-Method", "raw")
			req.Header.Set("X-File-Extension", "docx")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			statuses[i] = resp.StatusCode
			bodies[i] = string(data)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.Equal(t, http.StatusOK, statuses[i], "request %d", i)
		assert.Contains(t, bodies[i], fmt.Sprintf("document-%02d", i))
		for j := 0; j < n; j++ {
			if j != i {
				assert.NotContains(t, bodies[i], fmt.Sprintf("document-%02d", j))
			}
		}
	}
	g.assertClean(t)
}

func TestConvertWorker_Health(t *testing.T) {
	dir := t.TempDir()
	enginePath := filepath.Join(dir, "soffice")
	require.NoError(t, os.WriteFile(enginePath, []byte(stubEngine), 0o755))

	w := NewConvertWorker(nil, enginePath, dir, mocks.NewNopLogger(), mocks.NewNopMetrics())
	assert.Equal(t, "converter", w.Name())
	assert.NoError(t, w.Health(context.Background()))

	require.NoError(t, os.Remove(enginePath))
	assert.Error(t, w.Health(context.Background()))

	w = NewConvertWorker(nil, dir, dir, mocks.NewNopLogger(), mocks.NewNopMetrics())
	assert.Error(t, w.Health(context.Background()))
}
