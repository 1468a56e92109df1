//go:build !windows

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/workspace"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/mocks"
)

// argParser leaves the --outdir value in $out and the input path in $in.
const argParser = `
out=""; in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --outdir) out="$2"; shift 2 ;;
    --convert-to) shift 2 ;;
    *) in="$1"; shift ;;
  esac
done
base=$(basename "$in"); base="${base%.*}"
`

const (
	stubSuccess  = argParser + `{ printf '%%PDF-1.4\n'; cat "$in"; } > "$out/$base.pdf"` + "\n"
	stubRenamed  = argParser + `printf '%%PDF-1.4\n' > "$out/Renamed.PDF"` + "\n"
	stubMultiple = argParser + `printf '%%PDF-1.4\n' > "$out/a.pdf"; printf '%%PDF-1.4\n' > "$out/b.pdf"` + "\n"
	stubNoOutput = argParser + `echo "source file could not be loaded"` + "\n"
	stubFailure  = argParser + `echo "Error: source file could not be loaded" >&2; exit 77` + "\n"
	stubHang     = `sleep 30 & wait` + "\n"

	// stubHangPid records the pid of its background sleep next to the input.
	stubHangPid = argParser + `sleep 30 & echo $! > "$(dirname "$in")/sleep.pid"; wait` + "\n"
)

func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soffice")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newSupervisor(t *testing.T, stub string, timeout time.Duration) *Supervisor {
	t.Helper()
	return NewSupervisor(writeStub(t, stub), config.EngineConfig{
		Timeout:     timeout,
		KillGrace:   2 * time.Second,
		OutputLimit: 1024,
	}, mocks.NewNopLogger(), mocks.NewNopMetrics())
}

// newJob writes content into a fresh job directory tracked by a janitor.
func newJob(t *testing.T, root, content string) (*domain.Job, *workspace.Janitor) {
	t.Helper()
	j := workspace.New(root, mocks.NewNopLogger())
	dir, err := j.MkdirTemp("", "job")
	require.NoError(t, err)

	input := filepath.Join(dir.Path(), fmt.Sprintf("%d-input.docx", time.Now().UnixNano()))
	require.NoError(t, os.WriteFile(input, []byte(content), 0o600))
	j.TrackFile(input)

	format, _ := domain.LookupFormat("docx")
	return &domain.Job{ID: "job", InputPath: input, Format: format, OriginalName: "report.docx"}, j
}

func assertEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "leftover workspace entries")
}

func TestArgs(t *testing.T) {
	args := Args("/w/job/in.docx", "/w/job/profile", "/w/job/out")

	assert.Equal(t, []string{
		"--headless", "--invisible", "--nologo", "--nodefault", "--nocrashreport",
		"--norestore", "--nolockcheck",
		"-env:UserInstallation=file:///w/job/profile",
		"--convert-to", "pdf",
		"--outdir", "/w/job/out",
		"/w/job/in.docx",
	}, args)
}

func TestSupervisor_Convert_Success(t *testing.T) {
	root := t.TempDir()
	s := newSupervisor(t, stubSuccess, 10*time.Second)
	job, janitor := newJob(t, root, "hello world")

	res, err := s.Convert(context.Background(), job, janitor)
	require.NoError(t, err)

	data, err := os.ReadFile(res.PDFPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-"))
	assert.Contains(t, string(data), "hello world")
	assert.Equal(t, int64(len(data)), res.Size)

	// profile is gone before Convert returns, output stays until release
	siblings, err := os.ReadDir(filepath.Dir(job.InputPath))
	require.NoError(t, err)
	for _, e := range siblings {
		assert.False(t, strings.HasPrefix(e.Name(), "profile-"), "profile dir survived: %s", e.Name())
	}
	assert.FileExists(t, res.PDFPath)

	janitor.Release()
	assertEmpty(t, root)
}

func TestSupervisor_Convert_Failures(t *testing.T) {
	tests := []struct {
		name string
		stub string
		code domain.Code
	}{
		{"nonzero exit", stubFailure, domain.CodeConversionFailed},
		{"no output", stubNoOutput, domain.CodeOutputNotFound},
		{"multiple outputs", stubMultiple, domain.CodeAmbiguousOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			s := newSupervisor(t, tt.stub, 10*time.Second)
			job, janitor := newJob(t, root, "content")

			res, err := s.Convert(context.Background(), job, janitor)

			assert.Nil(t, res)
			assert.Equal(t, tt.code, domain.CodeOf(err))
			assert.Equal(t, 500, domain.AsError(err).HTTPStatus())

			janitor.Release()
			assertEmpty(t, root)
		})
	}
}

func TestSupervisor_Convert_FailureCarriesEngineOutput(t *testing.T) {
	s := newSupervisor(t, stubFailure, 10*time.Second)
	job, janitor := newJob(t, t.TempDir(), "content")
	defer janitor.Release()

	_, err := s.Convert(context.Background(), job, janitor)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 77")
	assert.NotContains(t, domain.AsError(err).Message, "exit status", "clients only see the message")
}

func TestSupervisor_Convert_SingleFallbackOutput(t *testing.T) {
	s := newSupervisor(t, stubRenamed, 10*time.Second)
	job, janitor := newJob(t, t.TempDir(), "content")
	defer janitor.Release()

	res, err := s.Convert(context.Background(), job, janitor)

	require.NoError(t, err)
	assert.Equal(t, "Renamed.PDF", filepath.Base(res.PDFPath))
}

func TestSupervisor_Convert_Timeout(t *testing.T) {
	root := t.TempDir()
	s := newSupervisor(t, stubHang, 200*time.Millisecond)
	job, janitor := newJob(t, root, "content")

	start := time.Now()
	_, err := s.Convert(context.Background(), job, janitor)
	elapsed := time.Since(start)

	assert.Equal(t, domain.CodeTimeout, domain.CodeOf(err))
	assert.Less(t, elapsed, 200*time.Millisecond+s.killGrace+time.Second)

	janitor.Release()
	assertEmpty(t, root)
}

func TestSupervisor_Convert_TimeoutKillsProcessTree(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("needs /proc")
	}

	s := newSupervisor(t, stubHangPid, 300*time.Millisecond)
	job, janitor := newJob(t, t.TempDir(), "content")
	defer janitor.Release()

	_, err := s.Convert(context.Background(), job, janitor)
	require.Equal(t, domain.CodeTimeout, domain.CodeOf(err))

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(job.InputPath), "sleep.pid"))
	require.NoError(t, err)
	pid := strings.TrimSpace(string(raw))
	require.NotEmpty(t, pid)

	assert.Eventually(t, func() bool {
		return !processAlive(pid)
	}, 2*time.Second, 20*time.Millisecond, "background child %s survived the timeout", pid)
}

// processAlive reports whether pid exists and is not a zombie.
func processAlive(pid string) bool {
	stat, err := os.ReadFile(filepath.Join("/proc", pid, "stat"))
	if err != nil {
		return false
	}
	// The state follows the parenthesised command name.
	fields := strings.Fields(string(stat[strings.LastIndexByte(string(stat), ')')+1:]))
	return len(fields) > 0 && fields[0] != "Z"
}

func TestSupervisor_Convert_MissingExecutable(t *testing.T) {
	s := NewSupervisor(filepath.Join(t.TempDir(), "gone"), config.EngineConfig{
		Timeout:   time.Second,
		KillGrace: time.Second,
	}, mocks.NewNopLogger(), mocks.NewNopMetrics())
	job, janitor := newJob(t, t.TempDir(), "content")
	defer janitor.Release()

	_, err := s.Convert(context.Background(), job, janitor)

	assert.Equal(t, domain.CodeEngineNotFound, domain.CodeOf(err))
}

func TestSupervisor_Convert_ConcurrentJobsAreIsolated(t *testing.T) {
	const n = 12
	root := t.TempDir()
	s := newSupervisor(t, stubSuccess, 20*time.Second)

	var wg sync.WaitGroup
	errs := make([]error, n)
	contents := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("document number %d", i)
			job, janitor := newJob(t, root, want)
			defer janitor.Release()

			res, err := s.Convert(context.Background(), job, janitor)
			if err != nil {
				errs[i] = err
				return
			}
			data, err := os.ReadFile(res.PDFPath)
			errs[i] = err
			contents[i] = string(data)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "job %d", i)
		assert.Equal(t, fmt.Sprintf("%%PDF-1.4\ndocument number %d", i), contents[i], "job %d", i)
	}
	assertEmpty(t, root)
}

func TestFindOutput(t *testing.T) {
	t.Run("expected name wins over others", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "in.pdf"), nil, 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.pdf"), nil, 0o600))

		p, err := findOutput(dir, "/job/in.docx")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "in.pdf"), p)
	})

	t.Run("directories are ignored", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.pdf"), 0o700))

		_, err := findOutput(dir, "/job/in.docx")
		assert.Equal(t, domain.CodeOutputNotFound, domain.CodeOf(err))
	})
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, "abcde... [3 bytes truncated]", b.String())
}

func TestLocate(t *testing.T) {
	t.Run("configured path", func(t *testing.T) {
		stub := writeStub(t, "exit 0\n")
		p, err := Locate(stub)
		require.NoError(t, err)
		assert.Equal(t, stub, p)
	})

	t.Run("configured path not executable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "soffice")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		_, err := Locate(path)
		assert.ErrorIs(t, err, ErrEngineNotFound)
		assert.Equal(t, domain.CodeEngineNotFound, domain.CodeOf(err))
	})

	t.Run("found on PATH", func(t *testing.T) {
		stub := writeStub(t, "exit 0\n")
		t.Setenv("PATH", filepath.Dir(stub))

		p, err := Locate("")
		require.NoError(t, err)
		assert.Equal(t, stub, p)
	})

	t.Run("nothing anywhere", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())
		saved := wellKnownPaths
		wellKnownPaths = []string{filepath.Join(t.TempDir(), "soffice")}
		defer func() { wellKnownPaths = saved }()

		_, err := Locate("")
		assert.ErrorIs(t, err, ErrEngineNotFound)
	})
}
