package engine

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
)

// ErrEngineNotFound is wrapped by Locate when no executable is found.
var ErrEngineNotFound = errors.New("rendering engine not found")

// searchNames are looked up on PATH when no path is configured.
var searchNames = []string{"soffice", "libreoffice"}

// wellKnownPaths are tried after PATH.
var wellKnownPaths = []string{
	"/usr/bin/soffice",
	"/usr/bin/libreoffice",
	"/usr/lib/libreoffice/program/soffice",
	"/opt/libreoffice/program/soffice",
	"/snap/bin/libreoffice",
	"/opt/homebrew/bin/soffice",
	"/Applications/LibreOffice.app/Contents/MacOS/soffice",
	`C:\Program Files\LibreOffice\program\soffice.exe`,
}

// Locate resolves the engine executable: the configured path (a file path
// or a name looked up on PATH), then soffice/libreoffice on PATH, then the
// usual install locations. It is called once at startup.
func Locate(configured string) (string, error) {
	if configured != "" {
		if p, ok := resolve(configured); ok {
			return p, nil
		}
		return "", domain.NewError(domain.CodeEngineNotFound,
			"configured rendering engine is not executable: "+configured, ErrEngineNotFound)
	}

	for _, name := range searchNames {
		if p, err := exec.LookPath(name); err == nil {
			return absolute(p), nil
		}
	}
	for _, p := range wellKnownPaths {
		if isExecutable(p) {
			return p, nil
		}
	}

	return "", domain.NewError(domain.CodeEngineNotFound,
		"rendering engine not found; install LibreOffice or set ENGINE_PATH", ErrEngineNotFound)
}

func resolve(name string) (string, bool) {
	if strings.ContainsAny(name, `/\`) {
		return absolute(name), isExecutable(name)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", false
	}
	return absolute(p), true
}

func absolute(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func isExecutable(p string) bool {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return runtime.GOOS == "windows" || info.Mode().Perm()&0o111 != 0
}
