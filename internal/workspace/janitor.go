// Package workspace tracks the temporary files and directories of a job
// and removes them once the response has been written.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// Handle is a temporary file or directory owned by one job.
// Release is idempotent and safe for concurrent use.
type Handle struct {
	path  string
	dir   bool
	once  sync.Once
	err   error
	rmAll func(string) error
}

// Path returns the filesystem path of the handle.
func (h *Handle) Path() string {
	return h.path
}

// IsDir reports whether the handle owns a directory tree.
func (h *Handle) IsDir() bool {
	return h.dir
}

// Release removes the file or directory tree. Only the first call does any
// work; later calls return the first result. A path that is already gone is
// not an error.
func (h *Handle) Release() error {
	h.once.Do(func() {
		var err error
		if h.dir {
			err = h.rmAll(h.path)
		} else {
			err = os.Remove(h.path)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			h.err = fmt.Errorf("remove %s: %w", h.path, err)
		}
	})
	return h.err
}

// Janitor owns the handles of one job. Release removes them in reverse
// registration order; failures are logged and never returned to the caller.
type Janitor struct {
	root   string
	logger types.Logger

	mu       sync.Mutex
	handles  []*Handle
	released bool
}

// New creates a janitor allocating below root (os.TempDir() when empty).
// root is made absolute since the engine resolves paths on its own.
func New(root string, logger types.Logger) *Janitor {
	if root == "" {
		root = os.TempDir()
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Janitor{root: root, logger: logger}
}

// Root returns the directory new entries are created in.
func (j *Janitor) Root() string {
	return j.root
}

// TrackFile registers an existing file.
func (j *Janitor) TrackFile(path string) *Handle {
	return j.track(path, false)
}

// TrackDir registers an existing directory tree.
func (j *Janitor) TrackDir(path string) *Handle {
	return j.track(path, true)
}

func (j *Janitor) track(path string, dir bool) *Handle {
	h := &Handle{path: path, dir: dir, rmAll: os.RemoveAll}

	j.mu.Lock()
	if !j.released {
		j.handles = append(j.handles, h)
		j.mu.Unlock()
		return h
	}
	j.mu.Unlock()

	// Registered after Release: nothing will come back for it.
	j.logFailure(h.Release())
	return h
}

// MkdirTemp creates a uniquely named directory below parent (the janitor
// root when empty) and tracks it. Names are "<prefix>-<unix-nano>-<uuid>".
func (j *Janitor) MkdirTemp(parent, prefix string) (*Handle, error) {
	if parent == "" {
		parent = j.root
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	dir := filepath.Join(parent, fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), uuid.NewString()))
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return j.TrackDir(dir), nil
}

// Len returns the number of tracked handles.
func (j *Janitor) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.handles)
}

// Release removes every tracked handle, most recent first. It is safe to
// call more than once.
func (j *Janitor) Release() {
	j.mu.Lock()
	handles := j.handles
	j.handles = nil
	j.released = true
	j.mu.Unlock()

	for i := len(handles) - 1; i >= 0; i-- {
		j.logFailure(handles[i].Release())
	}
}

func (j *Janitor) logFailure(err error) {
	if err == nil || j.logger == nil {
		return
	}
	j.logger.Warn(context.Background(), "Workspace cleanup failed", types.Fields{
		"error": err.Error(),
	})
}
