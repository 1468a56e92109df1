// Package storage builds the optional archive that receives a copy of every
// converted PDF.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
	"github.com/beladevo/libreoffice-docx-to-pdf/storage/adapters/fs"
	"github.com/beladevo/libreoffice-docx-to-pdf/storage/adapters/s3"
	storagetypes "github.com/beladevo/libreoffice-docx-to-pdf/storage/types"
)

// ErrArchiveDisabled is returned by Initialize when ARCHIVE_PROVIDER is
// none or empty.
var ErrArchiveDisabled = errors.New("archive is not configured")

// Provider owns the archive storage for the process lifetime.
type Provider struct {
	storage     storagetypes.ObjectStorage
	mu          sync.RWMutex
	initialized bool
}

var (
	instance *Provider
	once     sync.Once
)

// GetProvider returns the process-wide storage provider.
func GetProvider() *Provider {
	once.Do(func() {
		instance = &Provider{}
	})
	return instance
}

// Initialize creates the configured storage and checks it is reachable.
// Calling it again after success is a no-op.
func (p *Provider) Initialize(cfg *config.Config, logger types.Logger, metrics types.Metrics) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if !cfg.IsArchiveEnabled() {
		return ErrArchiveDisabled
	}

	storage, err := createStorage(&cfg.Archive, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	if err := testConnection(storage, cfg.Archive.Timeout); err != nil {
		return fmt.Errorf("failed to verify storage connection: %w", err)
	}

	logger.Info(context.Background(), "Archive storage initialized", types.Fields{
		"provider": cfg.Archive.Provider,
	})

	p.storage = storage
	p.initialized = true
	return nil
}

// createStorage is the only place that knows the concrete adapters.
func createStorage(cfg *config.ArchiveConfig, logger types.Logger, metrics types.Metrics) (storagetypes.ObjectStorage, error) {
	switch cfg.Provider {
	case "fs":
		return fs.New(cfg.Path, logger)
	case "s3":
		return s3.NewClient(cfg, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

func testConnection(storage storagetypes.ObjectStorage, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := storage.Exists(ctx, ".health-check")
	if err != nil && !errors.Is(err, storagetypes.ErrObjectNotFound) {
		return err
	}
	return nil
}

// GetStorage returns the storage, or an error before Initialize succeeded.
func (p *Provider) GetStorage() (storagetypes.ObjectStorage, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.initialized || p.storage == nil {
		return nil, errors.New("storage not initialized; call Initialize() first")
	}
	return p.storage, nil
}

// IsInitialized reports whether Initialize succeeded.
func (p *Provider) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// Reset drops the storage. Used by tests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storage = nil
	p.initialized = false
}
