package service

import (
	"context"

	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/engine"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/workspace"
)

// Acquirer stores the document of a request source on disk.
type Acquirer interface {
	Acquire(ctx context.Context, src domain.Source, janitor *workspace.Janitor) (*domain.Job, error)
}

// Validator checks a stored document against its declared extension.
type Validator interface {
	Validate(path, ext string) error
}

// Converter renders a job input to PDF.
type Converter interface {
	Convert(ctx context.Context, job *domain.Job, janitor *workspace.Janitor) (*engine.Result, error)
}
