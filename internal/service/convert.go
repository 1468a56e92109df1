// Package service orchestrates one conversion: acquire, validate, convert
// under a concurrency bound, then archive.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/workspace"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
	storagetypes "github.com/beladevo/libreoffice-docx-to-pdf/storage/types"
)

// Output is a finished conversion. PDFPath stays valid until the janitor
// passed to Convert is released.
type Output struct {
	Job      *domain.Job
	PDFPath  string
	Size     int64
	Duration time.Duration
}

// Options configures a ConvertService.
type Options struct {
	// MaxConcurrency bounds simultaneous engine runs. Must be positive.
	MaxConcurrency int
	// Archive receives a copy of every PDF when non-nil.
	Archive        storagetypes.ObjectStorage
	ArchiveTimeout time.Duration
}

// ConvertService runs conversions end to end.
type ConvertService struct {
	acquirer  Acquirer
	validator Validator
	converter Converter
	archive   storagetypes.ObjectStorage

	archiveTimeout time.Duration
	slots          *semaphore.Weighted

	logger  types.Logger
	timing  types.Logger
	metrics types.Metrics
}

// NewConvertService wires the conversion pipeline. timing receives one
// entry per finished conversion.
func NewConvertService(
	acquirer Acquirer,
	validator Validator,
	converter Converter,
	opts Options,
	logger types.Logger,
	timing types.Logger,
	metrics types.Metrics,
) *ConvertService {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	return &ConvertService{
		acquirer:       acquirer,
		validator:      validator,
		converter:      converter,
		archive:        opts.Archive,
		archiveTimeout: opts.ArchiveTimeout,
		slots:          semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		logger:         logger,
		timing:         timing,
		metrics:        metrics,
	}
}

// Convert acquires src, validates raw streams, and renders the document.
// Every file it creates is tracked by janitor; the caller releases the
// janitor once the PDF has been sent.
func (s *ConvertService) Convert(ctx context.Context, src domain.Source, janitor *workspace.Janitor) (*Output, error) {
	s.metrics.StartOperation("convert")
	defer s.metrics.EndOperation("convert")

	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("convert", time.Since(start).Seconds())
	}()

	job, err := s.acquirer.Acquire(ctx, src, janitor)
	if err != nil {
		return nil, s.fail(ctx, nil, src.Mode(), start, err)
	}
	ctx = types.WithJobID(ctx, job.ID)

	// Uploads and URLs are trusted to carry their declared type; raw
	// streams have nothing but the declared extension.
	if job.Mode == domain.ModeRaw {
		if err := s.validator.Validate(job.InputPath, job.Format.Extension); err != nil {
			return nil, s.fail(ctx, job, job.Mode, start, err)
		}
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, s.fail(ctx, job, job.Mode, start, waitError(err))
	}
	result, err := s.converter.Convert(ctx, job, janitor)
	s.slots.Release(1)
	if err != nil {
		return nil, s.fail(ctx, job, job.Mode, start, err)
	}

	job.Finish(nil)
	duration := time.Since(start)

	s.metrics.RecordSuccess(job.Format.Extension)
	s.metrics.RecordFileSize("pdf", result.Size)
	s.timing.Info(ctx, "Conversion finished", types.Fields{
		"format":      job.Format.Extension,
		"mode":        string(job.Mode),
		"status":      string(job.Status),
		"input_bytes": job.Size,
		"pdf_bytes":   result.Size,
		"engine_ms":   result.Duration.Milliseconds(),
		"duration_ms": duration.Milliseconds(),
	})

	s.archivePDF(ctx, job, result.PDFPath, result.Size)

	return &Output{
		Job:      job,
		PDFPath:  result.PDFPath,
		Size:     result.Size,
		Duration: duration,
	}, nil
}

func (s *ConvertService) fail(ctx context.Context, job *domain.Job, mode domain.Mode, start time.Time, err error) error {
	de := domain.AsError(err)
	s.metrics.RecordError("convert", string(de.Code))

	fields := types.Fields{
		"mode":        string(mode),
		"code":        string(de.Code),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if job != nil {
		job.Finish(err)
		fields["format"] = job.Format.Extension
		fields["status"] = string(job.Status)
		s.timing.Info(ctx, "Conversion finished", fields)
	}

	if de.Kind() == domain.KindInput {
		s.logger.Warn(ctx, "Conversion rejected", fields)
	} else {
		s.logger.Error(ctx, "Conversion failed", err, fields)
	}
	return err
}

// waitError classifies a failed wait for an engine slot.
func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.CodeTimeout, "timed out waiting for a conversion slot", err)
	}
	return domain.NewError(domain.CodeInternal, "conversion cancelled", err)
}

// archivePDF copies the PDF to the archive. Failures are logged only.
func (s *ConvertService) archivePDF(ctx context.Context, job *domain.Job, pdfPath string, size int64) {
	if s.archive == nil {
		return
	}

	archiveCtx := context.WithoutCancel(ctx)
	if s.archiveTimeout > 0 {
		var cancel context.CancelFunc
		archiveCtx, cancel = context.WithTimeout(archiveCtx, s.archiveTimeout)
		defer cancel()
	}

	key := ArchiveKey(job)
	err := func() error {
		f, err := os.Open(pdfPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return s.archive.Put(archiveCtx, key, f, storagetypes.ObjectMetadata{
			ContentType:   "application/pdf",
			ContentLength: size,
			UserMetadata: map[string]string{
				"job-id":        job.ID,
				"source-format": job.Format.Extension,
			},
		})
	}()
	if err != nil {
		s.metrics.RecordError("archive", "put_failed")
		s.logger.Error(ctx, "Failed to archive converted document", err, types.Fields{"key": key})
		return
	}
	s.metrics.RecordSuccess("archive")
	s.logger.Debug(ctx, "Converted document archived", types.Fields{"key": key})
}

// ArchiveKey is YYYY/MM/DD/<job-id>.pdf, dated by job creation (UTC).
func ArchiveKey(job *domain.Job) string {
	t := job.CreatedAt.UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%s.pdf", t.Year(), t.Month(), t.Day(), job.ID)
}
