// Package engine supervises the headless LibreOffice process that renders
// documents to PDF.
//
// Every conversion gets a private profile directory and a private output
// directory, so any number of jobs can run at once without sharing engine
// state. The child runs in its own process group; on timeout the whole
// group is killed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/beladevo/libreoffice-docx-to-pdf/config"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/domain"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/process"
	"github.com/beladevo/libreoffice-docx-to-pdf/internal/workspace"
	"github.com/beladevo/libreoffice-docx-to-pdf/observability/types"
)

// Result is a successful conversion.
type Result struct {
	PDFPath  string
	Size     int64
	Output   string // engine diagnostics, for logs only
	Duration time.Duration
}

// Supervisor runs conversions. It is safe for concurrent use; it holds only
// read-only configuration.
type Supervisor struct {
	path        string
	timeout     time.Duration
	killGrace   time.Duration
	outputLimit int
	logger      types.Logger
	metrics     types.Metrics
}

// NewSupervisor creates a supervisor for the executable at path, usually
// the result of Locate.
func NewSupervisor(path string, cfg config.EngineConfig, logger types.Logger, metrics types.Metrics) *Supervisor {
	return &Supervisor{
		path:        path,
		timeout:     cfg.Timeout,
		killGrace:   cfg.KillGrace,
		outputLimit: cfg.OutputLimit,
		logger:      logger,
		metrics:     metrics,
	}
}

// Path returns the engine executable.
func (s *Supervisor) Path() string {
	return s.path
}

// Convert renders job.InputPath to PDF.
//
// The profile and output directories are created next to the input file and
// tracked by janitor. The profile directory is removed before Convert
// returns; the output directory, which holds Result.PDFPath, stays until
// the janitor releases it.
func (s *Supervisor) Convert(ctx context.Context, job *domain.Job, janitor *workspace.Janitor) (*Result, error) {
	jobRoot := filepath.Dir(job.InputPath)

	profile, err := janitor.MkdirTemp(jobRoot, "profile")
	if err != nil {
		return nil, domain.NewError(domain.CodeInternal, "could not prepare engine environment", err)
	}
	defer func() {
		if rerr := profile.Release(); rerr != nil {
			s.logger.Warn(ctx, "Failed to remove engine profile", types.Fields{"error": rerr.Error()})
		}
	}()

	out, err := janitor.MkdirTemp(jobRoot, "out")
	if err != nil {
		return nil, domain.NewError(domain.CodeInternal, "could not prepare engine environment", err)
	}

	s.metrics.StartOperation("engine")
	defer s.metrics.EndOperation("engine")

	start := time.Now()
	output, err := s.run(ctx, job.InputPath, profile.Path(), out.Path())
	duration := time.Since(start)
	s.metrics.RecordDuration("engine", duration.Seconds())

	fields := types.Fields{
		"format":      job.Format.Extension,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		de := domain.AsError(err)
		fields["code"] = string(de.Code)
		fields["engine_output"] = output
		s.logger.Error(ctx, "Engine run failed", err, fields)
		return nil, err
	}

	pdf, err := findOutput(out.Path(), job.InputPath)
	if err != nil {
		fields["engine_output"] = output
		s.logger.Error(ctx, "Engine produced no usable output", err, fields)
		return nil, err
	}

	info, err := os.Stat(pdf)
	if err != nil {
		return nil, domain.NewError(domain.CodeOutputNotFound, "converted document is not readable", err)
	}

	s.logger.Debug(ctx, "Engine run finished", fields)

	return &Result{
		PDFPath:  pdf,
		Size:     info.Size(),
		Output:   output,
		Duration: duration,
	}, nil
}

// Args returns the engine command line for one conversion.
func Args(inputPath, profileDir, outDir string) []string {
	return []string{
		"--headless",
		"--invisible",
		"--nologo",
		"--nodefault",
		"--nocrashreport",
		"--norestore",
		"--nolockcheck",
		"-env:UserInstallation=" + fileURL(profileDir),
		"--convert-to", "pdf",
		"--outdir", outDir,
		inputPath,
	}
}

// fileURL turns an absolute path into a file:// URL.
func fileURL(p string) string {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p // Windows drive letter
	}
	return "file://" + p
}

func (s *Supervisor) run(ctx context.Context, input, profileDir, outDir string) (string, error) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	captured := newCappedBuffer(s.outputLimit)

	cmd := exec.CommandContext(runCtx, s.path, Args(input, profileDir, outDir)...)
	cmd.Dir = outDir
	cmd.Stdout = captured
	cmd.Stderr = captured
	cmd.Env = append(os.Environ(), "HOME="+profileDir)
	process.Isolate(cmd)
	cmd.Cancel = func() error {
		process.KillProcessGroup(cmd.Process.Pid)
		return nil
	}
	// Bounds Wait once the group is killed, even if a stray descendant
	// still holds the output pipe.
	cmd.WaitDelay = s.killGrace

	err := cmd.Run()
	output := captured.String()
	if err == nil {
		return output, nil
	}

	if cmd.Process == nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return output, domain.NewError(domain.CodeEngineNotFound, "rendering engine is not available", err)
		}
		return output, domain.NewError(domain.CodeConversionFailed, "rendering engine could not be started", err)
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return output, domain.NewError(domain.CodeTimeout,
			fmt.Sprintf("conversion exceeded %s", s.timeout), err)
	case runCtx.Err() != nil:
		return output, domain.NewError(domain.CodeInternal, "conversion cancelled", runCtx.Err())
	default:
		return output, domain.NewError(domain.CodeConversionFailed, "document conversion failed",
			fmt.Errorf("engine: %w", err))
	}
}

// findOutput returns the PDF the engine wrote to outDir: <input-base>.pdf
// when present, otherwise the single *.pdf (any case) in outDir. Zero or
// several candidates are errors.
func findOutput(outDir, input string) (string, error) {
	base := filepath.Base(input)
	expected := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
		return expected, nil
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", domain.NewError(domain.CodeOutputNotFound, "converted document not found", err)
	}

	var candidates []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			candidates = append(candidates, filepath.Join(outDir, e.Name()))
		}
	}

	switch len(candidates) {
	case 0:
		return "", domain.Errorf(domain.CodeOutputNotFound, "converted document not found")
	case 1:
		return candidates[0], nil
	default:
		return "", domain.Errorf(domain.CodeAmbiguousOutput,
			"engine produced %d documents, expected one", len(candidates))
	}
}
