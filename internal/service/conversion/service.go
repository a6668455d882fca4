// Package conversion turns an uploaded PDF into a published, TTL scoped
// HTML document.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/converter"
	"pdfhtmlgo/internal/htmlrewrite"
	"pdfhtmlgo/internal/models"
	"pdfhtmlgo/internal/registry"
	"pdfhtmlgo/internal/render"
	"pdfhtmlgo/internal/strategy"
)

// Submitter runs a job on the worker pool.
type Submitter interface {
	Submit(ctx context.Context, key string, fn func(context.Context) error) error
}

// RemoteOpener starts the download of a PDF named by URL and returns the
// filename to store it under.
type RemoteOpener interface {
	Open(ctx context.Context, rawURL string) (string, io.ReadCloser, error)
}

type Options struct {
	UploadDir  string
	OutputDir  string
	DefaultDPI int
	// MaxDPI bounds render_dpi requests.
	MaxDPI int
	// Remote fetches pdf_url requests. Without it only uploads are accepted.
	Remote RemoteOpener
	// CancelOnDisconnect ties the external tool to the request context.
	// Otherwise a conversion finishes even if the client went away.
	CancelOnDisconnect bool
}

type Service struct {
	converter converter.Converter
	applier   *strategy.Applier
	registry  *registry.Registry
	jobs      Submitter
	opts      Options
	logger    *zap.Logger
}

func NewService(conv converter.Converter, applier *strategy.Applier, reg *registry.Registry, jobs Submitter, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultDPI <= 0 {
		opts.DefaultDPI = render.DefaultDPI
	}
	if opts.MaxDPI <= 0 {
		opts.MaxDPI = render.MaxDPI
	}
	return &Service{
		converter: conv,
		applier:   applier,
		registry:  reg,
		jobs:      jobs,
		opts:      opts,
		logger:    logger,
	}
}

// Request is one upload with its conversion options. File wins over PDFURL
// when both are set.
type Request struct {
	Filename           string
	File               io.Reader
	PDFURL             string
	ClientKey          string
	ImageStrategy      string
	RenderDPI          int
	ExtractorBaseURL   string
	ExtractorSessionID string
	// AssetURL maps a reference relative to the output directory to the
	// public URL that serves it.
	AssetURL func(processID, assetPath string) string
}

type Result struct {
	Process      *models.ConversionProcess
	HTML         string
	Metadata     *models.RenderMetadata
	MetadataFile string
}

// Convert validates, converts and registers one PDF. On failure nothing is
// registered and the output directory is removed.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	chosen, err := strategy.Resolve(req.ImageStrategy, req.ExtractorBaseURL, req.ExtractorSessionID)
	if err != nil {
		return nil, err
	}
	if req.RenderDPI < 0 {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "render_dpi must be a positive integer")
	}
	if req.RenderDPI > s.opts.MaxDPI {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "render_dpi must not exceed %d", s.opts.MaxDPI)
	}
	dpi := req.RenderDPI
	if dpi == 0 {
		dpi = s.opts.DefaultDPI
	}
	if req.File == nil && strings.TrimSpace(req.PDFURL) != "" {
		if s.opts.Remote == nil {
			return nil, apperr.Wrap(apperr.ErrInvalidInput, "pdf_url is not enabled")
		}
		name, body, err := s.opts.Remote.Open(ctx, req.PDFURL)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		req.Filename, req.File = name, body
	}
	if !strings.EqualFold(filepath.Ext(req.Filename), ".pdf") {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "only PDF files are accepted")
	}

	pdfPath, cleanupUpload, err := s.saveUpload(req.Filename, req.File)
	if err != nil {
		return nil, err
	}
	defer cleanupUpload()

	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	outputDir, err := os.MkdirTemp(s.opts.OutputDir, "proc-")
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	keep := false
	defer func() {
		if !keep {
			os.RemoveAll(outputDir)
		}
	}()

	jobCtx := ctx
	if !s.opts.CancelOnDisconnect {
		jobCtx = context.WithoutCancel(ctx)
	}

	id := registry.NewID()
	var (
		htmlPath string
		files    []string
		outcome  *strategy.Outcome
	)
	err = s.jobs.Submit(jobCtx, req.ClientKey, func(ctx context.Context) error {
		converted, err := s.converter.Convert(ctx, pdfPath, outputDir)
		if err != nil {
			return err
		}
		htmlPath = converted.HTMLPath
		raw, err := os.ReadFile(htmlPath)
		if err != nil {
			return fmt.Errorf("read generated html: %w", err)
		}
		doc := htmlrewrite.ImproveRendering(string(raw))

		outcome, err = s.applier.Apply(ctx, strategy.Request{
			Strategy:         chosen,
			PDFPath:          pdfPath,
			OutputDir:        outputDir,
			RenderDPI:        dpi,
			ExtractorBaseURL: req.ExtractorBaseURL,
			ExtractorSession: req.ExtractorSessionID,
		}, doc)
		if err != nil {
			return err
		}
		if req.AssetURL != nil {
			outcome.HTML = htmlrewrite.RewriteRelativeRefs(outcome.HTML, func(p string) string {
				return req.AssetURL(id, p)
			})
		}
		if err := os.WriteFile(htmlPath, []byte(outcome.HTML), 0o644); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
		files, err = converter.ListFiles(outputDir, filepath.Base(htmlPath))
		if err != nil {
			return fmt.Errorf("list output: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("conversion failed",
			zap.String("file", req.Filename),
			zap.String("strategy", string(chosen)),
			zap.Error(err),
		)
		return nil, err
	}

	proc, err := s.registry.Register(context.WithoutCancel(ctx), registry.Registration{
		ID:              id,
		OutputDir:       outputDir,
		HTMLPath:        htmlPath,
		AdditionalFiles: files,
		ImageStrategy:   chosen,
		EmbeddedImages:  outcome.EmbeddedImages,
	})
	if err != nil {
		return nil, err
	}
	keep = true
	s.logger.Info("conversion registered",
		zap.String("process_id", proc.ID),
		zap.String("strategy", string(chosen)),
		zap.Int("files", len(files)),
		zap.Int("embedded_images", proc.EmbeddedImages),
	)
	return &Result{
		Process:      proc,
		HTML:         outcome.HTML,
		Metadata:     outcome.Metadata,
		MetadataFile: outcome.MetadataFile,
	}, nil
}

// saveUpload stores the upload under a private directory with a sanitized
// name so the generated HTML keeps the original stem.
func (s *Service) saveUpload(filename string, r io.Reader) (string, func(), error) {
	if r == nil {
		return "", nil, apperr.Wrap(apperr.ErrInvalidInput, "no file was sent")
	}
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create upload root: %w", err)
	}
	dir, err := os.MkdirTemp(s.opts.UploadDir, "upload-")
	if err != nil {
		return "", nil, fmt.Errorf("create upload dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, SanitizeFilename(filename))
	f, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("create upload: %w", err)
	}
	written, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		cleanup()
		var tooLarge *http.MaxBytesError
		if errors.As(copyErr, &tooLarge) {
			return "", nil, apperr.Wrap(apperr.ErrInvalidInput, "upload exceeds the size limit")
		}
		if errors.Is(copyErr, apperr.ErrInvalidInput) || errors.Is(copyErr, apperr.ErrUpstream) {
			return "", nil, copyErr
		}
		return "", nil, fmt.Errorf("save upload: %w", err)
	}
	if written == 0 {
		cleanup()
		return "", nil, apperr.Wrap(apperr.ErrInvalidInput, "file is empty")
	}
	if err := converter.ValidatePDFFile(path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// SanitizeFilename keeps letters, digits, dot, dash and underscore, and
// always returns a name ending in .pdf.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for _, r := range stem {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), "._")
	if clean == "" {
		clean = "document"
	}
	return clean + ".pdf"
}
