// Package converter runs the external PDF to HTML tool.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pdfhtmlgo/internal/apperr"
)

// Converter turns a PDF into an HTML file plus auxiliary files written to
// outputDir. Only the first page is converted.
type Converter interface {
	Convert(ctx context.Context, pdfPath, outputDir string) (*Result, error)
}

// Result describes the files a conversion produced.
type Result struct {
	HTMLPath string
	// Files are paths relative to the output directory, excluding HTMLPath.
	Files []string
}

const (
	DefaultTimeout = 60 * time.Second
	waitDelay      = 2 * time.Second
	// exitOpenPDF is poppler's exit status for an unreadable input file.
	exitOpenPDF = 1
)

// Pdftohtml drives poppler's pdftohtml binary.
type Pdftohtml struct {
	binary  string
	timeout time.Duration
	zoom    float64
	logger  *zap.Logger
}

// NewPdftohtml constructs the adapter. A zero timeout falls back to DefaultTimeout.
func NewPdftohtml(binary string, timeout time.Duration, zoom float64, logger *zap.Logger) *Pdftohtml {
	if binary == "" {
		binary = "pdftohtml"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if zoom <= 0 {
		zoom = 1.3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pdftohtml{binary: binary, timeout: timeout, zoom: zoom, logger: logger}
}

func (p *Pdftohtml) args(pdfPath, htmlPath string) []string {
	return []string{
		"-c",
		"-s",
		"-noframes",
		"-fontfullname",
		"-enc", "UTF-8",
		"-zoom", strconv.FormatFloat(p.zoom, 'f', -1, 64),
		"-f", "1",
		"-l", "1",
		pdfPath,
		htmlPath,
	}
}

// Convert runs the tool under the configured timeout. On timeout or
// cancellation the whole process group is killed.
func (p *Pdftohtml) Convert(ctx context.Context, pdfPath, outputDir string) (*Result, error) {
	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	if stem == "" || stem == "." {
		stem = "document"
	}
	htmlPath := filepath.Join(outputDir, stem+".html")

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.binary, p.args(pdfPath, htmlPath)...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		killProcessGroup(cmd.Process.Pid)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	p.logger.Debug("pdftohtml finished",
		zap.String("pdf", pdfPath),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err),
	)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, apperr.Wrap(apperr.ErrConversion, "pdftohtml timed out after %s", p.timeout)
		}
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.ErrConversion, "pdftohtml canceled: %v", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if exitErr.ExitCode() == exitOpenPDF {
				return nil, apperr.Wrap(apperr.ErrInvalidInput, "unreadable or corrupt PDF: %s", detail)
			}
			return nil, apperr.Wrap(apperr.ErrConversion, "pdftohtml exited with status %d: %s", exitErr.ExitCode(), detail)
		}
		return nil, apperr.Wrap(apperr.ErrConversion, "run pdftohtml: %v", err)
	}

	htmlPath, err = locateHTML(htmlPath, outputDir)
	if err != nil {
		return nil, err
	}
	files, err := ListFiles(outputDir, filepath.Base(htmlPath))
	if err != nil {
		return nil, fmt.Errorf("list output: %w", err)
	}
	return &Result{HTMLPath: htmlPath, Files: files}, nil
}

// locateHTML returns the expected HTML file, or the first HTML file in dir
// when the tool picked another name.
func locateHTML(expected, dir string) (string, error) {
	if info, err := os.Stat(expected); err == nil && !info.IsDir() {
		return expected, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return "", fmt.Errorf("glob html output: %w", err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", apperr.Wrap(apperr.ErrConversion, "no HTML file was produced")
	}
	return matches[0], nil
}

// ListFiles returns every regular file under dir relative to it, sorted and
// slash separated, skipping the names in exclude.
func ListFiles(dir string, exclude ...string) ([]string, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}
	files := make([]string, 0)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := skip[rel]; ok {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
