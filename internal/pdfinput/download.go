// Package pdfinput fetches PDFs named by URL instead of uploaded.
package pdfinput

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"pdfhtmlgo/internal/apperr"
)

const (
	DefaultTimeout  = 45 * time.Second
	DefaultMaxBytes = 50 << 20
)

// Downloader fetches remote PDFs with a timeout and a size cap.
type Downloader struct {
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

func NewDownloader(timeout time.Duration, maxBytes int64, logger *zap.Logger) *Downloader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Open starts the download of rawURL and returns the inferred filename and
// the body. Reading past the size cap fails with an invalid input error.
func (d *Downloader) Open(ctx context.Context, rawURL string) (string, io.ReadCloser, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", nil, apperr.Wrap(apperr.ErrInvalidInput, "pdf_url must be an absolute http or https URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.ErrInvalidInput, "pdf_url: %v", err)
	}
	req.Header.Set("Accept", "application/pdf, application/octet-stream;q=0.9, */*;q=0.1")
	resp, err := d.client.Do(req)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.ErrUpstream, "download pdf: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return "", nil, apperr.Wrap(apperr.ErrUpstream, "download pdf: status %d", resp.StatusCode)
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" &&
		!strings.Contains(ct, "pdf") && !strings.Contains(ct, "octet-stream") {
		resp.Body.Close()
		return "", nil, apperr.Wrap(apperr.ErrInvalidInput, "pdf_url returned content type %s, not a PDF", ct)
	}
	if resp.ContentLength > d.maxBytes {
		resp.Body.Close()
		return "", nil, d.tooLarge()
	}

	name := FilenameFromURL(u)
	d.logger.Debug("downloading pdf", zap.String("host", u.Host), zap.String("file", name))
	return name, &cappedBody{body: resp.Body, left: d.maxBytes, err: d.tooLarge()}, nil
}

func (d *Downloader) tooLarge() error {
	return apperr.Wrap(apperr.ErrInvalidInput, "remote PDF exceeds %d MB", d.maxBytes>>20)
}

// FilenameFromURL is the last path segment of u, defaulting to
// document.pdf and always ending in .pdf.
func FilenameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// cappedBody fails once more than left bytes have been read.
type cappedBody struct {
	body io.ReadCloser
	left int64
	err  error
}

func (c *cappedBody) Read(p []byte) (int, error) {
	if c.left < 0 {
		return 0, c.err
	}
	// One byte past the cap tells a body of exactly the cap from a larger one.
	if int64(len(p)) > c.left+1 {
		p = p[:c.left+1]
	}
	n, err := c.body.Read(p)
	c.left -= int64(n)
	if c.left < 0 {
		return 0, c.err
	}
	if err != nil && err != io.EOF {
		err = apperr.Wrap(apperr.ErrUpstream, "download pdf: %v", err)
	}
	return n, err
}

func (c *cappedBody) Close() error { return c.body.Close() }
