// Package extractor talks to the external pdf-image-extractor service, which
// serves page renders and embedded images of a PDF by session id.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pdfhtmlgo/internal/apperr"
)

const (
	DefaultTimeout   = 20 * time.Second
	maxMetadataBytes = 4 << 20
	maxImageBytes    = 50 << 20
)

// Client fetches session metadata and images.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

func NewClient(timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: &http.Client{Timeout: timeout}, logger: logger}
}

// pageNumber accepts 1, 1.0 and "1". A fractional value names no page.
type pageNumber int

func (p *pageNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("page_number %s: %w", data, err)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		*p = 0
		return nil
	}
	*p = pageNumber(f)
	return nil
}

type sessionItem struct {
	Filename   string     `json:"filename"`
	URL        string     `json:"url"`
	PageNumber pageNumber `json:"page_number"`
}

type sessionMetadata struct {
	Renders []sessionItem `json:"renders"`
	Images  []sessionItem `json:"images"`
}

// ValidateBaseURL accepts only absolute http(s) URLs.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperr.Wrap(apperr.ErrInvalidInput, "extractor_base_url must be an absolute http(s) URL")
	}
	return nil
}

// ImageURLs lists the image URLs of a session: page renders first, then
// embedded images, each in metadata order.
func (c *Client) ImageURLs(ctx context.Context, baseURL, sessionID string, firstPageOnly bool) ([]string, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	session := url.PathEscape(sessionID)
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/metadata", base, session)

	body, _, err := c.get(ctx, endpoint, maxMetadataBytes)
	if err != nil {
		return nil, err
	}
	var meta sessionMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, apperr.Wrap(apperr.ErrUpstream, "decode extractor metadata: %v", err)
	}

	imagesBase := fmt.Sprintf("%s/api/v1/images/%s", base, session)
	var urls []string
	collect := func(items []sessionItem) {
		for _, it := range items {
			if firstPageOnly && it.PageNumber != 1 {
				continue
			}
			switch {
			case it.URL != "":
				urls = append(urls, it.URL)
			case it.Filename != "":
				urls = append(urls, imagesBase+"/"+url.PathEscape(it.Filename))
			}
		}
	}
	collect(meta.Renders)
	collect(meta.Images)
	c.logger.Debug("extractor session images", zap.String("session", sessionID), zap.Int("count", len(urls)))
	return urls, nil
}

// Fetch downloads one image and reports its media type.
func (c *Client) Fetch(ctx context.Context, imageURL string) ([]byte, string, error) {
	return c.get(ctx, imageURL, maxImageBytes)
}

func (c *Client) get(ctx context.Context, endpoint string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.ErrUpstream, "build extractor request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.ErrUpstream, "extractor unreachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", apperr.Wrap(apperr.ErrUpstream, "extractor returned %d for %s", resp.StatusCode, endpoint)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", apperr.Wrap(apperr.ErrUpstream, "read extractor response: %v", err)
	}
	if int64(len(body)) > limit {
		return nil, "", apperr.Wrap(apperr.ErrUpstream, "extractor response exceeds %d bytes", limit)
	}
	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	return body, contentType, nil
}
