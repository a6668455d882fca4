// Package strategy decides how image references in generated HTML are
// resolved and applies that decision to a converted document.
package strategy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/extractor"
	"pdfhtmlgo/internal/htmlrewrite"
	"pdfhtmlgo/internal/models"
	"pdfhtmlgo/internal/render"
)

// MetadataFilename is written into the output directory by local rendering.
const MetadataFilename = "metadata.json"

// Resolve picks the strategy for a conversion. An explicit value wins; with
// none, extractor_urls is chosen when both extractor parameters are present
// and assets_urls otherwise.
func Resolve(requested, extractorBaseURL, sessionID string) (models.ImageStrategy, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	hasExtractor := strings.TrimSpace(extractorBaseURL) != "" && strings.TrimSpace(sessionID) != ""

	var chosen models.ImageStrategy
	if requested == "" {
		chosen = models.StrategyAssetURLs
		if hasExtractor {
			chosen = models.StrategyExtractorURLs
		}
	} else {
		chosen = models.ImageStrategy(requested)
		if !Known(chosen) {
			return "", apperr.Wrap(apperr.ErrInvalidInput, "unknown image_strategy %q", requested)
		}
	}

	if chosen == models.StrategyExtractorEmbed || chosen == models.StrategyExtractorURLs {
		if !hasExtractor {
			return "", apperr.Wrap(apperr.ErrInvalidInput, "%s requires extractor_base_url and extractor_session_id", chosen)
		}
		if err := extractor.ValidateBaseURL(extractorBaseURL); err != nil {
			return "", err
		}
	}
	return chosen, nil
}

// Known reports whether s is one of the supported strategies.
func Known(s models.ImageStrategy) bool {
	for _, v := range models.Strategies {
		if v == s {
			return true
		}
	}
	return false
}

// ImageSource is the extractor surface the applier needs.
type ImageSource interface {
	ImageURLs(ctx context.Context, baseURL, sessionID string, firstPageOnly bool) ([]string, error)
	Fetch(ctx context.Context, imageURL string) ([]byte, string, error)
}

// Request carries everything a strategy may need.
type Request struct {
	Strategy         models.ImageStrategy
	PDFPath          string
	OutputDir        string
	RenderDPI        int
	ExtractorBaseURL string
	ExtractorSession string
}

// Outcome is the rewritten document plus what the strategy produced.
type Outcome struct {
	HTML           string
	EmbeddedImages int
	Metadata       *models.RenderMetadata
	MetadataFile   string
}

// Applier rewrites image references of a document.
type Applier struct {
	renderer render.Renderer
	images   ImageSource
	logger   *zap.Logger
}

func NewApplier(renderer render.Renderer, images ImageSource, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{renderer: renderer, images: images, logger: logger}
}

// Apply rewrites doc according to req.Strategy. Relative references that
// remain are left for the caller to publish.
func (a *Applier) Apply(ctx context.Context, req Request, doc string) (*Outcome, error) {
	switch req.Strategy {
	case models.StrategyLocalEmbed:
		return a.localEmbed(ctx, req, doc)
	case models.StrategyExtractorEmbed:
		return a.extractorEmbed(ctx, req, doc)
	case models.StrategyExtractorURLs:
		urls, err := a.images.ImageURLs(ctx, req.ExtractorBaseURL, req.ExtractorSession, true)
		if err != nil {
			return nil, err
		}
		// Linked, not embedded.
		html, _ := htmlrewrite.ReplaceImageSources(doc, urls)
		return &Outcome{HTML: html}, nil
	case models.StrategyAssetURLs:
		return &Outcome{HTML: doc}, nil
	default:
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "unknown image_strategy %q", req.Strategy)
	}
}

func (a *Applier) localEmbed(ctx context.Context, req Request, doc string) (*Outcome, error) {
	if a.renderer == nil {
		return nil, apperr.Wrap(apperr.ErrConversion, "local rendering is not available")
	}
	rendering, err := a.renderer.RenderFirstPage(ctx, req.PDFPath, req.OutputDir, req.RenderDPI)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(rendering.Metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode render metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, MetadataFilename), data, 0o644); err != nil {
		return nil, fmt.Errorf("write render metadata: %w", err)
	}

	uris := make([]string, 0, len(rendering.Files))
	for _, path := range rendering.Files {
		uri, err := FileDataURI(path)
		if err != nil {
			a.logger.Warn("skip unreadable render", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		uris = append(uris, uri)
	}
	html, embedded := htmlrewrite.ReplaceImageSources(doc, uris)
	return &Outcome{
		HTML:           html,
		EmbeddedImages: embedded,
		Metadata:       rendering.Metadata,
		MetadataFile:   MetadataFilename,
	}, nil
}

func (a *Applier) extractorEmbed(ctx context.Context, req Request, doc string) (*Outcome, error) {
	urls, err := a.images.ImageURLs(ctx, req.ExtractorBaseURL, req.ExtractorSession, true)
	if err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(urls))
	for _, u := range urls {
		body, contentType, err := a.images.Fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		uris = append(uris, DataURI(body, contentType, u))
	}
	html, embedded := htmlrewrite.ReplaceImageSources(doc, uris)
	return &Outcome{HTML: html, EmbeddedImages: embedded}, nil
}

// FileDataURI encodes the file at path as a data: URI.
func FileDataURI(path string) (string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return DataURI(body, "", path), nil
}

// DataURI encodes body as a base64 data: URI. The media type comes from
// contentType when it is an image type, then from the extension of name, then
// from sniffing the bytes.
func DataURI(body []byte, contentType, name string) string {
	return "data:" + mediaType(body, contentType, name) + ";base64," + base64.StdEncoding.EncodeToString(body)
}

func mediaType(body []byte, contentType, name string) string {
	if strings.HasPrefix(contentType, "image/") {
		return contentType
	}
	ext := filepath.Ext(name)
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if t := mime.TypeByExtension(strings.ToLower(ext)); strings.HasPrefix(t, "image/") {
		return strings.TrimSpace(strings.Split(t, ";")[0])
	}
	return mimetype.Detect(body).String()
}
