// Package render rasterizes the first page of a PDF locally with MuPDF.
package render

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gen2brain/go-fitz"

	"pdfhtmlgo/internal/apperr"
	"pdfhtmlgo/internal/models"
)

const (
	DefaultDPI          = 200
	MaxDPI              = 600
	DefaultMaxOCRHeight = 7600
)

// Renderer produces page images for embedding.
type Renderer interface {
	RenderFirstPage(ctx context.Context, pdfPath, outputDir string, dpi int) (*Rendering, error)
}

// Rendering lists the produced images in the order they should replace
// <img> sources, plus the metadata persisted next to them.
type Rendering struct {
	Files    []string
	Metadata *models.RenderMetadata
}

// FitzRenderer renders with go-fitz. MuPDF contexts are not safe for
// concurrent use across documents on every platform, so renders are
// serialized.
type FitzRenderer struct {
	maxOCRHeight int
	mu           sync.Mutex
}

func NewFitzRenderer(maxOCRHeight int) *FitzRenderer {
	if maxOCRHeight <= 0 {
		maxOCRHeight = DefaultMaxOCRHeight
	}
	return &FitzRenderer{maxOCRHeight: maxOCRHeight}
}

// RenderFirstPage writes page001_render.png at dpi, page001_render_ocr.png
// capped at the OCR height limit, and every image drawn on the page. Files
// lists the render first, then the page images in drawing order.
func (r *FitzRenderer) RenderFirstPage(ctx context.Context, pdfPath, outputDir string, dpi int) (*Rendering, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConversion, "open pdf for rendering: %v", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "pdf has no pages")
	}
	img, err := doc.ImageDPI(0, float64(dpi))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConversion, "render page 1: %v", err)
	}

	const page = 1
	renderName := fmt.Sprintf("page%03d_render.png", page)
	renderPath := filepath.Join(outputDir, renderName)
	renderSize, err := writePNG(renderPath, img)
	if err != nil {
		return nil, err
	}

	ocrImg := image.Image(img)
	resized := false
	if h := img.Bounds().Dy(); h > r.maxOCRHeight {
		ocrDPI := OCRDPI(dpi, h, r.maxOCRHeight)
		scaled, err := doc.ImageDPI(0, ocrDPI)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrConversion, "render ocr page 1: %v", err)
		}
		ocrImg = scaled
		resized = true
	}
	ocrName := fmt.Sprintf("page%03d_render_ocr.png", page)
	ocrSize, err := writePNG(filepath.Join(outputDir, ocrName), ocrImg)
	if err != nil {
		return nil, err
	}

	pageHTML, err := doc.HTML(0, false)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrConversion, "read page 1 images: %v", err)
	}
	pageHeight := float64(img.Bounds().Dy()) * 72 / float64(dpi)
	images, imagePaths, err := extractPageImages(pageHTML, outputDir, page, pageHeight)
	if err != nil {
		return nil, err
	}

	meta := &models.RenderMetadata{
		PDFFile:        filepath.Base(pdfPath),
		TotalPages:     doc.NumPage(),
		TotalRenders:   1,
		TotalImages:    len(images),
		ExtractionTime: time.Since(started).Round(100 * time.Microsecond).Seconds(),
		RenderDPI:      dpi,
		Note:           "Only the first page is rendered. Coordinates are in PDF points (72 points = 1 inch). Origin (0,0) is at bottom-left of page.",
		Renders: []models.PageRender{{
			Filename:     renderName,
			PageNumber:   page,
			Width:        img.Bounds().Dx(),
			Height:       img.Bounds().Dy(),
			Format:       "png",
			SizeBytes:    renderSize,
			OCRFilename:  ocrName,
			OCRWidth:     ocrImg.Bounds().Dx(),
			OCRHeight:    ocrImg.Bounds().Dy(),
			OCRSizeBytes: ocrSize,
			OCRResized:   resized,
		}},
		Images: images,
	}
	files := append([]string{renderPath}, imagePaths...)
	return &Rendering{Files: files, Metadata: meta}, nil
}

// OCRDPI returns the resolution at which a page rendered height pixels tall
// at dpi fits within maxHeight.
func OCRDPI(dpi, height, maxHeight int) float64 {
	if height <= maxHeight || height <= 0 {
		return float64(dpi)
	}
	return float64(dpi) * float64(maxHeight) / float64(height)
}

func writePNG(path string, img image.Image) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return 0, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
