package models

import (
	"path/filepath"
	"time"
)

// ImageStrategy selects how image references in generated HTML are resolved.
type ImageStrategy string

const (
	StrategyLocalEmbed     ImageStrategy = "pymupdf_embed"
	StrategyExtractorEmbed ImageStrategy = "extractor_embed"
	StrategyExtractorURLs  ImageStrategy = "extractor_urls"
	StrategyAssetURLs      ImageStrategy = "assets_urls"
)

// Strategies lists every supported strategy in wire order.
var Strategies = []ImageStrategy{
	StrategyLocalEmbed,
	StrategyExtractorEmbed,
	StrategyExtractorURLs,
	StrategyAssetURLs,
}

// ConversionProcess is one completed PDF to HTML conversion. It owns
// OutputDir exclusively and becomes invisible once ExpiresAt has passed.
type ConversionProcess struct {
	ID              string        `json:"process_id"`
	OutputDir       string        `json:"output_dir"`
	HTMLPath        string        `json:"primary_html_path"`
	AdditionalFiles []string      `json:"additional_files"`
	ImageStrategy   ImageStrategy `json:"image_strategy"`
	EmbeddedImages  int           `json:"embedded_images"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
}

// HTMLFilename returns the base name of the primary HTML file.
func (p *ConversionProcess) HTMLFilename() string {
	return filepath.Base(p.HTMLPath)
}

// Expired reports whether the process is no longer visible at now.
func (p *ConversionProcess) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
