package models

// RenderMetadata describes the images produced by local first-page rendering.
type RenderMetadata struct {
	PDFFile        string          `json:"pdf_file"`
	TotalPages     int             `json:"total_pages"`
	TotalRenders   int             `json:"total_renders"`
	TotalImages    int             `json:"total_images"`
	ExtractionTime float64         `json:"extraction_time"`
	RenderDPI      int             `json:"render_dpi"`
	Note           string          `json:"note"`
	Renders        []PageRender    `json:"renders"`
	Images         []EmbeddedImage `json:"images"`
}

type PageRender struct {
	Filename     string `json:"filename"`
	PageNumber   int    `json:"page_number"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Format       string `json:"format"`
	SizeBytes    int64  `json:"size_bytes"`
	OCRFilename  string `json:"ocr_filename"`
	OCRWidth     int    `json:"ocr_width"`
	OCRHeight    int    `json:"ocr_height"`
	OCRSizeBytes int64  `json:"ocr_size_bytes"`
	OCRResized   bool   `json:"ocr_resized"`
}

// EmbeddedImage is an image drawn on the page. Width and Height are the
// pixel size of the stored image; the box is in PDF points with the origin
// at the bottom left of the page.
type EmbeddedImage struct {
	Filename   string  `json:"filename"`
	PageNumber int     `json:"page_number"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Format     string  `json:"format"`
	SizeBytes  int64   `json:"size_bytes"`
	ColorSpace string  `json:"color_space"`
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	BBoxWidth  float64 `json:"bbox_width"`
	BBoxHeight float64 `json:"bbox_height"`
}
