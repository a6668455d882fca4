package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"

	"pdfhtmlgo/internal/models"
)

// pageImage is one <img> of MuPDF's structured text HTML.
type pageImage struct {
	data []byte
	box  box
}

// box is in PDF points with the origin at the top left of the page.
type box struct {
	x0, y0, x1, y1 float64
}

// extractPageImages writes the images MuPDF found on the page to outputDir
// in drawing order and returns their metadata and paths. pageHTML is the
// output of fitz Document.HTML, which inlines every image as a data URI.
func extractPageImages(pageHTML, outputDir string, page int, pageHeight float64) ([]models.EmbeddedImage, []string, error) {
	found := parsePageImages(pageHTML)
	images := make([]models.EmbeddedImage, 0, len(found))
	paths := make([]string, 0, len(found))
	for i, img := range found {
		ext := strings.TrimPrefix(mimetype.Detect(img.data).Extension(), ".")
		if ext == "" {
			ext = "bin"
		}
		name := fmt.Sprintf("page%03d_img%02d.%s", page, i+1, ext)
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, img.data, 0o644); err != nil {
			return nil, nil, fmt.Errorf("write %s: %w", name, err)
		}

		meta := models.EmbeddedImage{
			Filename:   name,
			PageNumber: page,
			Format:     ext,
			SizeBytes:  int64(len(img.data)),
			ColorSpace: "unknown",
			X0:         img.box.x0,
			X1:         img.box.x1,
			Y0:         pageHeight - img.box.y1,
			Y1:         pageHeight - img.box.y0,
		}
		meta.BBoxWidth = math.Max(0, meta.X1-meta.X0)
		meta.BBoxHeight = math.Max(0, meta.Y1-meta.Y0)
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(img.data)); err == nil {
			meta.Width, meta.Height = cfg.Width, cfg.Height
			meta.ColorSpace = colorSpace(cfg.ColorModel)
		}
		images = append(images, meta)
		paths = append(paths, path)
	}
	return images, paths, nil
}

func parsePageImages(pageHTML string) []pageImage {
	var out []pageImage
	z := html.NewTokenizer(strings.NewReader(pageHTML))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "img" {
				continue
			}
			var src, style, width, height string
			for _, a := range tok.Attr {
				switch a.Key {
				case "src":
					src = a.Val
				case "style":
					style = a.Val
				case "width":
					width = a.Val
				case "height":
					height = a.Val
				}
			}
			data, ok := decodeDataURI(src)
			if !ok {
				continue
			}
			out = append(out, pageImage{data: data, box: imageBox(style, width, height)})
		}
	}
}

func decodeDataURI(src string) ([]byte, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(src), "data:")
	if !ok {
		return nil, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// imageBox reads the placement MuPDF writes, either absolute top/left with
// a size or a CSS matrix applied around the element center.
func imageBox(style, widthAttr, heightAttr string) box {
	decl := map[string]string{}
	for _, part := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(part, ":")
		if ok {
			decl[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
	w, okW := length(decl["width"])
	if !okW {
		w, okW = length(widthAttr)
	}
	h, okH := length(decl["height"])
	if !okH {
		h, okH = length(heightAttr)
	}
	if !okW || !okH {
		return box{}
	}

	if m, ok := matrix(decl["transform"]); ok {
		cx, cy := w/2, h/2
		b := box{x0: math.Inf(1), y0: math.Inf(1), x1: math.Inf(-1), y1: math.Inf(-1)}
		for _, p := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
			dx, dy := p[0]-cx, p[1]-cy
			x := m[0]*dx + m[2]*dy + m[4] + cx
			y := m[1]*dx + m[3]*dy + m[5] + cy
			b.x0, b.x1 = math.Min(b.x0, x), math.Max(b.x1, x)
			b.y0, b.y1 = math.Min(b.y0, y), math.Max(b.y1, y)
		}
		return b
	}

	top, okT := length(decl["top"])
	left, okL := length(decl["left"])
	if !okT || !okL {
		return box{}
	}
	return box{x0: left, y0: top, x1: left + w, y1: top + h}
}

func length(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(v), "pt"), "px")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func matrix(v string) ([6]float64, bool) {
	var m [6]float64
	inner, ok := strings.CutPrefix(strings.TrimSpace(v), "matrix(")
	if !ok {
		return m, false
	}
	parts := strings.Split(strings.TrimSuffix(inner, ")"), ",")
	if len(parts) != 6 {
		return m, false
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return m, false
		}
		m[i] = f
	}
	return m, true
}

func colorSpace(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "Indexed"
	}
	switch m {
	case color.GrayModel, color.Gray16Model:
		return "DeviceGray"
	case color.CMYKModel:
		return "DeviceCMYK"
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model, color.YCbCrModel:
		return "DeviceRGB"
	}
	return "unknown"
}
