package render

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// onePagePDF has no xref table; MuPDF repairs it on open.
const onePagePDF = "%PDF-1.4\n" +
	"1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n" +
	"2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n" +
	"3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 72 144] >>\nendobj\n" +
	"trailer\n<< /Root 1 0 R >>\n%%EOF\n"

func TestOCRDPI(t *testing.T) {
	if got := OCRDPI(200, 7000, 7600); got != 200 {
		t.Fatalf("page under the limit should keep dpi, got %v", got)
	}
	if got := OCRDPI(200, 15200, 7600); got != 100 {
		t.Fatalf("expected dpi halved, got %v", got)
	}
}

func TestRenderFirstPage(t *testing.T) {
	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "tall.pdf")
	if err := os.WriteFile(pdfPath, []byte(onePagePDF), 0o600); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	out := t.TempDir()

	r := NewFitzRenderer(100)
	res, err := r.RenderFirstPage(context.Background(), pdfPath, out, 72)
	if err != nil {
		t.Fatalf("RenderFirstPage: %v", err)
	}
	if len(res.Files) != 1 || filepath.Base(res.Files[0]) != "page001_render.png" {
		t.Fatalf("unexpected files %v", res.Files)
	}
	if _, err := os.Stat(filepath.Join(out, "page001_render_ocr.png")); err != nil {
		t.Fatalf("ocr render missing: %v", err)
	}
	meta := res.Metadata
	if meta.TotalPages != 1 || meta.RenderDPI != 72 || len(meta.Renders) != 1 || meta.TotalImages != 0 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	rend := meta.Renders[0]
	if rend.Height <= 100 {
		t.Fatalf("expected render taller than the ocr limit, got %d", rend.Height)
	}
	if !rend.OCRResized || rend.OCRHeight > 100 {
		t.Fatalf("ocr render not capped: %+v", rend)
	}
}

func TestRenderFirstPageCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFitzRenderer(0).RenderFirstPage(ctx, "missing.pdf", t.TempDir(), 0); err == nil {
		t.Fatalf("expected canceled context to abort")
	}
}
