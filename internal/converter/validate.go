package converter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"pdfhtmlgo/internal/apperr"
)

var pdfMagic = []byte("%PDF-")

// ValidatePDF rejects files that are not PDFs by name, sniffed type, or header.
func ValidatePDF(filename string, r io.Reader) error {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return apperr.Wrap(apperr.ErrInvalidInput, "only PDF files are accepted")
	}
	head := make([]byte, 3072)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if !bytes.HasPrefix(head, pdfMagic) {
		return apperr.Wrap(apperr.ErrInvalidInput, "file does not start with a PDF header")
	}
	if mt := mimetype.Detect(head); !mt.Is("application/pdf") {
		return apperr.Wrap(apperr.ErrInvalidInput, "file content is %s, not a PDF", mt.String())
	}
	return nil
}

// ValidatePDFFile is ValidatePDF for a file on disk.
func ValidatePDFFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return ValidatePDF(path, f)
}
