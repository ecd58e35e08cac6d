package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a PDF yields no extractable text, e.g. a
// scanned document without an OCR layer.
var ErrNoText = errors.New("no text could be extracted from the PDF")

// TextExtractor pulls the plain text out of a document on disk.
type TextExtractor interface {
	ExtractText(path string) (string, error)
}

// PDFExtractor implements TextExtractor for PDF files.
type PDFExtractor struct{}

// ExtractText returns every page's text, each preceded by a
// "--- Page N ---" marker, trimmed of surrounding whitespace.
func (PDFExtractor) ExtractText(path string) (text string, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("error extracting text from PDF: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("error extracting text from PDF: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("error extracting text from page %d: %w", i, err)
		}
		if pageText == "" {
			continue
		}
		fmt.Fprintf(&b, "\n--- Page %d ---\n%s", i, pageText)
	}
	return strings.TrimSpace(b.String()), nil
}

// ValidatePDF reports whether path parses as a PDF.
func ValidatePDF(path string) bool {
	ok := false
	func() {
		defer func() { _ = recover() }()
		f, r, err := pdf.Open(path)
		if err != nil {
			return
		}
		defer f.Close()
		ok = r.NumPage() > 0
	}()
	return ok
}
