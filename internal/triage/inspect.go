package triage

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFInfo is what triage needs to know about an accepted PDF.
type PDFInfo struct {
	Pages   int
	HasText bool
}

// PDFInspector validates a PDF and probes it for a text layer. A scanned PDF
// (no text layer) is routed to rendering and OCR instead of extraction.
type PDFInspector interface {
	Inspect(path string) (PDFInfo, error)
}

// Inspector is the production PDFInspector.
type Inspector struct {
	// Verify runs full structural validation before probing. Disabled it
	// still rejects files the page counter cannot open.
	Verify bool
}

// Inspect returns page count and text-layer presence for the PDF at path.
func (i *Inspector) Inspect(path string) (PDFInfo, error) {
	if i.Verify {
		if err := api.ValidateFile(path, nil); err != nil {
			return PDFInfo{}, fmt.Errorf("validate pdf: %w", err)
		}
	}

	pages, err := api.PageCountFile(path)
	if err != nil {
		return PDFInfo{}, fmt.Errorf("count pdf pages: %w", err)
	}

	hasText, err := probeTextLayer(path, pages)
	if err != nil {
		return PDFInfo{}, err
	}

	return PDFInfo{Pages: pages, HasText: hasText}, nil
}

// probeTextLayer reports whether any of the first pages carries extractable
// text. Probing a handful of pages is enough to separate born-digital PDFs
// from scans.
func probeTextLayer(path string, pages int) (bool, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return false, fmt.Errorf("open pdf for text probe: %w", err)
	}
	defer doc.Close()

	probe := pages
	if probe > 5 {
		probe = 5
	}
	for p := 0; p < probe; p++ {
		text, err := doc.Text(p)
		if err != nil {
			return false, fmt.Errorf("probe pdf page %d: %w", p+1, err)
		}
		if strings.TrimSpace(text) != "" {
			return true, nil
		}
	}
	return false, nil
}
