package docpipe

import "strings"

// Source tells where the text of a page came from.
type Source string

const (
	SourceNative Source = "native" // PDF text layer
	SourceOCR    Source = "ocr"    // recognized on the page raster
	SourceEmpty  Source = "empty"  // no text found
)

// Page is the extraction result for one page.
type Page struct {
	Number     int    `json:"number"` // 1-indexed
	Text       string `json:"text"`
	Source     Source `json:"source"`
	ImageCount int    `json:"image_count"`
	OCRError   string `json:"ocr_error,omitempty"`
}

// Document is the result of extracting content from a PDF.
type Document struct {
	Path     string             `json:"path"`
	Pages    []Page             `json:"pages"`
	Text     string             `json:"text"` // page texts joined with "\n"
	Quality  *ExtractionQuality `json:"quality,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return len(d.Pages) }

// OCRPages returns the numbers of the pages whose text came from OCR.
func (d *Document) OCRPages() []int {
	var out []int
	for _, p := range d.Pages {
		if p.Source == SourceOCR {
			out = append(out, p.Number)
		}
	}
	return out
}

func joinPages(pages []Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n")
}
