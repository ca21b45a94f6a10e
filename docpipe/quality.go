package docpipe

import (
	"strings"
	"unicode"
)

// ExtractionQuality captures metrics about text extraction quality. It is
// informational: analysis never depends on it.
type ExtractionQuality struct {
	PageCount       int     `json:"page_count"`
	CharsPerPage    float64 `json:"chars_per_page"`
	PrintableRatio  float64 `json:"printable_ratio"`
	WordlikeRatio   float64 `json:"wordlike_ratio"`
	HasImageStreams bool    `json:"has_image_streams"`
	OCRPages        int     `json:"ocr_pages"`
	EmptyPages      int     `json:"empty_pages"`
}

// Garbled returns true if the text layer looks like undecodable glyphs
// (CIDFont without ToUnicode and the like).
func (q *ExtractionQuality) Garbled() bool {
	return q.PrintableRatio < 0.85 || (q.CharsPerPage > 0 && q.WordlikeRatio < 0.3)
}

func computeQuality(doc *Document, hasImages bool) *ExtractionQuality {
	q := &ExtractionQuality{
		PageCount:       len(doc.Pages),
		PrintableRatio:  computePrintableRatio(doc.Text),
		WordlikeRatio:   computeWordlikeRatio(doc.Text),
		HasImageStreams: hasImages,
	}
	total := 0
	for _, p := range doc.Pages {
		total += len([]rune(p.Text))
		switch p.Source {
		case SourceOCR:
			q.OCRPages++
		case SourceEmpty:
			q.EmptyPages++
		}
	}
	if q.PageCount > 0 {
		q.CharsPerPage = float64(total) / float64(q.PageCount)
	}
	return q
}

// computePrintableRatio returns the ratio of printable characters in text.
// Excludes PUA U+E000-U+F8FF, control chars < U+0020 (except \n\r\t), U+FFFD.
func computePrintableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	// Private Use Area
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	// Replacement character
	if r == 0xFFFD {
		return true
	}
	// Control chars except whitespace
	if r < 0x0020 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	return false
}

// computeWordlikeRatio returns the ratio of word-like tokens (length 2-15) to total tokens.
func computeWordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
