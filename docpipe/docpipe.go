// Package docpipe extracts per-page text from PDF files.
//
// Each page is read from its native text layer first (ledongthuc/pdf, with a
// pdfcpu content-stream scan as fallback). Pages whose text is empty after
// trimming go through the configured OCR reader. The result keeps per-page
// provenance, the image count of every page and human-readable warnings for
// degraded runs.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{OCR: reader})
//	doc, err := pipe.Extract(ctx, "/path/to/file.pdf")
//	fmt.Println(len(doc.Pages), "pages", doc.Warnings)
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrTooLarge is returned when the file exceeds Config.MaxFileSize.
var ErrTooLarge = errors.New("docpipe: file too large")

// Pipeline is the PDF extraction engine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// OCREnabled reports whether scanned pages will be sent to an OCR reader.
func (p *Pipeline) OCREnabled() bool { return p.cfg.OCR != nil }

// Extract reads every page of the PDF at path.
func (p *Pipeline) Extract(ctx context.Context, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, info.Size(), p.cfg.MaxFileSize)
	}

	p.logger.Debug("extracting document", "path", path, "size", info.Size())

	doc, err := p.extractPDF(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	return doc, nil
}
