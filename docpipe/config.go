package docpipe

import (
	"context"
	"log/slog"
)

// PageReader recognizes the text of one rendered page. *ocr.Reader
// implements it.
type PageReader interface {
	ReadPage(ctx context.Context, pdfPath string, page int) (string, error)
}

// Config configures the extraction pipeline.
type Config struct {
	// MaxFileSize is the maximum file size to process (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// OCR reads pages without a text layer. Nil disables the fallback.
	OCR PageReader `json:"-" yaml:"-"`

	// OCREngine names the engine behind OCR, for warnings.
	OCREngine string `json:"ocr_engine" yaml:"ocr_engine"`

	// OCRRequired turns an unavailable engine into an extraction error
	// instead of a warning.
	OCRRequired bool `json:"ocr_required" yaml:"ocr_required"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.OCREngine == "" {
		c.OCREngine = "ocr"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
