// Package ocr recognizes text on page rasters for scanned PDFs.
//
// A page is turned into an image by a Rasterizer, prepared with Enhance
// (grayscale, contrast boost, optional upscale) and read by an Engine. Engines
// that cannot run on this host report ErrUnavailable so callers can degrade
// to the native text layer instead of failing the document.
package ocr

import (
	"context"
	"errors"
	"image"
)

// ErrUnavailable is returned when no OCR engine can be located or loaded.
var ErrUnavailable = errors.New("ocr: engine unavailable")

// Engine recognizes text in a prepared image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Rasterizer turns one page of a PDF file into an image.
// Page numbers are 1-indexed.
type Rasterizer interface {
	Name() string
	Rasterize(ctx context.Context, pdfPath string, page int) (image.Image, error)
}

// Config configures the OCR fallback as a whole.
type Config struct {
	ContrastFactor float64 // 2.0 doubles the distance to the mean luminance
	MinWidth       int     // rasters narrower than this are upscaled; 0 disables
}

func (c *Config) defaults() {
	if c.ContrastFactor <= 0 {
		c.ContrastFactor = 2.0
	}
}

// Reader chains rasterizing, enhancement and recognition for one page.
type Reader struct {
	engine Engine
	raster Rasterizer
	cfg    Config
}

// NewReader returns a Reader. engine and raster must be non-nil.
func NewReader(engine Engine, raster Rasterizer, cfg Config) *Reader {
	cfg.defaults()
	return &Reader{engine: engine, raster: raster, cfg: cfg}
}

// Engine returns the engine name, for logs and reports.
func (r *Reader) Engine() string { return r.engine.Name() }

// ReadPage rasterizes, enhances and recognizes one page.
func (r *Reader) ReadPage(ctx context.Context, pdfPath string, page int) (string, error) {
	img, err := r.raster.Rasterize(ctx, pdfPath, page)
	if err != nil {
		return "", err
	}
	prepared := Enhance(img, r.cfg.ContrastFactor, r.cfg.MinWidth)
	return r.engine.Recognize(ctx, prepared)
}
