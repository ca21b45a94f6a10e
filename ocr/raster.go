package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/tiff"
)

// ErrNoImage is returned by EmbeddedRasterizer for pages without a decodable
// embedded image.
var ErrNoImage = errors.New("ocr: page has no decodable image")

// PdftoppmConfig configures the poppler rasterizer.
type PdftoppmConfig struct {
	Binary  string // default "pdftoppm"
	DPI     int    // default 72
	Timeout time.Duration
	TempDir string
}

func (c *PdftoppmConfig) defaults() {
	if c.Binary == "" {
		c.Binary = "pdftoppm"
	}
	if c.DPI <= 0 {
		c.DPI = 72
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
}

// Pdftoppm renders full pages with poppler's pdftoppm.
type Pdftoppm struct {
	bin string
	cfg PdftoppmConfig
}

// NewPdftoppm locates the binary. It returns an error wrapping ErrUnavailable
// when the binary cannot be found.
func NewPdftoppm(cfg PdftoppmConfig) (*Pdftoppm, error) {
	cfg.defaults()
	bin, err := lookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrUnavailable, cfg.Binary, err)
	}
	return &Pdftoppm{bin: bin, cfg: cfg}, nil
}

func (p *Pdftoppm) Name() string { return "pdftoppm" }

// Rasterize renders page at the configured DPI into a temporary PNG and
// decodes it.
func (p *Pdftoppm) Rasterize(ctx context.Context, pdfPath string, page int) (image.Image, error) {
	dir, err := os.MkdirTemp(p.cfg.TempDir, "accesspdf-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create raster dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, p.bin,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(p.cfg.DPI),
		"-png", "-singlefile",
		pdfPath, prefix,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Stdout = nil

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d failed: %w\n%s", page, err, stderr.String())
	}

	f, err := os.Open(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("open rendered page %d: %w", page, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode rendered page %d: %w", page, err)
	}
	return img, nil
}

// Embedded uses the largest image XObject of the page as its raster. It covers
// the common scanner output of one full-page image per page without any
// external binary.
type Embedded struct{}

func (Embedded) Name() string { return "embedded" }

// Rasterize extracts the page images with pdfcpu and decodes the largest one.
func (Embedded) Rasterize(ctx context.Context, pdfPath string, page int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return largestPageImage(pctx, page)
}

func largestPageImage(pctx *model.Context, page int) (image.Image, error) {
	imgs, err := pdfcpu.ExtractPageImages(pctx, page, false)
	if err != nil {
		return nil, fmt.Errorf("extract images page %d: %w", page, err)
	}
	var best image.Image
	bestArea := 0
	var lastErr error
	for _, pi := range imgs {
		data, err := io.ReadAll(pi)
		if err != nil {
			lastErr = err
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			lastErr = fmt.Errorf("decode %s image: %w", pi.FileType, err)
			continue
		}
		b := img.Bounds()
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = img, area
		}
	}
	if best == nil {
		if lastErr != nil {
			return nil, fmt.Errorf("%w on page %d: %v", ErrNoImage, page, lastErr)
		}
		return nil, fmt.Errorf("%w on page %d", ErrNoImage, page)
	}
	return best, nil
}

// Chain tries each rasterizer in order and returns the first success.
type Chain []Rasterizer

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, r := range c {
		names[i] = r.Name()
	}
	return strings.Join(names, ",")
}

func (c Chain) Rasterize(ctx context.Context, pdfPath string, page int) (image.Image, error) {
	var errs []error
	for _, r := range c {
		img, err := r.Rasterize(ctx, pdfPath, page)
		if err == nil {
			return img, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no rasterizer configured", ErrUnavailable)
	}
	return nil, errors.Join(errs...)
}

// NewRasterizer builds the rasterizer named by mode: "pdftoppm", "embedded"
// or "auto" (pdftoppm when installed, then embedded images).
func NewRasterizer(mode string, cfg PdftoppmConfig) (Rasterizer, error) {
	switch mode {
	case "embedded":
		return Embedded{}, nil
	case "pdftoppm":
		return NewPdftoppm(cfg)
	case "auto", "":
		if p, err := NewPdftoppm(cfg); err == nil {
			return Chain{p, Embedded{}}, nil
		}
		return Embedded{}, nil
	default:
		return nil, fmt.Errorf("ocr: unknown rasterizer %q", mode)
	}
}
