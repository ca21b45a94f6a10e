package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strings"
	"time"
)

// lookPath resolves engine binaries. Tests replace it to simulate a host
// without tesseract.
var lookPath = exec.LookPath

// TesseractConfig configures the tesseract command-line engine.
type TesseractConfig struct {
	Binary    string        // name on PATH or absolute path, default "tesseract"
	Languages string        // "eng", "eng+fra"
	Timeout   time.Duration // per page, default 2m
	TempDir   string        // where page PNGs are written, default os.TempDir()
}

func (c *TesseractConfig) defaults() {
	if c.Binary == "" {
		c.Binary = "tesseract"
	}
	if c.Languages == "" {
		c.Languages = "eng"
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
}

// TesseractCLI runs the tesseract binary once per page.
type TesseractCLI struct {
	bin string
	cfg TesseractConfig
}

// NewTesseractCLI locates the binary. It returns an error wrapping
// ErrUnavailable when the binary cannot be found.
func NewTesseractCLI(cfg TesseractConfig) (*TesseractCLI, error) {
	cfg.defaults()
	bin, err := lookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrUnavailable, cfg.Binary, err)
	}
	return &TesseractCLI{bin: bin, cfg: cfg}, nil
}

func (t *TesseractCLI) Name() string { return "tesseract" }

// Recognize writes img to a temporary PNG and runs
// `tesseract <png> stdout -l <langs>`.
func (t *TesseractCLI) Recognize(ctx context.Context, img image.Image) (string, error) {
	tmp, err := os.CreateTemp(t.cfg.TempDir, "accesspdf-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp file for OCR: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("encode page for OCR: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file for OCR: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.bin, tmpPath, "stdout", "-l", t.cfg.Languages)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %w\n%s", err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}
