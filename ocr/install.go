package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// installCommand returns the package manager invocation that provides the
// tesseract binary on goos, or nil when there is no known one.
func installCommand(goos string) []string {
	switch goos {
	case "linux":
		return []string{"apt-get", "install", "-y", "tesseract-ocr"}
	case "darwin":
		return []string{"brew", "install", "tesseract"}
	default:
		return nil
	}
}

// EnsureInstalled makes sure binary is on PATH, installing tesseract through
// the system package manager when it is missing. Already present is a no-op.
func EnsureInstalled(ctx context.Context, logger *slog.Logger, binary string) error {
	if logger == nil {
		logger = slog.Default()
	}
	if binary == "" {
		binary = "tesseract"
	}
	if _, err := lookPath(binary); err == nil {
		return nil
	}
	args := installCommand(runtime.GOOS)
	if args == nil {
		return fmt.Errorf("%w: no installer known for %s", ErrUnavailable, runtime.GOOS)
	}
	if _, err := lookPath(args[0]); err != nil {
		return fmt.Errorf("%w: %s not found", ErrUnavailable, args[0])
	}

	logger.Info("ocr: installing tesseract", "command", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Stdout = nil
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: install failed: %v\n%s", ErrUnavailable, err, stderr.String())
	}
	if _, err := lookPath(binary); err != nil {
		return fmt.Errorf("%w: %s still missing after install", ErrUnavailable, binary)
	}
	logger.Info("ocr: tesseract installed")
	return nil
}

// NewEngine builds the engine named by kind ("tesseract" or "gosseract").
func NewEngine(kind string, cfg TesseractConfig) (Engine, error) {
	switch kind {
	case "tesseract", "":
		return NewTesseractCLI(cfg)
	case "gosseract":
		cfg.defaults()
		return NewGosseract(cfg.Languages)
	default:
		return nil, fmt.Errorf("ocr: unknown engine %q", kind)
	}
}
