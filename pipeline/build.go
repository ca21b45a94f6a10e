package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/accesspdf/analyze"
	"github.com/hazyhaar/accesspdf/config"
	"github.com/hazyhaar/accesspdf/correct"
	"github.com/hazyhaar/accesspdf/docpipe"
	"github.com/hazyhaar/accesspdf/ingest"
	"github.com/hazyhaar/accesspdf/ocr"
)

// Built is a Runner assembled from the service configuration, holding the
// resources it opened.
type Built struct {
	*Runner
	Extractor *docpipe.Pipeline
	OCREngine string // empty when OCR is disabled
	closers   []io.Closer
}

// Close releases the OCR engine, if it holds one.
func (b *Built) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Build wires extraction, analysis and correction from cfg around store.
// An OCR engine that cannot be located does not fail the build: pages that
// need OCR then report it unavailable when the document is extracted.
func Build(ctx context.Context, cfg *config.Config, store *ingest.Store, metrics Metrics, logger *slog.Logger) (*Built, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Built{}

	reader, engine, closer := buildOCR(ctx, cfg, store.Dir(), logger)
	if closer != nil {
		b.closers = append(b.closers, closer)
	}
	b.OCREngine = engine

	extractor := docpipe.New(docpipe.Config{
		MaxFileSize: cfg.MaxUploadBytes(),
		OCR:         reader,
		OCREngine:   engine,
		OCRRequired: cfg.OCR.Required,
		Logger:      logger.With("component", "docpipe"),
	})

	b.Extractor = extractor

	analyzer, err := analyze.New(analyze.Config{
		HeadingPattern:   cfg.Analysis.HeadingPattern,
		ContrastKeywords: cfg.Analysis.ContrastKeywords,
		SkipOCRIssues:    !cfg.Analysis.FlagOCR,
		Logger:           logger.With("component", "analyze"),
	})
	if err != nil {
		b.Close()
		return nil, err
	}

	corrector := correct.New(correct.Config{
		Scope:  correct.Scope(cfg.Correction.Scope),
		Logger: logger.With("component", "correct"),
	})

	r, err := New(Config{
		Store:     store,
		Extractor: extractor,
		Analyzer:  analyzer,
		Corrector: corrector,
		Metrics:   metrics,
		Timeout:   cfg.RunTimeout,
		Logger:    logger.With("component", "pipeline"),
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Runner = r
	return b, nil
}

// buildOCR returns the page reader for scanned pages, the engine name and
// an optional closer. A nil reader disables OCR.
func buildOCR(ctx context.Context, cfg *config.Config, tmpDir string, logger *slog.Logger) (docpipe.PageReader, string, io.Closer) {
	oc := cfg.OCR
	if !oc.Enabled {
		logger.Info("ocr disabled")
		return nil, "", nil
	}

	if oc.AutoInstall && oc.Engine == "tesseract" {
		if err := ocr.EnsureInstalled(ctx, logger, oc.Binary); err != nil {
			logger.Warn("tesseract auto-install failed", "error", err)
		}
	}

	engine, err := ocr.NewEngine(oc.Engine, ocr.TesseractConfig{
		Binary:    oc.Binary,
		Languages: cfg.OCRLanguages(),
		Timeout:   oc.Timeout,
		TempDir:   tmpDir,
	})
	if err != nil {
		logger.Warn("ocr engine unavailable, scanned pages will be reported", "engine", oc.Engine, "error", err)
		return unavailableReader{err: asUnavailable(err)}, oc.Engine, nil
	}
	var closer io.Closer
	if c, ok := engine.(io.Closer); ok {
		closer = c
	}

	raster, err := ocr.NewRasterizer(oc.Rasterizer, ocr.PdftoppmConfig{
		Binary:  oc.PdftoppmBinary,
		DPI:     oc.DPI,
		Timeout: oc.Timeout,
		TempDir: tmpDir,
	})
	if err != nil {
		logger.Warn("page rasterizer unavailable", "rasterizer", oc.Rasterizer, "error", err)
		return unavailableReader{err: asUnavailable(err)}, engine.Name(), closer
	}

	logger.Info("ocr ready", "engine", engine.Name(), "rasterizer", raster.Name(), "languages", cfg.OCRLanguages())
	return ocr.NewReader(engine, raster, ocr.Config{
		ContrastFactor: oc.ContrastFactor,
		MinWidth:       oc.MinWidth,
	}), engine.Name(), closer
}

// unavailableReader stands in for an OCR engine that could not be built.
type unavailableReader struct{ err error }

func (u unavailableReader) ReadPage(context.Context, string, int) (string, error) {
	return "", u.err
}

func asUnavailable(err error) error {
	if errors.Is(err, ocr.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ocr.ErrUnavailable, err)
}
