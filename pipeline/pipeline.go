// Package pipeline drives one accessibility check: extract the text of an
// ingested PDF, analyze it, and write the corrected copy next to it.
//
// The stages run sequentially on the caller's goroutine. Each stage gets an
// OpenTelemetry span and a duration metric; a failing stage is reported as
// an *Error naming it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hazyhaar/accesspdf/analyze"
	"github.com/hazyhaar/accesspdf/correct"
	"github.com/hazyhaar/accesspdf/docpipe"
	"github.com/hazyhaar/accesspdf/ingest"
	"github.com/hazyhaar/accesspdf/observability"
)

const tracerName = "github.com/hazyhaar/accesspdf/pipeline"

// Stage names a pipeline step.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageExtract Stage = "extract"
	StageAnalyze Stage = "analyze"
	StageCorrect Stage = "correct"
)

// Error reports the stage a run failed in.
type Error struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor reads per-page text. *docpipe.Pipeline implements it.
type Extractor interface {
	Extract(ctx context.Context, path string) (*docpipe.Document, error)
}

// Analyzer turns an extraction into a report. *analyze.Analyzer implements it.
type Analyzer interface {
	Analyze(doc *docpipe.Document) analyze.Report
}

// Corrector writes the corrected copy. *correct.Corrector implements it.
type Corrector interface {
	Correct(ctx context.Context, src, dst string, report analyze.Report) (*correct.Result, error)
}

// Metrics receives run measurements. *observability.MetricsManager
// implements it.
type Metrics interface {
	RecordDuration(name string, d time.Duration, labels map[string]string)
	RecordCount(name string, n int, labels map[string]string)
}

// Config wires a Runner.
type Config struct {
	Store     *ingest.Store
	Extractor Extractor
	Analyzer  Analyzer
	Corrector Corrector

	// Metrics is optional.
	Metrics Metrics

	// Timeout bounds one run. Zero means no bound beyond the caller's context.
	Timeout time.Duration

	Logger *slog.Logger
}

// Runner executes check runs.
type Runner struct {
	cfg    Config
	tracer trace.Tracer
	logger *slog.Logger
}

// New validates cfg and returns a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil || cfg.Extractor == nil || cfg.Analyzer == nil || cfg.Corrector == nil {
		return nil, errors.New("pipeline: store, extractor, analyzer and corrector are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
		logger: cfg.Logger,
	}, nil
}

// Store returns the document store runs read from and write to.
func (r *Runner) Store() *ingest.Store { return r.cfg.Store }

// Result is the outcome of one run.
type Result struct {
	Document   *ingest.Document  `json:"document"`
	Extraction *docpipe.Document `json:"extraction"`
	Report     analyze.Report    `json:"report"`
	Corrected  *correct.Result   `json:"corrected"`
	Duration   time.Duration     `json:"duration_ns"`
}

// Run extracts, analyzes and corrects doc. Analysis always completes before
// correction starts.
func (r *Runner) Run(ctx context.Context, doc *ingest.Document) (*Result, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	ctx, span := r.tracer.Start(ctx, "accesspdf.check", trace.WithAttributes(
		attribute.String("document.id", doc.ID),
		attribute.Int64("document.size_bytes", doc.SizeBytes),
	))
	defer span.End()

	start := time.Now()
	log := r.logger.With("document_id", doc.ID)
	log.InfoContext(ctx, "check started", "size", doc.SizeBytes)

	res, err := r.run(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var perr *Error
		if errors.As(err, &perr) {
			r.count(observability.MetricRunErrors, 1, map[string]string{"stage": string(perr.Stage)})
		}
		log.ErrorContext(ctx, "check failed", "error", err)
		return nil, err
	}

	res.Duration = time.Since(start)
	r.duration(observability.MetricRunDurationMs, res.Duration, nil)
	r.count(observability.MetricUploadBytes, int(doc.SizeBytes), nil)
	span.SetAttributes(attribute.Int("report.issues", res.Report.Len()))
	log.InfoContext(ctx, "check done",
		"pages", res.Extraction.PageCount(),
		"issues", res.Report.Len(),
		"warnings", len(res.Report.Warnings()),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (r *Runner) run(ctx context.Context, doc *ingest.Document) (*Result, error) {
	res := &Result{Document: doc}

	err := r.stage(ctx, StageExtract, func(ctx context.Context) error {
		ext, err := r.cfg.Extractor.Extract(ctx, doc.Path)
		if err != nil {
			return &Error{Stage: StageExtract, Message: "failed to extract text", Err: err}
		}
		if !doc.HasEOF {
			ext.Warnings = append([]string{warnTruncated}, ext.Warnings...)
		}
		res.Extraction = ext
		r.count(observability.MetricPages, ext.PageCount(), nil)
		r.count(observability.MetricOCRPages, len(ext.OCRPages()), nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageAnalyze, func(ctx context.Context) error {
		res.Report = r.cfg.Analyzer.Analyze(res.Extraction)
		perCategory := make(map[analyze.Category]int)
		for _, is := range res.Report.Issues() {
			perCategory[is.Category]++
		}
		for _, c := range res.Report.Categories() {
			r.count(observability.MetricIssues, perCategory[c], map[string]string{"category": string(c)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.stage(ctx, StageCorrect, func(ctx context.Context) error {
		dst, err := r.cfg.Store.CorrectedPath(doc.ID)
		if err != nil {
			return &Error{Stage: StageCorrect, Message: "invalid output path", Err: err}
		}
		out, err := r.cfg.Corrector.Correct(ctx, doc.Path, dst, res.Report)
		if err != nil {
			return &Error{Stage: StageCorrect, Message: "failed to write corrected PDF", Err: err}
		}
		res.Corrected = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// stage runs fn under a child span and records its duration. A context
// already done before the stage starts fails it without calling fn.
func (r *Runner) stage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &Error{Stage: s, Message: "run cancelled", Err: err}
	}
	ctx, span := r.tracer.Start(ctx, "accesspdf."+string(s))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	r.duration(observability.MetricStageDurationMs, elapsed, map[string]string{"stage": string(s)})
	r.logger.DebugContext(ctx, "stage done", "stage", s, "duration_ms", elapsed.Milliseconds(), "error", err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// CheckFile imports the PDF at path into the store, then runs it.
func (r *Runner) CheckFile(ctx context.Context, path string) (*Result, error) {
	doc, err := r.cfg.Store.Import(path)
	if err != nil {
		return nil, &Error{Stage: StageIngest, Message: "failed to import " + path, Err: err}
	}
	return r.Run(ctx, doc)
}

func (r *Runner) duration(name string, d time.Duration, labels map[string]string) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordDuration(name, d, labels)
	}
}

func (r *Runner) count(name string, n int, labels map[string]string) {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordCount(name, n, labels)
	}
}

const warnTruncated = "Marqueur de fin %%EOF absent : le fichier PDF est peut-être tronqué."
