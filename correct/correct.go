// Package correct writes the corrected copy of an analyzed PDF: one fixed
// placeholder string per distinct issue category, stamped with pdfcpu at a
// fixed position. The source file is never modified.
package correct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/hazyhaar/accesspdf/analyze"
)

// Scope selects which pages receive a category's placeholder.
type Scope string

const (
	// ScopeDocument stamps every page for every category.
	ScopeDocument Scope = "document"
	// ScopePage stamps page-scoped categories only on the pages that
	// triggered them. Document-level categories still cover every page.
	ScopePage Scope = "page"
)

// Placeholder is the fixed text inserted for one category. X and Y are in
// points from the top-left corner of the page.
type Placeholder struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	FontSize int     `json:"font_size"`
}

var placeholders = map[analyze.Category]Placeholder{
	analyze.CategoryImageAlt: {Text: "[Description image ajoutée]", X: 50, Y: 50, FontSize: 10},
	analyze.CategoryHeadings: {Text: "H1: Titre du document", X: 50, Y: 100, FontSize: 14},
	analyze.CategoryOCR:      {Text: "Texte détecté par OCR ajouté.", X: 50, Y: 150, FontSize: 12},
	analyze.CategoryContrast: {Text: "Problème de contraste identifié.", X: 50, Y: 200, FontSize: 12},
}

// PlaceholderFor returns the placeholder of c.
func PlaceholderFor(c analyze.Category) (Placeholder, bool) {
	p, ok := placeholders[c]
	return p, ok
}

// Stamp records one category applied to a set of pages.
type Stamp struct {
	Category    analyze.Category `json:"category"`
	Placeholder Placeholder      `json:"placeholder"`
	Pages       []int            `json:"pages"`
}

// Result describes the written artifact.
type Result struct {
	Path   string  `json:"path"`
	Stamps []Stamp `json:"stamps"`
}

// Config configures the corrector.
type Config struct {
	Scope  Scope        `json:"scope" yaml:"scope"`
	Font   string       `json:"font" yaml:"font"` // core font name, default Helvetica
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Scope == "" {
		c.Scope = ScopeDocument
	}
	if c.Font == "" {
		c.Font = "Helvetica"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Corrector stamps placeholders into a copy of a PDF.
type Corrector struct {
	cfg Config
}

// New returns a Corrector.
func New(cfg Config) *Corrector {
	cfg.defaults()
	return &Corrector{cfg: cfg}
}

// Correct writes to dst a copy of src carrying one placeholder per distinct
// category of report. An empty report produces an unchanged copy.
func (c *Corrector) Correct(ctx context.Context, src, dst string, report analyze.Report) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil, errors.New("correct: destination must differ from source")
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	res := &Result{Path: dst}
	if report.Empty() {
		if err := writeAtomic(dst, func(w io.Writer) error {
			_, err := io.Copy(w, in)
			return err
		}); err != nil {
			return nil, err
		}
		c.cfg.Logger.Debug("no issue, copied unchanged", "dst", dst)
		return res, nil
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pctx, err := api.ReadValidateAndOptimize(in, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	res.Stamps = Plan(report, pctx.PageCount, c.cfg.Scope)
	m, err := c.watermarks(res.Stamps)
	if err != nil {
		return nil, err
	}

	conf = model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := writeAtomic(dst, func(w io.Writer) error {
		return api.AddWatermarksSliceMap(in, w, m, conf)
	}); err != nil {
		return nil, fmt.Errorf("stamp placeholders: %w", err)
	}

	c.cfg.Logger.Debug("corrected copy written", "dst", dst, "categories", len(res.Stamps))
	return res, nil
}

// Plan decides, for each distinct category of report, which pages get its
// placeholder. It returns one Stamp per category, in report order.
func Plan(report analyze.Report, pageCount int, scope Scope) []Stamp {
	all := make([]int, pageCount)
	for i := range all {
		all[i] = i + 1
	}

	var stamps []Stamp
	for _, cat := range report.Categories() {
		ph, ok := placeholders[cat]
		if !ok {
			continue
		}
		pages := all
		if scope == ScopePage && cat.PageScoped() {
			pages = uniquePages(report.Pages(cat), pageCount)
		}
		if len(pages) == 0 {
			continue
		}
		stamps = append(stamps, Stamp{Category: cat, Placeholder: ph, Pages: pages})
	}
	return stamps
}

func uniquePages(pages []int, pageCount int) []int {
	seen := make(map[int]bool, len(pages))
	var out []int
	for _, p := range pages {
		if p >= 1 && p <= pageCount && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// watermarks builds the per-page stamp lists pdfcpu applies in one pass.
func (c *Corrector) watermarks(stamps []Stamp) (map[int][]*model.Watermark, error) {
	m := make(map[int][]*model.Watermark)
	for _, s := range stamps {
		desc := description(c.cfg.Font, s.Placeholder)
		for _, p := range s.Pages {
			wm, err := api.TextWatermark(s.Placeholder.Text, desc, true, false, types.POINTS)
			if err != nil {
				return nil, fmt.Errorf("placeholder %s: %w", s.Category, err)
			}
			m[p] = append(m[p], wm)
		}
	}
	return m, nil
}

// description renders the pdfcpu stamp description of a placeholder:
// anchored top-left, absolute font size, no rotation, black fill.
func description(font string, p Placeholder) string {
	return fmt.Sprintf("font:%s, points:%d, pos:tl, off:%g %g, scale:1 abs, rot:0, fillcolor:#000000, opacity:1",
		font, p.FontSize, p.X, -p.Y)
}

// writeAtomic writes through a temporary file in dst's directory and renames
// it into place, so readers never see a partial file.
func writeAtomic(dst string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".accesspdf-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}
