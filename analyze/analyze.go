// Package analyze runs the heuristic accessibility checks over an extracted
// document and produces an ordered, immutable Report.
//
// The checks are deliberately shallow signatures: images present on a page,
// no line shaped like a heading marker, a configured keyword in the text, and
// pages whose text could only be recovered by OCR.
package analyze

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hazyhaar/accesspdf/docpipe"
)

// Category is the closed set of issue kinds. Correction is keyed on it.
type Category string

const (
	CategoryImageAlt Category = "image_alt"
	CategoryHeadings Category = "headings"
	CategoryOCR      Category = "ocr"
	CategoryContrast Category = "contrast"
)

// Categories lists every category in stamping order.
var Categories = []Category{CategoryImageAlt, CategoryHeadings, CategoryOCR, CategoryContrast}

// PageScoped reports whether issues of c name a specific page.
func (c Category) PageScoped() bool {
	return c == CategoryImageAlt || c == CategoryOCR
}

// Issue is one finding. Page is 1-indexed; 0 means document-level.
type Issue struct {
	Category Category `json:"category"`
	Page     int      `json:"page,omitempty"`
	Message  string   `json:"message"`
}

// Config tunes the checks.
type Config struct {
	// HeadingPattern matches lines that count as headings (default `^(H[1-6]):`).
	HeadingPattern string `json:"heading_pattern" yaml:"heading_pattern"`

	// ContrastKeywords trigger the contrast issue, case-insensitive
	// (default ["horizon"]).
	ContrastKeywords []string `json:"contrast_keywords" yaml:"contrast_keywords"`

	// SkipOCRIssues disables the per-page OCR issue.
	SkipOCRIssues bool `json:"skip_ocr_issues" yaml:"skip_ocr_issues"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.HeadingPattern == "" {
		c.HeadingPattern = `^(H[1-6]):`
	}
	if c.ContrastKeywords == nil {
		c.ContrastKeywords = []string{"horizon"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Analyzer runs the checks. It is safe for concurrent use.
type Analyzer struct {
	cfg      Config
	heading  *regexp.Regexp
	keywords []string
}

// New compiles the heading pattern and returns an Analyzer.
func New(cfg Config) (*Analyzer, error) {
	cfg.defaults()
	re, err := regexp.Compile(cfg.HeadingPattern)
	if err != nil {
		return nil, fmt.Errorf("analyze: heading pattern: %w", err)
	}
	kw := make([]string, 0, len(cfg.ContrastKeywords))
	for _, k := range cfg.ContrastKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &Analyzer{cfg: cfg, heading: re, keywords: kw}, nil
}

// Analyze inspects doc and returns its report. The same document always
// yields the same issues in the same order.
func (a *Analyzer) Analyze(doc *docpipe.Document) Report {
	var issues []Issue

	for _, p := range doc.Pages {
		if p.ImageCount > 0 {
			issues = append(issues, Issue{
				Category: CategoryImageAlt,
				Page:     p.Number,
				Message:  fmt.Sprintf("Image sans texte alternatif détectée sur la page %d.", p.Number),
			})
		}
	}

	if a.countHeadings(doc.Text) == 0 {
		issues = append(issues, Issue{
			Category: CategoryHeadings,
			Message:  "Structure des titres manquante. Ajout de titres hiérarchisés.",
		})
	}

	if kw := a.contrastKeyword(doc.Text); kw != "" {
		issues = append(issues, Issue{
			Category: CategoryContrast,
			Message:  "Problème de contraste détecté.",
		})
	}

	if !a.cfg.SkipOCRIssues {
		for _, n := range doc.OCRPages() {
			issues = append(issues, Issue{
				Category: CategoryOCR,
				Page:     n,
				Message:  fmt.Sprintf("Texte de la page %d détecté par OCR : aucune couche texte accessible.", n),
			})
		}
	}

	a.cfg.Logger.Debug("analysis done", "path", doc.Path, "issues", len(issues))
	return newReport(issues, doc.Warnings)
}

func (a *Analyzer) countHeadings(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if a.heading.MatchString(line) {
			n++
		}
	}
	return n
}

func (a *Analyzer) contrastKeyword(text string) string {
	lower := strings.ToLower(text)
	for _, k := range a.keywords {
		if strings.Contains(lower, k) {
			return k
		}
	}
	return ""
}
