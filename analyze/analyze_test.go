package analyze

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/accesspdf/docpipe"
	"github.com/hazyhaar/accesspdf/internal/pdftest"
)

func mustNew(t *testing.T, cfg Config) *Analyzer {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func doc(pages ...docpipe.Page) *docpipe.Document {
	for i := range pages {
		pages[i].Number = i + 1
		if pages[i].Source == "" {
			pages[i].Source = docpipe.SourceNative
		}
	}
	d := &docpipe.Document{Pages: pages}
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	d.Text = strings.Join(texts, "\n")
	return d
}

func count(r Report, c Category) int {
	n := 0
	for _, is := range r.Issues() {
		if is.Category == c {
			n++
		}
	}
	return n
}

func TestAnalyze_NoHeadings(t *testing.T) {
	// WHAT: text without heading markers yields exactly one headings issue.
	// WHY: the check is document-level, never per line or per page.
	a := mustNew(t, Config{})
	r := a.Analyze(doc(
		docpipe.Page{Text: "Introduction\nCorps du texte"},
		docpipe.Page{Text: "Conclusion"},
	))
	if got := count(r, CategoryHeadings); got != 1 {
		t.Fatalf("headings issues: got %d, want 1", got)
	}
	is := r.Issues()[0]
	if is.Page != 0 {
		t.Errorf("headings issue must be document-level, got page %d", is.Page)
	}
	if is.Message != "Structure des titres manquante. Ajout de titres hiérarchisés." {
		t.Errorf("message: %q", is.Message)
	}
}

func TestAnalyze_HeadingsPresent(t *testing.T) {
	a := mustNew(t, Config{})
	r := a.Analyze(doc(docpipe.Page{Text: "Préambule\nH2: Contexte\nsuite"}))
	if count(r, CategoryHeadings) != 0 {
		t.Fatalf("unexpected headings issue: %v", r.Messages())
	}
	if !r.Empty() {
		t.Fatalf("expected empty report, got %v", r.Messages())
	}
}

func TestAnalyze_HeadingAfterFirstLine(t *testing.T) {
	// WHAT: a heading on the second line of an extracted page is found,
	// whatever operator positions the lines.
	// WHY: a glued "IntroductionH1: Titre" line would report a false
	// missing-headings issue.
	for _, layout := range []pdftest.Layout{pdftest.LayoutMove, pdftest.LayoutBlocks, pdftest.LayoutMatrix} {
		path := pdftest.Write(t, t.TempDir(), "h.pdf", pdftest.Laid(layout, "Introduction", "H1: Titre"))
		d, err := docpipe.New(docpipe.Config{}).Extract(context.Background(), path)
		if err != nil {
			t.Fatalf("layout %d: extract: %v", layout, err)
		}
		r := mustNew(t, Config{}).Analyze(d)
		if got := count(r, CategoryHeadings); got != 0 {
			t.Errorf("layout %d: text %q: headings issues = %d, want 0", layout, d.Text, got)
		}
	}
}

func TestAnalyze_HeadingPatternAnchored(t *testing.T) {
	// "H7:" and a marker in the middle of a line do not count.
	a := mustNew(t, Config{})
	r := a.Analyze(doc(docpipe.Page{Text: "H7: trop profond\nvoir H1: ailleurs\nh1: minuscule"}))
	if count(r, CategoryHeadings) != 1 {
		t.Fatalf("expected headings issue, got %v", r.Messages())
	}
}

func TestAnalyze_NoImages(t *testing.T) {
	a := mustNew(t, Config{})
	r := a.Analyze(doc(
		docpipe.Page{Text: "H1: Titre"},
		docpipe.Page{Text: "texte"},
	))
	if got := count(r, CategoryImageAlt); got != 0 {
		t.Fatalf("image issues: got %d, want 0", got)
	}
}

func TestAnalyze_ImagePages(t *testing.T) {
	// WHAT: one issue per page carrying images, naming that page.
	// WHY: users locate images by page number in the report.
	a := mustNew(t, Config{})
	r := a.Analyze(doc(
		docpipe.Page{Text: "H1: Titre"},
		docpipe.Page{Text: "figure", ImageCount: 3},
		docpipe.Page{Text: "texte"},
		docpipe.Page{ImageCount: 1, Source: docpipe.SourceEmpty},
	))
	if got := r.Pages(CategoryImageAlt); !reflect.DeepEqual(got, []int{2, 4}) {
		t.Fatalf("image pages: got %v, want [2 4]", got)
	}
	first := r.Issues()[0]
	if first.Message != "Image sans texte alternatif détectée sur la page 2." {
		t.Errorf("message: %q", first.Message)
	}
}

func TestAnalyze_Contrast(t *testing.T) {
	a := mustNew(t, Config{})
	r := a.Analyze(doc(docpipe.Page{Text: "H1: Vue\nUne ligne d'HORIZON bleue"}))
	if count(r, CategoryContrast) != 1 {
		t.Fatalf("expected contrast issue, got %v", r.Messages())
	}

	custom := mustNew(t, Config{ContrastKeywords: []string{" Pâle "}})
	r = custom.Analyze(doc(docpipe.Page{Text: "H1: Vue\ntexte pâle"}))
	if count(r, CategoryContrast) != 1 {
		t.Fatalf("custom keyword: got %v", r.Messages())
	}
	r = custom.Analyze(doc(docpipe.Page{Text: "H1: Vue\nhorizon"}))
	if count(r, CategoryContrast) != 0 {
		t.Fatalf("default keyword must be replaced: %v", r.Messages())
	}
}

func TestAnalyze_OCRPages(t *testing.T) {
	d := doc(
		docpipe.Page{Text: "H1: Titre"},
		docpipe.Page{Text: "scanné", Source: docpipe.SourceOCR, ImageCount: 1},
	)
	r := mustNew(t, Config{}).Analyze(d)
	if got := r.Pages(CategoryOCR); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("ocr pages: got %v", got)
	}

	r = mustNew(t, Config{SkipOCRIssues: true}).Analyze(d)
	if count(r, CategoryOCR) != 0 {
		t.Fatalf("ocr issues must be skipped: %v", r.Messages())
	}
}

func TestAnalyze_Order(t *testing.T) {
	d := doc(
		docpipe.Page{Text: "horizon", ImageCount: 1},
		docpipe.Page{Text: "scan", Source: docpipe.SourceOCR},
	)
	r := mustNew(t, Config{}).Analyze(d)
	want := []Category{CategoryImageAlt, CategoryHeadings, CategoryContrast, CategoryOCR}
	var got []Category
	for _, is := range r.Issues() {
		got = append(got, is.Category)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order: got %v, want %v", got, want)
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	// WHAT: analyzing the same document twice yields identical issue lists.
	d := doc(
		docpipe.Page{Text: "horizon", ImageCount: 2},
		docpipe.Page{ImageCount: 1},
	)
	a := mustNew(t, Config{})
	r1, r2 := a.Analyze(d), a.Analyze(d)
	if !reflect.DeepEqual(r1.Issues(), r2.Issues()) {
		t.Fatalf("reports differ:\n%v\n%v", r1.Issues(), r2.Issues())
	}
}

func TestAnalyze_WarningsCarried(t *testing.T) {
	d := doc(docpipe.Page{Text: "H1: x"})
	d.Warnings = []string{"Moteur OCR tesseract indisponible"}
	r := mustNew(t, Config{}).Analyze(d)
	if w := r.Warnings(); len(w) != 1 || w[0] != d.Warnings[0] {
		t.Fatalf("warnings: %v", w)
	}
}

func TestNew_BadPattern(t *testing.T) {
	if _, err := New(Config{HeadingPattern: "(["}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestReport_Immutable(t *testing.T) {
	r := NewReport([]Issue{{Category: CategoryHeadings, Message: "m"}}, nil)
	issues := r.Issues()
	issues[0].Message = "changed"
	if r.Issues()[0].Message != "m" {
		t.Fatal("report mutated through Issues()")
	}
}

func TestReport_Categories(t *testing.T) {
	r := NewReport([]Issue{
		{Category: CategoryImageAlt, Page: 1},
		{Category: CategoryImageAlt, Page: 3},
		{Category: CategoryHeadings},
		{Category: CategoryImageAlt, Page: 5},
	}, nil)
	if got := r.Categories(); !reflect.DeepEqual(got, []Category{CategoryImageAlt, CategoryHeadings}) {
		t.Fatalf("categories: got %v", got)
	}
	if (Report{}).Categories() != nil {
		t.Fatal("empty report must have no categories")
	}
}

func TestReport_JSON(t *testing.T) {
	r := NewReport([]Issue{{Category: CategoryImageAlt, Page: 2, Message: "img"}}, []string{"w"})
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"category":"image_alt"`) || !strings.Contains(string(data), `"page":2`) {
		t.Fatalf("json: %s", data)
	}
	var back Report
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back.Issues(), r.Issues()) || back.Warnings()[0] != "w" {
		t.Fatalf("round trip: %+v", back)
	}

	empty, _ := json.Marshal(Report{})
	if string(empty) != `{"issues":[]}` {
		t.Fatalf("empty json: %s", empty)
	}
}

func TestCategory_PageScoped(t *testing.T) {
	if !CategoryImageAlt.PageScoped() || !CategoryOCR.PageScoped() {
		t.Error("image_alt and ocr are page-scoped")
	}
	if CategoryHeadings.PageScoped() || CategoryContrast.PageScoped() {
		t.Error("headings and contrast are document-level")
	}
}
