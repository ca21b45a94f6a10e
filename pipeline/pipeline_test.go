package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/accesspdf/analyze"
	"github.com/hazyhaar/accesspdf/config"
	"github.com/hazyhaar/accesspdf/correct"
	"github.com/hazyhaar/accesspdf/docpipe"
	"github.com/hazyhaar/accesspdf/ingest"
	"github.com/hazyhaar/accesspdf/internal/pdftest"
	"github.com/hazyhaar/accesspdf/ocr"
)

type fakeMetrics struct {
	mu     sync.Mutex
	names  []string
	counts map[string]int // name/category -> value
}

func (f *fakeMetrics) RecordDuration(name string, _ time.Duration, _ map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
}

func (f *fakeMetrics) RecordCount(name string, n int, labels map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[name+"/"+labels["category"]] += n
}

func (f *fakeMetrics) has(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.names {
		if n == name {
			return true
		}
	}
	return false
}

type failingExtractor struct{ err error }

func (f failingExtractor) Extract(context.Context, string) (*docpipe.Document, error) {
	return nil, f.err
}

func newStore(t *testing.T) *ingest.Store {
	t.Helper()
	s, err := ingest.Open(ingest.Config{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newRunner(t *testing.T, mod func(*Config)) *Runner {
	t.Helper()
	an, err := analyze.New(analyze.Config{})
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Store:     newStore(t),
		Extractor: docpipe.New(docpipe.Config{}),
		Analyzer:  an,
		Corrector: correct.New(correct.Config{}),
	}
	if mod != nil {
		mod(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func save(t *testing.T, r *Runner, pages ...pdftest.Page) *ingest.Document {
	t.Helper()
	doc, err := r.Store().Save(bytes.NewReader(pdftest.Build(pages...)), "doc.pdf")
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestNew_RequiresStages(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestRun_TextWithoutHeadings(t *testing.T) {
	// WHAT: a text-only PDF without heading markers yields one headings issue
	// and a corrected copy in the work dir.
	// WHY: this is the most common path through the service.
	r := newRunner(t, nil)
	doc := save(t, r, pdftest.Text("Rapport annuel", "Texte courant"))

	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	issues := res.Report.Issues()
	if len(issues) != 1 || issues[0].Category != analyze.CategoryHeadings {
		t.Fatalf("issues = %+v", issues)
	}
	want, _ := r.Store().CorrectedPath(doc.ID)
	if res.Corrected.Path != want {
		t.Errorf("corrected path = %q, want %q", res.Corrected.Path, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("corrected file: %v", err)
	}
	if len(res.Corrected.Stamps) != 1 {
		t.Errorf("stamps = %+v", res.Corrected.Stamps)
	}
}

func TestRun_ImagePage(t *testing.T) {
	r := newRunner(t, nil)
	doc := save(t, r, pdftest.Text("H1: Titre"), pdftest.Image())

	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	pages := res.Report.Pages(analyze.CategoryImageAlt)
	if !reflect.DeepEqual(pages, []int{2}) {
		t.Fatalf("image_alt pages = %v, want [2]", pages)
	}
	for _, is := range res.Report.Issues() {
		if is.Category == analyze.CategoryHeadings {
			t.Errorf("unexpected headings issue: %+v", is)
		}
	}
	// Page 2 has no text layer and OCR is off.
	if len(res.Report.Warnings()) == 0 {
		t.Error("expected an OCR-disabled warning")
	}
}

func TestRun_Deterministic(t *testing.T) {
	r := newRunner(t, nil)
	pages := []pdftest.Page{pdftest.Image(), pdftest.Text("horizon"), pdftest.Image()}

	a, err := r.Run(context.Background(), save(t, r, pages...))
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Run(context.Background(), save(t, r, pages...))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Report.Issues(), b.Report.Issues()) {
		t.Fatalf("runs differ:\n%+v\n%+v", a.Report.Issues(), b.Report.Issues())
	}
}

func TestRun_ExtractError(t *testing.T) {
	boom := errors.New("boom")
	r := newRunner(t, func(c *Config) { c.Extractor = failingExtractor{err: boom} })
	doc := save(t, r, pdftest.Blank())

	_, err := r.Run(context.Background(), doc)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if perr.Stage != StageExtract || !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if !strings.HasPrefix(err.Error(), "[extract]") {
		t.Errorf("message = %q", err.Error())
	}
	path, _ := r.Store().CorrectedPath(doc.ID)
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("corrected file written despite extract failure")
	}
}

func TestRun_Cancelled(t *testing.T) {
	r := newRunner(t, nil)
	doc := save(t, r, pdftest.Text("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, doc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRun_Metrics(t *testing.T) {
	m := &fakeMetrics{}
	r := newRunner(t, func(c *Config) { c.Metrics = m })
	if _, err := r.Run(context.Background(), save(t, r, pdftest.Image())); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"run_duration_ms", "stage_duration_ms", "issues_count", "pages_count"} {
		if !m.has(name) {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestRun_IssueMetricsPerCategory(t *testing.T) {
	// WHAT: the issue count of a document-level category is its number of
	// issues, not its number of pages.
	// WHY: headings and contrast issues name no page.
	m := &fakeMetrics{}
	r := newRunner(t, func(c *Config) { c.Metrics = m })
	doc := save(t, r,
		pdftest.Page{Lines: []string{"Vue sur l'horizon"}, Image: true},
		pdftest.Page{Lines: []string{"Suite"}, Image: true},
	)
	if _, err := r.Run(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	want := map[string]int{
		"issues_count/image_alt": 2,
		"issues_count/headings":  1,
		"issues_count/contrast":  1,
	}
	for key, n := range want {
		if got := m.counts[key]; got != n {
			t.Errorf("%s = %d, want %d", key, got, n)
		}
	}
}

func TestRun_TruncatedWarning(t *testing.T) {
	r := newRunner(t, nil)
	doc := save(t, r, pdftest.Text("H1: Titre"))
	doc.HasEOF = false

	res, err := r.Run(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	w := res.Report.Warnings()
	if len(w) == 0 || !strings.Contains(w[0], "%%EOF") {
		t.Fatalf("warnings = %v", w)
	}
}

func TestCheckFile(t *testing.T) {
	r := newRunner(t, nil)
	path := pdftest.Write(t, t.TempDir(), "in.pdf", pdftest.Text("H2: Partie"))
	res, err := r.CheckFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Report.Empty() {
		t.Fatalf("issues = %+v", res.Report.Issues())
	}

	_, err = r.CheckFile(context.Background(), path+".missing")
	var perr *Error
	if !errors.As(err, &perr) || perr.Stage != StageIngest {
		t.Fatalf("err = %v, want ingest stage error", err)
	}
}

func TestResult_Response(t *testing.T) {
	r := newRunner(t, nil)
	res, err := r.Run(context.Background(), save(t, r, pdftest.Text("Bonjour")))
	if err != nil {
		t.Fatal(err)
	}
	resp := res.Response()
	if resp.ID != res.Document.ID || resp.Pages != 1 || len(resp.Issues) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Issues[0].Category != "headings" || resp.Issues[0].Page != 0 {
		t.Errorf("issue = %+v", resp.Issues[0])
	}
	if resp.Warnings == nil {
		t.Error("warnings must marshal as [] not null")
	}
}

// --- Build ---

func buildConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.OCR.Binary = "accesspdf-test-no-such-tesseract"
	cfg.OCR.Rasterizer = "embedded"
	return cfg
}

func TestBuild_OCRUnavailableWarns(t *testing.T) {
	// WHAT: a missing tesseract binary degrades to a warning on scanned pages.
	// WHY: an absent engine must never be silent nor crash the run.
	b, err := Build(context.Background(), buildConfig(t), newStore(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	res, err := b.CheckFile(context.Background(), pdftest.Write(t, t.TempDir(), "scan.pdf", pdftest.Image()))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range res.Report.Warnings() {
		if strings.Contains(w, "indisponible") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings = %v, want engine unavailable", res.Report.Warnings())
	}
}

func TestBuild_OCRRequiredFails(t *testing.T) {
	cfg := buildConfig(t)
	cfg.OCR.Required = true
	b, err := Build(context.Background(), cfg, newStore(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	_, err = b.CheckFile(context.Background(), pdftest.Write(t, t.TempDir(), "scan.pdf", pdftest.Image()))
	if !errors.Is(err, ocr.ErrUnavailable) {
		t.Fatalf("err = %v, want ocr.ErrUnavailable", err)
	}
}

func TestBuild_OCRDisabled(t *testing.T) {
	cfg := buildConfig(t)
	cfg.OCR.Enabled = false
	b, err := Build(context.Background(), cfg, newStore(t), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.OCREngine != "" {
		t.Errorf("engine = %q, want none", b.OCREngine)
	}
}

func TestUnavailableReader(t *testing.T) {
	u := unavailableReader{err: asUnavailable(errors.New("no rasterizer"))}
	if _, err := u.ReadPage(context.Background(), "x.pdf", 1); !errors.Is(err, ocr.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

// --- MCP ---

func TestMCP_Check(t *testing.T) {
	r := newRunner(t, nil)
	impl := &mcp.Implementation{Name: "pipeline-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	r.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	path := pdftest.Write(t, t.TempDir(), "doc.pdf", pdftest.Text("texte"), pdftest.Image())
	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "accesspdf_check",
		Arguments: map[string]any{"path": path},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tool error: %+v", result.Content)
	}
	var resp CheckResponse
	if err := json.Unmarshal([]byte(result.Content[0].(*mcp.TextContent).Text), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Pages != 2 || len(resp.Issues) != 2 {
		t.Fatalf("response = %+v", resp)
	}

	bad, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "accesspdf_check",
		Arguments: map[string]any{"path": ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bad.IsError {
		t.Fatal("expected tool error for empty path")
	}
}
