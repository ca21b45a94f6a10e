package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/accesspdf/analyze"
	"github.com/hazyhaar/accesspdf/pipeline"
)

// WHAT: the version command prints the build version.
// WHY: packagers check the injected -X main.Version value.
func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	if got := buf.String(); got != "accesspdf dev\n" {
		t.Errorf("version output = %q", got)
	}
}

// WHAT: a report with issues lists every message after the French header.
func TestPrintReport_Issues(t *testing.T) {
	res := &pipeline.Result{Report: analyze.NewReport([]analyze.Issue{
		{Category: analyze.CategoryHeadings, Message: "Aucun titre détecté."},
		{Category: analyze.CategoryImageAlt, Page: 2, Message: "Image sans texte alternatif (page 2)."},
	}, []string{"OCR indisponible"})}

	var buf bytes.Buffer
	printReport(&buf, res)
	out := buf.String()
	for _, want := range []string{
		"Rapport d'accessibilité",
		"! OCR indisponible",
		"- Aucun titre détecté.",
		"- Image sans texte alternatif (page 2).",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

// WHAT: an empty report prints the compliant message.
func TestPrintReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &pipeline.Result{Report: analyze.NewReport(nil, nil)})
	if !strings.Contains(buf.String(), "Aucun problème détecté") {
		t.Errorf("report = %q", buf.String())
	}
}

// WHAT: copyFile duplicates content to a new path.
// WHY: the corrected PDF must survive the work dir being removed on exit.
func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.4 body"), 0o600); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "out.pdf")
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "%PDF-1.4 body" {
		t.Errorf("copy = %q", got)
	}
	if err := copyFile(filepath.Join(dir, "missing.pdf"), dst); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestEnv(t *testing.T) {
	t.Setenv("ACCESSPDF_TEST_ENV", "x")
	if got := env("ACCESSPDF_TEST_ENV", "d"); got != "x" {
		t.Errorf("env = %q", got)
	}
	if got := env("ACCESSPDF_TEST_ENV_UNSET", "d"); got != "d" {
		t.Errorf("env default = %q", got)
	}
}
