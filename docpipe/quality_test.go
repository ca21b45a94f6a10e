package docpipe

import "testing"

func TestPrintableRatio_Normal(t *testing.T) {
	// WHAT: Normal text has high printable ratio.
	// WHY: Validates baseline quality scoring.
	ratio := computePrintableRatio("This is a normal sentence with standard characters.")
	if ratio < 0.95 {
		t.Errorf("printable ratio = %f, want > 0.95", ratio)
	}
}

func TestPrintableRatio_Garbage(t *testing.T) {
	// WHAT: PUA and control chars produce low printable ratio.
	// WHY: Detects garbled PDF extraction (CIDFont without ToUnicode).
	garbage := "abcdefghi\x01\x02\x03\x04\x05"
	ratio := computePrintableRatio(garbage)
	if ratio >= 0.85 {
		t.Errorf("printable ratio = %f, want < 0.85", ratio)
	}
	q := &ExtractionQuality{PrintableRatio: ratio}
	if !q.Garbled() {
		t.Error("expected Garbled for low printable ratio")
	}
}

func TestWordlikeRatio(t *testing.T) {
	if r := computeWordlikeRatio("This is a normal sentence with standard words inside"); r < 0.70 {
		t.Errorf("wordlike ratio = %f, want > 0.70", r)
	}
	if r := computeWordlikeRatio("a b c d e f g h i j k l"); r >= 0.40 {
		t.Errorf("wordlike ratio = %f, want < 0.40", r)
	}
	if r := computeWordlikeRatio(""); r != 0 {
		t.Errorf("empty: got %f", r)
	}
}

func TestComputeQuality(t *testing.T) {
	doc := &Document{Pages: []Page{
		{Number: 1, Text: "abcd", Source: SourceNative},
		{Number: 2, Text: "ef", Source: SourceOCR},
		{Number: 3, Source: SourceEmpty},
	}}
	doc.Text = joinPages(doc.Pages)
	q := computeQuality(doc, true)
	if q.PageCount != 3 || q.OCRPages != 1 || q.EmptyPages != 1 {
		t.Fatalf("counts: %+v", q)
	}
	if q.CharsPerPage != 2 {
		t.Errorf("chars per page: got %f", q.CharsPerPage)
	}
	if doc.Text != "abcd\nef\n" {
		t.Errorf("joined: got %q", doc.Text)
	}
}
