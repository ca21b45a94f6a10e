// Package pdftest builds small, valid PDF files for tests: text pages with
// real line breaks, image-only pages and blank pages, with exact xref offsets.
package pdftest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Layout selects the operator that moves to the next text line.
type Layout int

const (
	LayoutLeading Layout = iota // one BT block, T* between lines
	LayoutMove                  // one BT block, 0 -14 Td between lines
	LayoutBlocks                // one BT/ET block per line, absolute Td
	LayoutMatrix                // one BT block, absolute Tm per line
)

// Page describes one page of a generated PDF.
type Page struct {
	Lines  []string // shown with Tj
	Layout Layout
	Image  bool // draw an 8x8 grayscale image XObject
}

// Text returns a page showing lines separated by T*.
func Text(lines ...string) Page { return Page{Lines: lines} }

// Laid returns a page showing lines positioned with layout.
func Laid(layout Layout, lines ...string) Page { return Page{Lines: lines, Layout: layout} }

// Image returns an image-only page with no text layer.
func Image() Page { return Page{Image: true} }

// Blank returns a page with an empty content stream.
func Blank() Page { return Page{} }

const imgSide = 8

// Build returns the bytes of a PDF with the given pages. Text uses Helvetica
// with WinAnsiEncoding; runes above U+00FF are replaced by '?'.
func Build(pages ...Page) []byte {
	var b strings.Builder
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, b.Len())
		b.WriteString(strconv.Itoa(len(offsets)))
		b.WriteString(" 0 obj\n")
		b.WriteString(body)
		b.WriteString("\nendobj\n")
	}
	stream := func(dict, data string) string {
		return "<< " + dict + "/Length " + strconv.Itoa(len(data)) + " >>\nstream\n" + data + "\nendstream"
	}

	b.WriteString("%PDF-1.4\n")

	// Object numbers: 1 catalog, 2 pages, 3 font, then per page: page,
	// contents and optionally image.
	next := 4
	pageNrs := make([]int, len(pages))
	for i, p := range pages {
		pageNrs[i] = next
		next += 2
		if p.Image {
			next++
		}
	}
	kids := make([]string, len(pages))
	for i, n := range pageNrs {
		kids[i] = strconv.Itoa(n) + " 0 R"
	}

	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj("<< /Type /Pages /Kids [" + strings.Join(kids, " ") + "] /Count " + strconv.Itoa(len(pages)) + " >>")
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, p := range pages {
		pageNr := pageNrs[i]
		contentNr := pageNr + 1
		res := "/Font << /F1 3 0 R >>"
		if p.Image {
			res += " /XObject << /Im1 " + strconv.Itoa(pageNr+2) + " 0 R >>"
		}
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents " +
			strconv.Itoa(contentNr) + " 0 R /Resources << " + res + " >> >>")
		obj(stream("", content(p)))
		if p.Image {
			obj(stream("/Type /XObject /Subtype /Image /Width "+strconv.Itoa(imgSide)+
				" /Height "+strconv.Itoa(imgSide)+" /ColorSpace /DeviceGray /BitsPerComponent 8 ", imageData()))
		}
	}

	xref := b.Len()
	b.WriteString("xref\n0 " + strconv.Itoa(len(offsets)+1) + "\n")
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		s := strconv.Itoa(off)
		b.WriteString(strings.Repeat("0", 10-len(s)) + s + " 00000 n \n")
	}
	b.WriteString("trailer\n<< /Size " + strconv.Itoa(len(offsets)+1) + " /Root 1 0 R >>\nstartxref\n")
	b.WriteString(strconv.Itoa(xref))
	b.WriteString("\n%%EOF\n")
	return []byte(b.String())
}

// Write builds the PDF into dir/name and returns its path.
func Write(t testing.TB, dir, name string, pages ...Page) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(pages...), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func content(p Page) string {
	var s strings.Builder
	if p.Image {
		s.WriteString("q 200 0 0 200 72 400 cm /Im1 Do Q\n")
	}
	if len(p.Lines) == 0 {
		return s.String()
	}
	if p.Layout == LayoutBlocks {
		for i, line := range p.Lines {
			if i > 0 {
				s.WriteString("\n")
			}
			s.WriteString("BT\n/F1 12 Tf\n72 " + strconv.Itoa(720-14*i) + " Td\n(" + escape(line) + ") Tj\nET")
		}
		return s.String()
	}
	s.WriteString("BT\n/F1 12 Tf\n14 TL\n")
	if p.Layout != LayoutMatrix {
		s.WriteString("72 720 Td\n")
	}
	for i, line := range p.Lines {
		switch {
		case p.Layout == LayoutMatrix:
			s.WriteString("1 0 0 1 72 " + strconv.Itoa(720-14*i) + " Tm\n")
		case i == 0:
		case p.Layout == LayoutMove:
			s.WriteString("0 -14 Td\n")
		default:
			s.WriteString("T*\n")
		}
		s.WriteString("(" + escape(line) + ") Tj\n")
	}
	s.WriteString("ET")
	return s.String()
}

// escape encodes line as a WinAnsi PDF literal string body.
func escape(line string) string {
	var s strings.Builder
	for _, r := range line {
		switch {
		case r == '\\' || r == '(' || r == ')':
			s.WriteByte('\\')
			s.WriteByte(byte(r))
		case r < 0x80:
			s.WriteByte(byte(r))
		case r <= 0xff:
			s.WriteString("\\" + strconv.FormatInt(int64(r), 8))
		default:
			s.WriteByte('?')
		}
	}
	return s.String()
}

// imageData is a left-dark, right-light 8x8 gray raster.
func imageData() string {
	buf := make([]byte, imgSide*imgSide)
	for y := 0; y < imgSide; y++ {
		for x := 0; x < imgSide; x++ {
			if x < imgSide/2 {
				buf[y*imgSide+x] = 0x20
			} else {
				buf[y*imgSide+x] = 0xe0
			}
		}
	}
	return string(buf)
}
