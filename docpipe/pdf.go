package docpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/accesspdf/ocr"
)

// extractPDF reads structure with pdfcpu, text with ledongthuc/pdf, and
// falls back to OCR for pages with no text.
func (p *Pipeline) extractPDF(ctx context.Context, path string) (*Document, error) {
	pctx, err := readStructure(path)
	if err != nil {
		return nil, err
	}

	// The text layer reader is stricter than pdfcpu; when it cannot open the
	// file every page goes through the content-stream scan.
	textReader, closeText, err := openTextLayer(path)
	if err != nil {
		p.logger.Debug("text layer reader unavailable, using content streams", "path", path, "error", err)
	} else {
		defer closeText()
	}

	doc := &Document{Path: path}
	ocrDown := false

	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := Page{
			Number:     pageNr,
			ImageCount: pageImageCount(pctx, pageNr),
			Source:     SourceEmpty,
		}

		text := nativePageText(textReader, pageNr)
		if text == "" {
			text = streamPageText(pctx, pageNr)
		}
		if text != "" {
			page.Text = text
			page.Source = SourceNative
			doc.Pages = append(doc.Pages, page)
			continue
		}

		switch {
		case p.cfg.OCR == nil:
			doc.Warnings = append(doc.Warnings,
				fmt.Sprintf("Page %d sans couche texte : OCR désactivé.", pageNr))
		case ocrDown:
		default:
			ocrText, err := p.cfg.OCR.ReadPage(ctx, path, pageNr)
			switch {
			case err == nil:
				if t := cleanLines(ocrText); t != "" {
					page.Text = t
					page.Source = SourceOCR
				}
			case errors.Is(err, ocr.ErrUnavailable):
				if p.cfg.OCRRequired {
					return nil, fmt.Errorf("page %d: %w", pageNr, err)
				}
				ocrDown = true
				p.logger.Warn("ocr unavailable, continuing with native text", "engine", p.cfg.OCREngine, "error", err)
				doc.Warnings = append(doc.Warnings, fmt.Sprintf(
					"Moteur OCR %s indisponible : les pages numérisées n'ont pas été lues.", p.cfg.OCREngine))
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				p.logger.Warn("ocr failed", "page", pageNr, "error", err)
				page.OCRError = err.Error()
				doc.Warnings = append(doc.Warnings, fmt.Sprintf("Échec de l'OCR sur la page %d.", pageNr))
			}
		}
		doc.Pages = append(doc.Pages, page)
	}

	doc.Text = joinPages(doc.Pages)
	doc.Quality = computeQuality(doc, hasImageStreams(pctx))
	return doc, nil
}

// readStructure parses and validates the file with pdfcpu in relaxed mode.
func readStructure(path string) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	return pctx, nil
}

// openTextLayer opens path with ledongthuc/pdf, turning its panics on
// malformed input into errors.
func openTextLayer(path string) (r *pdf.Reader, closeFn func() error, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, closeFn, err = nil, nil, fmt.Errorf("pdf reader panic: %v", rec)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return r, f.Close, nil
}

// nativePageText returns the cleaned text layer of a page, or "" when the
// reader is nil, the page is missing or decoding fails. Lines come from the
// glyph positions, so Td, TD and Tm moves break lines like T* does.
func nativePageText(r *pdf.Reader, pageNr int) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
		}
	}()
	if r == nil || pageNr > r.NumPage() {
		return ""
	}
	page := r.Page(pageNr)
	if page.V.IsNull() {
		return ""
	}
	if text = cleanLines(layoutText(page.Content().Text)); text != "" {
		return text
	}
	raw, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return cleanLines(raw)
}

// layoutText joins glyphs in content order. A baseline move of more than
// half the font size starts a new line; a forward gap wider than a quarter
// of it inserts a space.
func layoutText(glyphs []pdf.Text) string {
	var sb strings.Builder
	var prev *pdf.Text
	for i := range glyphs {
		g := &glyphs[i]
		if g.S == "\n" {
			continue
		}
		if prev != nil {
			size := math.Max(math.Abs(prev.FontSize), 2)
			switch {
			case math.Abs(g.Y-prev.Y) > size/2:
				sb.WriteByte('\n')
			case g.X-(prev.X+prev.W) > size/4:
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.S)
		prev = g
	}
	return sb.String()
}

// streamPageText extracts text from a single PDF page via pdfcpu content stream.
func streamPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// pageImageCount counts the image XObjects referenced by a page.
func pageImageCount(ctx *model.Context, pageNr int) int {
	if ctx.Optimize == nil {
		return 0
	}
	return len(pdfcpu.ImageObjNrs(ctx, pageNr))
}

// hasImageStreams checks if any page references an image XObject.
func hasImageStreams(ctx *model.Context) bool {
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if pageImageCount(ctx, pageNr) > 0 {
			return true
		}
	}
	return false
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)

// extractTextFromStream parses PDF content stream operators for text,
// keeping one output line per text line.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	writeStrings := func(line []byte) {
		for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
			sb.WriteString(decodePDFString(m[1]))
		}
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			writeStrings(line)
		case bytes.HasSuffix(line, []byte("'")), bytes.HasSuffix(line, []byte(`"`)):
			// Move to next line and show text.
			if bytes.Contains(line, []byte("(")) {
				sb.WriteByte('\n')
				writeStrings(line)
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			// A vertical move starts a new line, a horizontal one a new word.
			if f := bytes.Fields(line); len(f) == 3 && !bytes.Equal(f[1], []byte("0")) {
				sb.WriteByte('\n')
			} else if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("ET")), bytes.HasSuffix(line, []byte("Tm")):
			sb.WriteByte('\n')
		}
	}

	return cleanLines(sb.String())
}

// decodePDFString handles PDF escape sequences. Bytes are read as Latin-1,
// which matches WinAnsi for the accented letters of Western text.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\', '(', ')':
				sb.WriteByte(raw[i])
			default:
				// Octal escape (e.g. \351 for é).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(raw[i]-'0')
					}
					sb.WriteRune(rune(val & 0xff))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteRune(rune(raw[i]))
		}
	}
	return sb.String()
}

// cleanLines normalises whitespace inside each line, drops unprintable runes
// and blank lines, and keeps line breaks.
func cleanLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		var sb strings.Builder
		prevSpace := false
		for _, r := range line {
			if unicode.IsSpace(r) {
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
					prevSpace = true
				}
			} else if unicode.IsPrint(r) {
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		if l := strings.TrimSpace(sb.String()); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
