//go:build gosseract

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Gosseract recognizes text through the libtesseract binding. The underlying
// client is not safe for concurrent use, so calls are serialized.
type Gosseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewGosseract creates a client for the given "+"-joined languages.
// Close it when no longer needed.
func NewGosseract(languages string) (*Gosseract, error) {
	client := gosseract.NewClient()
	if languages != "" {
		if err := client.SetLanguage(strings.Split(languages, "+")...); err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: set language: %v", ErrUnavailable, err)
		}
	}
	return &Gosseract{client: client}, nil
}

func (g *Gosseract) Name() string { return "gosseract" }

// Recognize performs OCR on img and returns trimmed text.
func (g *Gosseract) Recognize(_ context.Context, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page for OCR: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	text, err := g.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close releases OCR resources.
func (g *Gosseract) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
