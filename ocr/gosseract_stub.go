//go:build !gosseract

package ocr

import (
	"context"
	"fmt"
	"image"
)

// Gosseract is the stub used when the "gosseract" build tag is not set.
// Rebuild with -tags gosseract (and libtesseract installed) to enable it.
type Gosseract struct{}

// NewGosseract reports ErrUnavailable: the binding was not compiled in.
func NewGosseract(string) (*Gosseract, error) {
	return nil, fmt.Errorf("%w: gosseract support not compiled in; rebuild with -tags gosseract", ErrUnavailable)
}

func (g *Gosseract) Name() string { return "gosseract" }

func (g *Gosseract) Recognize(context.Context, image.Image) (string, error) {
	return "", ErrUnavailable
}

func (g *Gosseract) Close() error { return nil }
