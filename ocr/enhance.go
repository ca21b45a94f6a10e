package ocr

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Enhance prepares a page raster for recognition: ITU-R 601 grayscale, then
// contrast scaled by factor around the mean luminance (1.0 is a no-op), then
// a Catmull-Rom upscale when the image is narrower than minWidth.
func Enhance(src image.Image, factor float64, minWidth int) *image.Gray {
	gray := Grayscale(src)
	gray = Contrast(gray, factor)
	if minWidth > 0 {
		gray = upscale(gray, minWidth)
	}
	return gray
}

// Grayscale converts src to 8-bit luminance with L = (299R + 587G + 114B) / 1000.
func Grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			// Transparent pixels read as white, like a page background.
			r, g, bl := blendOnWhite(c)
			l := (299*r + 587*g + 114*bl + 500) / 1000
			dst.Pix[(y-b.Min.Y)*dst.Stride+(x-b.Min.X)] = uint8(l)
		}
	}
	return dst
}

func blendOnWhite(c color.NRGBA) (r, g, b uint32) {
	a := uint32(c.A)
	r = (uint32(c.R)*a + 255*(255-a) + 127) / 255
	g = (uint32(c.G)*a + 255*(255-a) + 127) / 255
	b = (uint32(c.B)*a + 255*(255-a) + 127) / 255
	return r, g, b
}

// Contrast returns a copy of src with every pixel moved away from (factor > 1)
// or toward (factor < 1) the mean luminance, clipped to [0, 255].
func Contrast(src *image.Gray, factor float64) *image.Gray {
	dst := image.NewGray(src.Rect)
	if len(src.Pix) == 0 {
		return dst
	}
	var sum uint64
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		for _, p := range row {
			sum += uint64(p)
		}
	}
	mean := float64(int(float64(sum)/float64(w*h) + 0.5))

	var lut [256]uint8
	for i := range lut {
		v := mean + factor*(float64(i)-mean)
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		lut[i] = uint8(v + 0.5)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Pix[y*dst.Stride+x] = lut[src.Pix[y*src.Stride+x]]
		}
	}
	return dst
}

func upscale(src *image.Gray, minWidth int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || w >= minWidth {
		return src
	}
	nh := h * minWidth / w
	dst := image.NewGray(image.Rect(0, 0, minWidth, nh))
	draw.CatmullRom.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	return dst
}
