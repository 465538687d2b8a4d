package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// NormalizeRGB returns an opaque copy of img with its origin at zero. Alpha is
// flattened onto white; grayscale and paletted images are expanded to RGB.
func NormalizeRGB(img image.Image) (*image.RGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInputFormat)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrInputFormat, b.Dx(), b.Dy())
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst, nil
}
