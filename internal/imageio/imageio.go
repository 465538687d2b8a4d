// Package imageio decodes uploaded or on-disk images into image.Image.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"handscribe/internal/common/fsutil"
	"handscribe/internal/pipeline"
)

// MaxPixels rejects images whose decoded size would exceed this many pixels.
const MaxPixels = 100_000_000

// Info describes a decoded image.
type Info struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mode   string `json:"mode"`
}

// Decode reads an image in any registered format. Unknown or corrupt data is
// an InputFormatError failure.
func Decode(r io.Reader) (image.Image, Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Info{}, pipeline.InputFailure("read image: %v", err)
	}
	// Headers may follow large metadata segments; parse the whole buffer.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, pipeline.InputFailure("cannot decode image: %v", err)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, Info{}, pipeline.InputFailure("image too large (%dx%d)", cfg.Width, cfg.Height)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Info{}, pipeline.InputFailure("cannot decode image: %v", err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, Info{}, pipeline.InputFailure("empty image")
	}
	return img, Info{Format: format, Width: b.Dx(), Height: b.Dy(), Mode: Mode(img)}, nil
}

// DecodeFile validates that path names an existing regular file and decodes it.
func DecodeFile(path string) (image.Image, Info, error) {
	if _, ok := fsutil.RegularFile(path); !ok {
		return nil, Info{}, pipeline.InputFailure("image file not found: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, Info{}, pipeline.InputFailure("open %s: %v", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Mode names the color model of img.
func Mode(img image.Image) string {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16:
		return "L"
	case *image.Paletted:
		return "P"
	case *image.YCbCr:
		return "YCbCr"
	case *image.CMYK:
		return "CMYK"
	case *image.RGBA:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.NRGBA:
		if m.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case *image.RGBA64, *image.NRGBA64:
		return "RGBA"
	}
	return fmt.Sprintf("%T", img)
}
