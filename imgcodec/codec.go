package imgcodec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"AniObjCut/detect"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Source is one decoded input image together with the file the detectors read.
type Source struct {
	Path string
	// Name is the file name the client uploaded, if any.
	Name  string
	Image image.Image
}

// Stem is the input file name without directory and extension. Name wins over Path.
func (s Source) Stem() string {
	base := filepath.Base(s.Path)
	if s.Name != "" {
		base = filepath.Base(s.Name)
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Decode decodes any registered format and applies the EXIF orientation, if present.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", detect.ErrInput)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %w", detect.ErrInput, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", detect.ErrInput)
	}
	return orient(img, Orientation(data)), nil
}

// CheckPixels reads only the image header and rejects images above maxPixels pixels.
// maxPixels <= 0 disables the check.
func CheckPixels(data []byte, maxPixels int) error {
	if maxPixels <= 0 {
		return nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: read image header: %w", detect.ErrInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return fmt.Errorf("%w: image %dx%d exceeds %d pixels", detect.ErrInput, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// DecodeFile reads and decodes the image at path.
func DecodeFile(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", detect.ErrInput, path, err)
	}
	return Decode(data)
}

// Orientation is the EXIF orientation tag of data, 1 when absent or unreadable.
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return o
}

func orient(img image.Image, o int) image.Image {
	switch o {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

// Crop copies rect (in the coordinates of img.Bounds) into a new image anchored at 0,0.
func Crop(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	rect = rect.Add(img.Bounds().Min)
	if rect.Empty() || !rect.In(img.Bounds()) {
		return nil, fmt.Errorf("%w: crop %v outside image %v", detect.ErrProcessing, rect, img.Bounds())
	}
	return imaging.Crop(img, rect), nil
}

// Resize resamples img to size×size with a Lanczos filter.
func Resize(img image.Image, size int) (*image.NRGBA, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: resize to %d", detect.ErrProcessing, size)
	}
	return imaging.Resize(img, size, size, imaging.Lanczos), nil
}

// Blur applies a Gaussian blur. A radius of zero returns an unblurred copy.
func Blur(img image.Image, radius float64) *image.NRGBA {
	if radius <= 0 {
		return imaging.Clone(img)
	}
	return imaging.Blur(img, radius)
}

// Clone copies img into a new NRGBA image anchored at 0,0.
func Clone(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}

// DrawRect strokes the outline of rect with width pixels drawn inward, clipped to dst.
func DrawRect(dst draw.Image, rect image.Rectangle, c color.Color, width int) {
	rect = rect.Canon()
	if width <= 0 || rect.Empty() {
		return
	}
	width = min(width, (min(rect.Dx(), rect.Dy())+1)/2)
	src := image.NewUniform(c)
	bands := []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+width),
		image.Rect(rect.Min.X, rect.Max.Y-width, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y+width, rect.Min.X+width, rect.Max.Y-width),
		image.Rect(rect.Max.X-width, rect.Min.Y+width, rect.Max.X, rect.Max.Y-width),
	}
	for _, band := range bands {
		band = band.Intersect(dst.Bounds())
		if band.Empty() {
			continue
		}
		draw.Draw(dst, band, src, image.Point{}, draw.Over)
	}
}

// EncodePNG encodes img as PNG. Output is byte-identical for identical pixels.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", detect.ErrProcessing, err)
	}
	return buf.Bytes(), nil
}
