// Package square turns a detection box into a square crop window and renders the crop.
package square

import (
	"fmt"
	"image"
	"math"

	"AniObjCut/detect"
	"AniObjCut/imgcodec"
)

// Bounds of the output side. Deployments may lower the upper one further.
const (
	MinSize = 32
	MaxSize = 8192
)

// Expanded returns floor(base*(1+2p)), the side of the padded window before any clamping.
func Expanded(box detect.Box, padding float64) int {
	base := max(box.Width(), box.Height())
	return int(math.Floor(float64(base) * (1 + 2*padding)))
}

// Window computes the square crop window for box on a width×height image.
//
// The window is centred on the box, expanded by padding on every side, clamped per axis to the
// image, shrunk to the shorter clamped side, and finally re-centred and clamped again so the
// square fits. The second pass may move the window off the box centre near an edge.
func Window(width, height int, box detect.Box, padding float64) (image.Rectangle, error) {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: image size %dx%d", detect.ErrInput, width, height)
	}
	if math.IsNaN(padding) || padding < 0 || padding > 1 {
		return image.Rectangle{}, fmt.Errorf("%w: padding %v out of [0,1]", detect.ErrInput, padding)
	}

	cx := floorDiv(box.X0+box.X1, 2)
	cy := floorDiv(box.Y0+box.Y1, 2)
	half := Expanded(box, padding) / 2

	x0 := max(0, cx-half)
	y0 := max(0, cy-half)
	x1 := min(width, cx+half)
	y1 := min(height, cy+half)

	// a box lying entirely outside the image clamps to nothing; keep one pixel
	side := max(1, min(x1-x0, y1-y0))

	nx := clamp(cx-side/2, 0, width-side)
	ny := clamp(cy-side/2, 0, height-side)
	return image.Rect(nx, ny, nx+side, ny+side), nil
}

// Render crops img to the square window of box and resamples it to size×size.
func Render(img image.Image, box detect.Box, padding float64, size int) (*image.NRGBA, image.Rectangle, error) {
	if size < MinSize || size > MaxSize {
		return nil, image.Rectangle{}, fmt.Errorf("%w: size %d out of [%d,%d]", detect.ErrInput, size, MinSize, MaxSize)
	}
	b := img.Bounds()
	win, err := Window(b.Dx(), b.Dy(), box, padding)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	cropped, err := imgcodec.Crop(img, win)
	if err != nil {
		return nil, win, err
	}
	out, err := imgcodec.Resize(cropped, size)
	if err != nil {
		return nil, win, err
	}
	return out, win, nil
}

// RenderPNG is Render followed by PNG encoding.
func RenderPNG(img image.Image, box detect.Box, padding float64, size int) ([]byte, error) {
	out, _, err := Render(img, box, padding, size)
	if err != nil {
		return nil, err
	}
	return imgcodec.EncodePNG(out)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
