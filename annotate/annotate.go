// Package annotate marks detections on the source image: bordered masks and blurred-background highlights.
package annotate

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"AniObjCut/detect"
	"AniObjCut/imgcodec"
	"AniObjCut/logger"
	"AniObjCut/square"

	"go.uber.org/zap"
)

// Limits accepted for stroke width and blur radius.
const (
	MinStrokeWidth = 1
	MaxStrokeWidth = 32
	MaxBlurRadius  = 100
)

// Spec controls annotation output.
type Spec struct {
	Color       color.NRGBA
	StrokeWidth int
	BlurRadius  float64
	WithMask    bool
}

func (s Spec) validate(needBlur bool) error {
	if s.StrokeWidth < MinStrokeWidth || s.StrokeWidth > MaxStrokeWidth {
		return fmt.Errorf("%w: stroke width %d out of [%d,%d]", detect.ErrInput, s.StrokeWidth, MinStrokeWidth, MaxStrokeWidth)
	}
	if needBlur && (s.BlurRadius < 0 || s.BlurRadius > MaxBlurRadius) {
		return fmt.Errorf("%w: blur radius %v out of [0,%d]", detect.ErrInput, s.BlurRadius, MaxBlurRadius)
	}
	return nil
}

type Annotator struct {
	dispatcher *detect.Dispatcher
}

func New(dispatcher *detect.Dispatcher) *Annotator {
	return &Annotator{dispatcher: dispatcher}
}

// Windows returns the square crop window of every detection of t, in detection order.
// Annotations use the squared window, not the raw detection box.
func (a *Annotator) Windows(ctx context.Context, t detect.Type, src imgcodec.Source, padding float64) ([]image.Rectangle, error) {
	dets, err := a.dispatcher.Detections(ctx, t, src.Path)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return nil, fmt.Errorf("%w: no %s in %s", detect.ErrNotFound, t, src.Stem())
	}
	b := src.Image.Bounds()
	wins := make([]image.Rectangle, 0, len(dets))
	for _, det := range dets {
		win, err := square.Window(b.Dx(), b.Dy(), det.Box, padding)
		if err != nil {
			return nil, err
		}
		wins = append(wins, win)
	}
	return wins, nil
}

// Mask draws the border of every window of t onto one copy of the source.
func (a *Annotator) Mask(ctx context.Context, t detect.Type, src imgcodec.Source, padding float64, spec Spec) (*image.NRGBA, error) {
	if err := spec.validate(false); err != nil {
		return nil, err
	}
	wins, err := a.Windows(ctx, t, src, padding)
	if err != nil {
		return nil, err
	}
	out := imgcodec.Clone(src.Image)
	drawBorders(out, wins, spec)
	logger.Log().Info("masked", zap.String("type", t.String()), zap.Int("count", len(wins)))
	return out, nil
}

// Highlight blurs everything outside the union of the windows of t, pastes the sharp source back
// inside it and, with spec.WithMask, draws the borders last.
func (a *Annotator) Highlight(ctx context.Context, t detect.Type, src imgcodec.Source, padding float64, spec Spec) (*image.NRGBA, error) {
	if err := spec.validate(true); err != nil {
		return nil, err
	}
	wins, err := a.Windows(ctx, t, src, padding)
	if err != nil {
		return nil, err
	}
	sharp := imgcodec.Clone(src.Image)
	out := imgcodec.Blur(sharp, spec.BlurRadius)

	// pasting each window with Src replaces the union exactly, translucent pixels included
	for _, win := range wins {
		draw.Draw(out, win, sharp, win.Min, draw.Src)
	}

	if spec.WithMask {
		drawBorders(out, wins, spec)
	}
	logger.Log().Info("highlighted",
		zap.String("type", t.String()),
		zap.Int("count", len(wins)),
		zap.Float64("blurRadius", spec.BlurRadius),
		zap.Bool("withMask", spec.WithMask))
	return out, nil
}

func drawBorders(dst *image.NRGBA, wins []image.Rectangle, spec Spec) {
	for _, win := range wins {
		imgcodec.DrawRect(dst, win, spec.Color, spec.StrokeWidth)
	}
}
