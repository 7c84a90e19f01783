package batch

import (
	"context"
	"errors"
	"fmt"
	"image"

	"AniObjCut/detect"
	"AniObjCut/imgcodec"
	"AniObjCut/logger"
	"AniObjCut/square"

	"go.uber.org/zap"
)

// Store persists encoded outputs under opaque ids.
type Store interface {
	Ensure() error
	Put(name string, data []byte) (string, error)
	Delete(id string) error
}

// Output is one square crop, in detection order.
type Output struct {
	Index     int              `json:"index"`
	Name      string           `json:"name"`
	ID        string           `json:"id,omitempty"`
	Window    image.Rectangle  `json:"-"`
	Detection detect.Detection `json:"detection"`
	PNG       []byte           `json:"-"`
}

type Generator struct {
	dispatcher *detect.Dispatcher
	store      Store
}

func NewGenerator(dispatcher *detect.Dispatcher, store Store) *Generator {
	return &Generator{dispatcher: dispatcher, store: store}
}

// Name is the deterministic artifact name of crop i.
func Name(stem string, t detect.Type, i int) string {
	return fmt.Sprintf("%s_%s_%d", stem, t, i)
}

// Generate crops every detection of t and stores the results. Either every crop is stored
// or none is.
func (g *Generator) Generate(ctx context.Context, t detect.Type, src imgcodec.Source, padding float64, size int) ([]Output, error) {
	outs, err := g.render(ctx, t, src, padding, size, -1)
	if err != nil {
		return nil, err
	}
	if err := g.store.Ensure(); err != nil {
		return nil, fmt.Errorf("%w: %w", detect.ErrProcessing, err)
	}
	for i := range outs {
		id, err := g.store.Put(outs[i].Name, outs[i].PNG)
		if err != nil {
			g.rollback(outs[:i])
			return nil, fmt.Errorf("%w: store %s: %w", detect.ErrProcessing, outs[i].Name, err)
		}
		outs[i].ID = id
	}
	logger.Log().Info("generated squares",
		zap.String("type", t.String()),
		zap.String("source", src.Stem()),
		zap.Int("count", len(outs)))
	return outs, nil
}

// First renders only the first detection of t without storing it.
func (g *Generator) First(ctx context.Context, t detect.Type, src imgcodec.Source, padding float64, size int) (Output, error) {
	outs, err := g.render(ctx, t, src, padding, size, 1)
	if err != nil {
		return Output{}, err
	}
	return outs[0], nil
}

func (g *Generator) render(ctx context.Context, t detect.Type, src imgcodec.Source, padding float64, size int, limit int) ([]Output, error) {
	dets, err := g.dispatcher.Detections(ctx, t, src.Path)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return nil, fmt.Errorf("%w: no %s in %s", detect.ErrNotFound, t, src.Stem())
	}
	if limit > 0 && len(dets) > limit {
		dets = dets[:limit]
	}
	stem := src.Stem()
	outs := make([]Output, 0, len(dets))
	for i, det := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := Name(stem, t, i)
		img, win, err := square.Render(src.Image, det.Box, padding, size)
		if err != nil {
			return nil, cropFailure(name, err)
		}
		data, err := imgcodec.EncodePNG(img)
		if err != nil {
			return nil, cropFailure(name, err)
		}
		outs = append(outs, Output{Index: i, Name: name, Window: win, Detection: det, PNG: data})
	}
	return outs, nil
}

// invalid caller parameters stay input errors; anything else aborts the batch as a processing failure
func cropFailure(name string, err error) error {
	if errors.Is(err, detect.ErrInput) || errors.Is(err, detect.ErrProcessing) {
		return fmt.Errorf("crop %s: %w", name, err)
	}
	return fmt.Errorf("%w: crop %s: %w", detect.ErrProcessing, name, err)
}

func (g *Generator) rollback(stored []Output) {
	for _, o := range stored {
		if err := g.store.Delete(o.ID); err != nil {
			logger.Log().Error("rollback stored square", zap.String("id", o.ID), zap.Error(err))
		}
	}
}
