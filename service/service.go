// Package service runs the crop and annotation pipelines for one uploaded image per call.
package service

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"AniObjCut/annotate"
	"AniObjCut/batch"
	"AniObjCut/detect"
	"AniObjCut/imgcodec"
	"AniObjCut/logger"
	"AniObjCut/monitor"
	"AniObjCut/square"
	"AniObjCut/store"
	"AniObjCut/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults applied by the request surfaces for omitted fields.
const (
	DefaultSize        = 512
	DefaultPadding     = 0.3
	DefaultColor       = "#FF0000"
	DefaultStrokeWidth = 4
	DefaultBlurRadius  = 10

	DefaultMaxSize   = 2048
	DefaultMaxPixels = 40_000_000
)

// Limits bounds the work a single request may cause.
type Limits struct {
	// MaxSize is the largest output side, at most square.MaxSize.
	MaxSize int
	// MaxPixels caps width*height of a decoded upload; checked from the header before decoding.
	MaxPixels int
}

// Request carries one uploaded image and every tunable of the operations.
type Request struct {
	Type        string
	Image       []byte
	Filename    string
	Size        int
	Padding     float64
	Color       string
	StrokeWidth int
	BlurRadius  float64
	WithMask    bool
}

// NewRequest fills in the defaults.
func NewRequest(typ string, image []byte) Request {
	return Request{
		Type:        typ,
		Image:       image,
		Size:        DefaultSize,
		Padding:     DefaultPadding,
		Color:       DefaultColor,
		StrokeWidth: DefaultStrokeWidth,
		BlurRadius:  DefaultBlurRadius,
	}
}

type Service struct {
	dispatcher *detect.Dispatcher
	generator  *batch.Generator
	annotator  *annotate.Annotator
	store      *store.FileStore
	pool       *worker.Pool
	tempDir    string
	limits     Limits
}

func New(backend detect.Backend, st *store.FileStore, pool *worker.Pool, tempDir string) *Service {
	d := detect.NewDispatcher(backend)
	return &Service{
		dispatcher: d,
		generator:  batch.NewGenerator(d, st),
		annotator:  annotate.New(d),
		store:      st,
		pool:       pool,
		tempDir:    tempDir,
		limits:     Limits{MaxSize: DefaultMaxSize, MaxPixels: DefaultMaxPixels},
	}
}

// SetLimits replaces the request limits. Call it before serving.
// Non-positive fields keep their defaults; MaxSize is capped at square.MaxSize.
func (s *Service) SetLimits(l Limits) {
	if l.MaxSize > 0 {
		s.limits.MaxSize = min(l.MaxSize, square.MaxSize)
	}
	if l.MaxPixels > 0 {
		s.limits.MaxPixels = l.MaxPixels
	}
}

// Avatar is the first head crop.
func (s *Service) Avatar(ctx context.Context, req Request) ([]byte, error) {
	req.Type = string(detect.Head)
	return s.Square(ctx, req)
}

// Square returns the first crop of req.Type as PNG.
func (s *Service) Square(ctx context.Context, req Request) ([]byte, error) {
	return run(ctx, s, "square", req, func(ctx context.Context, t detect.Type, src imgcodec.Source) ([]byte, error) {
		out, err := s.generator.First(ctx, t, src, req.Padding, req.Size)
		if err != nil {
			return nil, err
		}
		monitor.DetectionsTotal.WithLabelValues(t.String()).Inc()
		return out.PNG, nil
	})
}

// Squares stores one crop per detection and returns them in detection order.
func (s *Service) Squares(ctx context.Context, req Request) ([]batch.Output, error) {
	return run(ctx, s, "squares", req, func(ctx context.Context, t detect.Type, src imgcodec.Source) ([]batch.Output, error) {
		outs, err := s.generator.Generate(ctx, t, src, req.Padding, req.Size)
		if err != nil {
			return nil, err
		}
		monitor.DetectionsTotal.WithLabelValues(t.String()).Add(float64(len(outs)))
		return outs, nil
	})
}

// Mask returns the source with the border of every detection window of req.Type, as PNG.
func (s *Service) Mask(ctx context.Context, req Request) ([]byte, error) {
	spec, err := annotationSpec(req)
	if err != nil {
		return nil, err
	}
	return run(ctx, s, "mask", req, func(ctx context.Context, t detect.Type, src imgcodec.Source) ([]byte, error) {
		img, err := s.annotator.Mask(ctx, t, src, req.Padding, spec)
		if err != nil {
			return nil, err
		}
		return imgcodec.EncodePNG(img)
	})
}

// Highlight returns the source blurred outside the detection windows of req.Type, as PNG.
func (s *Service) Highlight(ctx context.Context, req Request) ([]byte, error) {
	spec, err := annotationSpec(req)
	if err != nil {
		return nil, err
	}
	return run(ctx, s, "highlight", req, func(ctx context.Context, t detect.Type, src imgcodec.Source) ([]byte, error) {
		img, err := s.annotator.Highlight(ctx, t, src, req.Padding, spec)
		if err != nil {
			return nil, err
		}
		return imgcodec.EncodePNG(img)
	})
}

// Take delivers a stored artifact once.
func (s *Service) Take(id string) ([]byte, error) {
	return s.store.Take(id)
}

func annotationSpec(req Request) (annotate.Spec, error) {
	c, err := imgcodec.ParseColor(req.Color)
	if err != nil {
		return annotate.Spec{}, err
	}
	return annotate.Spec{
		Color:       c,
		StrokeWidth: req.StrokeWidth,
		BlurRadius:  req.BlurRadius,
		WithMask:    req.WithMask,
	}, nil
}

func (s *Service) validate(req Request) error {
	if req.Size < square.MinSize {
		return fmt.Errorf("%w: size %d below %d", detect.ErrInput, req.Size, square.MinSize)
	}
	if req.Size > s.limits.MaxSize {
		return fmt.Errorf("%w: size %d above %d", detect.ErrInput, req.Size, s.limits.MaxSize)
	}
	if req.Padding < 0 || req.Padding > 1 {
		return fmt.Errorf("%w: padding %v out of [0,1]", detect.ErrInput, req.Padding)
	}
	return nil
}

type result[T any] struct {
	val T
	err error
}

// run validates req, decodes the image, spools it to a temp file and executes fn on the pool.
// The temp file is removed exactly once on every path: by the job when it ran, here when it never did.
func run[T any](ctx context.Context, s *Service, op string, req Request, fn func(context.Context, detect.Type, imgcodec.Source) (T, error)) (out T, err error) {
	start := time.Now()
	defer func() {
		class := detect.ErrorClass(err)
		monitor.Observe(op, class, start)
		if class == detect.ClassProcessing {
			logger.Log().Error("operation failed", zap.String("op", op), zap.String("type", req.Type), zap.Error(err))
		}
	}()

	t, err := detect.ParseType(req.Type)
	if err != nil {
		return out, err
	}
	if err := s.validate(req); err != nil {
		return out, err
	}
	if err := imgcodec.CheckPixels(req.Image, s.limits.MaxPixels); err != nil {
		return out, err
	}
	img, err := imgcodec.Decode(req.Image)
	if err != nil {
		return out, err
	}
	path, err := s.spool(req, img)
	if err != nil {
		return out, err
	}
	name := req.Filename
	if name == "" {
		name = "image"
	}
	src := imgcodec.Source{Path: path, Name: name, Image: img}
	release := func() { removeTemp(path) }

	done := make(chan result[T], 1)
	job := func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("%w: panic in %s: %v", detect.ErrProcessing, op, r)}
			}
		}()
		val, err := fn(ctx, t, src)
		done <- result[T]{val: val, err: err}
	}
	if err := s.pool.Submit(ctx, job); err != nil {
		release()
		return out, err
	}
	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return out, ctx.Err()
	}
}

// spool writes the detector input. When EXIF rotates the upload, the upright raster is written
// instead so detector boxes share the frame of img.
func (s *Service) spool(req Request, img image.Image) (string, error) {
	data := req.Image
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if ext == "" || len(ext) > 5 {
		ext = ".png"
	}
	if imgcodec.Orientation(req.Image) != 1 {
		upright, err := imgcodec.EncodePNG(img)
		if err != nil {
			return "", err
		}
		data, ext = upright, ".png"
	}
	path := filepath.Join(s.tempDir, "aniobjcut_"+uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("%w: write temp input: %w", detect.ErrProcessing, err)
	}
	return path, nil
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Log().Error("remove temp input", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Log().Debug("removed temp input", zap.String("path", path))
}
