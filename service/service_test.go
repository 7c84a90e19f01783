package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"AniObjCut/backend"
	"AniObjCut/detect"
	"AniObjCut/imgcodec"
	"AniObjCut/square"
	"AniObjCut/store"
	"AniObjCut/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x * y), A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mustDetection(t *testing.T, x0, y0, x1, y1 int, label string, conf float64) detect.Detection {
	t.Helper()
	d, err := detect.NewDetection(x0, y0, x1, y1, label, conf)
	require.NoError(t, err)
	return d
}

type fixture struct {
	svc     *Service
	static  *backend.Static
	outDir  string
	tempDir string
}

func newFixture(t *testing.T, b detect.Backend) fixture {
	t.Helper()
	outDir := filepath.Join(t.TempDir(), "out")
	tempDir := t.TempDir()
	pool := worker.NewPool(2, 4)
	t.Cleanup(pool.Close)
	static, _ := b.(*backend.Static)
	return fixture{
		svc:     New(b, store.New(outDir), pool, tempDir),
		static:  static,
		outDir:  outDir,
		tempDir: tempDir,
	}
}

func (f fixture) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func defaultBackend(t *testing.T) *backend.Static {
	return backend.NewStatic(map[detect.Kind][]detect.Detection{
		detect.KindHead: {
			mustDetection(t, 100, 100, 200, 200, "head", 0.9),
			mustDetection(t, 10, 10, 40, 40, "head", 0.6),
		},
		detect.KindNudeNet: {
			mustDetection(t, 20, 20, 60, 60, detect.FemaleBreastExposed, 0.95),
			mustDetection(t, 150, 150, 190, 190, detect.FemaleGenitaliaExposed, 0.9),
		},
	})
}

func TestService_Squares(t *testing.T) {
	f := newFixture(t, defaultBackend(t))
	req := NewRequest("head", pngBytes(t, 300, 250))
	req.Size = 64
	req.Filename = "cat.jpg"

	outs, err := f.svc.Squares(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	for i, o := range outs {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, fmt.Sprintf("cat_head_%d", i), o.Name)
		data, err := f.svc.Take(o.ID)
		require.NoError(t, err)
		img, err := imgcodec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())

		_, err = f.svc.Take(o.ID)
		assert.ErrorIs(t, err, store.ErrMissing)
	}
	f.assertNoTempFiles(t)
}

func TestService_Square(t *testing.T) {
	f := newFixture(t, defaultBackend(t))

	t.Run("Test mongo first result", func(t *testing.T) {
		req := NewRequest("mongo", pngBytes(t, 300, 250))
		req.Size = 40
		data, err := f.svc.Square(context.Background(), req)
		require.NoError(t, err)
		img, err := imgcodec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 40, 40), img.Bounds())
	})

	t.Run("Test avatar uses head", func(t *testing.T) {
		req := NewRequest("feet", pngBytes(t, 300, 250))
		req.Size = 32
		data, err := f.svc.Avatar(context.Background(), req)
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	})

	t.Run("Test deterministic", func(t *testing.T) {
		req := NewRequest("head", pngBytes(t, 300, 250))
		a, err := f.svc.Square(context.Background(), req)
		require.NoError(t, err)
		b, err := f.svc.Square(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
	f.assertNoTempFiles(t)
}

func TestService_Annotations(t *testing.T) {
	f := newFixture(t, defaultBackend(t))
	src := pngBytes(t, 300, 250)

	for name, call := range map[string]func(context.Context, Request) ([]byte, error){
		"mask":      f.svc.Mask,
		"highlight": f.svc.Highlight,
	} {
		t.Run("Test "+name, func(t *testing.T) {
			req := NewRequest("nudenet", src)
			req.WithMask = true
			data, err := call(context.Background(), req)
			require.NoError(t, err)
			img, err := imgcodec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 300, 250), img.Bounds())
		})
	}

	t.Run("Test bad color", func(t *testing.T) {
		req := NewRequest("nudenet", src)
		req.Color = "chartreuse-ish"
		_, err := f.svc.Mask(context.Background(), req)
		assert.ErrorIs(t, err, detect.ErrInput)
	})
	f.assertNoTempFiles(t)
}

func TestService_Errors(t *testing.T) {
	f := newFixture(t, defaultBackend(t))
	img := pngBytes(t, 100, 100)

	t.Run("Test unknown type never reaches backend", func(t *testing.T) {
		before := len(f.static.Seen())
		_, err := f.svc.Squares(context.Background(), NewRequest("tentacles", img))
		assert.ErrorIs(t, err, detect.ErrConfiguration)
		assert.Len(t, f.static.Seen(), before)
	})

	t.Run("Test nothing detected", func(t *testing.T) {
		_, err := f.svc.Squares(context.Background(), NewRequest("eyes", img))
		assert.ErrorIs(t, err, detect.ErrNotFound)
		seen := f.static.Seen()
		assert.NoFileExists(t, seen[len(seen)-1])
		entries, _ := os.ReadDir(f.outDir)
		assert.Empty(t, entries)
	})

	t.Run("Test empty image", func(t *testing.T) {
		_, err := f.svc.Square(context.Background(), NewRequest("head", nil))
		assert.ErrorIs(t, err, detect.ErrInput)
	})

	t.Run("Test undecodable image", func(t *testing.T) {
		_, err := f.svc.Square(context.Background(), NewRequest("head", []byte("GIF89a-but-not-really")))
		assert.ErrorIs(t, err, detect.ErrInput)
	})

	t.Run("Test parameter ranges", func(t *testing.T) {
		req := NewRequest("head", img)
		req.Size = 31
		_, err := f.svc.Square(context.Background(), req)
		assert.ErrorIs(t, err, detect.ErrInput)
		req = NewRequest("head", img)
		req.Padding = 1.01
		_, err = f.svc.Square(context.Background(), req)
		assert.ErrorIs(t, err, detect.ErrInput)
	})
	f.assertNoTempFiles(t)
}

func TestService_BackendFailure(t *testing.T) {
	static := defaultBackend(t)
	static.Fail(errors.New("model offline"))
	f := newFixture(t, static)
	_, err := f.svc.Highlight(context.Background(), NewRequest("faces", pngBytes(t, 64, 64)))
	assert.ErrorIs(t, err, detect.ErrProcessing)
	f.assertNoTempFiles(t)
}

type panicBackend struct{}

func (panicBackend) Detect(context.Context, detect.Kind, string) ([]detect.Detection, error) {
	panic("native detector crashed")
}

func TestService_PanicBecomesProcessingError(t *testing.T) {
	f := newFixture(t, panicBackend{})
	_, err := f.svc.Square(context.Background(), NewRequest("head", pngBytes(t, 64, 64)))
	assert.ErrorIs(t, err, detect.ErrProcessing)
	f.assertNoTempFiles(t)
}

type blockingBackend struct {
	started chan string
	release chan struct{}
}

func (b *blockingBackend) Detect(ctx context.Context, kind detect.Kind, path string) ([]detect.Detection, error) {
	b.started <- path
	<-b.release
	return nil, nil
}

func TestService_CancelStillReleasesTemp(t *testing.T) {
	b := &blockingBackend{started: make(chan string, 1), release: make(chan struct{})}
	f := newFixture(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	req := NewRequest("head", pngBytes(t, 64, 64))
	errc := make(chan error, 1)
	go func() {
		_, err := f.svc.Squares(ctx, req)
		errc <- err
	}()

	path := <-b.started
	assert.FileExists(t, path)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(b.release)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)
}

// sidewaysJPEG is a 200x100 blue JPEG with a red patch at (140,25)-(190,75) and an EXIF
// orientation of 6, so it displays as 100x200 with the patch at (25,140)-(75,190).
func sidewaysJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			c := color.NRGBA{B: 0xff, A: 0xff}
			if x >= 140 && x < 190 && y >= 25 && y < 75 {
				c = color.NRGBA{R: 0xff, A: 0xff}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	jpg := buf.Bytes()

	tiff := []byte{
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x06, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	n := len(payload) + 2
	out := append([]byte{}, jpg[:2]...)
	out = append(out, 0xff, 0xe1, byte(n>>8), byte(n))
	out = append(out, payload...)
	return append(out, jpg[2:]...)
}

func isRed(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 > 200 && g>>8 < 80 && b>>8 < 80
}

// redFinder reports the bounding box of red pixels in the file it is given, the way a real
// detector reads the spooled input.
type redFinder struct {
	mu     sync.Mutex
	bounds image.Rectangle
}

func (r *redFinder) Detect(_ context.Context, _ detect.Kind, imagePath string) ([]detect.Detection, error) {
	img, err := imgcodec.DecodeFile(imagePath)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	r.mu.Lock()
	r.bounds = b
	r.mu.Unlock()
	found := image.Rectangle{}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if isRed(img.At(x, y)) {
				found = found.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}
	if found.Empty() {
		return nil, nil
	}
	d, err := detect.NewDetection(found.Min.X, found.Min.Y, found.Max.X, found.Max.Y, "head", 0.9)
	if err != nil {
		return nil, err
	}
	return []detect.Detection{d}, nil
}

func TestService_ExifRotatedUpload(t *testing.T) {
	finder := &redFinder{}
	f := newFixture(t, finder)
	req := NewRequest("head", sidewaysJPEG(t))
	req.Filename = "phone.jpg"
	req.Size = 32

	data, err := f.svc.Square(context.Background(), req)
	require.NoError(t, err)

	finder.mu.Lock()
	assert.Equal(t, image.Rect(0, 0, 100, 200), finder.bounds, "detector must see the upright image")
	finder.mu.Unlock()

	crop, err := imgcodec.Decode(data)
	require.NoError(t, err)
	assert.True(t, isRed(crop.At(16, 16)), "crop centre should be on the red patch, got %v", crop.At(16, 16))
	f.assertNoTempFiles(t)
}

func TestService_Limits(t *testing.T) {
	f := newFixture(t, defaultBackend(t))
	f.svc.SetLimits(Limits{MaxSize: 256, MaxPixels: 10_000})

	t.Run("Test size above limit", func(t *testing.T) {
		req := NewRequest("head", pngBytes(t, 64, 64))
		req.Size = 257
		_, err := f.svc.Square(context.Background(), req)
		assert.ErrorIs(t, err, detect.ErrInput)
	})

	t.Run("Test too many pixels", func(t *testing.T) {
		req := NewRequest("head", pngBytes(t, 300, 250))
		req.Size = 64
		_, err := f.svc.Squares(context.Background(), req)
		assert.ErrorIs(t, err, detect.ErrInput)
		assert.Empty(t, f.static.Seen(), "detector must not run on rejected uploads")
	})

	t.Run("Test within limits", func(t *testing.T) {
		req := NewRequest("head", pngBytes(t, 100, 100))
		req.Size = 256
		_, err := f.svc.Square(context.Background(), req)
		assert.NoError(t, err)
	})

	t.Run("Test ceiling", func(t *testing.T) {
		g := newFixture(t, defaultBackend(t))
		g.svc.SetLimits(Limits{MaxSize: 1 << 20})
		assert.Equal(t, square.MaxSize, g.svc.limits.MaxSize)
		assert.Equal(t, DefaultMaxPixels, g.svc.limits.MaxPixels)
	})
	f.assertNoTempFiles(t)
}
