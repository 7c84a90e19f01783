package square

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"AniObjCut/detect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canvas(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 3), B: uint8(x + y), A: 0xff})
		}
	}
	return img
}

func TestWindow(t *testing.T) {
	t.Run("Test centred without clamp", func(t *testing.T) {
		box := detect.Box{X0: 400, Y0: 400, X1: 600, Y1: 600}
		assert.Equal(t, 320, Expanded(box, 0.3))
		win, err := Window(1000, 1000, box, 0.3)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(340, 340, 660, 660), win)
	})

	t.Run("Test left edge clamp then recentre", func(t *testing.T) {
		// x clamps to [0,210], y stays [40,360]; the square keeps the shorter side
		// and is re-centred vertically on the box.
		box := detect.Box{X0: 0, Y0: 100, X1: 100, Y1: 300}
		win, err := Window(300, 400, box, 0.3)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 95, 210, 305), win)
	})

	t.Run("Test both edges shift window off centre", func(t *testing.T) {
		// base 90 → expanded 162, half 81; centre (45,150)
		// x: [0,126], y: [69,200] → side 126; y re-centre 150-63=87 clamps to 200-126=74
		box := detect.Box{X0: 0, Y0: 120, X1: 90, Y1: 180}
		win, err := Window(300, 200, box, 0.4)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 74, 126, 200), win)
	})

	t.Run("Test zero padding", func(t *testing.T) {
		box := detect.Box{X0: 10, Y0: 20, X1: 50, Y1: 40}
		win, err := Window(100, 100, box, 0)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(10, 10, 50, 50), win)
	})

	t.Run("Test degenerate box keeps one pixel", func(t *testing.T) {
		win, err := Window(50, 50, detect.Box{X0: 20, Y0: 20, X1: 20, Y1: 20}, 0.5)
		require.NoError(t, err)
		assert.Equal(t, 1, win.Dx())
		assert.Equal(t, 1, win.Dy())
	})

	t.Run("Test box entirely outside", func(t *testing.T) {
		win, err := Window(50, 50, detect.Box{X0: 200, Y0: -90, X1: 260, Y1: -40}, 0.3)
		require.NoError(t, err)
		assert.True(t, win.In(image.Rect(0, 0, 50, 50)))
		assert.False(t, win.Empty())
	})

	t.Run("Test bad input", func(t *testing.T) {
		_, err := Window(0, 10, detect.Box{X1: 1, Y1: 1}, 0.3)
		assert.ErrorIs(t, err, detect.ErrInput)
		_, err = Window(10, 10, detect.Box{X1: 1, Y1: 1}, 1.5)
		assert.ErrorIs(t, err, detect.ErrInput)
	})
}

func TestWindow_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		w := 1 + rng.Intn(800)
		h := 1 + rng.Intn(800)
		x0 := rng.Intn(w+200) - 100
		y0 := rng.Intn(h+200) - 100
		box := detect.Box{X0: x0, Y0: y0, X1: x0 + rng.Intn(400), Y1: y0 + rng.Intn(400)}
		p := rng.Float64()

		win, err := Window(w, h, box, p)
		require.NoError(t, err)

		assert.True(t, 0 <= win.Min.X && win.Min.X < win.Max.X && win.Max.X <= w, "x bounds %v on %dx%d", win, w, h)
		assert.True(t, 0 <= win.Min.Y && win.Min.Y < win.Max.Y && win.Max.Y <= h, "y bounds %v on %dx%d", win, w, h)
		assert.Equal(t, win.Dx(), win.Dy())

		if Expanded(box, p) >= 2 {
			assert.LessOrEqual(t, win.Dx(), Expanded(box, p))
		}
	}
}

func TestRender(t *testing.T) {
	src := canvas(300, 400)
	box := detect.Box{X0: 0, Y0: 100, X1: 100, Y1: 300}

	t.Run("Test fixed output shape", func(t *testing.T) {
		for _, size := range []int{32, 100, 512} {
			out, win, err := Render(src, box, 0.3, size)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, size, size), out.Bounds())
			assert.Equal(t, image.Rect(0, 95, 210, 305), win)
		}
	})

	t.Run("Test deterministic bytes", func(t *testing.T) {
		a, err := RenderPNG(src, box, 0.3, 128)
		require.NoError(t, err)
		b, err := RenderPNG(src, box, 0.3, 128)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Test size below minimum", func(t *testing.T) {
		_, _, err := Render(src, box, 0.3, 31)
		assert.ErrorIs(t, err, detect.ErrInput)
	})

	t.Run("Test size above maximum", func(t *testing.T) {
		_, _, err := Render(src, box, 0.3, MaxSize+1)
		assert.ErrorIs(t, err, detect.ErrInput)
	})

	t.Run("Test identity crop keeps pixels", func(t *testing.T) {
		small := canvas(64, 64)
		out, win, err := Render(small, detect.Box{X0: 0, Y0: 0, X1: 64, Y1: 64}, 0, 64)
		require.NoError(t, err)
		assert.Equal(t, small.Bounds(), win)
		assert.Equal(t, small.Pix, out.Pix)
	})
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 2, floorDiv(5, 2))
	assert.Equal(t, -3, floorDiv(-5, 2))
	assert.Equal(t, -2, floorDiv(-4, 2))
	assert.Equal(t, 0, floorDiv(0, 2))
}
