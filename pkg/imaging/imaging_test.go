package imaging

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func filled(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCropCopiesRegion(t *testing.T) {
	img := filled(20, 10, color.RGBA{10, 20, 30, 255})
	img.SetRGBA(5, 3, color.RGBA{200, 0, 0, 255})

	out := Crop(img, image.Rect(5, 3, 9, 8))
	require.Equal(t, image.Rect(0, 0, 4, 5), out.Bounds())
	assert.Equal(t, color.RGBA{200, 0, 0, 255}, out.RGBAAt(0, 0))

	// no aliasing
	out.SetRGBA(0, 0, color.RGBA{})
	assert.Equal(t, color.RGBA{200, 0, 0, 255}, img.RGBAAt(5, 3))
}

func TestCropOfSubImageUsesRelativeCoordinates(t *testing.T) {
	img := filled(20, 20, color.RGBA{0, 0, 0, 255})
	img.SetRGBA(12, 12, color.RGBA{255, 255, 255, 255})
	sub := img.SubImage(image.Rect(10, 10, 20, 20))

	out := Crop(sub, image.Rect(2, 2, 4, 4))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, out.RGBAAt(0, 0))
}

func TestToRGBARebasesBounds(t *testing.T) {
	img := filled(8, 8, color.RGBA{1, 2, 3, 255})
	sub := img.SubImage(image.Rect(2, 2, 6, 5))

	out := ToRGBA(sub)
	assert.Equal(t, image.Rect(0, 0, 4, 3), out.Bounds())
}

func TestLetterboxKeepsAspectRatio(t *testing.T) {
	img := filled(200, 100, color.RGBA{255, 255, 255, 255})

	out, scale, pad := Letterbox(img, 100, color.Gray{Y: 114})
	assert.Equal(t, image.Rect(0, 0, 100, 100), out.Bounds())
	assert.InDelta(t, 0.5, scale, 1e-12)
	assert.Equal(t, image.Pt(0, 25), pad)
	assert.Equal(t, uint8(114), out.RGBAAt(50, 10).R)
	assert.Equal(t, uint8(255), out.RGBAAt(50, 50).R)
}

func TestCHWNormalises(t *testing.T) {
	img := filled(2, 1, color.RGBA{255, 0, 51, 255})

	out := CHW(img, UnitMean, UnitStd)
	require.Len(t, out, 6)
	assert.InDelta(t, 1.0, out[0], 1e-6)
	assert.InDelta(t, 0.0, out[2], 1e-6)
	assert.InDelta(t, 0.2, out[4], 1e-6)

	norm := CHW(img, ImageNetMean, ImageNetStd)
	assert.InDelta(t, (1-0.485)/0.229, norm[0], 1e-5)
}

func TestGrayscale(t *testing.T) {
	img := filled(3, 2, color.RGBA{100, 100, 100, 255})
	rows := Grayscale(img)
	require.Len(t, rows, 2)
	require.Len(t, rows[0], 3)
	assert.Equal(t, 100.0, rows[1][2])
}

func TestResizeMaskNearestStaysBinary(t *testing.T) {
	m := mat.NewDense(4, 4, []float64{
		1, 1, 0, 0,
		1, 1, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
	})

	out := ResizeMaskNearest(m, 8, 6)
	r, c := out.Dims()
	require.Equal(t, 8, r)
	require.Equal(t, 6, c)
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			v := out.At(y, x)
			assert.True(t, v == 0 || v == 1)
		}
	}
	assert.Equal(t, 1.0, out.At(0, 0))
	assert.Equal(t, 0.0, out.At(7, 5))
}
