package cropper

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thyroidscan/internal/models"
	"thyroidscan/pkg/inference"
)

// createBorderedFrame creates a bright frame with black borders of the given
// widths (top, bottom, left, right)
func createBorderedFrame(width, height, top, bottom, left, right int) models.Frame {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.RGBA{A: 255}
			if y >= top && y < height-bottom && x >= left && x < width-right {
				c = color.RGBA{180, 180, 180, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return models.Frame{Image: img}
}

func TestUniformBorderIsRemovedExactly(t *testing.T) {
	const w = 10
	frames := make([]models.Frame, 3)
	for i := range frames {
		frames[i] = createBorderedFrame(120, 100, w, w, w, w)
		frames[i].Index = i
	}

	ds, err := New(DefaultParams()).Crop(context.Background(), frames)
	require.NoError(t, err)

	want := models.CropRectangle{RowMin: w, RowMax: 100 - w, ColMin: w, ColMax: 120 - w}
	if diff := cmp.Diff(want, ds.Crop); diff != "" {
		t.Fatalf("crop mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 120, ds.OriginalWidth)
	assert.Equal(t, 100, ds.OriginalHeight)
	assert.Equal(t, 100, ds.CroppedWidth)
	assert.Equal(t, 80, ds.CroppedHeight)
	for i, f := range ds.Frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, 100, f.Width())
		assert.Equal(t, 80, f.Height())
		// every kept pixel is content
		assert.Equal(t, uint8(180), f.Image.RGBAAt(0, 0).R)
		assert.Equal(t, uint8(180), f.Image.RGBAAt(99, 79).R)
	}
}

func TestFrameWithoutBorderDisablesCropOnThatSide(t *testing.T) {
	frames := []models.Frame{
		createBorderedFrame(90, 90, 8, 8, 8, 8),
		createBorderedFrame(90, 90, 8, 0, 8, 8), // no bottom border
		createBorderedFrame(90, 90, 8, 8, 8, 8),
	}

	ds, err := New(DefaultParams()).Crop(context.Background(), frames)
	require.NoError(t, err)

	assert.Equal(t, 8, ds.Crop.RowMin)
	assert.Equal(t, 90, ds.Crop.RowMax)
	assert.Equal(t, 8, ds.Crop.ColMin)
	assert.Equal(t, 82, ds.Crop.ColMax)
}

func TestFrameWithoutAnyBorderKeepsFullFrame(t *testing.T) {
	frames := []models.Frame{
		createBorderedFrame(60, 40, 5, 5, 5, 5),
		createBorderedFrame(60, 40, 0, 0, 0, 0),
	}

	ds, err := New(DefaultParams()).Crop(context.Background(), frames)
	require.NoError(t, err)
	assert.Equal(t, models.FullFrame(60, 40), ds.Crop)
}

func TestBorderInsideHoldRangeIsKept(t *testing.T) {
	// a dark band across the middle rows must never be treated as border
	f := createBorderedFrame(90, 90, 0, 0, 0, 0)
	for y := 40; y < 50; y++ {
		for x := 0; x < 90; x++ {
			f.Image.SetRGBA(x, y, color.RGBA{A: 255})
		}
	}

	rect := New(DefaultParams()).FrameBounds(f.Image)
	assert.Equal(t, models.FullFrame(90, 90), rect)
}

func TestMergeIsLeastRestrictive(t *testing.T) {
	got := Merge([]models.CropRectangle{
		{RowMin: 5, RowMax: 90, ColMin: 3, ColMax: 70},
		{RowMin: 2, RowMax: 95, ColMin: 6, ColMax: 60},
	})
	assert.Equal(t, models.CropRectangle{RowMin: 2, RowMax: 95, ColMin: 3, ColMax: 70}, got)
}

func TestCropEmptyInput(t *testing.T) {
	_, err := New(DefaultParams()).Crop(context.Background(), nil)
	require.True(t, errors.Is(err, inference.ErrEmptyImage))
}

func TestCropRejectsMismatchedFrames(t *testing.T) {
	_, err := New(DefaultParams()).Crop(context.Background(), []models.Frame{
		createBorderedFrame(20, 20, 0, 0, 0, 0),
		createBorderedFrame(21, 20, 0, 0, 0, 0),
	})
	require.Error(t, err)
}
