// Package cropper removes the interface chrome and letterbox borders that
// ultrasound machines burn into every frame.
//
// Each frame is reduced to its per-row and per-column mean intensities. Lines
// at or below IntensityThreshold count as border. A central hold range is never
// cropped; outside it the innermost border line on each side marks the cut. The
// frames of one acquisition are then merged into the least restrictive
// rectangle so that no frame loses content.
package cropper

import (
	"context"
	"fmt"
	"image"

	"gonum.org/v1/gonum/stat"

	"thyroidscan/internal/models"
	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/imaging"
	"thyroidscan/pkg/inference"
)

// Params controls border detection
type Params struct {
	// IntensityThreshold is the greyscale mean at or below which a row or
	// column is treated as border
	IntensityThreshold float64

	// RowHold and ColHold are the [low, high] fractions of the frame height
	// and width protected from cropping
	RowHold [2]float64
	ColHold [2]float64
}

// DefaultParams returns the thresholds tuned for thyroid ultrasound exports
func DefaultParams() Params {
	return Params{
		IntensityThreshold: 5,
		RowHold:            [2]float64{0.8 / 3, 2.2 / 3},
		ColHold:            [2]float64{0.8 / 3, 1.8 / 3},
	}
}

// Cropper computes and applies the shared crop rectangle
type Cropper struct {
	params Params
}

// New creates a cropper
func New(params Params) *Cropper {
	return &Cropper{params: params}
}

// FrameBounds computes the crop rectangle of a single frame
func (c *Cropper) FrameBounds(img image.Image) models.CropRectangle {
	grey := imaging.Grayscale(img)
	height := len(grey)
	width := img.Bounds().Dx()

	rowMeans := make([]float64, height)
	for y, row := range grey {
		rowMeans[y] = stat.Mean(row, nil)
	}

	colMeans := make([]float64, width)
	column := make([]float64, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			column[y] = grey[y][x]
		}
		colMeans[x] = stat.Mean(column, nil)
	}

	rowMin, rowMax := c.cutRange(rowMeans, c.params.RowHold)
	colMin, colMax := c.cutRange(colMeans, c.params.ColHold)

	return models.CropRectangle{RowMin: rowMin, RowMax: rowMax, ColMin: colMin, ColMax: colMax}
}

// cutRange returns the kept [lo, hi) span of one axis. lo is one past the
// last border line at or before the low hold boundary; hi is the first border
// line at or after the high hold boundary.
func (c *Cropper) cutRange(means []float64, hold [2]float64) (int, int) {
	n := len(means)
	holdLo := int(float64(n) * hold[0])
	holdHi := int(float64(n) * hold[1])

	lo, hi := 0, n
	for i, v := range means {
		if v > c.params.IntensityThreshold {
			continue
		}
		if i <= holdLo && i+1 > lo {
			lo = i + 1
		}
		if i >= holdHi && i < hi {
			hi = i
		}
	}

	if lo >= hi {
		return 0, n
	}
	return lo, hi
}

// Merge combines per-frame rectangles into the one that crops least
func Merge(rects []models.CropRectangle) models.CropRectangle {
	out := rects[0]
	for _, r := range rects[1:] {
		out.RowMin = min(out.RowMin, r.RowMin)
		out.RowMax = max(out.RowMax, r.RowMax)
		out.ColMin = min(out.ColMin, r.ColMin)
		out.ColMax = max(out.ColMax, r.ColMax)
	}
	return out
}

// Crop computes the shared rectangle for frames and applies it to each of
// them. The frames must share one size.
func (c *Cropper) Crop(ctx context.Context, frames []models.Frame) (*models.Dataset, error) {
	if len(frames) == 0 {
		return nil, inference.ErrEmptyImage
	}

	width, height := frames[0].Width(), frames[0].Height()
	rects := make([]models.CropRectangle, len(frames))
	for i, f := range frames {
		if f.Width() != width || f.Height() != height {
			return nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, f.Width(), f.Height(), width, height)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rects[i] = c.FrameBounds(f.Image)
	}

	crop := Merge(rects)
	monitoring.FromContext(ctx).Logf("Final crop coordinates: rows [%d,%d) cols [%d,%d)", crop.RowMin, crop.RowMax, crop.ColMin, crop.ColMax)

	ds := &models.Dataset{
		Frames:         make([]models.Frame, len(frames)),
		OriginalWidth:  width,
		OriginalHeight: height,
		Crop:           crop,
		CroppedWidth:   crop.Width(),
		CroppedHeight:  crop.Height(),
	}
	for i, f := range frames {
		ds.Frames[i] = models.Frame{Image: imaging.Crop(f.Image, crop.Rect()), Index: f.Index}
	}
	return ds, nil
}
