package models

import (
	"image"
)

// Frame represents a single ultrasound frame with metadata
type Frame struct {
	// Image is the RGB pixel data. Frames are never modified after extraction.
	Image *image.RGBA

	// Index is the position of this frame in acquisition order
	Index int
}

// Width returns the frame width in pixels
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// CropRectangle holds the shared crop bounds computed once per image.
// Rows index the y axis and columns the x axis; the max bounds are exclusive.
type CropRectangle struct {
	RowMin int
	RowMax int
	ColMin int
	ColMax int
}

// FullFrame returns the bounds that keep a width x height frame intact
func FullFrame(width, height int) CropRectangle {
	return CropRectangle{RowMin: 0, RowMax: height, ColMin: 0, ColMax: width}
}

// Rect converts the crop to an image.Rectangle in original-image space
func (c CropRectangle) Rect() image.Rectangle {
	return image.Rect(c.ColMin, c.RowMin, c.ColMax, c.RowMax)
}

// Width is the cropped width in pixels
func (c CropRectangle) Width() int { return c.ColMax - c.ColMin }

// Height is the cropped height in pixels
func (c CropRectangle) Height() int { return c.RowMax - c.RowMin }

// ToOriginal translates a point from cropped-image space to original-image space
func (c CropRectangle) ToOriginal(p image.Point) image.Point {
	return image.Pt(p.X+c.ColMin, p.Y+c.RowMin)
}

// Dataset represents one ingested image: its cropped frames plus the geometry
// needed to map results back to the original raster.
type Dataset struct {
	// Frames are the cropped frames in acquisition order
	Frames []Frame

	// OriginalWidth and OriginalHeight are the dimensions before cropping
	OriginalWidth  int
	OriginalHeight int

	// Crop is the rectangle shared by every frame
	Crop CropRectangle

	// CroppedWidth and CroppedHeight are identical for all frames
	CroppedWidth  int
	CroppedHeight int
}

// Len returns the number of frames
func (d *Dataset) Len() int { return len(d.Frames) }

// Images returns the cropped frame rasters in order
func (d *Dataset) Images() []image.Image {
	out := make([]image.Image, len(d.Frames))
	for i, f := range d.Frames {
		out[i] = f.Image
	}
	return out
}

// MultiFrame reports whether the dataset should go through detection+tracking
func (d *Dataset) MultiFrame() bool { return len(d.Frames) > 1 }
