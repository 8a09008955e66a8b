// Package imaging holds the raster helpers shared by the pipeline stages:
// RGBA conversion, sub-image copies, resizing and tensor packing.
package imaging

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"
)

// ImageNet channel statistics used to normalise segmentation inputs
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ToRGBA returns img as an *image.RGBA whose bounds start at the origin.
// The result never aliases img.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Crop copies the region r of img into a new origin-based RGBA image
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Add(img.Bounds().Min).Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

// Resize scales img to width x height with bilinear interpolation
func Resize(img image.Image, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}

// Letterbox scales img to fit a size x size square keeping its aspect ratio
// and pads the rest with the given fill. It returns the scale factor and the
// top-left padding so that boxes can be mapped back.
func Letterbox(img image.Image, size int, fill color.Color) (*image.RGBA, float64, image.Point) {
	b := img.Bounds()
	scale := float64(size) / float64(max(b.Dx(), b.Dy()))
	w := max(1, int(float64(b.Dx())*scale+0.5))
	h := max(1, int(float64(b.Dy())*scale+0.5))
	pad := image.Pt((size-w)/2, (size-h)/2)

	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	dst := image.Rect(pad.X, pad.Y, pad.X+w, pad.Y+h)
	xdraw.BiLinear.Scale(out, dst, img, b, xdraw.Src, nil)
	return out, scale, pad
}

// Grayscale returns the luma rows of img as float64 intensities in [0,255]
func Grayscale(img image.Image) [][]float64 {
	b := img.Bounds()
	rows := make([][]float64, b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := make([]float64, b.Dx())
		for x := 0; x < b.Dx(); x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			row[x] = float64(g.Y)
		}
		rows[y] = row
	}
	return rows
}

// CHW packs img into a planar float32 tensor. Each channel value is scaled to
// [0,1] and then normalised with (v - mean) / std.
func CHW(img image.Image, mean, std [3]float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			out[i] = (float32(r>>8)/255 - mean[0]) / std[0]
			out[plane+i] = (float32(g>>8)/255 - mean[1]) / std[1]
			out[2*plane+i] = (float32(bl>>8)/255 - mean[2]) / std[2]
		}
	}
	return out
}

// Unit leaves channel values scaled to [0,1]
var (
	UnitMean = [3]float32{0, 0, 0}
	UnitStd  = [3]float32{1, 1, 1}
)

// MaskToGray renders a {0,1} mask as an 8-bit image (1 becomes 255)
func MaskToGray(m mat.Matrix) *image.Gray {
	r, c := m.Dims()
	out := image.NewGray(image.Rect(0, 0, c, r))
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			if m.At(y, x) != 0 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// GrayToMask converts an 8-bit image back to a mask, marking pixels whose
// value is above threshold (in [0,1] units) as 1
func GrayToMask(g *image.Gray, threshold float64) *mat.Dense {
	b := g.Bounds()
	m := mat.NewDense(b.Dy(), b.Dx(), nil)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)/255 > threshold {
				m.Set(y, x, 1)
			}
		}
	}
	return m
}

// ResizeMaskNearest scales a mask to rows x cols with nearest-neighbour
// sampling so that no intermediate values are introduced.
func ResizeMaskNearest(m mat.Matrix, rows, cols int) *mat.Dense {
	src := MaskToGray(m)
	dst := image.NewGray(image.Rect(0, 0, cols, rows))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return GrayToMask(dst, 0.5)
}
