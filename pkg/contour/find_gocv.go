//go:build gocv
// +build gocv

package contour

import (
	"image"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Find returns the contours of mask as reported by OpenCV
func Find(mask mat.Matrix) [][]image.Point {
	r, c := mask.Dims()
	m := gocv.NewMatWithSize(r, c, gocv.MatTypeCV8U)
	defer m.Close()
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			if mask.At(y, x) != 0 {
				m.SetUCharAt(y, x, 255)
			}
		}
	}

	pv := gocv.FindContours(m, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer pv.Close()

	out := make([][]image.Point, 0, pv.Size())
	for i := 0; i < pv.Size(); i++ {
		out = append(out, pv.At(i).ToPoints())
	}
	return out
}
