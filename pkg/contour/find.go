//go:build !gocv
// +build !gocv

package contour

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// Find returns the outer contours of mask
func Find(mask mat.Matrix) [][]image.Point {
	return Trace(mask)
}
