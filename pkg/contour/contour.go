// Package contour extracts outline points from binary masks.
//
// Find is the entry point used by the rest of the module. Builds with the
// gocv tag delegate to OpenCV; the default build uses Trace, a pure Go
// Moore-neighbour tracer that reports the outer boundary of every
// 8-connected component with collinear runs compressed.
package contour

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// Clockwise neighbour ring in image coordinates, starting west
var ring = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

func ringIndex(d image.Point) int {
	for i, r := range ring {
		if r == d {
			return i
		}
	}
	return -1
}

type grid struct {
	rows, cols int
	on         []bool
}

func newGrid(mask mat.Matrix) *grid {
	r, c := mask.Dims()
	g := &grid{rows: r, cols: c, on: make([]bool, r*c)}
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			g.on[y*c+x] = mask.At(y, x) != 0
		}
	}
	return g
}

func (g *grid) at(p image.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.cols && p.Y < g.rows && g.on[p.Y*g.cols+p.X]
}

// Trace returns the outer contour of every 8-connected foreground component
// of mask, in raster order of each component's first pixel. Points are (x, y)
// pixel positions.
func Trace(mask mat.Matrix) [][]image.Point {
	g := newGrid(mask)
	seen := make([]bool, len(g.on))

	var out [][]image.Point
	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			i := y*g.cols + x
			if !g.on[i] || seen[i] {
				continue
			}
			g.fill(image.Pt(x, y), seen)
			out = append(out, Simplify(g.trace(image.Pt(x, y))))
		}
	}
	return out
}

// fill marks the component containing start as seen
func (g *grid) fill(start image.Point, seen []bool) {
	stack := []image.Point{start}
	seen[start.Y*g.cols+start.X] = true
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range ring {
			n := p.Add(d)
			if g.at(n) && !seen[n.Y*g.cols+n.X] {
				seen[n.Y*g.cols+n.X] = true
				stack = append(stack, n)
			}
		}
	}
}

// trace follows the boundary clockwise from start, which must be the first
// pixel of its component in raster order.
func (g *grid) trace(start image.Point) []image.Point {
	contour := []image.Point{start}
	cur := start
	back := start.Add(ring[0])
	limit := 4*len(g.on) + 8

	for step := 0; step < limit; step++ {
		from := ringIndex(back.Sub(cur))
		next, prev, found := cur, back, false
		for k := 1; k <= 8; k++ {
			d := (from + k) % 8
			n := cur.Add(ring[d])
			if g.at(n) {
				next, found = n, true
				break
			}
			prev = n
		}
		if !found {
			return contour
		}
		if cur == start && len(contour) > 1 && next == contour[1] {
			return contour[:len(contour)-1]
		}
		contour = append(contour, next)
		back, cur = prev, next
	}
	return contour
}

// Simplify drops points lying in the middle of straight horizontal, vertical
// or diagonal runs of a closed contour
func Simplify(pts []image.Point) []image.Point {
	if len(pts) < 3 {
		return pts
	}
	out := make([]image.Point, 0, len(pts))
	for i, p := range pts {
		prev := pts[(i+len(pts)-1)%len(pts)]
		next := pts[(i+1)%len(pts)]
		if p.Sub(prev) != next.Sub(p) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return pts[:1]
	}
	return out
}
