package models

import "math"

// NoTrack marks a detection the tracker did not assign to any track
const NoTrack = -1

// Rect is an axis-aligned box given by its corners (x1, y1) and (x2, y2)
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Width of the box
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height of the box
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Area of the box, zero for degenerate boxes
func (r Rect) Area() float64 {
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return 0
	}
	return r.Width() * r.Height()
}

// IoU returns the intersection over union of two boxes
func (r Rect) IoU(o Rect) float64 {
	ix1 := math.Max(r.X1, o.X1)
	iy1 := math.Max(r.Y1, o.Y1)
	ix2 := math.Min(r.X2, o.X2)
	iy2 := math.Min(r.Y2, o.Y2)
	inter := Rect{ix1, iy1, ix2, iy2}.Area()
	if inter == 0 {
		return 0
	}
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// DetectionBox is one detector or tracker output in cropped-image space
type DetectionBox struct {
	// Box holds the raw corner coordinates
	Box Rect

	// Confidence is the detector score
	Confidence float64

	// TrackID is the persistent tracker id, or NoTrack
	TrackID int

	// Frame is the index of the frame the box belongs to
	Frame int
}

// Tracked reports whether the tracker assigned an id to the box
func (b DetectionBox) Tracked() bool { return b.TrackID != NoTrack }
