package models

import (
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/mat"
)

// ErrSequenceDesync is returned when the co-indexed sequences of a Nodule
// no longer have the same length.
var ErrSequenceDesync = errors.New("nodule sequences out of sync")

// Nodule aggregates every observation of one detected nodule.
//
// FrameNumbers, ROIs, Boxes and IndicesInFrame are co-indexed: element i of
// each describes the same observation. They are only ever extended together
// through Append.
type Nodule struct {
	// ID is the serial id (single frame) or tracker id (multi-frame)
	ID int

	// CroppedWidth and CroppedHeight are copied from the Dataset at creation
	CroppedWidth  int
	CroppedHeight int

	// FrameNumbers holds the frame index of each observation
	FrameNumbers []int

	// ROIs holds the enlarged ROI crops
	ROIs []*image.RGBA

	// Boxes holds the enlarged ROI bounds in cropped-image space
	Boxes []image.Rectangle

	// IndicesInFrame holds each ROI's position within its frame's ROI list
	IndicesInFrame []int

	// LargestArea is the largest enlarged box area seen so far
	LargestArea int

	// LargestROIIdx points at the observation with LargestArea.
	// Ties resolve to the most recent observation.
	LargestROIIdx int
}

// NewNodule creates an empty nodule for a dataset with the given cropped size
func NewNodule(id, croppedWidth, croppedHeight int) *Nodule {
	return &Nodule{
		ID:            id,
		CroppedWidth:  croppedWidth,
		CroppedHeight: croppedHeight,
		LargestArea:   -1,
		LargestROIIdx: -1,
	}
}

// Len returns the number of observations
func (n *Nodule) Len() int { return len(n.FrameNumbers) }

// Validate checks that the co-indexed sequences agree in length and that the
// largest-area index is in range.
func (n *Nodule) Validate() error {
	l := len(n.FrameNumbers)
	if len(n.ROIs) != l || len(n.Boxes) != l || len(n.IndicesInFrame) != l {
		return fmt.Errorf("%w: nodule %d has %d frames, %d rois, %d boxes, %d indices",
			ErrSequenceDesync, n.ID, l, len(n.ROIs), len(n.Boxes), len(n.IndicesInFrame))
	}
	if l > 0 && (n.LargestROIIdx < 0 || n.LargestROIIdx >= l) {
		return fmt.Errorf("%w: nodule %d largest index %d outside [0,%d)",
			ErrSequenceDesync, n.ID, n.LargestROIIdx, l)
	}
	return nil
}

// Append records one observation and updates the largest-area index.
// An observation whose area equals the current maximum takes over the index.
func (n *Nodule) Append(frame int, roi *image.RGBA, box image.Rectangle, indexInFrame int) error {
	if err := n.Validate(); err != nil {
		return err
	}

	n.FrameNumbers = append(n.FrameNumbers, frame)
	n.ROIs = append(n.ROIs, roi)
	n.Boxes = append(n.Boxes, box)
	n.IndicesInFrame = append(n.IndicesInFrame, indexInFrame)

	area := box.Dx() * box.Dy()
	if n.LargestROIIdx < 0 || area >= n.LargestArea {
		n.LargestArea = area
		n.LargestROIIdx = n.Len() - 1
	}

	return n.Validate()
}

// LargestROI returns the crop of the observation with the largest box
func (n *Nodule) LargestROI() (*image.RGBA, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if n.Len() == 0 {
		return nil, fmt.Errorf("nodule %d has no observations", n.ID)
	}
	return n.ROIs[n.LargestROIIdx], nil
}

// NoduleSet keeps nodules keyed by id in the order they were first seen
type NoduleSet struct {
	order []int
	byID  map[int]*Nodule
}

// NewNoduleSet creates an empty set
func NewNoduleSet() *NoduleSet {
	return &NoduleSet{byID: make(map[int]*Nodule)}
}

// Len returns the number of nodules
func (s *NoduleSet) Len() int { return len(s.order) }

// Get looks up a nodule by id
func (s *NoduleSet) Get(id int) (*Nodule, bool) {
	n, ok := s.byID[id]
	return n, ok
}

// GetOrCreate returns the nodule with id, creating it if needed.
// The boolean reports whether a new nodule was allocated.
func (s *NoduleSet) GetOrCreate(id, croppedWidth, croppedHeight int) (*Nodule, bool) {
	if n, ok := s.byID[id]; ok {
		return n, false
	}
	n := NewNodule(id, croppedWidth, croppedHeight)
	s.byID[id] = n
	s.order = append(s.order, id)
	return n, true
}

// IDs returns nodule ids in insertion order
func (s *NoduleSet) IDs() []int {
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}

// All returns the nodules in insertion order
func (s *NoduleSet) All() []*Nodule {
	out := make([]*Nodule, len(s.order))
	for i, id := range s.order {
		out[i] = s.byID[id]
	}
	return out
}

// FrameROI is one enlarged ROI listed in its frame's detection order.
// It is built by the tracker and never modified afterwards.
type FrameROI struct {
	ROI      *image.RGBA
	NoduleID int
}

// MaskedROI pairs a FrameROI with the masks segmentation produced for it.
type MaskedROI struct {
	FrameROI

	// CroppedMask is the nodule mask in cropped-image space
	CroppedMask *mat.Dense

	// Mask is the nodule mask in original-image space
	Mask *mat.Dense
}
