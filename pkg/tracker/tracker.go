// Package tracker turns per-frame detector output into nodules.
//
// A single-frame acquisition is detected once and every confident box becomes
// its own nodule. A multi-frame acquisition is detected and tracked, and the
// tracker's ids group observations of the same physical nodule. Every box is
// enlarged by a margin before its crop is taken; the enlarged box, not the
// raw one, is what segmentation and classification consume.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"image"

	"thyroidscan/internal/models"
	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/imaging"
	"thyroidscan/pkg/inference"
)

// Params holds the detection thresholds and ROI margin
type Params struct {
	Detect inference.DetectConfig

	// MarginPercent enlarges each side of a box by this share of the box
	// length along that axis
	MarginPercent int
}

// Result is the output of one detection/tracking pass
type Result struct {
	// Detections holds the raw detector or tracker boxes per frame
	Detections [][]models.DetectionBox

	// Nodules holds every nodule in the order it was first seen
	Nodules *models.NoduleSet

	// FrameROIs lists each frame's enlarged ROIs in detection order
	FrameROIs [][]models.FrameROI
}

// NoduleTracker runs detection or detection+tracking over a Dataset
type NoduleTracker struct {
	detector inference.Detector
	tracker  inference.Tracker
	backend  inference.Backend
	params   Params
}

// NewNoduleTracker creates a tracker from already loaded predictors. The
// tracker may be nil for single-frame use only.
func NewNoduleTracker(detector inference.Detector, tracker inference.Tracker, params Params) *NoduleTracker {
	return &NoduleTracker{detector: detector, tracker: tracker, params: params}
}

// NewModel creates a NoduleTracker whose detector is opened by Load through
// backend. Multi-frame tracking then uses an IoUTracker over that detector.
func NewModel(backend inference.Backend, params Params, trackerParams IoUParams) *NoduleTracker {
	nt := &NoduleTracker{backend: backend, params: params}
	nt.tracker = &lazyTracker{owner: nt, params: trackerParams}
	return nt
}

// Load opens the detection model at path
func (nt *NoduleTracker) Load(path string) error {
	if nt.backend == nil {
		return errors.New("tracker has no backend to load models with")
	}
	det, err := nt.backend.OpenDetector(path)
	if err != nil {
		return inference.WrapInference("detection", path, err)
	}
	nt.detector = det
	return nil
}

// Preprocess returns the frames the predictor is run on
func (nt *NoduleTracker) Preprocess(ds *models.Dataset) ([]image.Image, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, inference.ErrEmptyImage
	}
	if !ds.MultiFrame() {
		return ds.Images()[:1], nil
	}
	return ds.Images(), nil
}

// Predict runs the detection/tracking pass over ds
func (nt *NoduleTracker) Predict(ctx context.Context, ds *models.Dataset) (*Result, error) {
	log := monitoring.FromContext(ctx)
	frames, err := nt.Preprocess(ds)
	if err != nil {
		return nil, err
	}

	log.Logf("Found %d frames", ds.Len())
	if !ds.MultiFrame() {
		return nt.detectSingle(ctx, ds, frames)
	}
	return nt.detectTrack(ctx, ds, frames)
}

func (nt *NoduleTracker) detectSingle(ctx context.Context, ds *models.Dataset, frames []image.Image) (*Result, error) {
	log := monitoring.FromContext(ctx)
	if nt.detector == nil {
		return nil, errors.New("no detector configured")
	}

	log.Logf("Detection started...")
	detections, err := nt.detector.Detect(ctx, frames, nt.params.Detect)
	if err != nil {
		return nil, inference.WrapInference("detection", "", err)
	}
	if len(detections) != len(frames) {
		return nil, &inference.ShapeError{
			Stage: "detection",
			Want:  fmt.Sprintf("%d frames", len(frames)),
			Got:   fmt.Sprintf("%d frames", len(detections)),
		}
	}

	res := &Result{Detections: detections, Nodules: models.NewNoduleSet()}
	nextID := 0
	for i, boxes := range detections {
		var rois []models.FrameROI
		for _, box := range boxes {
			if box.Confidence < nt.params.Detect.Confidence {
				continue
			}
			enlarged, ok := nt.enlarge(log, box, ds, i)
			if !ok {
				continue
			}
			roi := imaging.Crop(ds.Frames[i].Image, enlarged)
			n, _ := res.Nodules.GetOrCreate(nextID, ds.CroppedWidth, ds.CroppedHeight)
			if err := n.Append(i, roi, enlarged, len(rois)); err != nil {
				return nil, err
			}
			rois = append(rois, models.FrameROI{ROI: roi, NoduleID: nextID})
			nextID++
		}
		if len(boxes) == 0 {
			log.Warnf("no detections in frame %d", i)
		}
		res.FrameROIs = append(res.FrameROIs, rois)
	}

	log.Logf("Detection completed! %d nodules", res.Nodules.Len())
	return res, nil
}

func (nt *NoduleTracker) detectTrack(ctx context.Context, ds *models.Dataset, frames []image.Image) (*Result, error) {
	log := monitoring.FromContext(ctx)
	if nt.tracker == nil {
		return nil, errors.New("no tracker configured")
	}

	log.Logf("Detection and tracking started...")
	tracks, err := nt.tracker.Track(ctx, frames, nt.params.Detect)
	if err != nil {
		return nil, inference.WrapInference("tracking", "", err)
	}
	if len(tracks) != len(frames) {
		return nil, &inference.ShapeError{
			Stage: "tracking",
			Want:  fmt.Sprintf("%d frames", len(frames)),
			Got:   fmt.Sprintf("%d frames", len(tracks)),
		}
	}

	res := &Result{Detections: tracks, Nodules: models.NewNoduleSet()}
	for i, boxes := range tracks {
		var rois []models.FrameROI
		for _, box := range boxes {
			if !box.Tracked() {
				log.Warnf("nodule id is missing (frame %d)", i)
				continue
			}
			enlarged, ok := nt.enlarge(log, box, ds, i)
			if !ok {
				continue
			}
			roi := imaging.Crop(ds.Frames[i].Image, enlarged)
			n, _ := res.Nodules.GetOrCreate(box.TrackID, ds.CroppedWidth, ds.CroppedHeight)
			if err := n.Append(i, roi, enlarged, len(rois)); err != nil {
				return nil, err
			}
			rois = append(rois, models.FrameROI{ROI: roi, NoduleID: box.TrackID})
		}
		res.FrameROIs = append(res.FrameROIs, rois)
	}

	log.Logf("Detection and tracking completed! %d nodules", res.Nodules.Len())
	return res, nil
}

func (nt *NoduleTracker) enlarge(log monitoring.Logger, box models.DetectionBox, ds *models.Dataset, frame int) (image.Rectangle, bool) {
	r := ExpandBox(box.Box, nt.params.MarginPercent, ds.CroppedWidth, ds.CroppedHeight)
	if r.Empty() {
		log.Warnf("box %v in frame %d is empty after clamping, skipped", box.Box, frame)
		return r, false
	}
	return r, true
}

// ExpandBox enlarges box by marginPercent of its width and height on each
// side and clamps the result to the width x height frame.
func ExpandBox(box models.Rect, marginPercent, width, height int) image.Rectangle {
	addW := int(box.Width() * float64(marginPercent) / 100)
	addH := int(box.Height() * float64(marginPercent) / 100)

	x1 := max(0, int(box.X1-float64(addW)))
	x2 := min(width, int(box.X2+float64(addW)))
	y1 := max(0, int(box.Y1-float64(addH)))
	y2 := min(height, int(box.Y2+float64(addH)))

	// not image.Rect: a box clamped to nothing must stay empty
	return image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}
}

// lazyTracker builds an IoUTracker over the owner's detector on first use,
// so that Load can replace the detector.
type lazyTracker struct {
	owner  *NoduleTracker
	params IoUParams
}

func (l *lazyTracker) Track(ctx context.Context, frames []image.Image, cfg inference.DetectConfig) ([][]models.DetectionBox, error) {
	if l.owner.detector == nil {
		return nil, errors.New("no detector loaded")
	}
	return NewIoUTracker(l.owner.detector, l.params).Track(ctx, frames, cfg)
}
