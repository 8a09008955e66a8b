package tracker

import (
	"context"
	"fmt"
	"image"

	"thyroidscan/internal/models"
	"thyroidscan/pkg/inference"
)

// IoUParams configures the IoU tracker
type IoUParams struct {
	// MatchIoU is the minimum overlap between a track and a detection for
	// them to be associated
	MatchIoU float64

	// DetectConfidence is the score threshold passed to the detector. It is
	// usually lower than NewTrackConfidence so that weak detections can still
	// extend existing tracks.
	DetectConfidence float64

	// NewTrackConfidence is the minimum score for a detection to open a track
	NewTrackConfidence float64

	// MaxMisses is how many consecutive frames a track may go unmatched
	// before it is retired
	MaxMisses int
}

// DefaultIoUParams returns the tracker defaults
func DefaultIoUParams() IoUParams {
	return IoUParams{
		MatchIoU:           0.3,
		DetectConfidence:   0.1,
		NewTrackConfidence: 0.25,
		MaxMisses:          30,
	}
}

type track struct {
	id     int
	box    models.Rect
	misses int
}

// IoUTracker links per-frame detections into tracks by optimal IoU
// assignment. Track ids start at 1 and are never reused within one call.
type IoUTracker struct {
	detector inference.Detector
	params   IoUParams
}

// NewIoUTracker creates a tracker over detector
func NewIoUTracker(detector inference.Detector, params IoUParams) *IoUTracker {
	return &IoUTracker{detector: detector, params: params}
}

// Track implements inference.Tracker. Tracking state lives only for the
// duration of the call.
func (t *IoUTracker) Track(ctx context.Context, frames []image.Image, cfg inference.DetectConfig) ([][]models.DetectionBox, error) {
	dcfg := cfg
	dcfg.Confidence = t.params.DetectConfidence

	var live []*track
	nextID := 1
	out := make([][]models.DetectionBox, len(frames))

	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dets, err := t.detector.Detect(ctx, []image.Image{frame}, dcfg)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if len(dets) != 1 {
			return nil, &inference.ShapeError{
				Stage: "tracking",
				Want:  "1 frame",
				Got:   fmt.Sprintf("%d frames", len(dets)),
			}
		}

		boxes := dets[0]
		cost := make([][]float64, len(boxes))
		for d, box := range boxes {
			cost[d] = make([]float64, len(live))
			for j, tr := range live {
				iou := box.Box.IoU(tr.box)
				if iou < t.params.MatchIoU {
					cost[d][j] = forbidden
				} else {
					cost[d][j] = 1 - iou
				}
			}
		}
		assign := hungarianAssign(cost)

		matched := make([]bool, len(live))
		var born []*track
		frameBoxes := make([]models.DetectionBox, len(boxes))
		for d, box := range boxes {
			box.Frame = i
			box.TrackID = models.NoTrack

			if j := assign[d]; j >= 0 {
				tr := live[j]
				tr.box = box.Box
				tr.misses = 0
				matched[j] = true
				box.TrackID = tr.id
			} else if box.Confidence >= t.params.NewTrackConfidence {
				tr := &track{id: nextID, box: box.Box}
				nextID++
				born = append(born, tr)
				box.TrackID = tr.id
			}
			frameBoxes[d] = box
		}

		kept := live[:0]
		for j, tr := range live {
			if !matched[j] {
				tr.misses++
				if tr.misses > t.params.MaxMisses {
					continue
				}
			}
			kept = append(kept, tr)
		}
		live = append(kept, born...)
		out[i] = frameBoxes
	}

	return out, nil
}
