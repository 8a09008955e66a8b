package onnx

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sort"

	"thyroidscan/internal/models"
	"thyroidscan/pkg/imaging"
	"thyroidscan/pkg/inference"
)

// letterboxFill is the grey used to pad letterboxed detector inputs
var letterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Detector runs a YOLO-style detection model frame by frame
type Detector struct {
	session *session
}

// Detect implements inference.Detector
func (d *Detector) Detect(ctx context.Context, frames []image.Image, cfg inference.DetectConfig) ([][]models.DetectionBox, error) {
	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("invalid detection size %d", cfg.ImageSize)
	}

	out := make([][]models.DetectionBox, len(frames))
	for i, frame := range frames {
		boxed, scale, pad := imaging.Letterbox(frame, cfg.ImageSize, letterboxFill)
		size := int64(cfg.ImageSize)
		res, err := d.session.run(ctx, inference.Tensor{
			Data:  imaging.CHW(boxed, imaging.UnitMean, imaging.UnitStd),
			Shape: []int64{1, 3, size, size},
		})
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}

		boxes, err := decodeYOLO(res, cfg.Confidence)
		if err != nil {
			return nil, err
		}
		boxes = nms(boxes, cfg.IoU)

		b := frame.Bounds()
		for j := range boxes {
			boxes[j].Box = unletterbox(boxes[j].Box, scale, pad, b.Dx(), b.Dy())
			boxes[j].Frame = i
		}
		out[i] = boxes
	}
	return out, nil
}

// decodeYOLO reads a [1, 4+nc, N] (or transposed [1, N, 4+nc]) output of
// centre/size boxes followed by per-class scores. Each candidate keeps its
// best class score; candidates below minConf are dropped.
func decodeYOLO(t inference.Tensor, minConf float64) ([]models.DetectionBox, error) {
	if len(t.Shape) != 3 || t.Shape[0] != 1 {
		return nil, &inference.ShapeError{Stage: "detection", Want: "[1, 4+nc, N]", Got: fmt.Sprint(t.Shape)}
	}
	attrs, n := int(t.Shape[1]), int(t.Shape[2])
	transposed := false
	if attrs > n {
		attrs, n = n, attrs
		transposed = true
	}
	if attrs < 5 || len(t.Data) != attrs*n {
		return nil, &inference.ShapeError{Stage: "detection", Want: "[1, 4+nc, N]", Got: fmt.Sprint(t.Shape)}
	}

	at := func(a, i int) float64 {
		if transposed {
			return float64(t.Data[i*attrs+a])
		}
		return float64(t.Data[a*n+i])
	}

	var out []models.DetectionBox
	for i := 0; i < n; i++ {
		score := at(4, i)
		for a := 5; a < attrs; a++ {
			score = max(score, at(a, i))
		}
		if score < minConf {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		out = append(out, models.DetectionBox{
			Box:        models.Rect{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2},
			Confidence: score,
			TrackID:    models.NoTrack,
		})
	}
	return out, nil
}

// nms keeps the highest scoring boxes, dropping any box that overlaps an
// already kept one by more than iou. The result is sorted by confidence.
func nms(boxes []models.DetectionBox, iou float64) []models.DetectionBox {
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Confidence > boxes[j].Confidence })

	kept := boxes[:0]
	for _, b := range boxes {
		keep := true
		for _, k := range kept {
			if b.Box.IoU(k.Box) > iou {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, b)
		}
	}
	return kept
}

// unletterbox maps a box from letterboxed input space back to the frame
func unletterbox(r models.Rect, scale float64, pad image.Point, width, height int) models.Rect {
	clamp := func(v, hi float64) float64 { return min(max(v, 0), hi) }
	w, h := float64(width), float64(height)
	return models.Rect{
		X1: clamp((r.X1-float64(pad.X))/scale, w),
		Y1: clamp((r.Y1-float64(pad.Y))/scale, h),
		X2: clamp((r.X2-float64(pad.X))/scale, w),
		Y2: clamp((r.Y2-float64(pad.Y))/scale, h),
	}
}
