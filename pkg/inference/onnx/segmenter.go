package onnx

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"thyroidscan/pkg/inference"
)

// Segmenter runs a mask model producing one score map per input
type Segmenter struct {
	session *session
}

// Segment implements inference.Segmenter
func (s *Segmenter) Segment(ctx context.Context, batch inference.Tensor) ([]*mat.Dense, error) {
	res, err := s.session.run(ctx, batch)
	if err != nil {
		return nil, err
	}
	return splitMasks(res, int(batch.Shape[0]))
}

// splitMasks cuts a [B,1,H,W] or [B,H,W] tensor into B score maps
func splitMasks(t inference.Tensor, batch int) ([]*mat.Dense, error) {
	shapeErr := &inference.ShapeError{
		Stage: "segmentation",
		Want:  fmt.Sprintf("[%d,1,H,W]", batch),
		Got:   fmt.Sprint(t.Shape),
	}

	var rows, cols int
	switch len(t.Shape) {
	case 4:
		if t.Shape[1] != 1 {
			return nil, shapeErr
		}
		rows, cols = int(t.Shape[2]), int(t.Shape[3])
	case 3:
		rows, cols = int(t.Shape[1]), int(t.Shape[2])
	default:
		return nil, shapeErr
	}
	if int(t.Shape[0]) != batch || rows <= 0 || cols <= 0 || len(t.Data) != batch*rows*cols {
		return nil, shapeErr
	}

	plane := rows * cols
	out := make([]*mat.Dense, batch)
	for i := range out {
		data := make([]float64, plane)
		for j, v := range t.Data[i*plane : (i+1)*plane] {
			data[j] = float64(v)
		}
		out[i] = mat.NewDense(rows, cols, data)
	}
	return out, nil
}
