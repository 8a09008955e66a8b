package onnx

import (
	"context"
	"fmt"
	"image"

	"thyroidscan/pkg/imaging"
	"thyroidscan/pkg/inference"
)

// Classifier runs an image classification model with named outputs
type Classifier struct {
	session *session
	classes []string
}

// Classify implements inference.ImageClassifier. It returns the top-1 class.
func (c *Classifier) Classify(ctx context.Context, img image.Image, size int) ([]inference.Classification, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid classification size %d", size)
	}
	resized := imaging.Resize(img, size, size)
	s := int64(size)
	res, err := c.session.run(ctx, inference.Tensor{
		Data:  imaging.CHW(resized, imaging.UnitMean, imaging.UnitStd),
		Shape: []int64{1, 3, s, s},
	})
	if err != nil {
		return nil, err
	}

	top, err := top1(res, len(c.classes))
	if err != nil {
		return nil, err
	}
	return []inference.Classification{{Label: c.classes[top], Score: float64(res.Data[top])}}, nil
}

// top1 returns the index of the best score in a [1, nc] tensor
func top1(t inference.Tensor, classes int) (int, error) {
	if len(t.Data) != classes || len(t.Shape) == 0 || t.Shape[len(t.Shape)-1] != int64(classes) {
		return 0, &inference.ShapeError{
			Stage: "classification",
			Want:  fmt.Sprintf("[1,%d]", classes),
			Got:   fmt.Sprint(t.Shape),
		}
	}
	best := 0
	for i, v := range t.Data {
		if v > t.Data[best] {
			best = i
		}
	}
	return best, nil
}
