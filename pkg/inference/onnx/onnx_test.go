package onnx

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thyroidscan/internal/models"
	"thyroidscan/pkg/inference"
)

// yoloTensor packs candidates given as {cx, cy, w, h, score...} rows into
// the channel-major [1, attrs, N] layout
func yoloTensor(rows ...[]float32) inference.Tensor {
	attrs, n := len(rows[0]), len(rows)
	data := make([]float32, attrs*n)
	for i, r := range rows {
		for a, v := range r {
			data[a*n+i] = v
		}
	}
	return inference.Tensor{Data: data, Shape: []int64{1, int64(attrs), int64(n)}}
}

func TestDecodeYOLO(t *testing.T) {
	tensor := yoloTensor(
		[]float32{50, 50, 20, 10, 0.9, 0.1},
		[]float32{10, 10, 4, 4, 0.1, 0.2},
		[]float32{80, 20, 10, 10, 0.2, 0.7},
	)

	boxes, err := decodeYOLO(tensor, 0.5)
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	assert.Equal(t, models.Rect{X1: 40, Y1: 45, X2: 60, Y2: 55}, boxes[0].Box)
	assert.InDelta(t, 0.9, boxes[0].Confidence, 1e-6)
	assert.Equal(t, models.NoTrack, boxes[0].TrackID)
	assert.InDelta(t, 0.7, boxes[1].Confidence, 1e-6)
}

func TestDecodeYOLOTransposed(t *testing.T) {
	// [1, N, attrs] with N > attrs
	var data []float32
	for i := 0; i < 6; i++ {
		data = append(data, float32(10*i+10), 10, 4, 4, float32(i)/10)
	}
	boxes, err := decodeYOLO(inference.Tensor{Data: data, Shape: []int64{1, 6, 5}}, 0.35)
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.InDelta(t, 48, boxes[0].Box.X1, 1e-9)
}

func TestDecodeYOLORejectsBadShape(t *testing.T) {
	_, err := decodeYOLO(inference.Tensor{Data: make([]float32, 8), Shape: []int64{2, 4}}, 0.5)
	var se *inference.ShapeError
	assert.ErrorAs(t, err, &se)

	_, err = decodeYOLO(inference.Tensor{Data: make([]float32, 7), Shape: []int64{1, 5, 2}}, 0.5)
	assert.ErrorAs(t, err, &se)
}

func TestNMS(t *testing.T) {
	boxes := []models.DetectionBox{
		{Box: models.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.6},
		{Box: models.Rect{X1: 1, Y1: 1, X2: 11, Y2: 11}, Confidence: 0.9},
		{Box: models.Rect{X1: 50, Y1: 50, X2: 60, Y2: 60}, Confidence: 0.7},
	}
	kept := nms(boxes, 0.3)
	require.Len(t, kept, 2)
	assert.Equal(t, 0.9, kept[0].Confidence)
	assert.Equal(t, 0.7, kept[1].Confidence)
}

func TestUnletterbox(t *testing.T) {
	// a 200x100 frame letterboxed into 100x100: scale 0.5, padded 25 rows
	r := unletterbox(models.Rect{X1: 10, Y1: 30, X2: 50, Y2: 80}, 0.5, image.Pt(0, 25), 200, 100)
	assert.Equal(t, models.Rect{X1: 20, Y1: 10, X2: 100, Y2: 100}, r)

	r = unletterbox(models.Rect{X1: -5, Y1: 0, X2: 120, Y2: 10}, 0.5, image.Pt(0, 25), 200, 100)
	assert.Equal(t, 0.0, r.X1)
	assert.Equal(t, 0.0, r.Y1)
	assert.Equal(t, 200.0, r.X2)
}

func TestSplitMasks(t *testing.T) {
	data := []float32{
		0, 1, 2, 3,
		4, 5, 6, 7,
	}
	masks, err := splitMasks(inference.Tensor{Data: data, Shape: []int64{2, 1, 2, 2}}, 2)
	require.NoError(t, err)
	require.Len(t, masks, 2)
	assert.Equal(t, 3.0, masks[0].At(1, 1))
	assert.Equal(t, 5.0, masks[1].At(0, 1))

	_, err = splitMasks(inference.Tensor{Data: data, Shape: []int64{2, 2, 1, 2}}, 2)
	assert.Error(t, err)

	_, err = splitMasks(inference.Tensor{Data: data, Shape: []int64{2, 2, 2}}, 3)
	assert.Error(t, err)
}

func TestTop1(t *testing.T) {
	idx, err := top1(inference.Tensor{Data: []float32{0.2, 0.8}, Shape: []int64{1, 2}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = top1(inference.Tensor{Data: []float32{0.2, 0.3, 0.5}, Shape: []int64{1, 3}}, 2)
	assert.Error(t, err)
}

func TestOpenClassifierNeedsClasses(t *testing.T) {
	_, err := (&Backend{}).OpenClassifier("model.onnx", nil)
	assert.Error(t, err)
}
