package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapInference(t *testing.T) {
	require.NoError(t, WrapInference("detection", "det.onnx", nil))

	base := errors.New("session closed")
	err := WrapInference("detection", "det.onnx", base)

	var ie *InferenceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "detection", ie.Stage)
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "det.onnx")

	// already wrapped errors keep their original stage
	again := WrapInference("segmentation", "", err)
	require.True(t, errors.As(again, &ie))
	assert.Equal(t, "detection", ie.Stage)
}

func TestShapeError(t *testing.T) {
	err := error(&ShapeError{Stage: "classification", Want: "1 result", Got: "0 results"})
	var se *ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "unexpected classification result shape: want 1 result, got 0 results", err.Error())
}

func TestParseProjection(t *testing.T) {
	for in, want := range map[string]Projection{
		"cross":        ProjectionCross,
		"Long":         ProjectionLong,
		"longitudinal": ProjectionLong,
		"all":          ProjectionAll,
		"":             ProjectionAll,
	} {
		got, err := ParseProjection(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProjection("oblique")
	assert.Error(t, err)
}

func TestProjectionFeatures(t *testing.T) {
	assert.Equal(t, []float64{10}, ProjectionCross.Features())
	assert.Equal(t, []float64{11}, ProjectionLong.Features())
	assert.Equal(t, []float64{10, 11}, ProjectionAll.Features())
}

func TestPlaceholderPassesThrough(t *testing.T) {
	var m Model[string, string, string] = &Placeholder[string]{}

	require.NoError(t, m.Load("weights/none.bin"))
	prepared, err := m.Preprocess("frame")
	require.NoError(t, err)
	assert.Equal(t, "frame", prepared)

	out, err := m.Predict(context.Background(), "frame")
	require.NoError(t, err)
	assert.Equal(t, "frame", out)
	assert.Equal(t, "weights/none.bin", m.(*Placeholder[string]).Path())
}
