package inference

import (
	"errors"
	"fmt"
)

// ErrEmptyImage is returned when an input image yields no frames
var ErrEmptyImage = errors.New("image has no frames")

// InferenceError wraps a failure reported by an underlying predictor
type InferenceError struct {
	// Stage names the pipeline stage, e.g. "detection"
	Stage string

	// Model identifies the predictor, usually its file name
	Model string

	Err error
}

func (e *InferenceError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("%s inference failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s inference failed (%s): %v", e.Stage, e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// WrapInference returns nil for a nil err, and an *InferenceError otherwise
func WrapInference(stage, model string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InferenceError
	if errors.As(err, &ie) {
		return err
	}
	return &InferenceError{Stage: stage, Model: model, Err: err}
}

// ShapeError reports a predictor result the pipeline cannot interpret
type ShapeError struct {
	Stage string
	Want  string
	Got   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("unexpected %s result shape: want %s, got %s", e.Stage, e.Want, e.Got)
}
