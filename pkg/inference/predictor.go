// Package inference defines the contracts between the nodule pipeline and the
// trained models it drives. Models are treated as pure functions: the pipeline
// never inspects weights, only inputs and outputs.
package inference

import (
	"context"
	"image"

	"gonum.org/v1/gonum/mat"

	"thyroidscan/internal/models"
)

// DetectConfig carries the per-call detection parameters
type DetectConfig struct {
	// ImageSize is the square inference resolution
	ImageSize int

	// Confidence is the minimum box score
	Confidence float64

	// IoU is the non-maximum suppression overlap threshold
	IoU float64
}

// Detector finds nodule boxes independently in each frame.
// The result has one entry per input frame; boxes carry models.NoTrack.
type Detector interface {
	Detect(ctx context.Context, frames []image.Image, cfg DetectConfig) ([][]models.DetectionBox, error)
}

// Tracker detects nodules across an ordered frame sequence and links them
// with persistent track ids. Boxes it could not link carry models.NoTrack.
type Tracker interface {
	Track(ctx context.Context, frames []image.Image, cfg DetectConfig) ([][]models.DetectionBox, error)
}

// Tensor is a dense float32 tensor in row-major order
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Segmenter maps a [N,3,S,S] batch to N raw S x S score maps, in batch order
type Segmenter interface {
	Segment(ctx context.Context, batch Tensor) ([]*mat.Dense, error)
}

// Classification is one labelled result of an image classifier
type Classification struct {
	Label string
	Score float64
}

// ImageClassifier assigns a label to an ROI crop. Well-behaved classifiers
// return exactly one result.
type ImageClassifier interface {
	Classify(ctx context.Context, img image.Image, size int) ([]Classification, error)
}

// MetaClassifier predicts a class index from a feature vector
type MetaClassifier interface {
	Predict(features []float64) (int, error)
}

// Backend opens predictors from model files
type Backend interface {
	OpenDetector(path string) (Detector, error)
	OpenSegmenter(path string) (Segmenter, error)
	OpenClassifier(path string, classes []string) (ImageClassifier, error)
	OpenMeta(path string) (MetaClassifier, error)
}
