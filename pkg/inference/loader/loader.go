// Package loader builds the pipeline stage models from configuration.
//
// A Registry opens every model once through an inference.Backend and hands
// the loaded stages to whoever runs the pipeline. Nothing is cached in
// package state; callers that serve many requests keep the returned Models
// and share it, since loaded predictors are safe for concurrent use.
package loader

import (
	"errors"
	"fmt"

	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/classification"
	"thyroidscan/pkg/config"
	"thyroidscan/pkg/cropper"
	"thyroidscan/pkg/inference"
	"thyroidscan/pkg/segmentation"
	"thyroidscan/pkg/tracker"
)

// Models holds the loaded pipeline stages
type Models struct {
	Cropper        *cropper.Cropper
	Tracker        *tracker.NoduleTracker
	Segmentation   *segmentation.MaskReprojector
	Classification *classification.Cascade
}

// Registry opens stage models described by a Config
type Registry struct {
	cfg     *config.Config
	backend inference.Backend
}

// NewRegistry creates a registry over backend
func NewRegistry(cfg *config.Config, backend inference.Backend) *Registry {
	return &Registry{cfg: cfg, backend: backend}
}

// Load opens every model. The cascade is configured for the unknown
// orientation; use Cascade.WithProjection per request.
func (r *Registry) Load() (*Models, error) {
	if r.cfg == nil || r.backend == nil {
		return nil, errors.New("registry needs a config and a backend")
	}

	m := &Models{
		Cropper:        cropper.New(CropperParams(r.cfg)),
		Tracker:        tracker.NewModel(r.backend, TrackerParams(r.cfg), IoUParams(r.cfg)),
		Segmentation:   segmentation.NewModel(r.backend, SegmentationParams(r.cfg)),
		Classification: classification.NewModel(r.backend, ClassificationFiles(r.cfg), ClassificationParams(r.cfg, inference.ProjectionAll)),
	}

	monitoring.Logf("Loading detection model %s", r.cfg.Models.Detection)
	if err := m.Tracker.Load(r.cfg.ModelPath(r.cfg.Models.Detection)); err != nil {
		return nil, fmt.Errorf("failed to load detection model: %w", err)
	}
	monitoring.Logf("Loading segmentation model %s", r.cfg.Models.Segmentation)
	if err := m.Segmentation.Load(r.cfg.ModelPath(r.cfg.Models.Segmentation)); err != nil {
		return nil, fmt.Errorf("failed to load segmentation model: %w", err)
	}
	monitoring.Logf("Loading classification models from %s", r.cfg.Models.Dir)
	if err := m.Classification.Load(r.cfg.Models.Dir); err != nil {
		return nil, fmt.Errorf("failed to load classification models: %w", err)
	}

	monitoring.Logf("All models were loaded!")
	return m, nil
}

// CropperParams maps the cropper section of cfg
func CropperParams(cfg *config.Config) cropper.Params {
	return cropper.Params{
		IntensityThreshold: cfg.Cropper.IntensityThreshold,
		RowHold:            cfg.Cropper.RowHold,
		ColHold:            cfg.Cropper.ColHold,
	}
}

// TrackerParams maps the detection section of cfg
func TrackerParams(cfg *config.Config) tracker.Params {
	return tracker.Params{
		Detect: inference.DetectConfig{
			ImageSize:  cfg.Detection.ImageSize,
			Confidence: cfg.Detection.Confidence,
			IoU:        cfg.Detection.IoU,
		},
		MarginPercent: cfg.Detection.RoiMarginPercent,
	}
}

// IoUParams maps the tracker association settings of cfg
func IoUParams(cfg *config.Config) tracker.IoUParams {
	return tracker.IoUParams{
		MatchIoU:           cfg.Detection.TrackMatchIoU,
		DetectConfidence:   cfg.Detection.TrackConfidence,
		NewTrackConfidence: cfg.Detection.NewTrackConfidence,
		MaxMisses:          cfg.Detection.TrackMaxMisses,
	}
}

// SegmentationParams maps the segmentation section of cfg
func SegmentationParams(cfg *config.Config) segmentation.Params {
	return segmentation.Params{
		ImageSize: cfg.Segmentation.ImageSize,
		BatchSize: cfg.Segmentation.BatchSize,
		Threshold: cfg.Segmentation.Threshold,
		Workers:   cfg.Segmentation.Workers,
	}
}

// ClassificationParams maps the classification section of cfg
func ClassificationParams(cfg *config.Config, projection inference.Projection) classification.Params {
	return classification.Params{
		ImageSize:  cfg.Classification.ImageSize,
		Projection: projection,
	}
}

// ClassificationFiles lists the cascade model files named in cfg
func ClassificationFiles(cfg *config.Config) classification.Files {
	files := classification.Files{Meta: cfg.Models.Meta}
	for _, p := range cfg.Models.Pairwise {
		files.Pairwise = append(files.Pairwise, classification.PairwiseSpec{Path: p.Path, Classes: p.Classes})
	}
	return files
}
