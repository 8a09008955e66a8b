// Package pipeline runs the nodule pipeline for one input image.
//
// The Orchestrator is pure composition: it crops the frames, detects and
// tracks nodules, segments them and classifies them, threading one nodule id
// space through every stage. It holds no per-run state, so one Orchestrator
// may serve concurrent runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"thyroidscan/internal/models"
	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/classification"
	"thyroidscan/pkg/cropper"
	"thyroidscan/pkg/framesource"
	"thyroidscan/pkg/inference"
	"thyroidscan/pkg/report"
	"thyroidscan/pkg/segmentation"
	"thyroidscan/pkg/tracker"
	"thyroidscan/pkg/visualization"
)

// Stages holds the loaded pipeline stages
type Stages struct {
	Cropper        *cropper.Cropper
	Tracker        *tracker.NoduleTracker
	Segmentation   *segmentation.MaskReprojector
	Classification *classification.Cascade
}

// Params holds the orchestration settings
type Params struct {
	// SaveIntermediaryResults determines whether to save intermediary processing results
	SaveIntermediaryResults bool

	// IntermediaryDir is the root for intermediary results. Each run writes
	// into its own sub-directory named after the run id.
	IntermediaryDir string
}

// Request describes one run
type Request struct {
	// Frames are the decoded input frames in acquisition order
	Frames []models.Frame

	Projection inference.Projection

	// ResultID is an opaque caller identifier carried into the report
	ResultID int
}

// Result is everything a run produced
type Result struct {
	RunID      string
	ResultID   int
	Projection inference.Projection

	Dataset    *models.Dataset
	Detections [][]models.DetectionBox
	Nodules    *models.NoduleSet

	// MaskedROIs lists each frame's ROIs with their masks
	MaskedROIs [][]models.MaskedROI

	// Masks holds one original-resolution {0,1} mask per frame
	Masks []*mat.Dense

	Classification models.ClassificationResult
}

// Orchestrator sequences the pipeline stages
type Orchestrator struct {
	stages Stages
	params Params
}

// New creates an orchestrator over already loaded stages
func New(stages Stages, params Params) (*Orchestrator, error) {
	if stages.Cropper == nil || stages.Tracker == nil || stages.Segmentation == nil || stages.Classification == nil {
		return nil, errors.New("pipeline needs all four stages")
	}
	return &Orchestrator{stages: stages, params: params}, nil
}

// RunFile loads the frames at path and runs the pipeline on them
func (o *Orchestrator) RunFile(ctx context.Context, path string, projection inference.Projection, resultID int) (*Result, error) {
	runID := uuid.NewString()
	ctx = runContext(ctx, runID)

	frames, err := framesource.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load frames: %w", err)
	}
	monitoring.FromContext(ctx).Logf("Loaded %d frames from %s", len(frames), path)
	return o.run(ctx, runID, Request{Frames: frames, Projection: projection, ResultID: resultID})
}

// Run executes every stage for req. Every log line of the run, including
// those of the stages, carries the run id.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.NewString()
	return o.run(runContext(ctx, runID), runID, req)
}

// runContext attaches a logger prefixing lines with the run id
func runContext(ctx context.Context, runID string) context.Context {
	return monitoring.WithLogger(ctx, monitoring.Logger(monitoring.WithPrefix("["+runID+"] ")))
}

func (o *Orchestrator) run(ctx context.Context, runID string, req Request) (*Result, error) {
	res := &Result{RunID: runID, ResultID: req.ResultID, Projection: req.Projection}
	log := monitoring.FromContext(ctx)
	out := &intermediary{enabled: o.params.SaveIntermediaryResults, dir: filepath.Join(o.params.IntermediaryDir, res.RunID)}

	// Step 1: Crop frames to the shared rectangle
	log.Logf("Step 1: Cropping %d frames...", len(req.Frames))
	ds, err := o.stages.Cropper.Crop(ctx, req.Frames)
	if err != nil {
		return nil, fmt.Errorf("failed to crop frames: %w", err)
	}
	res.Dataset = ds

	if out.enabled {
		log.Logf("Saving cropped frames...")
		for i, f := range ds.Frames {
			out.save(log, "01_cropped_frames", f.Image, i)
		}
	}

	// Step 2: Detect and track nodules
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Logf("Step 2: Detecting nodules...")
	tracked, err := o.stages.Tracker.Predict(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to detect nodules: %w", err)
	}
	res.Detections, res.Nodules = tracked.Detections, tracked.Nodules

	if out.enabled {
		log.Logf("Saving nodule ROIs...")
		for _, n := range tracked.Nodules.All() {
			stage := fmt.Sprintf("02_rois/nodule_%d", n.ID)
			for i, roi := range n.ROIs {
				out.save(log, stage, roi, n.FrameNumbers[i])
			}
		}
	}

	// Step 3: Segment every nodule and map masks back to the original frames
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Logf("Step 3: Segmenting %d nodules...", tracked.Nodules.Len())
	seg, err := o.stages.Segmentation.Predict(ctx, &segmentation.Input{
		Dataset:   ds,
		Nodules:   tracked.Nodules,
		FrameROIs: tracked.FrameROIs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to segment nodules: %w", err)
	}
	res.MaskedROIs, res.Masks = seg.MaskedROIs, seg.Masks

	if out.enabled {
		log.Logf("Saving masks and overlays...")
		for i, m := range seg.Masks {
			out.save(log, "03_masks", m, i)
		}
		viewer := visualization.NewViewer(originals(req.Frames), seg.Masks).WithBoxes(OriginalBoxes(ds, tracked.Nodules))
		for i := 0; i < viewer.Len(); i++ {
			img, err := viewer.Overlay(i)
			if err != nil {
				log.Warnf("failed to render overlay %d: %v", i, err)
				continue
			}
			out.save(log, "04_overlays", img, i)
		}
		if ds.MultiFrame() {
			for _, n := range tracked.Nodules.All() {
				filename := filepath.Join(out.dir, "05_nodule_areas", fmt.Sprintf("nodule_%d.png", n.ID))
				if err := visualization.PlotNoduleAreas(n, filename); err != nil {
					log.Warnf("failed to plot nodule %d areas: %v", n.ID, err)
				}
			}
		}
	}

	// Step 4: Classify every nodule from its largest ROI
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.Logf("Step 4: Classifying nodules (projection %s)...", req.Projection)
	cls, err := o.stages.Classification.WithProjection(req.Projection).Predict(ctx, tracked.Nodules)
	if err != nil {
		return nil, fmt.Errorf("failed to classify nodules: %w", err)
	}
	res.Classification = cls

	log.Logf("Run completed: %s", cls)
	return res, nil
}

// Report builds the serialisable report of r
func (r *Result) Report() *report.Report {
	return report.Build(report.Input{
		RunID:          r.RunID,
		ResultID:       r.ResultID,
		Projection:     string(r.Projection),
		OriginalWidth:  r.Dataset.OriginalWidth,
		OriginalHeight: r.Dataset.OriginalHeight,
		Classification: r.Classification,
		MaskedROIs:     r.MaskedROIs,
		Masks:          r.Masks,
	})
}

// OriginalBoxes returns every nodule's enlarged boxes per frame, translated
// to original-image space
func OriginalBoxes(ds *models.Dataset, nodules *models.NoduleSet) [][]image.Rectangle {
	out := make([][]image.Rectangle, ds.Len())
	offset := ds.Crop.ToOriginal(image.Point{})
	for _, n := range nodules.All() {
		for i, frame := range n.FrameNumbers {
			if frame < 0 || frame >= len(out) {
				continue
			}
			out[frame] = append(out[frame], n.Boxes[i].Add(offset))
		}
	}
	return out
}

func originals(frames []models.Frame) []image.Image {
	out := make([]image.Image, len(frames))
	for i, f := range frames {
		out[i] = f.Image
	}
	return out
}

// intermediary writes per-stage debugging output under dir
type intermediary struct {
	enabled bool
	dir     string
}

// save writes one intermediary result. Failures are logged, never returned.
func (w *intermediary) save(log monitoring.Logger, stage string, data interface{}, index int) {
	if !w.enabled {
		return
	}
	if err := w.write(stage, data, index); err != nil {
		log.Warnf("failed to save %s %d: %v", stage, index, err)
	}
}

func (w *intermediary) write(stage string, data interface{}, index int) error {
	stageDir := filepath.Join(w.dir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}
	filename := filepath.Join(stageDir, fmt.Sprintf("%03d.png", index))

	switch v := data.(type) {
	case image.Image:
		return visualization.SaveImage(v, filename)
	case mat.Matrix:
		return visualization.SaveMask(v, filename)
	default:
		return fmt.Errorf("unsupported intermediary type %T", data)
	}
}
