package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"thyroidscan/internal/models"
	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/classification"
	"thyroidscan/pkg/cropper"
	"thyroidscan/pkg/inference"
	"thyroidscan/pkg/segmentation"
	"thyroidscan/pkg/tracker"
)

type fixedDetector struct {
	boxes []models.DetectionBox
}

func (d fixedDetector) Detect(_ context.Context, frames []image.Image, _ inference.DetectConfig) ([][]models.DetectionBox, error) {
	out := make([][]models.DetectionBox, len(frames))
	out[0] = d.boxes
	return out, nil
}

type fixedTracker struct {
	frames [][]models.DetectionBox
}

func (t fixedTracker) Track(context.Context, []image.Image, inference.DetectConfig) ([][]models.DetectionBox, error) {
	return t.frames, nil
}

// zeroSegmenter scores every pixel 0, which is foreground below any
// positive threshold
type zeroSegmenter struct{}

func (zeroSegmenter) Segment(_ context.Context, batch inference.Tensor) ([]*mat.Dense, error) {
	n, size := int(batch.Shape[0]), int(batch.Shape[2])
	out := make([]*mat.Dense, n)
	for i := range out {
		out[i] = mat.NewDense(size, size, nil)
	}
	return out, nil
}

type fixedClassifier string

func (c fixedClassifier) Classify(context.Context, image.Image, int) ([]inference.Classification, error) {
	return []inference.Classification{{Label: string(c), Score: 1}}, nil
}

type recordingMeta struct {
	out  int
	seen [][]float64
}

func (m *recordingMeta) Predict(x []float64) (int, error) {
	m.seen = append(m.seen, append([]float64(nil), x...))
	return m.out, nil
}

type fixture struct {
	stages Stages
	meta   [3]*recordingMeta
}

func newFixture(t *testing.T, det inference.Detector, trk inference.Tracker) *fixture {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })
	monitoring.SetLogger(nil)

	f := &fixture{meta: [3]*recordingMeta{{out: 1}, {out: 2}, {out: 1}}}
	pairwise := make([]inference.ImageClassifier, classification.PairwiseCount)
	for i := range pairwise {
		pairwise[i] = fixedClassifier("TIRADS3")
	}
	cascade, err := classification.New(pairwise,
		[3]inference.MetaClassifier{f.meta[0], f.meta[1], f.meta[2]},
		classification.Params{ImageSize: 8, Projection: inference.ProjectionAll})
	require.NoError(t, err)

	f.stages = Stages{
		Cropper: cropper.New(cropper.DefaultParams()),
		Tracker: tracker.NewNoduleTracker(det, trk, tracker.Params{
			Detect: inference.DetectConfig{ImageSize: 64, Confidence: 0.5, IoU: 0.3},
		}),
		Segmentation:   segmentation.New(zeroSegmenter{}, segmentation.Params{ImageSize: 8, BatchSize: 2, Threshold: 0.5, Workers: 2}),
		Classification: cascade,
	}
	return f
}

func greyFrames(n, width, height int) []models.Frame {
	frames := make([]models.Frame, n)
	for i := range frames {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetRGBA(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
			}
		}
		frames[i] = models.Frame{Image: img, Index: i}
	}
	return frames
}

func trackedBox(id, frame int, x1, y1, x2, y2 float64) models.DetectionBox {
	return models.DetectionBox{Box: models.Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}, Confidence: 0.9, TrackID: id, Frame: frame}
}

// growingTrack is one nodule whose box areas are 100, 150 and 120
func growingTrack() fixedTracker {
	return fixedTracker{frames: [][]models.DetectionBox{
		{trackedBox(7, 0, 5, 5, 15, 15)},
		{trackedBox(7, 1, 5, 5, 15, 20)},
		{trackedBox(7, 2, 5, 5, 15, 17)},
	}}
}

func TestRunMultiFrame(t *testing.T) {
	f := newFixture(t, nil, growingTrack())
	o, err := New(f.stages, Params{})
	require.NoError(t, err)

	res, err := o.Run(context.Background(), Request{Frames: greyFrames(3, 40, 40), Projection: inference.ProjectionAll, ResultID: 12})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 12, res.ResultID)

	n, ok := res.Nodules.Get(7)
	require.True(t, ok)
	assert.Equal(t, 1, n.LargestROIIdx)
	assert.Equal(t, 150, n.LargestArea)

	require.Len(t, res.Masks, 3)
	for i, want := range []float64{100, 150, 120} {
		rows, cols := res.Masks[i].Dims()
		assert.Equal(t, 40, rows)
		assert.Equal(t, 40, cols)
		assert.Equal(t, want, mat.Sum(res.Masks[i]), "frame %d", i)
	}
	require.Len(t, res.MaskedROIs[1], 1)
	assert.Equal(t, 7, res.MaskedROIs[1][0].NoduleID)

	if diff := cmp.Diff(map[int]models.TIRADS{7: models.TIRADS3}, res.Classification.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	rep := res.Report()
	require.Len(t, rep.Segments, 1)
	assert.Equal(t, 7, rep.Segments[0].NoduleID)
	assert.Equal(t, "TIRADS3", rep.Segments[0].Label)
	assert.Equal(t, 3, rep.Frames)
	assert.NotEmpty(t, rep.Points)
}

func TestRunPrefixesEveryLogLine(t *testing.T) {
	f := newFixture(t, nil, fixedTracker{frames: [][]models.DetectionBox{
		{trackedBox(7, 0, 5, 5, 15, 15), trackedBox(models.NoTrack, 0, 20, 20, 25, 25)},
		{trackedBox(7, 1, 5, 5, 15, 20)},
		{},
	}})
	o, err := New(f.stages, Params{})
	require.NoError(t, err)

	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	res, err := o.Run(context.Background(), Request{Frames: greyFrames(3, 40, 40), Projection: inference.ProjectionAll})
	require.NoError(t, err)

	all := strings.Join(lines, "\n")
	for _, stage := range []string{"Final crop coordinates", "Detection and tracking started", "Warning: nodule id is missing",
		"Segmentation started", "Classification started", "CV preds"} {
		assert.Contains(t, all, stage)
	}
	for _, line := range lines {
		for _, part := range strings.Split(line, "\n") {
			assert.Contains(t, part, res.RunID)
		}
	}
}

func TestRunUsesRequestProjection(t *testing.T) {
	f := newFixture(t, nil, growingTrack())
	o, err := New(f.stages, Params{})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), Request{Frames: greyFrames(3, 40, 40), Projection: inference.ProjectionCross})
	require.NoError(t, err)

	require.Len(t, f.meta[1].seen, 1)
	seen := f.meta[1].seen[0]
	assert.Equal(t, float64(inference.CrossFeature), seen[len(seen)-1])
}

func TestRunNoNodules(t *testing.T) {
	f := newFixture(t, fixedDetector{boxes: []models.DetectionBox{
		{Box: models.Rect{X1: 1, Y1: 1, X2: 5, Y2: 5}, Confidence: 0.2, TrackID: models.NoTrack},
	}}, nil)
	o, err := New(f.stages, Params{})
	require.NoError(t, err)

	res, err := o.Run(context.Background(), Request{Frames: greyFrames(1, 20, 20), Projection: inference.ProjectionAll})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Nodules.Len())
	assert.True(t, res.Classification.IsDefault())
	require.Len(t, res.Masks, 1)
	assert.Zero(t, mat.Sum(res.Masks[0]))

	rep := res.Report()
	require.Len(t, rep.Segments, 1)
	assert.Equal(t, 0, rep.Segments[0].NoduleID)
	assert.Equal(t, "TIRADS1", rep.Segments[0].Label)
}

func TestRunEmptyInput(t *testing.T) {
	f := newFixture(t, fixedDetector{}, nil)
	o, err := New(f.stages, Params{})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, inference.ErrEmptyImage))
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, nil, growingTrack())
	o, err := New(f.stages, Params{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = o.Run(ctx, Request{Frames: greyFrames(3, 40, 40)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSavesIntermediaryResults(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping intermediary output in short mode")
	}

	f := newFixture(t, nil, growingTrack())
	dir := t.TempDir()
	o, err := New(f.stages, Params{SaveIntermediaryResults: true, IntermediaryDir: dir})
	require.NoError(t, err)

	res, err := o.Run(context.Background(), Request{Frames: greyFrames(3, 40, 40), Projection: inference.ProjectionAll})
	require.NoError(t, err)

	runDir := filepath.Join(dir, res.RunID)
	for _, name := range []string{
		"01_cropped_frames/000.png",
		"02_rois/nodule_7/001.png",
		"03_masks/002.png",
		"04_overlays/000.png",
		"05_nodule_areas/nodule_7.png",
	} {
		_, err := os.Stat(filepath.Join(runDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunFileMissing(t *testing.T) {
	f := newFixture(t, fixedDetector{}, nil)
	o, err := New(f.stages, Params{})
	require.NoError(t, err)

	_, err = o.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.png"), inference.ProjectionAll, 0)
	assert.Error(t, err)
}

func TestNewRequiresStages(t *testing.T) {
	_, err := New(Stages{Cropper: cropper.New(cropper.DefaultParams())}, Params{})
	assert.Error(t, err)
}

func TestOriginalBoxes(t *testing.T) {
	ds := &models.Dataset{
		Frames:        make([]models.Frame, 2),
		Crop:          models.CropRectangle{RowMin: 5, RowMax: 45, ColMin: 3, ColMax: 43},
		CroppedWidth:  40,
		CroppedHeight: 40,
	}
	set := models.NewNoduleSet()
	n, _ := set.GetOrCreate(1, 40, 40)
	require.NoError(t, n.Append(1, image.NewRGBA(image.Rect(0, 0, 4, 4)), image.Rect(10, 10, 14, 14), 0))

	got := OriginalBoxes(ds, set)
	want := [][]image.Rectangle{nil, {image.Rect(13, 15, 17, 19)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("boxes mismatch (-want +got):\n%s", diff)
	}
}
