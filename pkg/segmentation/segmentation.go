// Package segmentation implements the mask reprojection stage.
//
// Each nodule's ROI crops are segmented in batches at a fixed square
// resolution. Every resulting mask is scaled back to its ROI's own size, placed
// at the enlarged-box offset in cropped-image space, and then translated by
// the crop rectangle into original-image space. Per-frame masks are the
// logical OR of every nodule mask present in that frame.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"thyroidscan/internal/models"
	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/imaging"
	"thyroidscan/pkg/inference"
)

// Params holds the segmentation settings
type Params struct {
	// ImageSize is the square inference resolution
	ImageSize int

	// BatchSize is the maximum number of ROIs per inference call
	BatchSize int

	// Threshold binarises the raw model output
	Threshold float64

	// Workers bounds how many batches are packed concurrently
	Workers int
}

// Input is what the tracker hands to segmentation
type Input struct {
	Dataset   *models.Dataset
	Nodules   *models.NoduleSet
	FrameROIs [][]models.FrameROI
}

// Result holds the per-ROI masks and the per-frame union masks
type Result struct {
	// MaskedROIs mirrors Input.FrameROIs with masks attached
	MaskedROIs [][]models.MaskedROI

	// Masks holds one original-resolution {0,1} mask per frame
	Masks []*mat.Dense
}

// Batch is a packed run of consecutive observations of one nodule
type Batch struct {
	NoduleID int

	// Start is the index of the batch's first observation in the nodule
	Start int

	Tensor inference.Tensor
}

// MaskReprojector runs segmentation and maps masks back to the source image
type MaskReprojector struct {
	segmenter inference.Segmenter
	backend   inference.Backend
	params    Params
}

// New creates a reprojector around an already loaded segmenter
func New(segmenter inference.Segmenter, params Params) *MaskReprojector {
	return &MaskReprojector{segmenter: segmenter, params: params}
}

// NewModel creates a reprojector whose segmenter is opened by Load
func NewModel(backend inference.Backend, params Params) *MaskReprojector {
	return &MaskReprojector{backend: backend, params: params}
}

// Load opens the segmentation model at path
func (r *MaskReprojector) Load(path string) error {
	if r.backend == nil {
		return errors.New("reprojector has no backend to load models with")
	}
	seg, err := r.backend.OpenSegmenter(path)
	if err != nil {
		return inference.WrapInference("segmentation", path, err)
	}
	r.segmenter = seg
	return nil
}

// Preprocess packs every nodule's ROIs into normalised batches. Batches are
// returned nodule by nodule, in observation order.
func (r *MaskReprojector) Preprocess(in *Input) ([]Batch, error) {
	if err := r.check(in); err != nil {
		return nil, err
	}

	var out []Batch
	for _, n := range in.Nodules.All() {
		batches, err := r.packNodule(n)
		if err != nil {
			return nil, err
		}
		out = append(out, batches...)
	}
	return out, nil
}

func (r *MaskReprojector) check(in *Input) error {
	switch {
	case in == nil || in.Dataset == nil || in.Nodules == nil:
		return errors.New("segmentation input is incomplete")
	case r.params.ImageSize <= 0 || r.params.BatchSize <= 0:
		return fmt.Errorf("invalid segmentation size %d / batch %d", r.params.ImageSize, r.params.BatchSize)
	case len(in.FrameROIs) > in.Dataset.Len():
		return fmt.Errorf("%d ROI frames for a %d frame dataset", len(in.FrameROIs), in.Dataset.Len())
	}
	return nil
}

// packNodule splits a nodule's ROIs into batches. Batches are packed in
// parallel but land at fixed positions, so observation order is kept.
func (r *MaskReprojector) packNodule(n *models.Nodule) ([]Batch, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	size := r.params.ImageSize
	plane := 3 * size * size
	count := (n.Len() + r.params.BatchSize - 1) / r.params.BatchSize
	batches := make([]Batch, count)

	var g errgroup.Group
	g.SetLimit(max(1, r.params.Workers))
	for b := range batches {
		b := b
		start := b * r.params.BatchSize
		end := min(start+r.params.BatchSize, n.Len())
		g.Go(func() error {
			data := make([]float32, 0, (end-start)*plane)
			for _, roi := range n.ROIs[start:end] {
				if roi.Bounds().Empty() {
					return fmt.Errorf("nodule %d has an empty ROI", n.ID)
				}
				resized := imaging.Resize(roi, size, size)
				data = append(data, imaging.CHW(resized, imaging.ImageNetMean, imaging.ImageNetStd)...)
			}
			batches[b] = Batch{
				NoduleID: n.ID,
				Start:    start,
				Tensor: inference.Tensor{
					Data:  data,
					Shape: []int64{int64(end - start), 3, int64(size), int64(size)},
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// Predict segments every nodule and reprojects the masks. The batches are
// the ones Preprocess packs.
func (r *MaskReprojector) Predict(ctx context.Context, in *Input) (*Result, error) {
	if r.segmenter == nil {
		return nil, errors.New("no segmenter configured")
	}
	log := monitoring.FromContext(ctx)

	log.Logf("Segmentation started...")
	batches, err := r.Preprocess(in)
	if err != nil {
		return nil, err
	}

	ds := in.Dataset
	cropped := make([][]*mat.Dense, len(in.FrameROIs))
	for i, rois := range in.FrameROIs {
		cropped[i] = make([]*mat.Dense, len(rois))
	}

	for i, b := range batches {
		n, ok := in.Nodules.Get(b.NoduleID)
		if !ok {
			return nil, fmt.Errorf("batch for unknown nodule %d", b.NoduleID)
		}
		if i == 0 || batches[i-1].NoduleID != b.NoduleID {
			log.Logf("Nodule (id=%d) segmentation started...", n.ID)
		}
		if err := r.segmentBatch(ctx, n, b, cropped); err != nil {
			return nil, err
		}
		if i == len(batches)-1 || batches[i+1].NoduleID != b.NoduleID {
			log.Logf("Nodule (id=%d) segmentation completed", n.ID)
		}
	}

	res := &Result{
		MaskedROIs: make([][]models.MaskedROI, len(in.FrameROIs)),
		Masks:      make([]*mat.Dense, ds.Len()),
	}
	for i, rois := range in.FrameROIs {
		res.MaskedROIs[i] = make([]models.MaskedROI, len(rois))
		for j, roi := range rois {
			cm := cropped[i][j]
			if cm == nil {
				return nil, fmt.Errorf("%w: ROI %d of frame %d (nodule %d) was never segmented",
					models.ErrSequenceDesync, j, i, roi.NoduleID)
			}
			res.MaskedROIs[i][j] = models.MaskedROI{
				FrameROI:    roi,
				CroppedMask: cm,
				Mask:        ToOriginal(cm, ds.Crop, ds.OriginalWidth, ds.OriginalHeight),
			}
		}
	}
	for i := range res.Masks {
		var rois []models.MaskedROI
		if i < len(res.MaskedROIs) {
			rois = res.MaskedROIs[i]
		}
		res.Masks[i] = Union(rois, ds.OriginalWidth, ds.OriginalHeight)
	}

	log.Logf("Segmentation completed!")
	return res, nil
}

func (r *MaskReprojector) segmentBatch(ctx context.Context, n *models.Nodule, b Batch, cropped [][]*mat.Dense) error {
	want := int(b.Tensor.Shape[0])
	out, err := r.segmenter.Segment(ctx, b.Tensor)
	if err != nil {
		return inference.WrapInference("segmentation", "", err)
	}
	if len(out) != want {
		return &inference.ShapeError{
			Stage: "segmentation",
			Want:  fmt.Sprintf("%d masks", want),
			Got:   fmt.Sprintf("%d masks", len(out)),
		}
	}

	for k, scores := range out {
		obs := b.Start + k
		frame, idx := n.FrameNumbers[obs], n.IndicesInFrame[obs]
		if frame < 0 || frame >= len(cropped) || idx < 0 || idx >= len(cropped[frame]) {
			return fmt.Errorf("%w: nodule %d observation %d points at frame %d index %d",
				models.ErrSequenceDesync, n.ID, obs, frame, idx)
		}

		roi := n.ROIs[obs].Bounds()
		mask := ResizeToROI(Binarize(scores, r.params.Threshold), roi.Dy(), roi.Dx(), r.params.Threshold)
		cropped[frame][idx] = PlaceInCropped(mask, n.Boxes[obs], n.CroppedWidth, n.CroppedHeight)
	}
	return nil
}

// Binarize marks the pixels whose score is below threshold. The segmentation
// model scores background high.
func Binarize(scores mat.Matrix, threshold float64) *mat.Dense {
	r, c := scores.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if v < threshold {
			return 1
		}
		return 0
	}, scores)
	return out
}

// ResizeToROI scales a mask to rows x cols with nearest-neighbour sampling,
// then keeps the pixels above threshold
func ResizeToROI(mask mat.Matrix, rows, cols int, threshold float64) *mat.Dense {
	var out *mat.Dense
	if r, c := mask.Dims(); r == rows && c == cols {
		out = mat.DenseCopyOf(mask)
	} else {
		out = imaging.ResizeMaskNearest(mask, rows, cols)
	}
	out.Apply(func(_, _ int, v float64) float64 {
		if v > threshold {
			return 1
		}
		return 0
	}, out)
	return out
}

// PlaceInCropped writes mask into a zero height x width matrix with its top
// left corner at box.Min. Parts falling outside the matrix are dropped.
func PlaceInCropped(mask mat.Matrix, box image.Rectangle, width, height int) *mat.Dense {
	out := mat.NewDense(height, width, nil)
	r, c := mask.Dims()
	dst := image.Rect(box.Min.X, box.Min.Y, box.Min.X+c, box.Min.Y+r).Intersect(image.Rect(0, 0, width, height))
	if dst.Empty() {
		return out
	}
	src := dst.Sub(box.Min)
	out.Slice(dst.Min.Y, dst.Max.Y, dst.Min.X, dst.Max.X).(*mat.Dense).
		Copy(mat.DenseCopyOf(mask).Slice(src.Min.Y, src.Max.Y, src.Min.X, src.Max.X))
	return out
}

// ToOriginal translates a cropped-space mask into a zero originalHeight x
// originalWidth matrix at the crop offset
func ToOriginal(cropped mat.Matrix, crop models.CropRectangle, originalWidth, originalHeight int) *mat.Dense {
	return PlaceInCropped(cropped, image.Rect(crop.ColMin, crop.RowMin, crop.ColMax, crop.RowMax), originalWidth, originalHeight)
}

// Union ORs the original-space masks of rois into one width x height mask
func Union(rois []models.MaskedROI, width, height int) *mat.Dense {
	out := mat.NewDense(height, width, nil)
	for _, roi := range rois {
		if roi.Mask != nil {
			out.Add(out, roi.Mask)
		}
	}
	out.Apply(func(i, j int, v float64) float64 {
		if v != 0 {
			return 1
		}
		return 0
	}, out)
	return out
}
