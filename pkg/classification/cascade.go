// Package classification assigns a TIRADS class to every nodule.
//
// The cascade reads only each nodule's largest ROI. Six pairwise image
// classifiers vote first; two gradient-boosted models turn the votes into
// meta-features, the second one also seeing the transducer orientation; a final
// gradient-boosted model maps the two meta-features to the class.
package classification

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"thyroidscan/internal/models"
	"thyroidscan/internal/monitoring"
	"thyroidscan/pkg/inference"
)

// PairwiseCount is the number of stage one classifiers, one per pair of
// classes among TIRADS2..TIRADS5
const PairwiseCount = 6

// PairwiseSpec locates one pairwise classifier and names its outputs
type PairwiseSpec struct {
	Path    string
	Classes []string
}

// Files lists the model files the cascade loads. Relative paths are resolved
// against the directory passed to Load.
type Files struct {
	// Pairwise in the order 2v3, 2v4, 2v5, 3v4, 3v5, 4v5
	Pairwise []PairwiseSpec

	// Meta holds the model without projection, the model with projection
	// and the final model
	Meta [3]string
}

// Params holds the classification settings
type Params struct {
	// ImageSize is the classifier input resolution
	ImageSize int

	Projection inference.Projection
}

// Candidate is the ROI a nodule is classified from
type Candidate struct {
	NoduleID int
	ROI      *image.RGBA
}

// Cascade runs the layered TIRADS ensemble
type Cascade struct {
	pairwise []inference.ImageClassifier
	meta     [3]inference.MetaClassifier

	backend inference.Backend
	files   Files
	params  Params
}

// New creates a cascade from loaded predictors
func New(pairwise []inference.ImageClassifier, meta [3]inference.MetaClassifier, params Params) (*Cascade, error) {
	c := &Cascade{pairwise: pairwise, meta: meta, params: params}
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewModel creates a cascade whose predictors are opened by Load
func NewModel(backend inference.Backend, files Files, params Params) *Cascade {
	return &Cascade{backend: backend, files: files, params: params}
}

func (c *Cascade) ready() error {
	if len(c.pairwise) != PairwiseCount {
		return fmt.Errorf("cascade needs %d pairwise classifiers, got %d", PairwiseCount, len(c.pairwise))
	}
	for i, p := range c.pairwise {
		if p == nil {
			return fmt.Errorf("pairwise classifier %d is nil", i)
		}
	}
	for i, m := range c.meta {
		if m == nil {
			return fmt.Errorf("meta classifier %d is nil", i)
		}
	}
	return nil
}

// Load opens every cascade model, resolving relative paths against dir
func (c *Cascade) Load(dir string) error {
	if c.backend == nil {
		return errors.New("cascade has no backend to load models with")
	}
	if len(c.files.Pairwise) != PairwiseCount {
		return fmt.Errorf("cascade needs %d pairwise model files, got %d", PairwiseCount, len(c.files.Pairwise))
	}

	resolve := func(p string) string {
		if dir == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	pairwise := make([]inference.ImageClassifier, 0, PairwiseCount)
	for _, spec := range c.files.Pairwise {
		path := resolve(spec.Path)
		clf, err := c.backend.OpenClassifier(path, spec.Classes)
		if err != nil {
			return inference.WrapInference("classification", path, err)
		}
		pairwise = append(pairwise, clf)
	}

	var meta [3]inference.MetaClassifier
	for i, p := range c.files.Meta {
		path := resolve(p)
		m, err := c.backend.OpenMeta(path)
		if err != nil {
			return inference.WrapInference("classification", path, err)
		}
		meta[i] = m
	}

	c.pairwise, c.meta = pairwise, meta
	return nil
}

// WithProjection returns a cascade sharing c's predictors that evaluates the
// projection-aware model for p
func (c *Cascade) WithProjection(p inference.Projection) *Cascade {
	cp := *c
	cp.params.Projection = p
	return &cp
}

// Preprocess picks the largest ROI of every nodule, in nodule order
func (c *Cascade) Preprocess(nodules *models.NoduleSet) ([]Candidate, error) {
	if nodules == nil {
		return nil, nil
	}
	out := make([]Candidate, 0, nodules.Len())
	for _, n := range nodules.All() {
		roi, err := n.LargestROI()
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{NoduleID: n.ID, ROI: roi})
	}
	return out, nil
}

// Predict classifies every nodule. An empty set yields the default result.
func (c *Cascade) Predict(ctx context.Context, nodules *models.NoduleSet) (models.ClassificationResult, error) {
	var res models.ClassificationResult
	log := monitoring.FromContext(ctx)

	log.Logf("Classification started...")
	candidates, err := c.Preprocess(nodules)
	if err != nil {
		return res, err
	}
	if len(candidates) == 0 {
		log.Logf("%s", models.DefaultLabel)
		log.Logf("Classification completed!")
		return res, nil
	}
	if err := c.ready(); err != nil {
		return res, err
	}

	res.Labels = make(map[int]models.TIRADS, len(candidates))
	for _, cand := range candidates {
		log.Logf("Nodule (id = %d):", cand.NoduleID)
		label, err := c.ClassifyROI(ctx, cand.ROI)
		if err != nil {
			return models.ClassificationResult{}, fmt.Errorf("nodule %d: %w", cand.NoduleID, err)
		}
		res.Labels[cand.NoduleID] = label
	}

	log.Logf("Final preds: %s", res)
	log.Logf("Classification completed!")
	return res, nil
}

// ClassifyROI runs the full cascade on one ROI
func (c *Cascade) ClassifyROI(ctx context.Context, roi image.Image) (models.TIRADS, error) {
	log := monitoring.FromContext(ctx)
	votes, err := c.pairwiseVotes(ctx, roi)
	if err != nil {
		return 0, err
	}
	log.Logf("CV preds: %v", votes)

	meta, err := c.metaFeatures(votes)
	if err != nil {
		return 0, err
	}
	log.Logf("ML preds: %v", meta)

	n, err := c.meta[2].Predict(meta)
	if err != nil {
		return 0, inference.WrapInference("classification", "final meta-classifier", err)
	}
	label, err := models.TIRADSFromNumber(n + 2)
	if err != nil {
		return 0, &inference.ShapeError{
			Stage: "classification",
			Want:  "final class in -1..3",
			Got:   fmt.Sprint(n),
		}
	}
	return label, nil
}

// pairwiseVotes returns each pairwise decision as class number - 2.
// Extra results are warned about and the first is used; no result at all
// fails, since the meta-classifiers need all six votes.
func (c *Cascade) pairwiseVotes(ctx context.Context, roi image.Image) ([]float64, error) {
	votes := make([]float64, 0, len(c.pairwise))
	for i, clf := range c.pairwise {
		results, err := clf.Classify(ctx, roi, c.params.ImageSize)
		if err != nil {
			return nil, inference.WrapInference("classification", fmt.Sprintf("pairwise %d", i), err)
		}
		switch {
		case len(results) == 0:
			return nil, &inference.ShapeError{
				Stage: "classification",
				Want:  "1 result",
				Got:   "0 results",
			}
		case len(results) > 1:
			monitoring.FromContext(ctx).Warnf("Len(result) != 1 (= %d), using the first", len(results))
		}

		label, err := models.ParseTIRADS(results[0].Label)
		if err != nil {
			return nil, fmt.Errorf("pairwise %d: %w", i, err)
		}
		votes = append(votes, float64(label-2))
	}
	return votes, nil
}

// metaFeatures evaluates the two stage two models. With an unknown
// orientation the projection-aware model is run for every orientation and
// the largest prediction kept.
func (c *Cascade) metaFeatures(votes []float64) ([]float64, error) {
	p1, err := c.meta[0].Predict(votes)
	if err != nil {
		return nil, inference.WrapInference("classification", "meta-classifier without projection", err)
	}

	p2 := 0
	for i, f := range c.params.Projection.Features() {
		withType := append(append(make([]float64, 0, len(votes)+1), votes...), f)
		p, err := c.meta[1].Predict(withType)
		if err != nil {
			return nil, inference.WrapInference("classification", "meta-classifier with projection", err)
		}
		if i == 0 || p > p2 {
			p2 = p
		}
	}

	return []float64{float64(p1), float64(p2)}, nil
}
