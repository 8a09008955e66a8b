// Package gbtree evaluates gradient-boosted tree ensembles saved in the
// XGBoost JSON model format. Only the inference path is implemented: a model
// is loaded once and then predicts from dense feature vectors.
package gbtree

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Objective kinds that change how raw margins become a class index
const (
	objRegression = iota
	objBinary
	objMulti
)

// Model is a loaded tree ensemble. It is read-only after Load and safe for
// concurrent use.
type Model struct {
	trees     []tree
	treeClass []int
	numClass  int
	numFeat   int
	baseScore float64
	objective string
	kind      int
}

type tree struct {
	left        []int
	right       []int
	splitIndex  []int
	splitCond   []float64
	defaultLeft []bool
}

// On-disk layout; only the fields needed for inference are decoded.
type jsonModel struct {
	Learner struct {
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees    []jsonTree `json:"trees"`
				TreeInfo []int      `json:"tree_info"`
			} `json:"model"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
}

type jsonTree struct {
	LeftChildren    []int      `json:"left_children"`
	RightChildren   []int      `json:"right_children"`
	SplitIndices    []int      `json:"split_indices"`
	SplitConditions []float64  `json:"split_conditions"`
	DefaultLeft     []flexBool `json:"default_left"`
}

// flexBool accepts both true/false and 0/1, which differ between XGBoost
// releases.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", "1":
		*b = true
	case "false", "0":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// Load reads an XGBoost JSON model file
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading model file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes an XGBoost JSON model
func Parse(data []byte) (*Model, error) {
	var jm jsonModel
	if err := json.Unmarshal(data, &jm); err != nil {
		return nil, fmt.Errorf("error parsing model: %w", err)
	}

	gb := jm.Learner.GradientBooster
	if gb.Name != "" && gb.Name != "gbtree" {
		return nil, fmt.Errorf("unsupported booster %q", gb.Name)
	}
	if len(gb.Model.Trees) == 0 {
		return nil, errors.New("model has no trees")
	}
	if len(gb.Model.TreeInfo) != len(gb.Model.Trees) {
		return nil, fmt.Errorf("tree_info lists %d trees, model has %d", len(gb.Model.TreeInfo), len(gb.Model.Trees))
	}

	param := jm.Learner.LearnerModelParam
	base, err := parseBaseScore(param.BaseScore)
	if err != nil {
		return nil, err
	}
	numClass, err := parseIntParam("num_class", param.NumClass)
	if err != nil {
		return nil, err
	}
	numFeat, err := parseIntParam("num_feature", param.NumFeature)
	if err != nil {
		return nil, err
	}

	m := &Model{
		numClass:  max(1, numClass),
		numFeat:   numFeat,
		baseScore: base,
		objective: jm.Learner.Objective.Name,
		treeClass: gb.Model.TreeInfo,
	}
	switch {
	case strings.HasPrefix(m.objective, "multi:"):
		m.kind = objMulti
	case m.objective == "binary:logistic" || m.objective == "reg:logistic":
		m.kind = objBinary
	default:
		m.kind = objRegression
	}

	for i, jt := range gb.Model.Trees {
		t, err := newTree(jt, numFeat)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		if c := m.treeClass[i]; c < 0 || c >= m.numClass {
			return nil, fmt.Errorf("tree %d: class %d outside [0,%d)", i, c, m.numClass)
		}
		m.trees = append(m.trees, t)
	}
	return m, nil
}

func newTree(jt jsonTree, numFeat int) (tree, error) {
	n := len(jt.LeftChildren)
	if n == 0 || len(jt.RightChildren) != n || len(jt.SplitIndices) != n ||
		len(jt.SplitConditions) != n || len(jt.DefaultLeft) != n {
		return tree{}, errors.New("node arrays differ in length")
	}

	t := tree{
		left:        jt.LeftChildren,
		right:       jt.RightChildren,
		splitIndex:  jt.SplitIndices,
		splitCond:   jt.SplitConditions,
		defaultLeft: make([]bool, n),
	}
	for i := 0; i < n; i++ {
		t.defaultLeft[i] = bool(jt.DefaultLeft[i])
		if t.left[i] == -1 {
			continue
		}
		if t.left[i] <= i || t.left[i] >= n || t.right[i] <= i || t.right[i] >= n {
			return tree{}, fmt.Errorf("node %d has invalid children %d/%d", i, t.left[i], t.right[i])
		}
		if numFeat > 0 && (t.splitIndex[i] < 0 || t.splitIndex[i] >= numFeat) {
			return tree{}, fmt.Errorf("node %d splits on feature %d of %d", i, t.splitIndex[i], numFeat)
		}
	}
	return t, nil
}

// leaf walks the tree for x. NaN and absent features follow the default branch.
func (t *tree) leaf(x []float64) float64 {
	i := 0
	for t.left[i] != -1 {
		f := t.splitIndex[i]
		switch {
		case f >= len(x) || math.IsNaN(x[f]):
			if t.defaultLeft[i] {
				i = t.left[i]
			} else {
				i = t.right[i]
			}
		case x[f] < t.splitCond[i]:
			i = t.left[i]
		default:
			i = t.right[i]
		}
	}
	return t.splitCond[i]
}

// parseBaseScore handles both "5E-1" and the "[5E-1]" vector form
func parseBaseScore(s string) (float64, error) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return 0.5, nil
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base_score %q: %w", s, err)
	}
	return v, nil
}

func parseIntParam(name, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

// NumClass returns the number of output classes (1 for binary and regression)
func (m *Model) NumClass() int { return m.numClass }

// NumFeature returns the feature count recorded in the model, 0 if unknown
func (m *Model) NumFeature() int { return m.numFeat }

// Margins returns the raw per-class scores for x
func (m *Model) Margins(x []float64) []float64 {
	out := make([]float64, m.numClass)
	init := m.baseScore
	if m.kind == objBinary {
		init = logit(m.baseScore)
	}
	for c := range out {
		out[c] = init
	}
	for i := range m.trees {
		out[m.treeClass[i]] += m.trees[i].leaf(x)
	}
	return out
}

// Predict returns the class index for x: argmax for multi-class models, a
// 0.5 probability cut for binary models and the rounded score for regression.
func (m *Model) Predict(x []float64) (int, error) {
	if m.numFeat > 0 && len(x) != m.numFeat {
		return 0, fmt.Errorf("model expects %d features, got %d", m.numFeat, len(x))
	}

	margins := m.Margins(x)
	switch m.kind {
	case objMulti:
		best := 0
		for c, v := range margins {
			if v > margins[best] {
				best = c
			}
		}
		return best, nil
	case objBinary:
		if sigmoid(margins[0]) > 0.5 {
			return 1, nil
		}
		return 0, nil
	default:
		return int(math.Round(margins[0])), nil
	}
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

func logit(p float64) float64 {
	p = math.Min(math.Max(p, 1e-16), 1-1e-16)
	return math.Log(p / (1 - p))
}
