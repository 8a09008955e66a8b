// Package report turns a pipeline result into the per-nodule records and
// segmentation outline points that callers persist.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"thyroidscan/internal/models"
	"thyroidscan/pkg/contour"
)

// NoduleDetails is the class summary stored with every nodule
type NoduleDetails struct {
	// NoduleType is the TIRADS number, or -1 when the label is unknown
	NoduleType int `json:"nodule_type"`
	Nodule23   int `json:"nodule_2_3"`
	Nodule4    int `json:"nodule_4"`
	Nodule5    int `json:"nodule_5"`
}

// DetailsFor summarises a TIRADS label such as "TIRADS4"
func DetailsFor(label string) NoduleDetails {
	d := NoduleDetails{NoduleType: -1}
	if t, err := models.ParseTIRADS(label); err == nil {
		d.NoduleType = int(t)
	}
	switch d.NoduleType {
	case 2, 3:
		d.Nodule23 = 1
	case 4:
		d.Nodule4 = 1
	case 5:
		d.Nodule5 = 1
	}
	return d
}

// Point is one outline point; Z is the frame index
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Segment is the record of one classified nodule
type Segment struct {
	NoduleID int           `json:"nodule_id"`
	Label    string        `json:"label"`
	Details  NoduleDetails `json:"details"`

	// Points outline this nodule's own masks
	Points []Point `json:"points"`
}

// Report is the serialisable outcome of one pipeline run
type Report struct {
	RunID          string    `json:"run_id"`
	ResultID       int       `json:"result_id,omitempty"`
	Projection     string    `json:"projection"`
	Frames         int       `json:"frames"`
	OriginalWidth  int       `json:"original_width"`
	OriginalHeight int       `json:"original_height"`
	Segments       []Segment `json:"segments"`

	// Points outline the per-frame union masks
	Points []Point `json:"points"`
}

// Input gathers what Build needs from a pipeline run
type Input struct {
	RunID          string
	ResultID       int
	Projection     string
	OriginalWidth  int
	OriginalHeight int
	Classification models.ClassificationResult
	MaskedROIs     [][]models.MaskedROI
	Masks          []*mat.Dense
}

// Build assembles the report. Without nodules a single segment with id 0 and
// the default label is reported.
func Build(in Input) *Report {
	r := &Report{
		RunID:          in.RunID,
		ResultID:       in.ResultID,
		Projection:     in.Projection,
		Frames:         len(in.Masks),
		OriginalWidth:  in.OriginalWidth,
		OriginalHeight: in.OriginalHeight,
		Points:         MaskPoints(in.Masks),
	}

	if in.Classification.IsDefault() {
		label := models.DefaultLabel.String()
		r.Segments = []Segment{{NoduleID: 0, Label: label, Details: DetailsFor(label), Points: []Point{}}}
		return r
	}

	for _, id := range in.Classification.IDs() {
		label := in.Classification.Labels[id].String()
		r.Segments = append(r.Segments, Segment{
			NoduleID: id,
			Label:    label,
			Details:  DetailsFor(label),
			Points:   NodulePoints(in.MaskedROIs, id),
		})
	}
	return r
}

// MaskPoints outlines every non-empty mask, tagging points with the mask's
// frame index
func MaskPoints(masks []*mat.Dense) []Point {
	out := []Point{}
	for z, m := range masks {
		out = append(out, outline(m, z)...)
	}
	return out
}

// NodulePoints outlines the original-space masks of one nodule
func NodulePoints(frames [][]models.MaskedROI, noduleID int) []Point {
	out := []Point{}
	for z, rois := range frames {
		for _, roi := range rois {
			if roi.NoduleID == noduleID {
				out = append(out, outline(roi.Mask, z)...)
			}
		}
	}
	return out
}

func outline(m *mat.Dense, z int) []Point {
	if m == nil || mat.Sum(m) == 0 {
		return nil
	}
	var out []Point
	for _, c := range contour.Find(m) {
		for _, p := range c {
			out = append(out, Point{X: p.X, Y: p.Y, Z: z})
		}
	}
	return out
}

// Labels returns the segment labels keyed by nodule id
func (r *Report) Labels() map[int]string {
	out := make(map[int]string, len(r.Segments))
	for _, s := range r.Segments {
		out[s.NoduleID] = s.Label
	}
	return out
}

// Summary renders one line per segment, ordered by nodule id
func (r *Report) Summary() []string {
	segs := append([]Segment(nil), r.Segments...)
	sort.Slice(segs, func(i, j int) bool { return segs[i].NoduleID < segs[j].NoduleID })
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = fmt.Sprintf("Nodule %d: %s (%d outline points)", s.NoduleID, s.Label, len(s.Points))
	}
	return out
}

// Write saves r as indented JSON at path
func Write(r *Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}
