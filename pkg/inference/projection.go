package inference

import (
	"fmt"
	"strings"
)

// Projection is the ultrasound transducer orientation of an acquisition
type Projection string

const (
	ProjectionCross Projection = "cross"
	ProjectionLong  Projection = "long"

	// ProjectionAll is used when the orientation is unknown
	ProjectionAll Projection = "all"
)

// Projection features appended to the pairwise vector
const (
	CrossFeature = 10
	LongFeature  = 11
)

// ParseProjection accepts cross, long (or longitudinal) and all
func ParseProjection(s string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cross", "transverse":
		return ProjectionCross, nil
	case "long", "longitudinal":
		return ProjectionLong, nil
	case "all", "":
		return ProjectionAll, nil
	}
	return "", fmt.Errorf("unknown projection type %q", s)
}

// Features returns the projection feature values to evaluate. The unknown
// orientation evaluates both.
func (p Projection) Features() []float64 {
	switch p {
	case ProjectionCross:
		return []float64{CrossFeature}
	case ProjectionLong:
		return []float64{LongFeature}
	}
	return []float64{CrossFeature, LongFeature}
}
