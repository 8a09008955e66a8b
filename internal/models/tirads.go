package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TIRADS is the 1-5 malignancy risk class of a thyroid nodule
type TIRADS int

const (
	TIRADS1 TIRADS = iota + 1
	TIRADS2
	TIRADS3
	TIRADS4
	TIRADS5
)

const tiradsPrefix = "TIRADS"

// TIRADSFromNumber validates n and converts it to a label
func TIRADSFromNumber(n int) (TIRADS, error) {
	if n < int(TIRADS1) || n > int(TIRADS5) {
		return 0, fmt.Errorf("TIRADS class %d outside 1..5", n)
	}
	return TIRADS(n), nil
}

// ParseTIRADS parses labels such as "TIRADS3"
func ParseTIRADS(s string) (TIRADS, error) {
	if !strings.HasPrefix(s, tiradsPrefix) {
		return 0, fmt.Errorf("invalid TIRADS label %q", s)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, tiradsPrefix))
	if err != nil {
		return 0, fmt.Errorf("invalid TIRADS label %q: %w", s, err)
	}
	return TIRADSFromNumber(n)
}

func (t TIRADS) String() string { return tiradsPrefix + strconv.Itoa(int(t)) }

// MarshalText implements encoding.TextMarshaler
func (t TIRADS) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TIRADS) UnmarshalText(b []byte) error {
	v, err := ParseTIRADS(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ClassificationResult maps nodule ids to TIRADS labels. With no nodules it
// stands for the single default label TIRADS1.
type ClassificationResult struct {
	Labels map[int]TIRADS
}

// DefaultLabel is reported when no nodule was found
const DefaultLabel = TIRADS1

// IsDefault reports whether the result carries only the default label
func (r ClassificationResult) IsDefault() bool { return len(r.Labels) == 0 }

// IDs returns the classified nodule ids in ascending order
func (r ClassificationResult) IDs() []int {
	ids := make([]int, 0, len(r.Labels))
	for id := range r.Labels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r ClassificationResult) String() string {
	if r.IsDefault() {
		return DefaultLabel.String()
	}
	parts := make([]string, 0, len(r.Labels))
	for _, id := range r.IDs() {
		parts = append(parts, fmt.Sprintf("%d: %s", id, r.Labels[id]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
