package contour

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func maskFromRows(rows ...string) *mat.Dense {
	m := mat.NewDense(len(rows), len(rows[0]), nil)
	for y, row := range rows {
		for x, c := range row {
			if c == '#' {
				m.Set(y, x, 1)
			}
		}
	}
	return m
}

func TestTraceRectangleCorners(t *testing.T) {
	m := maskFromRows(
		"......",
		".####.",
		".####.",
		".####.",
		"......",
	)
	got := Trace(m)
	want := [][]image.Point{{{1, 1}, {4, 1}, {4, 3}, {1, 3}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("contour mismatch (-want +got):\n%s", diff)
	}
}

func TestTraceSeparateComponents(t *testing.T) {
	m := maskFromRows(
		"##....",
		"##....",
		"......",
		"....#.",
	)
	got := Trace(m)
	require.Len(t, got, 2)
	assert.Equal(t, []image.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}, got[0])
	assert.Equal(t, []image.Point{{4, 3}}, got[1])
}

func TestTraceDiagonalNeighboursJoin(t *testing.T) {
	m := maskFromRows(
		"#..",
		".#.",
		"..#",
	)
	got := Trace(m)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], image.Point{0, 0})
	assert.Contains(t, got[0], image.Point{2, 2})
}

func TestTraceTouchesBorder(t *testing.T) {
	m := maskFromRows(
		"###",
		"###",
	)
	got := Trace(m)
	require.Len(t, got, 1)
	assert.Equal(t, []image.Point{{0, 0}, {2, 0}, {2, 1}, {0, 1}}, got[0])
}

func TestTraceEmptyMask(t *testing.T) {
	assert.Empty(t, Trace(mat.NewDense(3, 3, nil)))
}

func TestSimplifyKeepsTurns(t *testing.T) {
	pts := []image.Point{{0, 0}, {1, 0}, {2, 0}, {2, 1}, {2, 2}, {1, 2}, {0, 2}, {0, 1}}
	assert.Equal(t, []image.Point{{0, 0}, {2, 0}, {2, 2}, {0, 2}}, Simplify(pts))
	assert.Equal(t, []image.Point{{3, 3}}, Simplify([]image.Point{{3, 3}}))
}

func TestFindMatchesTraceOnDefaultBuild(t *testing.T) {
	m := maskFromRows(
		".##.",
		".##.",
	)
	assert.NotEmpty(t, Find(m))
}
