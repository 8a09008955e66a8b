package models

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roi(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestNoduleAppendTracksLargestArea(t *testing.T) {
	n := NewNodule(7, 100, 80)

	require.NoError(t, n.Append(0, roi(10, 10), image.Rect(0, 0, 10, 10), 0))
	require.NoError(t, n.Append(1, roi(10, 15), image.Rect(0, 0, 10, 15), 0))
	require.NoError(t, n.Append(2, roi(10, 12), image.Rect(0, 0, 10, 12), 1))

	assert.Equal(t, 3, n.Len())
	assert.Equal(t, 1, n.LargestROIIdx)
	assert.Equal(t, 150, n.LargestArea)
	assert.Equal(t, []int{0, 1, 2}, n.FrameNumbers)
	assert.Equal(t, []int{0, 0, 1}, n.IndicesInFrame)
}

func TestNoduleAppendTiePrefersLaterObservation(t *testing.T) {
	n := NewNodule(1, 100, 100)

	require.NoError(t, n.Append(0, roi(20, 10), image.Rect(5, 5, 25, 15), 0))
	require.NoError(t, n.Append(1, roi(10, 20), image.Rect(40, 40, 50, 60), 0))

	assert.Equal(t, 1, n.LargestROIIdx)

	largest, err := n.LargestROI()
	require.NoError(t, err)
	assert.Same(t, n.ROIs[1], largest)
}

func TestNoduleValidateDetectsDesync(t *testing.T) {
	n := NewNodule(3, 50, 50)
	require.NoError(t, n.Append(0, roi(5, 5), image.Rect(0, 0, 5, 5), 0))

	n.ROIs = append(n.ROIs, roi(1, 1))

	err := n.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSequenceDesync))

	err = n.Append(1, roi(5, 5), image.Rect(0, 0, 5, 5), 0)
	assert.True(t, errors.Is(err, ErrSequenceDesync))
}

func TestNoduleLargestROIEmpty(t *testing.T) {
	_, err := NewNodule(0, 10, 10).LargestROI()
	require.Error(t, err)
}

func TestNoduleSetKeepsInsertionOrder(t *testing.T) {
	s := NewNoduleSet()

	for _, id := range []int{5, 2, 9} {
		_, created := s.GetOrCreate(id, 64, 48)
		require.True(t, created)
	}
	n, created := s.GetOrCreate(2, 64, 48)
	require.False(t, created)
	assert.Equal(t, 2, n.ID)
	assert.Equal(t, 64, n.CroppedWidth)

	assert.Equal(t, []int{5, 2, 9}, s.IDs())
	assert.Equal(t, 3, s.Len())

	all := s.All()
	require.Len(t, all, 3)
	assert.Equal(t, 9, all[2].ID)

	_, ok := s.Get(4)
	assert.False(t, ok)
}
