package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTIRADS(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    TIRADS
		wantErr bool
	}{
		{in: "TIRADS1", want: TIRADS1},
		{in: "TIRADS5", want: TIRADS5},
		{in: "TIRADS6", wantErr: true},
		{in: "TIRADS", wantErr: true},
		{in: "tirads3", wantErr: true},
	} {
		got, err := ParseTIRADS(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestClassificationResultString(t *testing.T) {
	assert.Equal(t, "TIRADS1", ClassificationResult{}.String())

	r := ClassificationResult{Labels: map[int]TIRADS{3: TIRADS4, 1: TIRADS2}}
	assert.False(t, r.IsDefault())
	assert.Equal(t, []int{1, 3}, r.IDs())
	assert.Equal(t, "{1: TIRADS2, 3: TIRADS4}", r.String())
}

func TestTIRADSJSON(t *testing.T) {
	data, err := json.Marshal(map[string]TIRADS{"a": TIRADS3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"TIRADS3"}`, string(data))

	var back map[string]TIRADS
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, TIRADS3, back["a"])
}
