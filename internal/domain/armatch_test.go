package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var t0 = time.Date(2019, time.January, 15, 0, 0, 0, 0, time.UTC)

func sixHourly(n, rows, cols int) ([]time.Time, []*mat.Dense) {
	dates := make([]time.Time, n)
	flags := make([]*mat.Dense, n)
	for k := range n {
		dates[k] = t0.Add(time.Duration(k) * 6 * time.Hour)
		flags[k] = mat.NewDense(rows, cols, nil)
	}
	return dates, flags
}

func TestNewReferenceDataset_Validation(t *testing.T) {
	_, err := NewReferenceDataset(nil, nil)
	require.ErrorIs(t, err, ErrEmptyReferenceData)

	dates, flags := sixHourly(3, 2, 2)
	_, err = NewReferenceDataset(dates, flags[:2])
	require.ErrorIs(t, err, ErrReferenceShape)

	flags[2] = mat.NewDense(3, 2, nil)
	_, err = NewReferenceDataset(dates, flags)
	require.ErrorIs(t, err, ErrReferenceShape)
}

func TestReferenceDataset_NearestIndex(t *testing.T) {
	dates, flags := sixHourly(3, 1, 1)
	ref, err := NewReferenceDataset(dates, flags)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target time.Time
		want   int
	}{
		{"exact first", t0, 0},
		{"tie resolves to earliest", t0.Add(3 * time.Hour), 0},
		{"closer to second", t0.Add(3*time.Hour + time.Minute), 1},
		{"tie between second and third", t0.Add(9 * time.Hour), 1},
		{"after last", t0.Add(48 * time.Hour), 2},
		{"before first", t0.Add(-48 * time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ref.NearestIndex(tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReferenceDataset_NearestIndexUnsorted(t *testing.T) {
	dates := []time.Time{t0.Add(12 * time.Hour), t0, t0.Add(6 * time.Hour)}
	flags := []*mat.Dense{mat.NewDense(1, 1, nil), mat.NewDense(1, 1, nil), mat.NewDense(1, 1, nil)}
	ref, err := NewReferenceDataset(dates, flags)
	require.NoError(t, err)

	// t0+9h is equidistant from positions 0 and 2; the first in sequence wins.
	got, err := ref.NearestIndex(t0.Add(9 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestMatchAR(t *testing.T) {
	dates, flags := sixHourly(2, 2, 2)
	flags[0].Set(1, 1, ARPresent)
	ref, err := NewReferenceDataset(dates, flags)
	require.NoError(t, err)

	got, err := MatchAR(ref, t0.Add(time.Hour), SurfaceOcean, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(ARPresent), got)

	got, err = MatchAR(ref, t0.Add(5*time.Hour), SurfaceLand, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(ARAbsent), got)

	got, err = MatchAR(ref, t0, SurfaceUnknown, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(Missing), got, "unknown surface never reports AR state")
}

func TestMatchAR_EmptyReference(t *testing.T) {
	var ref *ReferenceDataset
	_, err := MatchAR(ref, t0, SurfaceOcean, 0, 0)
	require.ErrorIs(t, err, ErrEmptyReferenceData)
}
