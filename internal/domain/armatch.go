package domain

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// AR flag values as stored in the reference grids.
const (
	ARAbsent  = 0
	ARPresent = 1
)

// ARReference is the read-only AR catalogue the matcher consults.
type ARReference interface {
	// NearestIndex returns the index of the timestep closest to t.
	NearestIndex(t time.Time) (int, error)
	// FlagAt returns the flag of timestep k at cell (i, j).
	FlagAt(k, i, j int) float64
	// Dims returns the grid shape shared by every timestep.
	Dims() (rows, cols int)
}

// ReferenceDataset pairs ordered AR timesteps with one flag grid each.
type ReferenceDataset struct {
	dates []time.Time
	flags []*mat.Dense
	rows  int
	cols  int
}

// NewReferenceDataset validates and wraps the AR catalogue. Every grid must
// share one shape and there must be exactly one grid per date.
func NewReferenceDataset(dates []time.Time, flags []*mat.Dense) (*ReferenceDataset, error) {
	if len(dates) == 0 {
		return nil, ErrEmptyReferenceData
	}
	if len(flags) != len(dates) {
		return nil, fmt.Errorf("%w: %d dates but %d flag grids", ErrReferenceShape, len(dates), len(flags))
	}

	rows, cols := flags[0].Dims()
	for k, f := range flags {
		if r, c := f.Dims(); r != rows || c != cols {
			return nil, fmt.Errorf("%w: grid %d is %dx%d, want %dx%d", ErrReferenceShape, k, r, c, rows, cols)
		}
	}

	return &ReferenceDataset{dates: dates, flags: flags, rows: rows, cols: cols}, nil
}

// Len returns the number of timesteps.
func (r *ReferenceDataset) Len() int { return len(r.dates) }

// Dates returns the timesteps. The slice must not be modified.
func (r *ReferenceDataset) Dates() []time.Time { return r.dates }

// Dims returns the shape of each flag grid.
func (r *ReferenceDataset) Dims() (rows, cols int) { return r.rows, r.cols }

// FlagAt returns the AR flag of cell (i, j) at timestep k.
func (r *ReferenceDataset) FlagAt(k, i, j int) float64 { return r.flags[k].At(i, j) }

// NearestIndex scans the timesteps in order and returns the one with the
// smallest absolute distance to t. On ties the earliest position in the
// sequence wins.
func (r *ReferenceDataset) NearestIndex(t time.Time) (int, error) {
	if r == nil || len(r.dates) == 0 {
		return 0, ErrEmptyReferenceData
	}
	best := 0
	bestDiff := absDuration(t.Sub(r.dates[0]))
	for k := 1; k < len(r.dates); k++ {
		if d := absDuration(t.Sub(r.dates[k])); d < bestDiff {
			best, bestDiff = k, d
		}
	}
	return best, nil
}

// MatchAR returns the AR flag for cell (i, j) at the reference timestep
// nearest to t. A cell with an unknown surface never reports AR state and
// gets Missing regardless of the lookup.
func MatchAR(ref ARReference, t time.Time, sfc SurfaceFlag, i, j int) (float64, error) {
	k, err := ref.NearestIndex(t)
	if err != nil {
		return Missing, err
	}
	flag := ref.FlagAt(k, i, j)
	if !sfc.Valid() {
		return Missing, nil
	}
	return flag, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
