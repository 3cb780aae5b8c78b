package domain

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tally is the per-cell footprint count for one swath: all valid
// (non-negative) footprints and the four non-exclusive rain-rate thresholds.
type Tally struct {
	Footprints int
	Above0     int // precip > 0
	Above0p1   int // precip >= 0.1
	Above0p5   int // precip >= 0.5
	Above1     int // precip >= 1.0
}

// Counts holds one family of per-cell count arrays.
type Counts struct {
	Footprints *mat.Dense
	Above0     *mat.Dense
	Above0p1   *mat.Dense
	Above0p5   *mat.Dense
	Above1     *mat.Dense
}

func newCounts(rows, cols int) Counts {
	return Counts{
		Footprints: mat.NewDense(rows, cols, nil),
		Above0:     mat.NewDense(rows, cols, nil),
		Above0p1:   mat.NewDense(rows, cols, nil),
		Above0p5:   mat.NewDense(rows, cols, nil),
		Above1:     mat.NewDense(rows, cols, nil),
	}
}

// Arrays returns the five arrays keyed by name, in a fixed order.
func (c Counts) Arrays() []NamedArray {
	return []NamedArray{
		{Name: "footprints", Data: c.Footprints},
		{Name: "precip_gt_0", Data: c.Above0},
		{Name: "precip_ge_0p1", Data: c.Above0p1},
		{Name: "precip_ge_0p5", Data: c.Above0p5},
		{Name: "precip_ge_1", Data: c.Above1},
	}
}

func (c Counts) add(i, j int, t Tally) {
	inc(c.Footprints, i, j, t.Footprints)
	inc(c.Above0, i, j, t.Above0)
	inc(c.Above0p1, i, j, t.Above0p1)
	inc(c.Above0p5, i, j, t.Above0p5)
	inc(c.Above1, i, j, t.Above1)
}

func inc(m *mat.Dense, i, j, n int) {
	if n != 0 {
		m.Set(i, j, m.At(i, j)+float64(n))
	}
}

// NamedArray labels one accumulator array.
type NamedArray struct {
	Name string
	Data *mat.Dense
}

// Accumulators are the running per-cell counts for one region over a run.
// Values only increase. An Accumulators value is owned by a single goroutine;
// parallel workers each keep their own and combine them with Merge.
type Accumulators struct {
	Region Region
	Total  Counts
	AR     Counts
	NoAR   Counts

	rows int
	cols int
}

// NewAccumulators allocates zeroed arrays shaped like the grid.
func NewAccumulators(g *Grid) *Accumulators {
	rows, cols := g.Rows(), g.Cols()
	return &Accumulators{
		Region: g.Region,
		Total:  newCounts(rows, cols),
		AR:     newCounts(rows, cols),
		NoAR:   newCounts(rows, cols),
		rows:   rows,
		cols:   cols,
	}
}

// Dims returns the array shape.
func (a *Accumulators) Dims() (rows, cols int) { return a.rows, a.cols }

// Families returns the total, AR and no-AR count families keyed by name.
func (a *Accumulators) Families() map[string]Counts {
	return map[string]Counts{
		"total": a.Total,
		"ar":    a.AR,
		"no_ar": a.NoAR,
	}
}

// Merge adds other into a cell-wise. Both must cover the same region.
func (a *Accumulators) Merge(other *Accumulators) error {
	if other.Region != a.Region || other.rows != a.rows || other.cols != a.cols {
		return fmt.Errorf("merge accumulators: %s %dx%d into %s %dx%d",
			other.Region, other.rows, other.cols, a.Region, a.rows, a.cols)
	}
	for _, pair := range [][2]Counts{{a.Total, other.Total}, {a.AR, other.AR}, {a.NoAR, other.NoAR}} {
		dst, src := pair[0].Arrays(), pair[1].Arrays()
		for k := range dst {
			dst[k].Data.Add(dst[k].Data, src[k].Data)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (a *Accumulators) Clone() *Accumulators {
	c := &Accumulators{Region: a.Region, rows: a.rows, cols: a.cols}
	c.Total = cloneCounts(a.Total)
	c.AR = cloneCounts(a.AR)
	c.NoAR = cloneCounts(a.NoAR)
	return c
}

// Reset zeroes every array. Used by workers after their deltas are merged.
func (a *Accumulators) Reset() {
	for _, c := range []Counts{a.Total, a.AR, a.NoAR} {
		for _, arr := range c.Arrays() {
			arr.Data.Zero()
		}
	}
}

// Sums returns the grand total of every array, keyed "family/array".
func (a *Accumulators) Sums() map[string]float64 {
	out := make(map[string]float64, 15)
	for family, c := range a.Families() {
		for _, arr := range c.Arrays() {
			out[family+"/"+arr.Name] = mat.Sum(arr.Data)
		}
	}
	return out
}

func cloneCounts(c Counts) Counts {
	return Counts{
		Footprints: mat.DenseCopyOf(c.Footprints),
		Above0:     mat.DenseCopyOf(c.Above0),
		Above0p1:   mat.DenseCopyOf(c.Above0p1),
		Above0p5:   mat.DenseCopyOf(c.Above0p5),
		Above1:     mat.DenseCopyOf(c.Above1),
	}
}
