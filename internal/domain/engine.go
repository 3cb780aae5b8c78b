package domain

import (
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Rain-rate thresholds in mm/h.
const (
	// PrecipMin is the lower bound of the conditional cell mean.
	PrecipMin = 0.01

	threshold0p1 = 0.1
	threshold0p5 = 0.5
	threshold1   = 1.0
)

// CellOutcome records what happened to one grid cell in one swath.
type CellOutcome int

const (
	// CellEmpty means no footprints fell in the cell; snapshots stay Missing.
	CellEmpty CellOutcome = iota
	// CellUnknownSurface means footprints fell in the cell but none carried a
	// valid surface type; the cell is emitted but not accumulated.
	CellUnknownSurface
	// CellGridded means the cell was classified and accumulated.
	CellGridded
)

// Cell is one populated grid cell of a swath. Tally holds the cell's
// footprint counts, added to the accumulators only for CellGridded.
type Cell struct {
	I       int
	J       int
	Outcome CellOutcome
	Tally   Tally
}

// SwathResult is the gridded snapshot of one swath.
type SwathResult struct {
	SwathID string
	Region  Region

	// Time is the midpoint between Start and End, the earliest and latest
	// scan times of the gridded footprints.
	Time  time.Time
	Start time.Time
	End   time.Time

	// Snapshot arrays, (rows x cols), Missing where not set.
	Precip      *mat.Dense
	SurfaceFlag *mat.Dense
	ARFlag      *mat.Dense

	// Cells lists the populated cells in row-major order.
	Cells []Cell

	Footprints   int // footprints inside the region bounding box
	GriddedCells int
	UnknownCells int
	ARCells      int
	NoARCells    int

	ProcessedAt time.Time
}

// SwathSummary is the scalar part of a SwathResult.
type SwathSummary struct {
	SwathID      string
	Time         time.Time
	Footprints   int
	GriddedCells int
	UnknownCells int
	ARCells      int
	NoARCells    int
}

// Summary drops the snapshot arrays.
func (r SwathResult) Summary() SwathSummary {
	return SwathSummary{
		SwathID:      r.SwathID,
		Time:         r.Time,
		Footprints:   r.Footprints,
		GriddedCells: r.GriddedCells,
		UnknownCells: r.UnknownCells,
		ARCells:      r.ARCells,
		NoARCells:    r.NoARCells,
	}
}

// Engine grids swaths for one region against one AR reference.
type Engine struct {
	grid *Grid
	ref  ARReference
}

// NewEngine checks that the reference grids match the region grid.
func NewEngine(g *Grid, ref ARReference) (*Engine, error) {
	if ref == nil {
		return nil, ErrEmptyReferenceData
	}
	if rows, cols := ref.Dims(); rows != g.Rows() || cols != g.Cols() {
		return nil, fmt.Errorf("%w: reference is %dx%d, %s grid is %dx%d",
			ErrReferenceShape, rows, cols, g.Region, g.Rows(), g.Cols())
	}
	return &Engine{grid: g, ref: ref}, nil
}

// Grid returns the engine's region grid.
func (e *Engine) Grid() *Grid { return e.grid }

// GridSwath grids a swath and adds its counts to acc. On any error acc is
// left untouched; ErrNoRegionOverlap means no footprint landed in a grid cell.
func (e *Engine) GridSwath(s Swath, acc *Accumulators) (SwathResult, error) {
	if err := e.checkAccumulators(acc); err != nil {
		return SwathResult{}, err
	}
	res, err := e.Snapshot(s)
	if err != nil {
		return SwathResult{}, err
	}
	if err := res.Accumulate(acc); err != nil {
		return SwathResult{}, err
	}
	return res, nil
}

func (e *Engine) checkAccumulators(acc *Accumulators) error {
	if acc == nil {
		return fmt.Errorf("grid swath %s: %w", e.grid.Region, ErrNilAccumulators)
	}
	if acc.Region != e.grid.Region {
		return fmt.Errorf("grid swath %s: accumulators are for region %s", e.grid.Region, acc.Region)
	}
	return nil
}

// Snapshot bins a swath onto the grid and fills the swath snapshot without
// accumulating. Pass the result to Accumulate once it is safe to count.
func (e *Engine) Snapshot(s Swath) (SwathResult, error) {
	if err := s.Validate(); err != nil {
		return SwathResult{}, err
	}

	inRegion := FilterSwath(e.grid.Bounds, s.Lat, s.Lon)
	if len(inRegion) == 0 {
		return SwathResult{}, ErrNoRegionOverlap
	}

	cells, order := e.bin(s, inRegion)
	if len(order) == 0 {
		return SwathResult{}, ErrNoRegionOverlap
	}

	rows, cols := e.grid.Rows(), e.grid.Cols()
	res := SwathResult{
		SwathID:     s.ID,
		Region:      e.grid.Region,
		Precip:      newSnapshot(rows, cols),
		SurfaceFlag: newSnapshot(rows, cols),
		ARFlag:      newSnapshot(rows, cols),
		Cells:       make([]Cell, 0, len(order)),
		Footprints:  len(inRegion),
	}
	res.Start = s.Time(cells[order[0]][0])
	res.End = res.Start

	for _, key := range order {
		i, j := key/cols, key%cols
		fps := make([]Footprint, len(cells[key]))
		for n, k := range cells[key] {
			fps[n] = s.Footprint(k)
		}

		outcome, tally, err := e.gridCell(fps, i, j, &res)
		if err != nil {
			return SwathResult{}, fmt.Errorf("grid cell (%d, %d): %w", i, j, err)
		}
		res.Cells = append(res.Cells, Cell{I: i, J: j, Outcome: outcome, Tally: tally})
		if outcome == CellUnknownSurface {
			res.UnknownCells++
		} else {
			res.GriddedCells++
		}

		for _, fp := range fps {
			if fp.Time.Before(res.Start) {
				res.Start = fp.Time
			}
			if fp.Time.After(res.End) {
				res.End = fp.Time
			}
		}
	}

	res.Time = res.Start.Add(res.End.Sub(res.Start) / 2)
	res.ProcessedAt = clock.Now()
	return res, nil
}

// bin assigns footprints to cells in one pass. It returns the member
// footprint indices per cell key (i*cols + j), in swath order, and the
// populated cell keys in row-major order.
func (e *Engine) bin(s Swath, inRegion []int) (map[int][]int, []int) {
	cols := e.grid.Cols()
	cells := make(map[int][]int)
	for _, k := range inRegion {
		i, j, ok := e.grid.CellIndex(s.Lat[k], s.Lon[k])
		if !ok {
			continue
		}
		key := i*cols + j
		cells[key] = append(cells[key], k)
	}

	order := make([]int, 0, len(cells))
	for key := range cells {
		order = append(order, key)
	}
	slices.Sort(order)
	return cells, order
}

// gridCell fills the snapshot entries of cell (i, j) from its non-empty
// footprint set.
func (e *Engine) gridCell(fps []Footprint, i, j int, res *SwathResult) (CellOutcome, Tally, error) {
	mean, tally := cellStats(fps)
	res.Precip.Set(i, j, mean)

	codes := make([]int, 0, len(fps))
	for _, fp := range fps {
		if !fp.Masked {
			codes = append(codes, fp.SurfaceType)
		}
	}
	sfc := ClassifySurface(codes)
	res.SurfaceFlag.Set(i, j, float64(sfc))

	ar, err := MatchAR(e.ref, fps[0].Time, sfc, i, j)
	if err != nil {
		return CellEmpty, Tally{}, err
	}
	res.ARFlag.Set(i, j, ar)

	if !sfc.Valid() {
		return CellUnknownSurface, tally, nil
	}
	switch ar {
	case ARPresent:
		res.ARCells++
	case ARAbsent:
		res.NoARCells++
	}
	return CellGridded, tally, nil
}

// Accumulate adds the counts of the result's gridded cells to acc: every
// gridded cell to the total family, and to AR or no-AR by its AR flag. acc
// is checked before any count is added.
func (r SwathResult) Accumulate(acc *Accumulators) error {
	if acc == nil {
		return fmt.Errorf("accumulate swath %s: %w", r.SwathID, ErrNilAccumulators)
	}
	if acc.Region != r.Region {
		return fmt.Errorf("accumulate swath %s: accumulators are for region %s, swath is %s", r.SwathID, acc.Region, r.Region)
	}
	for _, c := range r.Cells {
		if c.Outcome != CellGridded {
			continue
		}
		acc.Total.add(c.I, c.J, c.Tally)
		switch r.ARFlag.At(c.I, c.J) {
		case ARPresent:
			acc.AR.add(c.I, c.J, c.Tally)
		case ARAbsent:
			acc.NoAR.add(c.I, c.J, c.Tally)
		}
	}
	return nil
}

// cellStats computes the conditional mean (over rates >= PrecipMin) and the
// threshold counts over the cell's valid footprints. The mean is Missing when
// no rate qualifies.
func cellStats(fps []Footprint) (float64, Tally) {
	var t Tally
	var qualifying []float64
	for _, fp := range fps {
		if !fp.ValidPrecip() {
			continue
		}
		p := fp.Precip
		t.Footprints++
		if p > 0 {
			t.Above0++
		}
		if p >= threshold0p1 {
			t.Above0p1++
		}
		if p >= threshold0p5 {
			t.Above0p5++
		}
		if p >= threshold1 {
			t.Above1++
		}
		if p >= PrecipMin {
			qualifying = append(qualifying, p)
		}
	}

	if len(qualifying) == 0 {
		return Missing, t
	}
	return stat.Mean(qualifying, nil), t
}

func newSnapshot(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for k := range data {
		data[k] = Missing
	}
	return mat.NewDense(rows, cols, data)
}
