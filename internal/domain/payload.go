package domain

import (
	"fmt"
	"time"
)

// CellSnapshot is one populated cell of a swath snapshot. Lat and Lon are the
// cell's lower-left edges.
type CellSnapshot struct {
	I           int     `json:"i"`
	J           int     `json:"j"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Precip      float64 `json:"precip"`
	SurfaceFlag int     `json:"surface_flag"`
	ARFlag      int     `json:"ar_flag"`
}

// SwathSnapshot is the sparse wire form of a SwathResult. Cells absent from
// the list hold Missing in all three snapshot arrays.
type SwathSnapshot struct {
	SwathID      string         `json:"swath_id"`
	Region       Region         `json:"region"`
	Time         time.Time      `json:"time"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	Rows         int            `json:"rows"`
	Cols         int            `json:"cols"`
	Footprints   int            `json:"footprints"`
	GriddedCells int            `json:"gridded_cells"`
	UnknownCells int            `json:"unknown_cells"`
	ARCells      int            `json:"ar_cells"`
	NoARCells    int            `json:"no_ar_cells"`
	Cells        []CellSnapshot `json:"cells"`
	ProcessedAt  time.Time      `json:"processed_at"`
}

// NewSwathSnapshot builds the wire form of a result on grid g.
func NewSwathSnapshot(g *Grid, res SwathResult) SwathSnapshot {
	snap := SwathSnapshot{
		SwathID:      res.SwathID,
		Region:       res.Region,
		Time:         res.Time,
		Start:        res.Start,
		End:          res.End,
		Rows:         g.Rows(),
		Cols:         g.Cols(),
		Footprints:   res.Footprints,
		GriddedCells: res.GriddedCells,
		UnknownCells: res.UnknownCells,
		ARCells:      res.ARCells,
		NoARCells:    res.NoARCells,
		Cells:        make([]CellSnapshot, 0, len(res.Cells)),
		ProcessedAt:  res.ProcessedAt,
	}
	for _, c := range res.Cells {
		snap.Cells = append(snap.Cells, CellSnapshot{
			I:           c.I,
			J:           c.J,
			Lat:         g.Lats[c.I],
			Lon:         g.Lons[c.J],
			Precip:      res.Precip.At(c.I, c.J),
			SurfaceFlag: int(res.SurfaceFlag.At(c.I, c.J)),
			ARFlag:      int(res.ARFlag.At(c.I, c.J)),
		})
	}
	return snap
}

// CellCounts is one cell's footprint and threshold counts for a family.
type CellCounts struct {
	Footprints float64 `json:"footprints"`
	Above0     float64 `json:"precip_gt_0"`
	Above0p1   float64 `json:"precip_ge_0p1"`
	Above0p5   float64 `json:"precip_ge_0p5"`
	Above1     float64 `json:"precip_ge_1"`
}

// CellAccumulators is one cell of an AccumulatorReport.
type CellAccumulators struct {
	I     int        `json:"i"`
	J     int        `json:"j"`
	Total CellCounts `json:"total"`
	AR    CellCounts `json:"ar"`
	NoAR  CellCounts `json:"no_ar"`
}

// AccumulatorReport is the sparse wire form of a run's accumulators. Cells
// with no counted footprints are omitted.
type AccumulatorReport struct {
	RunID       string             `json:"run_id"`
	Region      Region             `json:"region"`
	Rows        int                `json:"rows"`
	Cols        int                `json:"cols"`
	Swaths      int                `json:"swaths"`
	Sums        map[string]float64 `json:"sums"`
	Cells       []CellAccumulators `json:"cells"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// RunSummary reports the grand totals of a run's accumulators.
type RunSummary struct {
	RunID     string             `json:"run_id"`
	Region    Region             `json:"region"`
	Swaths    int                `json:"swaths"`
	Sums      map[string]float64 `json:"sums"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewAccumulatorReport builds the wire form of acc.
func NewAccumulatorReport(runID string, swaths int, acc *Accumulators) AccumulatorReport {
	rows, cols := acc.Dims()
	rep := AccumulatorReport{
		RunID:       runID,
		Region:      acc.Region,
		Rows:        rows,
		Cols:        cols,
		Swaths:      swaths,
		Sums:        acc.Sums(),
		GeneratedAt: clock.Now(),
	}
	for i := range rows {
		for j := range cols {
			if acc.Total.Footprints.At(i, j) == 0 {
				continue
			}
			rep.Cells = append(rep.Cells, CellAccumulators{
				I:     i,
				J:     j,
				Total: cellCounts(acc.Total, i, j),
				AR:    cellCounts(acc.AR, i, j),
				NoAR:  cellCounts(acc.NoAR, i, j),
			})
		}
	}
	return rep
}

func cellCounts(c Counts, i, j int) CellCounts {
	return CellCounts{
		Footprints: c.Footprints.At(i, j),
		Above0:     c.Above0.At(i, j),
		Above0p1:   c.Above0p1.At(i, j),
		Above0p5:   c.Above0p5.At(i, j),
		Above1:     c.Above1.At(i, j),
	}
}

// SerializeSwathSnapshot encodes a snapshot into a sink message keyed by
// region and swath ID.
func SerializeSwathSnapshot(f Format, snap SwathSnapshot) (OutputMessage, error) {
	data, err := Encode(f, snap)
	if err != nil {
		return OutputMessage{}, fmt.Errorf("serialize swath snapshot: %w", err)
	}
	return OutputMessage{
		Key:   []byte(string(snap.Region) + "/" + snap.SwathID),
		Value: data,
		Headers: map[string]string{
			HeaderRecordType:  RecordSwath,
			HeaderRegion:      string(snap.Region),
			HeaderContentType: f.ContentType(),
			HeaderProcessedAt: snap.ProcessedAt.Format(time.RFC3339),
		},
	}, nil
}

// SerializeAccumulatorReport encodes a report into a sink message keyed by
// region and run ID.
func SerializeAccumulatorReport(f Format, rep AccumulatorReport) (OutputMessage, error) {
	data, err := Encode(f, rep)
	if err != nil {
		return OutputMessage{}, fmt.Errorf("serialize accumulator report: %w", err)
	}
	return OutputMessage{
		Key:   []byte(string(rep.Region) + "/" + rep.RunID),
		Value: data,
		Headers: map[string]string{
			HeaderRecordType:  RecordAccumulators,
			HeaderRegion:      string(rep.Region),
			HeaderContentType: f.ContentType(),
			HeaderProcessedAt: rep.GeneratedAt.Format(time.RFC3339),
		},
	}, nil
}
