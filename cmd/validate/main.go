// Command validate grids a swath fixture against an AR reference file and
// checks the gridding invariants: snapshot sentinels, surface and AR flag
// consistency, swath midpoint bounds, threshold-count ordering and
// accumulator monotonicity.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -region pacific \
//	  -ref data/mock/ar_reference_pacific.json \
//	  -swaths data/mock/swaths_pacific.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/gprof-ar-grid/internal/adapter/arref"
	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxErrorsPerPhase caps the detail printed for one phase.
const maxErrorsPerPhase = 25

func main() {
	region := flag.String("region", "atlantic", "region: atlantic or pacific")
	refPath := flag.String("ref", "", "path to AR reference (.json or .msgpack)")
	swathsPath := flag.String("swaths", "", "path to swath records JSON fixture")
	flag.Parse()

	if *refPath == "" || *swathsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*region, *refPath, *swathsPath); code != 0 {
		os.Exit(code)
	}
}

func run(regionName, refPath, swathsPath string) int {
	// Fixed clock matching genmock for reproducible snapshots.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2019, time.January, 20, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	fmt.Println("=== Gridding Invariant Validation ===")
	fmt.Println()

	region, err := domain.ParseRegion(regionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	grid, err := domain.NewGrid(region)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: build grid: %v\n", err)
		return 1
	}

	ref, err := arref.LoadFile(refPath, region)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load AR reference: %v\n", err)
		return 1
	}

	records, err := loadJSON[domain.SwathRecord](swathsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load swaths: %v\n", err)
		return 1
	}

	engine, err := domain.NewEngine(grid, ref)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: build engine: %v\n", err)
		return 1
	}

	refPhase := validateReference(ref)
	swaths, swathPhase := validateSwaths(records)
	results, acc, snapPhase, accPhase := gridAll(engine, grid, swaths)

	phases := []*phase{refPhase, swathPhase, snapPhase, accPhase}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d swaths, %d gridded, %d AR timesteps\n", len(records), results, ref.Len())
	sums := acc.Sums()
	fmt.Printf("Footprints: total=%g ar=%g no_ar=%g\n",
		sums["total/footprints"], sums["ar/footprints"], sums["no_ar/footprints"])

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors[:min(len(p.errors), maxErrorsPerPhase)] {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
		if len(p.errors) > maxErrorsPerPhase {
			fmt.Printf("  ... %d more\n", len(p.errors)-maxErrorsPerPhase)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ── Phases ──

func validateReference(ref *domain.ReferenceDataset) *phase {
	p := &phase{name: "AR reference ordering"}
	dates := ref.Dates()
	for k := 1; k < len(dates); k++ {
		if !dates[k].After(dates[k-1]) {
			p.errorf("timestep %d (%s) does not follow %s", k, dates[k].Format(time.RFC3339), dates[k-1].Format(time.RFC3339))
		}
	}
	return p
}

func validateSwaths(records []domain.SwathRecord) ([]domain.Swath, *phase) {
	p := &phase{name: "Swath array shapes"}
	swaths := make([]domain.Swath, 0, len(records))
	for n, rec := range records {
		s, err := rec.Swath()
		if err != nil {
			p.errorf("record %d (%s): %v", n, rec.ID, err)
			continue
		}
		swaths = append(swaths, s)
	}
	return swaths, p
}

// gridAll grids every swath into one accumulator set, checking each snapshot
// and the accumulators after every swath.
func gridAll(engine *domain.Engine, g *domain.Grid, swaths []domain.Swath) (int, *domain.Accumulators, *phase, *phase) {
	snap := &phase{name: "Swath snapshot invariants"}
	accum := &phase{name: "Accumulator invariants"}

	acc := domain.NewAccumulators(g)
	prev := acc.Clone()
	gridded := 0

	for _, s := range swaths {
		res, err := engine.GridSwath(s, acc)
		if errors.Is(err, domain.ErrNoRegionOverlap) {
			continue
		}
		if err != nil {
			snap.errorf("%s: %v", s.ID, err)
			continue
		}
		gridded++

		checkSnapshot(snap, g, res)
		checkThresholdOrdering(accum, s.ID, acc)
		checkMonotonic(accum, s.ID, prev, acc)
		prev = acc.Clone()
	}
	return gridded, acc, snap, accum
}

func checkSnapshot(p *phase, g *domain.Grid, res domain.SwathResult) {
	if res.Time.Before(res.Start) || res.Time.After(res.End) {
		p.errorf("%s: midpoint %s outside [%s, %s]", res.SwathID,
			res.Time.Format(time.RFC3339), res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339))
	}

	populated := make(map[[2]int]bool, len(res.Cells))
	for _, c := range res.Cells {
		populated[[2]int{c.I, c.J}] = true

		sfc := domain.SurfaceFlag(res.SurfaceFlag.At(c.I, c.J))
		ar := res.ARFlag.At(c.I, c.J)
		switch {
		case sfc != domain.SurfaceOcean && sfc != domain.SurfaceLand && sfc != domain.SurfaceMixed && sfc != domain.SurfaceUnknown:
			p.errorf("%s (%d,%d): surface flag %d out of range", res.SwathID, c.I, c.J, sfc)
		case !sfc.Valid() && ar != domain.Missing:
			p.errorf("%s (%d,%d): unknown surface with AR flag %g", res.SwathID, c.I, c.J, ar)
		case sfc.Valid() && ar != domain.ARAbsent && ar != domain.ARPresent:
			p.errorf("%s (%d,%d): AR flag %g for %s surface", res.SwathID, c.I, c.J, ar, sfc)
		}
		if v := res.Precip.At(c.I, c.J); v != domain.Missing && v < domain.PrecipMin {
			p.errorf("%s (%d,%d): mean precip %g below %g", res.SwathID, c.I, c.J, v, domain.PrecipMin)
		}
	}

	for i := range g.Rows() {
		for j := range g.Cols() {
			if populated[[2]int{i, j}] {
				continue
			}
			if res.Precip.At(i, j) != domain.Missing || res.SurfaceFlag.At(i, j) != domain.Missing || res.ARFlag.At(i, j) != domain.Missing {
				p.errorf("%s (%d,%d): empty cell is not at sentinel", res.SwathID, i, j)
			}
		}
	}
}

func checkThresholdOrdering(p *phase, swathID string, acc *domain.Accumulators) {
	rows, cols := acc.Dims()
	for family, c := range acc.Families() {
		for i := range rows {
			for j := range cols {
				n, gt0 := c.Footprints.At(i, j), c.Above0.At(i, j)
				ge01, ge05, ge1 := c.Above0p1.At(i, j), c.Above0p5.At(i, j), c.Above1.At(i, j)
				if !(ge1 <= ge05 && ge05 <= ge01 && ge01 <= gt0 && gt0 <= n) {
					p.errorf("after %s: %s (%d,%d) counts out of order: %g %g %g %g %g",
						swathID, family, i, j, ge1, ge05, ge01, gt0, n)
				}
			}
		}
	}

	// Flags are 0/1 so every accumulated footprint lands in exactly one of AR or no-AR.
	var split mat.Dense
	split.Add(acc.AR.Footprints, acc.NoAR.Footprints)
	if !mat.Equal(&split, acc.Total.Footprints) {
		p.errorf("after %s: AR + no-AR footprints differ from total", swathID)
	}
}

func checkMonotonic(p *phase, swathID string, prev, acc *domain.Accumulators) {
	rows, cols := acc.Dims()
	for family, c := range acc.Families() {
		before := prev.Families()[family].Arrays()
		for k, arr := range c.Arrays() {
			for i := range rows {
				for j := range cols {
					if arr.Data.At(i, j) < before[k].Data.At(i, j) {
						p.errorf("after %s: %s/%s (%d,%d) decreased", swathID, family, arr.Name, i, j)
					}
				}
			}
		}
	}
}
