// Command genmock generates a synthetic AR reference catalogue and synthetic
// GPROF swath records for one region. It grids the generated swaths with the
// actual domain engine and prints the accumulator totals, so fixtures and test
// assertions stay in step with real pipeline behaviour.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -region pacific \
//	  -ref-out data/mock/ar_reference_pacific.json \
//	  -swaths-out data/mock/swaths_pacific.json
//
// With -brokers set, the swaths are also published to -topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/gprof-ar-grid/internal/adapter/arref"
	kafkaadapter "github.com/couchcryptid/gprof-ar-grid/internal/adapter/kafka"
	"github.com/couchcryptid/gprof-ar-grid/internal/config"
	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
)

// arStep is the AR catalogue cadence.
const arStep = 6 * time.Hour

type options struct {
	region     domain.Region
	start      time.Time
	days       int
	swaths     int
	scans      int
	pixels     int
	seed       uint64
	format     domain.Format
	refOut     string
	swathsOut  string
	brokers    string
	topic      string
	printStats bool
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	region := flag.String("region", "atlantic", "region: atlantic or pacific")
	start := flag.String("start", "2019-01-15T00:00:00Z", "first AR timestep (RFC3339)")
	days := flag.Int("days", 2, "days covered by the AR catalogue")
	swaths := flag.Int("swaths", 8, "number of swaths to generate")
	scans := flag.Int("scans", 400, "scan lines per swath")
	pixels := flag.Int("pixels", 60, "footprints per scan line")
	seed := flag.Uint64("seed", 42, "random seed")
	format := flag.String("format", "json", "swath encoding: json or msgpack")
	refOut := flag.String("ref-out", "", "output path for the AR reference (.json or .msgpack)")
	swathsOut := flag.String("swaths-out", "", "output path for the swath records JSON fixture")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers to publish swaths to")
	topic := flag.String("topic", "gprof-swaths", "Kafka topic for published swaths")
	stats := flag.Bool("stats", true, "grid the swaths and print accumulator totals")
	flag.Parse()

	if *refOut == "" || *swathsOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -ref-out, -swaths-out")
	}

	opts := options{
		days: *days, swaths: *swaths, scans: *scans, pixels: *pixels, seed: *seed,
		refOut: *refOut, swathsOut: *swathsOut, brokers: *brokers, topic: *topic, printStats: *stats,
	}
	var err error
	if opts.region, err = domain.ParseRegion(*region); err != nil {
		return err
	}
	if opts.format, err = domain.ParseFormat(*format); err != nil {
		return err
	}
	if opts.start, err = time.Parse(time.RFC3339, *start); err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	opts.start = opts.start.UTC()

	grid, err := domain.NewGrid(opts.region)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))

	ref, err := syntheticReference(grid, opts.start, opts.days, rng)
	if err != nil {
		return err
	}
	if err := writeReference(opts.refOut, opts.region, ref); err != nil {
		return fmt.Errorf("writing AR reference: %w", err)
	}
	log.Printf("wrote AR reference: %s (%d timesteps)", opts.refOut, ref.Len())

	records := make([]domain.SwathRecord, opts.swaths)
	span := time.Duration(opts.days) * 24 * time.Hour
	for n := range records {
		at := opts.start.Add(time.Duration(rng.Int64N(int64(span))))
		records[n] = syntheticSwath(grid.Bounds, fmt.Sprintf("GMI.%s-%s-%02d", at.Format("20060102-S150405"), opts.region, n), at, opts.scans, opts.pixels, rng)
	}
	if err := writeJSON(opts.swathsOut, records); err != nil {
		return fmt.Errorf("writing swath fixture: %w", err)
	}
	log.Printf("wrote swath fixture: %s (%d swaths)", opts.swathsOut, len(records))

	if opts.brokers != "" {
		if err := publish(opts, records); err != nil {
			return fmt.Errorf("publishing swaths: %w", err)
		}
		log.Printf("published %d swaths to %s", len(records), opts.topic)
	}

	if opts.printStats {
		return printStats(grid, ref, records)
	}
	return nil
}

// syntheticReference flags an AR band that sweeps poleward across the grid,
// one row every timestep, about eight rows wide and a third of the columns long.
func syntheticReference(g *domain.Grid, start time.Time, days int, rng *rand.Rand) (*domain.ReferenceDataset, error) {
	steps := max(1, days*int(24*time.Hour/arStep))
	rows, cols := g.Rows(), g.Cols()

	dates := make([]time.Time, steps)
	flags := make([]*mat.Dense, steps)
	j0 := rng.IntN(cols)
	for k := range steps {
		dates[k] = start.Add(time.Duration(k) * arStep)
		flags[k] = mat.NewDense(rows, cols, nil)

		centre := k % rows
		for i := max(0, centre-4); i < min(rows, centre+4); i++ {
			for d := range cols / 3 {
				flags[k].Set(i, (j0+d+k)%cols, domain.ARPresent)
			}
		}
	}
	return domain.NewReferenceDataset(dates, flags)
}

// syntheticSwath lays a descending track across the region bounding box with
// pixels footprints per scan line, two seconds per scan.
func syntheticSwath(b domain.Bounds, id string, at time.Time, scans, pixels int, rng *rand.Rand) domain.SwathRecord {
	rec := domain.SwathRecord{ID: id}

	lonSpan := b.LonMax - b.LonMin
	if b.Wraps() {
		lonSpan += 360
	}
	lon0 := b.LonMin + rng.Float64()*lonSpan
	latStart := b.LatMax + 2
	dLat := (b.LatMax - b.LatMin + 4) / float64(scans)

	for s := range scans {
		scanTime := at.Add(time.Duration(s) * 2 * time.Second)
		lat := latStart - float64(s)*dLat
		for p := range pixels {
			lon := normalizeLon(lon0 + float64(s)*0.02 + float64(p-pixels/2)*0.12)
			rec.Lat = append(rec.Lat, lat+rng.NormFloat64()*0.02)
			rec.Lon = append(rec.Lon, lon)
			rec.Precip = append(rec.Precip, syntheticRate(rng))
			rec.SurfaceType = append(rec.SurfaceType, syntheticSurface(rng))
			rec.Year = append(rec.Year, scanTime.Year())
			rec.Month = append(rec.Month, int(scanTime.Month()))
			rec.Day = append(rec.Day, scanTime.Day())
			rec.Hour = append(rec.Hour, scanTime.Hour())
			rec.Minute = append(rec.Minute, scanTime.Minute())

			rec.QualityFlag = append(rec.QualityFlag, boolToFlag(rng.IntN(50) == 0))
			rec.L1CQualityFlag = append(rec.L1CQualityFlag, 0)
			rec.PixelStatus = append(rec.PixelStatus, boolToFlag(rng.IntN(200) == 0))
		}
	}
	return rec
}

// syntheticRate draws a GPROF-like rain rate: mostly dry, exponential tail,
// and the occasional -9999.9 fill value.
func syntheticRate(rng *rand.Rand) float64 {
	switch r := rng.Float64(); {
	case r < 0.01:
		return -9999.9
	case r < 0.6:
		return 0
	default:
		return math.Round(rng.ExpFloat64()*0.8*1000) / 1000
	}
}

func syntheticSurface(rng *rand.Rand) int {
	switch r := rng.Float64(); {
	case r < 0.02:
		return -99
	case r < 0.7:
		return 1
	case r < 0.75:
		return 2
	default:
		return 3 + rng.IntN(10)
	}
}

func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func boolToFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeReference(path string, r domain.Region, ref *domain.ReferenceDataset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := arref.Encode(f, arref.FormatForPath(path), arref.NewDocument(r, ref)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// publish reuses the sink writer pointed at the swath topic.
func publish(opts options, records []domain.SwathRecord) error {
	cfg := &config.Config{
		KafkaBrokers:   strings.Split(opts.brokers, ","),
		KafkaSinkTopic: opts.topic,
	}
	w := kafkaadapter.NewWriter(cfg, slog.Default())
	defer w.Close()

	msgs := make([]domain.OutputMessage, len(records))
	for n, rec := range records {
		data, err := domain.Encode(opts.format, rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.ID, err)
		}
		msgs[n] = domain.OutputMessage{
			Key:     []byte(rec.ID),
			Value:   data,
			Headers: map[string]string{domain.HeaderContentType: opts.format.ContentType()},
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return w.LoadBatch(ctx, msgs)
}

func printStats(g *domain.Grid, ref *domain.ReferenceDataset, records []domain.SwathRecord) error {
	// Fixed clock for reproducible ProcessedAt timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2019, time.January, 20, 0, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	engine, err := domain.NewEngine(g, ref)
	if err != nil {
		return err
	}
	acc := domain.NewAccumulators(g)

	var gridded, skipped, unknown, arCells int
	for _, rec := range records {
		s, err := rec.Swath()
		if err != nil {
			return fmt.Errorf("%s: %w", rec.ID, err)
		}
		res, err := engine.GridSwath(s, acc)
		if err != nil {
			skipped++
			continue
		}
		gridded++
		unknown += res.UnknownCells
		arCells += res.ARCells
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Swaths: gridded=%d, skipped=%d\n", gridded, skipped)
	fmt.Printf("Cells: ar=%d, unknown_surface=%d\n", arCells, unknown)

	sums := acc.Sums()
	keys := make([]string, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-22s %g\n", k, sums[k])
	}
	return nil
}
