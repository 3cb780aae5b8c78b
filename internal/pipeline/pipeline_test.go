package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
	"github.com/couchcryptid/gprof-ar-grid/internal/observability"
	"github.com/couchcryptid/gprof-ar-grid/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	batch  []domain.RawMessage
	served atomic.Bool
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawMessage, error) {
	if len(m.batch) > 0 && m.served.CompareAndSwap(false, true) {
		return m.batch, nil
	}
	// block until context cancelled to simulate waiting for messages
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockLoader struct {
	loaded []domain.OutputMessage
	calls  int
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, msgs []domain.OutputMessage) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, msgs...)
	return nil
}

func (m *mockLoader) byRecordType(recordType string) []domain.OutputMessage {
	var out []domain.OutputMessage
	for _, msg := range m.loaded {
		if msg.Headers[domain.HeaderRecordType] == recordType {
			out = append(out, msg)
		}
	}
	return out
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// --- fixtures ---

var scanStart = time.Date(2024, time.February, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	grid   *domain.Grid
	engine *domain.Engine
}

// newFixture builds an Atlantic engine whose single reference timestep flags
// cell (20, 159) as AR.
func newFixture(t *testing.T) fixture {
	t.Helper()
	g, err := domain.NewGrid(domain.RegionAtlantic)
	require.NoError(t, err)

	flags := mat.NewDense(g.Rows(), g.Cols(), nil)
	flags.Set(20, 159, domain.ARPresent)
	ref, err := domain.NewReferenceDataset([]time.Time{scanStart}, []*mat.Dense{flags})
	require.NoError(t, err)

	e, err := domain.NewEngine(g, ref)
	require.NoError(t, err)
	return fixture{grid: g, engine: e}
}

func (f fixture) newPipeline(ext pipeline.BatchExtractor, ldr pipeline.BatchLoader, metrics *observability.Metrics, workers int) *pipeline.Pipeline {
	tfm := pipeline.NewTransformer(f.engine, domain.FormatJSON)
	return pipeline.New(ext, tfm, ldr, f.grid, slog.Default(), metrics, pipeline.Options{
		BatchSize: 50,
		Workers:   workers,
	})
}

func makeRawSwath(t *testing.T, id string, lat, lon []float64) domain.RawMessage {
	t.Helper()
	precip := make([]float64, len(lat))
	for k := range precip {
		precip[k] = 0.2 * float64(k+1)
	}
	return makeRawSwathWithPrecip(t, id, lat, lon, precip)
}

func makeRawSwathWithPrecip(t *testing.T, id string, lat, lon, precip []float64) domain.RawMessage {
	t.Helper()
	n := len(lat)
	rec := domain.SwathRecord{ID: id, Lat: lat, Lon: lon, Precip: precip}
	for k := range n {
		at := scanStart.Add(time.Duration(k) * time.Minute)
		rec.SurfaceType = append(rec.SurfaceType, 1+k%4)
		rec.Year = append(rec.Year, at.Year())
		rec.Month = append(rec.Month, int(at.Month()))
		rec.Day = append(rec.Day, at.Day())
		rec.Hour = append(rec.Hour, at.Hour())
		rec.Minute = append(rec.Minute, at.Minute())
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return domain.RawMessage{Key: []byte(id), Value: data, Topic: "gprof-swaths"}
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	f := newFixture(t)
	raw := makeRawSwath(t, "gmi-1", []float64{50.1, 50.2}, []float64{-30.1, -30.2})

	ldr := &mockLoader{}
	metrics := newTestMetrics()
	p := f.newPipeline(&mockExtractor{batch: []domain.RawMessage{raw}}, ldr, metrics, 2)

	runFor(t, p, 500*time.Millisecond)

	snapshots := ldr.byRecordType(domain.RecordSwath)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "atlantic/gmi-1", string(snapshots[0].Key))

	var snap domain.SwathSnapshot
	require.NoError(t, json.Unmarshal(snapshots[0].Value, &snap))
	require.Len(t, snap.Cells, 1)
	assert.Equal(t, domain.ARPresent, snap.Cells[0].ARFlag)

	require.NoError(t, p.CheckReadiness(context.Background()))

	summary := p.Summary()
	assert.Equal(t, p.RunID(), summary.RunID)
	assert.Equal(t, 1, summary.Swaths)
	assert.Equal(t, 2.0, summary.Sums["total/footprints"])
	assert.Equal(t, 2.0, summary.Sums["ar/footprints"])

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SwathsConsumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SwathsGridded))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ARCells.WithLabelValues("present")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MessagesProduced), "snapshot and report")
}

func TestPipeline_Run_PublishesReportOnShutdown(t *testing.T) {
	f := newFixture(t)
	raw := makeRawSwath(t, "gmi-1", []float64{50.1, 60.1}, []float64{-30.1, 0.1})

	ldr := &mockLoader{}
	p := f.newPipeline(&mockExtractor{batch: []domain.RawMessage{raw}}, ldr, newTestMetrics(), 1)

	runFor(t, p, 500*time.Millisecond)

	reports := ldr.byRecordType(domain.RecordAccumulators)
	require.Len(t, reports, 1)
	assert.Equal(t, "atlantic/"+p.RunID(), string(reports[0].Key))
	assert.Equal(t, ldr.loaded[len(ldr.loaded)-1].Key, reports[0].Key, "report is the last message")

	var rep domain.AccumulatorReport
	require.NoError(t, json.Unmarshal(reports[0].Value, &rep))
	assert.Equal(t, p.RunID(), rep.RunID)
	assert.Equal(t, 1, rep.Swaths)
	assert.Len(t, rep.Cells, 2)
	assert.Equal(t, 1.0, rep.Sums["no_ar/footprints"])
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	f := newFixture(t)
	ldr := &mockLoader{}
	p := f.newPipeline(&mockExtractor{}, ldr, newTestMetrics(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
	assert.Zero(t, ldr.calls, "no report without gridded swaths")
}

func TestPipeline_Run_DecodeError(t *testing.T) {
	f := newFixture(t)
	committed := false
	raw := domain.RawMessage{
		Value:  []byte("not-json{{{"),
		Commit: func(context.Context) error { committed = true; return nil },
	}

	ldr := &mockLoader{}
	metrics := newTestMetrics()
	p := f.newPipeline(&mockExtractor{batch: []domain.RawMessage{raw}}, ldr, metrics, 1)

	runFor(t, p, 500*time.Millisecond)

	assert.Empty(t, ldr.loaded)
	assert.True(t, committed, "poison message is committed")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecodeErrors))
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_NoRegionOverlapSkipped(t *testing.T) {
	f := newFixture(t)
	committed := false
	raw := makeRawSwath(t, "tropics", []float64{10, 12}, []float64{-30, -31})
	raw.Commit = func(context.Context) error { committed = true; return nil }

	ldr := &mockLoader{}
	metrics := newTestMetrics()
	p := f.newPipeline(&mockExtractor{batch: []domain.RawMessage{raw}}, ldr, metrics, 1)

	runFor(t, p, 500*time.Millisecond)

	assert.Empty(t, ldr.loaded)
	assert.True(t, committed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SwathsSkipped))
	assert.Zero(t, testutil.ToFloat64(metrics.DecodeErrors))
	assert.Equal(t, 0, p.Summary().Swaths)
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	f := newFixture(t)
	var order []string

	raw := makeRawSwath(t, "gmi-5", []float64{50.1}, []float64{-30.1})
	raw.Commit = func(context.Context) error {
		order = append(order, "commit")
		return nil
	}

	ldr := &orderingLoader{order: &order}
	p := f.newPipeline(&mockExtractor{batch: []domain.RawMessage{raw}}, ldr, newTestMetrics(), 1)

	runFor(t, p, 500*time.Millisecond)
	assert.Equal(t, []string{"load", "commit", "load"}, order, "snapshot load, commit, then report load")
}

type orderingLoader struct {
	order *[]string
}

func (l *orderingLoader) LoadBatch(context.Context, []domain.OutputMessage) error {
	*l.order = append(*l.order, "load")
	return nil
}

func TestPipeline_Run_LoadErrorDiscardsDeltas(t *testing.T) {
	f := newFixture(t)
	committed := false
	raw := makeRawSwath(t, "gmi-6", []float64{50.1}, []float64{-30.1})
	raw.Commit = func(context.Context) error { committed = true; return nil }

	ldr := &mockLoader{err: errors.New("broker down")}
	p := f.newPipeline(&mockExtractor{batch: []domain.RawMessage{raw}}, ldr, newTestMetrics(), 1)

	runFor(t, p, 500*time.Millisecond)

	assert.False(t, committed, "offsets are not committed when the load fails")
	assert.Equal(t, 0, p.Summary().Swaths)
	assert.Zero(t, p.Summary().Sums["total/footprints"])
	assert.Error(t, p.CheckReadiness(context.Background()))
}

// overflowSwath grids fine but its cell mean overflows to +Inf, so the JSON
// snapshot cannot be encoded.
func overflowSwath(t *testing.T) domain.RawMessage {
	t.Helper()
	return makeRawSwathWithPrecip(t, "gmi-overflow",
		[]float64{50.1, 50.1}, []float64{-30.1, -30.1}, []float64{1.7e308, 1.7e308})
}

func TestPipeline_Run_FailedSwathContributesNothing(t *testing.T) {
	f := newFixture(t)
	committed := false
	bad := overflowSwath(t)
	bad.Commit = func(context.Context) error { committed = true; return nil }
	good := makeRawSwath(t, "gmi-good", []float64{50.1}, []float64{-30.1})

	// One worker grids both swaths into the same delta.
	ldr := &mockLoader{}
	metrics := newTestMetrics()
	p := f.newPipeline(&mockExtractor{batch: []domain.RawMessage{bad, good}}, ldr, metrics, 1)

	runFor(t, p, 500*time.Millisecond)

	snapshots := ldr.byRecordType(domain.RecordSwath)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "atlantic/gmi-good", string(snapshots[0].Key))
	assert.True(t, committed, "failed swath is committed and skipped")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecodeErrors))

	totals, swaths := p.Totals()
	assert.Equal(t, 1, swaths)
	assert.Equal(t, 1.0, totals.Sums()["total/footprints"])
	assert.Equal(t, 1.0, totals.AR.Footprints.At(20, 159))

	reports := ldr.byRecordType(domain.RecordAccumulators)
	require.Len(t, reports, 1)
	var rep domain.AccumulatorReport
	require.NoError(t, json.Unmarshal(reports[0].Value, &rep))
	assert.Equal(t, 1.0, rep.Sums["total/footprints"])
}

func TestPipeline_Summary_UsesDomainClock(t *testing.T) {
	fixed := time.Date(2024, time.March, 1, 8, 30, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { domain.SetClock(nil) })

	f := newFixture(t)
	raw := makeRawSwath(t, "gmi-1", []float64{50.1}, []float64{-30.1})
	p := f.newPipeline(&mockExtractor{batch: []domain.RawMessage{raw}}, &mockLoader{}, newTestMetrics(), 1)

	runFor(t, p, 500*time.Millisecond)
	assert.Equal(t, fixed, p.Summary().UpdatedAt)
}

func TestPipeline_ParallelMatchesSequential(t *testing.T) {
	f := newFixture(t)

	batch := make([]domain.RawMessage, 0, 17)
	for n := range 17 {
		lat := []float64{45.1 + float64(n)*0.9, 50.1, 60 + float64(n)*0.25}
		lon := []float64{-60 + float64(n)*3, -30.1, 5 - float64(n)}
		batch = append(batch, makeRawSwath(t, fmt.Sprintf("gmi-%02d", n), lat, lon))
	}

	sequential := f.newPipeline(&mockExtractor{batch: batch}, &mockLoader{}, newTestMetrics(), 1)
	parallel := f.newPipeline(&mockExtractor{batch: batch}, &mockLoader{}, newTestMetrics(), 4)

	runFor(t, sequential, 500*time.Millisecond)
	runFor(t, parallel, 500*time.Millisecond)

	want, wantSwaths := sequential.Totals()
	got, gotSwaths := parallel.Totals()
	assert.Equal(t, 17, wantSwaths)
	assert.Equal(t, wantSwaths, gotSwaths)
	if diff := cmp.Diff(want.Sums(), got.Sums()); diff != "" {
		t.Fatalf("sums mismatch (-sequential +parallel):\n%s", diff)
	}
	for family, c := range want.Families() {
		for k, arr := range c.Arrays() {
			other := got.Families()[family].Arrays()[k]
			assert.True(t, mat.Equal(arr.Data, other.Data), "%s/%s", family, arr.Name)
		}
	}
}

func TestSwathTransformer_Transform(t *testing.T) {
	f := newFixture(t)
	acc := domain.NewAccumulators(f.grid)

	tfm := pipeline.NewTransformer(f.engine, domain.FormatMsgpack)
	out, err := tfm.Transform(context.Background(), makeRawSwath(t, "gmi-9", []float64{50.1}, []float64{-30.1}), acc)
	require.NoError(t, err)

	assert.Equal(t, "atlantic/gmi-9", string(out.Message.Key))
	assert.Equal(t, "application/x-msgpack", out.Message.Headers[domain.HeaderContentType])
	assert.Equal(t, "gmi-9", out.Summary.SwathID)
	assert.Equal(t, 1, out.Summary.ARCells)
	assert.Equal(t, 1.0, acc.AR.Footprints.At(20, 159))

	var snap domain.SwathSnapshot
	require.NoError(t, domain.Decode(domain.FormatMsgpack, out.Message.Value, &snap))
	assert.Equal(t, "gmi-9", snap.SwathID)

	_, err = tfm.Transform(context.Background(), makeRawSwath(t, "far", []float64{0}, []float64{0}), acc)
	require.ErrorIs(t, err, domain.ErrNoRegionOverlap)
}

func TestSwathTransformer_Transform_FailureLeavesAccUntouched(t *testing.T) {
	f := newFixture(t)
	acc := domain.NewAccumulators(f.grid)

	tfm := pipeline.NewTransformer(f.engine, domain.FormatJSON)
	_, err := tfm.Transform(context.Background(), overflowSwath(t), acc)
	require.Error(t, err)

	for name, v := range acc.Sums() {
		assert.Zero(t, v, name)
	}
}
