package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
	"github.com/couchcryptid/gprof-ar-grid/internal/observability"
)

// reportTimeout bounds publishing the accumulator report after shutdown begins.
const reportTimeout = 10 * time.Second

// BatchExtractor reads up to batchSize raw swath messages from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawMessage, error)
}

// Transformer grids a raw swath message, adding its counts to acc.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawMessage, acc *domain.Accumulators) (Gridded, error)
}

// BatchLoader writes multiple output messages to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, msgs []domain.OutputMessage) error
}

// Options tunes the batch loop.
type Options struct {
	BatchSize    int
	Workers      int
	ReportFormat domain.Format
}

// Pipeline orchestrates the extract-grid-load loop. Each worker grids into
// its own accumulator delta; deltas are merged into the run totals only after
// the batch's snapshots are published.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	opts        Options
	runID       string

	deltas []*domain.Accumulators

	mu        sync.RWMutex
	totals    *domain.Accumulators
	swaths    int
	updatedAt time.Time
}

// New creates a Pipeline for grid g with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, g *domain.Grid, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ReportFormat == "" {
		opts.ReportFormat = domain.FormatJSON
	}
	deltas := make([]*domain.Accumulators, opts.Workers)
	for w := range deltas {
		deltas[w] = domain.NewAccumulators(g)
	}
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		opts:        opts,
		runID:       uuid.NewString(),
		deltas:      deltas,
		totals:      domain.NewAccumulators(g),
	}
}

// RunID identifies this run on the accumulator report.
func (p *Pipeline) RunID() string { return p.runID }

// CheckReadiness returns nil once the pipeline has published at least one
// gridded swath, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not gridded any swaths yet")
	}
	return nil
}

// Summary returns the current run totals.
func (p *Pipeline) Summary() domain.RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.RunSummary{
		RunID:     p.runID,
		Region:    p.totals.Region,
		Swaths:    p.swaths,
		Sums:      p.totals.Sums(),
		UpdatedAt: p.updatedAt,
	}
}

// Totals returns a copy of the run accumulators and the number of swaths in them.
func (p *Pipeline) Totals() (*domain.Accumulators, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totals.Clone(), p.swaths
}

// Run executes the batch loop until the context is cancelled, then publishes
// the accumulator report.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"run_id", p.runID,
		"region", p.totals.Region,
		"batch_size", p.opts.BatchSize,
		"workers", p.opts.Workers,
	)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return p.publishReport(ctx)
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return p.publishReport(ctx)
		}
	}
}

// processBatch runs one extract-grid-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.opts.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.SwathsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	*backoff = 200 * time.Millisecond

	loaded, ok := p.gridAndLoad(ctx, rawBatch, backoff, maxBackoff)
	if !ok {
		return false
	}

	if loaded > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

type outcome struct {
	gridded Gridded
	err     error
}

// gridAndLoad grids the batch in parallel, loads the snapshots, merges the
// worker deltas and commits offsets. Returns the number of loaded swaths and
// false if the pipeline should stop.
func (p *Pipeline) gridAndLoad(ctx context.Context, rawBatch []domain.RawMessage, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	results, err := p.gridBatch(ctx, rawBatch)
	if err != nil {
		p.resetDeltas()
		return 0, false
	}

	outBatch := make([]domain.OutputMessage, 0, len(rawBatch))
	summaries := make([]domain.SwathSummary, 0, len(rawBatch))
	successfulRaws := make([]domain.RawMessage, 0, len(rawBatch))

	for k, res := range results {
		raw := rawBatch[k]
		if res.err != nil {
			p.skip(ctx, raw, res.err)
			continue
		}
		outBatch = append(outBatch, res.gridded.Message)
		summaries = append(summaries, res.gridded.Summary)
		successfulRaws = append(successfulRaws, raw)
	}

	if len(outBatch) == 0 {
		p.resetDeltas()
		return 0, true
	}

	if err := p.loader.LoadBatch(ctx, outBatch); err != nil {
		p.logger.Error("load batch failed", "error", err, "batch_size", len(outBatch))
		p.resetDeltas()
		return 0, p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	p.metrics.MessagesProduced.Add(float64(len(outBatch)))
	if err := p.mergeDeltas(len(outBatch)); err != nil {
		p.logger.Error("merge accumulators failed", "error", err)
	}
	for _, s := range summaries {
		p.observe(s)
	}

	for _, raw := range successfulRaws {
		p.commitOffset(ctx, raw)
	}

	return len(outBatch), true
}

// gridBatch fans the batch out over the workers. Worker w handles messages
// w, w+Workers, ... so each delta has a single writer. Results keep batch order.
func (p *Pipeline) gridBatch(ctx context.Context, rawBatch []domain.RawMessage) ([]outcome, error) {
	results := make([]outcome, len(rawBatch))
	workers := min(p.opts.Workers, len(rawBatch))

	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		acc := p.deltas[w]
		g.Go(func() error {
			for k := w; k < len(rawBatch); k += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				out, err := p.transformer.Transform(gctx, rawBatch[k], acc)
				results[k] = outcome{gridded: out, err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// skip logs and commits a swath that produced no snapshot.
func (p *Pipeline) skip(ctx context.Context, raw domain.RawMessage, err error) {
	if errors.Is(err, domain.ErrNoRegionOverlap) {
		p.logger.Debug("swath does not overlap region, skipping",
			"key", string(raw.Key),
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.SwathsSkipped.Inc()
	} else {
		p.logger.Warn("grid swath failed, skipping message",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.metrics.DecodeErrors.Inc()
	}
	p.commitOffset(ctx, raw)
}

func (p *Pipeline) observe(s domain.SwathSummary) {
	p.metrics.SwathsGridded.Inc()
	p.metrics.FootprintsGridded.Add(float64(s.Footprints))
	p.metrics.PopulatedCells.Add(float64(s.GriddedCells + s.UnknownCells))
	p.metrics.UnknownSurfaceCells.Add(float64(s.UnknownCells))
	p.metrics.ARCells.WithLabelValues("present").Add(float64(s.ARCells))
	p.metrics.ARCells.WithLabelValues("absent").Add(float64(s.NoARCells))
	p.metrics.ARCells.WithLabelValues("unknown").Add(float64(s.UnknownCells))

	p.logger.Debug("swath gridded",
		"swath_id", s.SwathID,
		"time", s.Time,
		"footprints", s.Footprints,
		"cells", s.GriddedCells,
		"unknown_cells", s.UnknownCells,
		"ar_cells", s.ARCells,
	)
}

func (p *Pipeline) mergeDeltas(swaths int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, d := range p.deltas {
		if err := p.totals.Merge(d); err != nil {
			errs = append(errs, err)
		}
		d.Reset()
	}
	p.swaths += swaths
	p.updatedAt = domain.Now().UTC()
	return errors.Join(errs...)
}

func (p *Pipeline) resetDeltas() {
	for _, d := range p.deltas {
		d.Reset()
	}
}

// publishReport loads the run's accumulator report. It runs after the run
// context is cancelled, so it uses a detached context with its own deadline.
func (p *Pipeline) publishReport(ctx context.Context) error {
	p.mu.RLock()
	if p.swaths == 0 {
		p.mu.RUnlock()
		p.logger.Info("no swaths gridded, skipping accumulator report", "run_id", p.runID)
		return nil
	}
	rep := domain.NewAccumulatorReport(p.runID, p.swaths, p.totals)
	p.mu.RUnlock()

	msg, err := domain.SerializeAccumulatorReport(p.opts.ReportFormat, rep)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := p.loader.LoadBatch(ctx, []domain.OutputMessage{msg}); err != nil {
		return fmt.Errorf("publish accumulator report: %w", err)
	}

	p.metrics.MessagesProduced.Inc()
	p.logger.Info("accumulator report published",
		"run_id", p.runID,
		"swaths", rep.Swaths,
		"cells", len(rep.Cells),
		"footprints", rep.Sums["total/footprints"],
	)
	return nil
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawMessage) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
