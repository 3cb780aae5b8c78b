package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gprof_grid"

// Metrics holds the Prometheus counters, histograms, and gauges for the gridding pipeline.
type Metrics struct {
	SwathsConsumed   prometheus.Counter
	SwathsGridded    prometheus.Counter
	SwathsSkipped    prometheus.Counter
	DecodeErrors     prometheus.Counter
	MessagesProduced prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Gridding metrics.
	FootprintsGridded   prometheus.Counter
	PopulatedCells      prometheus.Counter
	UnknownSurfaceCells prometheus.Counter
	ARCells             *prometheus.CounterVec // labels: outcome={present,absent,unknown}
	ARIndexCache        *prometheus.CounterVec // labels: result={hit,miss}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SwathsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaths_consumed_total",
			Help:      "Total swath messages read from the source topic.",
		}),
		SwathsGridded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaths_gridded_total",
			Help:      "Total swaths gridded and published.",
		}),
		SwathsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaths_skipped_total",
			Help:      "Total swaths with no footprint inside the region.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total swath messages that could not be decoded or validated.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total messages written to the sink topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of swath messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-grid-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FootprintsGridded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "footprints_gridded_total",
			Help:      "Footprints inside the region bounding box of gridded swaths.",
		}),
		PopulatedCells: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "populated_cells_total",
			Help:      "Grid cells that received at least one footprint.",
		}),
		UnknownSurfaceCells: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_surface_cells_total",
			Help:      "Populated cells skipped for lacking a valid surface type.",
		}),
		ARCells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ar_cells_total",
			Help:      "Populated cells by atmospheric river outcome.",
		}, []string{"outcome"}),
		ARIndexCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ar_index_cache_total",
			Help:      "AR reference nearest-time lookups by cache result.",
		}, []string{"result"}),
	}

	prometheus.MustRegister(
		m.SwathsConsumed,
		m.SwathsGridded,
		m.SwathsSkipped,
		m.DecodeErrors,
		m.MessagesProduced,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.FootprintsGridded,
		m.PopulatedCells,
		m.UnknownSurfaceCells,
		m.ARCells,
		m.ARIndexCache,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SwathsConsumed:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "swaths_consumed_total"}),
		SwathsGridded:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "swaths_gridded_total"}),
		SwathsSkipped:           prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "swaths_skipped_total"}),
		DecodeErrors:            prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "decode_errors_total"}),
		MessagesProduced:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_produced_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_processing_duration_seconds"}),
		FootprintsGridded:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "footprints_gridded_total"}),
		PopulatedCells:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "populated_cells_total"}),
		UnknownSurfaceCells:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "unknown_surface_cells_total"}),
		ARCells:                 prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ar_cells_total"}, []string{"outcome"}),
		ARIndexCache:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ar_index_cache_total"}, []string{"result"}),
	}
}
