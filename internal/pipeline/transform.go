package pipeline

import (
	"context"

	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
)

// Gridded is one swath after gridding: the sink message and the scalar
// outcome used for metrics and logging.
type Gridded struct {
	Message domain.OutputMessage
	Summary domain.SwathSummary
}

// SwathTransformer implements Transformer by decoding the swath record,
// gridding it with the engine and serializing the sparse snapshot.
type SwathTransformer struct {
	engine *domain.Engine
	format domain.Format
}

// NewTransformer creates a SwathTransformer writing snapshots in format f.
func NewTransformer(engine *domain.Engine, f domain.Format) *SwathTransformer {
	return &SwathTransformer{engine: engine, format: f}
}

// Transform grids one raw swath and serializes its snapshot. The swath's
// counts are added to acc only once the snapshot is encoded, so a swath that
// fails at any step leaves acc untouched.
func (t *SwathTransformer) Transform(_ context.Context, raw domain.RawMessage, acc *domain.Accumulators) (Gridded, error) {
	swath, err := domain.ParseSwathRecord(raw)
	if err != nil {
		return Gridded{}, err
	}

	res, err := t.engine.Snapshot(swath)
	if err != nil {
		return Gridded{}, err
	}

	msg, err := domain.SerializeSwathSnapshot(t.format, domain.NewSwathSnapshot(t.engine.Grid(), res))
	if err != nil {
		return Gridded{}, err
	}

	if err := res.Accumulate(acc); err != nil {
		return Gridded{}, err
	}
	return Gridded{Message: msg, Summary: res.Summary()}, nil
}
