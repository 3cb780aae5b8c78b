// Package arref loads the atmospheric river reference catalogue and serves
// cached nearest-timestep lookups against it.
package arref

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
)

// Document is the on-disk form of an AR reference. Each entry of Flags is a
// row-major rows*cols grid of 0/1 values for the matching entry of Dates.
type Document struct {
	Region domain.Region `json:"region"`
	Rows   int           `json:"rows"`
	Cols   int           `json:"cols"`
	Dates  []time.Time   `json:"dates"`
	Flags  [][]int8      `json:"flags"`
}

// Dataset validates the document against region r and builds the reference.
func (d Document) Dataset(r domain.Region) (*domain.ReferenceDataset, error) {
	if d.Region != r {
		return nil, fmt.Errorf("%w: reference is for region %q, want %q", domain.ErrReferenceShape, d.Region, r)
	}
	if len(d.Dates) == 0 {
		return nil, domain.ErrEmptyReferenceData
	}
	if len(d.Flags) != len(d.Dates) {
		return nil, fmt.Errorf("%w: %d dates but %d flag grids", domain.ErrReferenceShape, len(d.Dates), len(d.Flags))
	}

	n := d.Rows * d.Cols
	flags := make([]*mat.Dense, len(d.Flags))
	for k, grid := range d.Flags {
		if len(grid) != n || n == 0 {
			return nil, fmt.Errorf("%w: grid %d has %d values, want %dx%d",
				domain.ErrReferenceShape, k, len(grid), d.Rows, d.Cols)
		}
		data := make([]float64, n)
		for x, v := range grid {
			if v != domain.ARAbsent && v != domain.ARPresent {
				return nil, fmt.Errorf("grid %d: flag %d at %d is not 0 or 1", k, v, x)
			}
			data[x] = float64(v)
		}
		flags[k] = mat.NewDense(d.Rows, d.Cols, data)
	}

	dates := make([]time.Time, len(d.Dates))
	for k, t := range d.Dates {
		dates[k] = t.UTC()
	}
	return domain.NewReferenceDataset(dates, flags)
}

// NewDocument converts a reference back to its on-disk form.
func NewDocument(r domain.Region, ds *domain.ReferenceDataset) Document {
	rows, cols := ds.Dims()
	doc := Document{
		Region: r,
		Rows:   rows,
		Cols:   cols,
		Dates:  ds.Dates(),
		Flags:  make([][]int8, ds.Len()),
	}
	for k := range doc.Flags {
		grid := make([]int8, 0, rows*cols)
		for i := range rows {
			for j := range cols {
				grid = append(grid, int8(ds.FlagAt(k, i, j)))
			}
		}
		doc.Flags[k] = grid
	}
	return doc
}

// Decode reads a reference document in format f and validates it for region r.
func Decode(rd io.Reader, f domain.Format, r domain.Region) (*domain.ReferenceDataset, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read AR reference: %w", err)
	}
	var doc Document
	if err := domain.Decode(f, data, &doc); err != nil {
		return nil, fmt.Errorf("decode AR reference: %w", err)
	}
	return doc.Dataset(r)
}

// Encode writes doc in format f.
func Encode(w io.Writer, f domain.Format, doc Document) error {
	data, err := domain.Encode(f, doc)
	if err != nil {
		return fmt.Errorf("encode AR reference: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// LoadFile reads a reference from path. Files ending in .msgpack or .mpk are
// msgpack, anything else JSON.
func LoadFile(path string, r domain.Region) (*domain.ReferenceDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open AR reference: %w", err)
	}
	defer f.Close()

	ds, err := Decode(f, FormatForPath(path), r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// FormatForPath picks the encoding from a file extension.
func FormatForPath(path string) domain.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return domain.FormatMsgpack
	default:
		return domain.FormatJSON
	}
}
