package domain

import (
	"math"
	"sort"
)

// GridStep is the cell size in degrees for both axes.
const GridStep = 0.25

// seamEdge is the longitude edge at which the Pacific grid wraps.
const seamEdge = 180.0

// Grid holds the ordered cell edges for one region. It defines
// (len(Lats)-1) x (len(Lons)-1) cells addressed by (i, j) = (lat, lon) index.
// A Grid is immutable once built.
type Grid struct {
	Region Region
	Bounds Bounds
	Lats   []float64
	Lons   []float64

	// seam is the column whose left edge is 180, or -1 for a non-wrapping grid.
	seam int
}

// NewGrid builds the grid for a region.
func NewGrid(r Region) (*Grid, error) {
	b, err := r.Bounds()
	if err != nil {
		return nil, err
	}

	g := &Grid{
		Region: r,
		Bounds: b,
		Lats:   edges(45, 70),
		seam:   -1,
	}

	switch r {
	case RegionAtlantic:
		g.Lons = edges(-70, 10)
	case RegionPacific:
		east := edges(140, seamEdge)
		west := edges(-179.75, -120)
		g.seam = len(east) - 1
		g.Lons = append(east, west...)
	}
	return g, nil
}

// edges returns start, start+0.25, ..., stop. Each edge is computed as
// start + k*step so the values are exact in binary floating point.
func edges(start, stop float64) []float64 {
	n := int(math.Round((stop-start)/GridStep)) + 1
	out := make([]float64, n)
	for k := range n {
		out[k] = start + float64(k)*GridStep
	}
	return out
}

// Rows is the number of latitude cells.
func (g *Grid) Rows() int { return len(g.Lats) - 1 }

// Cols is the number of longitude cells.
func (g *Grid) Cols() int { return len(g.Lons) - 1 }

// SeamColumn returns the index of the antimeridian seam column and whether the
// grid has one.
func (g *Grid) SeamColumn() (int, bool) {
	return g.seam, g.seam >= 0
}

// CellIndex returns the cell containing a coordinate. Membership matches the
// edge test lats[i] <= lat < lats[i+1] and lons[j] <= lon < lons[j+1], except
// for the seam column which takes |lon| == 180 or lon < lons[seam+1].
func (g *Grid) CellIndex(lat, lon float64) (i, j int, ok bool) {
	i, ok = binIndex(g.Lats, lat)
	if !ok {
		return 0, 0, false
	}

	if g.seam < 0 {
		j, ok = binIndex(g.Lons, lon)
		return i, j, ok
	}

	if math.Abs(lon) == seamEdge || lon < g.Lons[g.seam+1] {
		return i, g.seam, true
	}
	// Eastern run: columns [0, seam) over edges Lons[0..seam].
	if j, ok = binIndex(g.Lons[:g.seam+1], lon); ok {
		return i, j, true
	}
	// Western run: columns (seam, Cols) over edges Lons[seam+1..].
	if j, ok = binIndex(g.Lons[g.seam+1:], lon); ok {
		return i, g.seam + 1 + j, true
	}
	return 0, 0, false
}

// binIndex finds k with edges[k] <= v < edges[k+1] in an ascending edge run.
func binIndex(edges []float64, v float64) (int, bool) {
	if len(edges) < 2 || !(v >= edges[0]) || !(v < edges[len(edges)-1]) {
		return 0, false
	}
	// First edge strictly greater than v, minus one.
	k := sort.Search(len(edges), func(n int) bool { return edges[n] > v }) - 1
	return k, true
}
