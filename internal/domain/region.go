package domain

import (
	"fmt"
	"strings"
)

// Region names one of the two gridded analysis domains.
type Region string

const (
	RegionAtlantic Region = "atlantic"
	RegionPacific  Region = "pacific"
)

// Bounds is a region's bounding box in degrees. Latitude is [LatMin, LatMax).
// When LonMin > LonMax the box wraps through the antimeridian and a longitude
// is inside when lon >= LonMin OR lon < LonMax.
type Bounds struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// ParseRegion validates a region name, ignoring case and surrounding space.
func ParseRegion(name string) (Region, error) {
	switch r := Region(strings.ToLower(strings.TrimSpace(name))); r {
	case RegionAtlantic, RegionPacific:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRegion, name)
	}
}

// Bounds returns the region's bounding box.
func (r Region) Bounds() (Bounds, error) {
	switch r {
	case RegionAtlantic:
		return Bounds{LatMin: 45, LatMax: 70, LonMin: -70, LonMax: 10}, nil
	case RegionPacific:
		// LonMin is the western (left-hand) edge at 140E.
		return Bounds{LatMin: 45, LatMax: 70, LonMin: 140, LonMax: -120}, nil
	default:
		return Bounds{}, fmt.Errorf("%w: %q", ErrInvalidRegion, string(r))
	}
}

// Wraps reports whether the longitude span crosses the antimeridian.
func (b Bounds) Wraps() bool {
	return b.LonMin > b.LonMax
}

// Contains reports whether a coordinate lies inside the box. NaN coordinates
// are never inside.
func (b Bounds) Contains(lat, lon float64) bool {
	if lat < b.LatMin || !(lat < b.LatMax) {
		return false
	}
	if b.Wraps() {
		return lon >= b.LonMin || lon < b.LonMax
	}
	return lon >= b.LonMin && lon < b.LonMax
}

// FilterSwath returns the indices of the swath footprints inside the bounding
// box, in swath order. An empty result means the swath does not overlap the
// region.
func FilterSwath(b Bounds, lat, lon []float64) []int {
	n := min(len(lat), len(lon))
	var idx []int
	for k := range n {
		if b.Contains(lat[k], lon[k]) {
			idx = append(idx, k)
		}
	}
	return idx
}
