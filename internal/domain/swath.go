package domain

import (
	"fmt"
	"math"
	"time"
)

// Swath is one satellite overpass flattened to parallel per-footprint arrays.
// All arrays share the footprint index. Masked may be nil when no footprint is
// quality-masked.
type Swath struct {
	ID          string
	Precip      []float64 // mm/h
	SurfaceType []int
	Masked      []bool
	Lat         []float64
	Lon         []float64
	Year        []int
	Month       []int
	Day         []int
	Hour        []int
	Minute      []int
}

// Footprint is a single observation taken from a swath.
type Footprint struct {
	Precip      float64
	SurfaceType int
	Masked      bool
	Lat         float64
	Lon         float64
	Time        time.Time
}

// Len returns the number of footprints.
func (s Swath) Len() int { return len(s.Lat) }

// Validate checks that every array has the footprint count of Lat and that
// every scan time field is in range.
func (s Swath) Validate() error {
	type arrayLen struct {
		name string
		n    int
	}
	n := len(s.Lat)
	lengths := []arrayLen{
		{"precip", len(s.Precip)},
		{"surface_type", len(s.SurfaceType)},
		{"lon", len(s.Lon)},
		{"year", len(s.Year)},
		{"month", len(s.Month)},
		{"day", len(s.Day)},
		{"hour", len(s.Hour)},
		{"minute", len(s.Minute)},
	}
	if s.Masked != nil {
		lengths = append(lengths, arrayLen{"masked", len(s.Masked)})
	}
	for _, l := range lengths {
		if l.n != n {
			return fmt.Errorf("%w: %s has %d values, lat has %d", ErrShapeMismatch, l.name, l.n, n)
		}
	}
	for k := range n {
		if err := s.checkScanTime(k); err != nil {
			return err
		}
	}
	return nil
}

// checkScanTime rejects fields that time.Date would silently normalise into
// a different instant.
func (s Swath) checkScanTime(k int) error {
	y, m, d, h, mi := s.Year[k], s.Month[k], s.Day[k], s.Hour[k], s.Minute[k]
	switch {
	case y < 1:
		return fmt.Errorf("%w: footprint %d year %d", ErrInvalidScanTime, k, y)
	case m < 1 || m > 12:
		return fmt.Errorf("%w: footprint %d month %d", ErrInvalidScanTime, k, m)
	case d < 1 || d > daysIn(y, time.Month(m)):
		return fmt.Errorf("%w: footprint %d day %d of %04d-%02d", ErrInvalidScanTime, k, d, y, m)
	case h < 0 || h > 23:
		return fmt.Errorf("%w: footprint %d hour %d", ErrInvalidScanTime, k, h)
	case mi < 0 || mi > 59:
		return fmt.Errorf("%w: footprint %d minute %d", ErrInvalidScanTime, k, mi)
	}
	return nil
}

func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Footprint returns footprint k. The caller guarantees k is in range of a
// validated swath.
func (s Swath) Footprint(k int) Footprint {
	return Footprint{
		Precip:      s.Precip[k],
		SurfaceType: s.SurfaceType[k],
		Masked:      s.Masked != nil && s.Masked[k],
		Lat:         s.Lat[k],
		Lon:         s.Lon[k],
		Time:        s.Time(k),
	}
}

// Time assembles footprint k's scan time in UTC.
func (s Swath) Time(k int) time.Time {
	return time.Date(s.Year[k], time.Month(s.Month[k]), s.Day[k], s.Hour[k], s.Minute[k], 0, 0, time.UTC)
}

// ValidPrecip reports whether the footprint carries a usable precipitation
// rate: unmasked, finite and non-negative.
func (f Footprint) ValidPrecip() bool {
	return !f.Masked && !math.IsNaN(f.Precip) && !math.IsInf(f.Precip, 0) && f.Precip >= 0
}

// QualityMask combines the GPROF qualityFlag, L1CqualityFlag and pixelStatus
// arrays. A footprint is masked when any of its three flags is nonzero.
func QualityMask(quality, l1c, pixelStatus []int) ([]bool, error) {
	if len(l1c) != len(quality) || len(pixelStatus) != len(quality) {
		return nil, fmt.Errorf("%w: quality flags have lengths %d, %d, %d",
			ErrShapeMismatch, len(quality), len(l1c), len(pixelStatus))
	}
	mask := make([]bool, len(quality))
	for k := range quality {
		mask[k] = quality[k] != 0 || l1c[k] != 0 || pixelStatus[k] != 0
	}
	return mask, nil
}
