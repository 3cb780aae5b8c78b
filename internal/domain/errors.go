package domain

import "errors"

var (
	// ErrInvalidRegion is returned for a region name outside {atlantic, pacific}.
	ErrInvalidRegion = errors.New("invalid region")

	// ErrNoRegionOverlap signals that a swath has no footprints inside the
	// region grid. Callers skip the swath; it is not a failure.
	ErrNoRegionOverlap = errors.New("no footprints inside region")

	// ErrEmptyReferenceData is returned when the AR reference has no timesteps.
	ErrEmptyReferenceData = errors.New("empty AR reference data")

	// ErrReferenceShape is returned when AR reference grids disagree with each
	// other, with the date list, or with the region grid.
	ErrReferenceShape = errors.New("AR reference shape mismatch")

	// ErrShapeMismatch is returned when swath arrays differ in length.
	ErrShapeMismatch = errors.New("swath array shape mismatch")

	// ErrInvalidScanTime is returned when a footprint's year, month, day,
	// hour or minute is out of range.
	ErrInvalidScanTime = errors.New("invalid scan time")

	// ErrNilAccumulators is returned when gridding is asked to count into a
	// nil accumulator set.
	ErrNilAccumulators = errors.New("nil accumulators")
)
