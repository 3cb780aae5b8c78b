// Package domain grids GPM GMI GPROF precipitation footprints onto a fixed
// 0.25° latitude/longitude grid and labels each cell with its surface type and
// the atmospheric river (AR) state of the nearest AR reference timestep.
//
// # Data Source
//
// Footprints come from GPROF level-2 swath files (one file per satellite
// overpass). A file reader outside this package flattens the per-scan,
// per-pixel arrays into a [Swath]: precipitation, surface type index, latitude,
// longitude and the scan time split into year/month/day/hour/minute. Reading
// the HDF5 format is not this package's concern.
//
// # GPROF Conventions
//
// Precipitation:
//
//	Surface precipitation rate in mm/h. Negative values are the GPROF
//	"missing" encoding and are discarded. NaN and Inf are discarded.
//
// Surface type index:
//
//	1      ocean
//	2      sea ice
//	3..12  land categories (vegetation, snow, coast, ...)
//	< 0    missing
//
//	Classification only distinguishes codes <= 1 (ocean) from codes > 1
//	(land), so sea ice counts as land.
//
// Quality masking:
//
//	A footprint is masked when its qualityFlag, L1CqualityFlag or pixelStatus
//	is nonzero. Masked footprints still occupy a cell (their coordinates and
//	scan time are valid), but contribute no precipitation or surface code.
//	See [QualityMask].
//
// # Regions
//
//	Atlantic: 45–70°N, 70°W–10°E
//	Pacific:  45–70°N, 140°E–120°W (crosses the antimeridian)
//
// The Pacific longitude edges run 140 … 180 then −179.75 … −120. The column
// whose left edge is 180 is the seam column; it receives longitudes reported
// as exactly ±180 and anything below −179.75.
//
// # AR Reference
//
// AR flags come from the 6-hourly, 0.25° catalogue of Mattingly et al. (2018),
// already cut to the region grid. Each gridded cell takes the flag of the
// reference timestep nearest to its first footprint's scan time.
//
// # Accumulation
//
// Per run, fifteen count arrays accumulate per cell: footprints, and
// footprints with precipitation > 0, ≥ 0.1, ≥ 0.5 and ≥ 1.0 mm/h, each for all
// swaths, AR swaths and no-AR swaths. Counts only ever increase. Cells with an
// unknown surface type never accumulate.
//
// # Sentinels
//
// [Missing] (−9999) marks "no data" in swath snapshots: a cell with no
// footprints, a cell whose mean is undefined, an unknown surface type, and the
// AR flag of an unknown-surface cell.
package domain
