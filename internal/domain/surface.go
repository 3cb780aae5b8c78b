package domain

// Missing is the no-data sentinel stored in swath snapshots.
const Missing = -9999

// oceanMaxCode is the largest GPROF surface type index counted as ocean.
const oceanMaxCode = 1

// SurfaceFlag labels a cell's surface type.
type SurfaceFlag int

const (
	SurfaceOcean   SurfaceFlag = 0
	SurfaceLand    SurfaceFlag = 1
	SurfaceMixed   SurfaceFlag = 2
	SurfaceUnknown SurfaceFlag = Missing
)

// Valid reports whether the flag is ocean, land or mixed.
func (f SurfaceFlag) Valid() bool { return f >= 0 }

func (f SurfaceFlag) String() string {
	switch f {
	case SurfaceOcean:
		return "ocean"
	case SurfaceLand:
		return "land"
	case SurfaceMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// ClassifySurface labels a cell from its footprints' surface type codes.
// Codes below zero are missing and ignored. The remaining codes give ocean
// when all are <= 1, land when all are > 1, and mixed otherwise. With no
// remaining codes the surface is unknown.
func ClassifySurface(codes []int) SurfaceFlag {
	var ocean, land bool
	for _, c := range codes {
		switch {
		case c < 0:
			continue
		case c <= oceanMaxCode:
			ocean = true
		default:
			land = true
		}
	}

	switch {
	case ocean && land:
		return SurfaceMixed
	case ocean:
		return SurfaceOcean
	case land:
		return SurfaceLand
	default:
		return SurfaceUnknown
	}
}
