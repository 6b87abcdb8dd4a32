package domain

import (
	"github.com/paulmach/orb"
)

// Location is a point a series is extracted for.
type Location struct {
	ID        int
	Name      string
	Lon       float64
	Lat       float64
	Elevation float64

	// Link ties a point-mode location to the nearest cell of the historical
	// precipitation grid. Nil for every other mode.
	Link *GridLink
}

// Point returns the location as an orb point (lon, lat).
func (l Location) Point() orb.Point {
	return orb.Point{l.Lon, l.Lat}
}

// GridLink identifies a cell of another product's grid.
type GridLink struct {
	Index int
	Lon   float64
	Lat   float64
	Row   int
	Col   int
}

// DailySample is one location's reading for one day: a single value for
// precipitation, the max/min pair for temperature.
type DailySample struct {
	Values []float64
}

// Single wraps one precipitation value.
func Single(v float64) DailySample {
	return DailySample{Values: []float64{v}}
}

// MaxMin wraps a temperature pair in output order.
func MaxMin(maxV, minV float64) DailySample {
	return DailySample{Values: []float64{maxV, minV}}
}

// ElevationSurface looks up terrain elevation by coordinate.
type ElevationSurface interface {
	ElevationAt(lon, lat float64) (float64, error)
}

// Basin is one polygon of the watershed file, in file order.
type Basin struct {
	ID       int
	Geometry orb.Geometry
}

// Watershed is the loaded study area.
type Watershed struct {
	Basins []Basin
}

// Outline is the geometry used by the point modes: the first basin only.
func (w *Watershed) Outline() (orb.Geometry, error) {
	if w == nil || len(w.Basins) == 0 {
		return nil, &GeometryError{Reason: "watershed has no polygons"}
	}
	return w.Basins[0].Geometry, nil
}
