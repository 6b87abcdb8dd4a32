// Package raster maps between grid cells and lon/lat coordinates and computes
// polygon coverage weights over a grid.
package raster

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// Affine maps (col, row) to (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// (C, F) is the outer corner of cell (0, 0).
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// BuildAffine returns the transform of an unrotated grid whose top-left corner
// is (originLon, originLat). yRes must be negative for north-up grids.
func BuildAffine(originLon, originLat, xRes, yRes float64) Affine {
	return Affine{A: xRes, C: originLon, E: yRes, F: originLat}
}

// AffineFromCenters derives a north-up transform from the cell-centre
// coordinate vectors stored alongside a grid. lat may be ascending or
// descending; row 0 of the result is always the northernmost row.
func AffineFromCenters(lon, lat []float64) (Affine, error) {
	if len(lon) < 2 || len(lat) < 2 {
		return Affine{}, &domain.GeometryError{Reason: "grid needs at least two cells per axis"}
	}
	xRes := (lon[len(lon)-1] - lon[0]) / float64(len(lon)-1)
	yRes := math.Abs(lat[len(lat)-1]-lat[0]) / float64(len(lat)-1)
	if xRes == 0 || yRes == 0 {
		return Affine{}, &domain.GeometryError{Reason: "zero grid resolution"}
	}
	north := math.Max(lat[0], lat[len(lat)-1])
	return BuildAffine(lon[0]-xRes/2, north+yRes/2, xRes, -yRes), nil
}

// Apply maps fractional (col, row) to (x, y).
func (a Affine) Apply(col, row float64) (x, y float64) {
	return a.A*col + a.B*row + a.C, a.D*col + a.E*row + a.F
}

// Translate returns a composed with a shift of (dCol, dRow) cells.
func (a Affine) Translate(dCol, dRow float64) Affine {
	out := a
	out.C = a.A*dCol + a.B*dRow + a.C
	out.F = a.D*dCol + a.E*dRow + a.F
	return out
}

// CellCenter returns the lon/lat of the centre of (row, col).
func (a Affine) CellCenter(row, col int) orb.Point {
	x, y := a.Translate(0.5, 0.5).Apply(float64(col), float64(row))
	return orb.Point{x, y}
}

// CellBounds returns the box covered by (row, col).
func (a Affine) CellBounds(row, col int) orb.Bound {
	x0, y0 := a.Apply(float64(col), float64(row))
	x1, y1 := a.Apply(float64(col+1), float64(row+1))
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// CellArea is the area of one cell in squared coordinate units.
func (a Affine) CellArea() float64 {
	return math.Abs(a.A*a.E - a.B*a.D)
}

// Fractional maps (x, y) back to fractional (col, row).
func (a Affine) Fractional(x, y float64) (col, row float64, err error) {
	det := a.A*a.E - a.B*a.D
	if det == 0 {
		return 0, 0, &domain.GeometryError{Reason: "transform is not invertible"}
	}
	dx, dy := x-a.C, y-a.F
	col = (a.E*dx - a.B*dy) / det
	row = (-a.D*dx + a.A*dy) / det
	return col, row, nil
}

// Index returns the cell containing (lon, lat). The result may fall outside
// any particular grid; check it against the grid's Shape.
func (a Affine) Index(lon, lat float64) (Cell, error) {
	col, row, err := a.Fractional(lon, lat)
	if err != nil {
		return Cell{}, err
	}
	return Cell{Row: int(math.Floor(row)), Col: int(math.Floor(col))}, nil
}

// window returns the inclusive cell range of shape overlapped by b.
// ok is false when b lies entirely outside the grid.
func (a Affine) window(b orb.Bound, shape Shape) (r0, r1, c0, c1 int, ok bool) {
	corners := [4]orb.Point{b.Min, b.Max, {b.Min[0], b.Max[1]}, {b.Max[0], b.Min[1]}}
	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, p := range corners {
		c, r, err := a.Fractional(p[0], p[1])
		if err != nil {
			return 0, 0, 0, 0, false
		}
		minC, maxC = math.Min(minC, c), math.Max(maxC, c)
		minR, maxR = math.Min(minR, r), math.Max(maxR, r)
	}
	c0 = max(int(math.Floor(minC)), 0)
	c1 = min(int(math.Floor(maxC)), shape.Cols-1)
	r0 = max(int(math.Floor(minR)), 0)
	r1 = min(int(math.Floor(maxR)), shape.Rows-1)
	if c0 > c1 || r0 > r1 {
		return 0, 0, 0, 0, false
	}
	return r0, r1, c0, c1, true
}
