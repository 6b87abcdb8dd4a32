package raster

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// fullCoverEpsilon snaps clipped areas within float noise of a whole cell to 1.
const fullCoverEpsilon = 1e-9

// WeightedCell is one cell with non-zero polygon coverage.
type WeightedCell struct {
	Cell
	Weight float64
}

// Weights is a coverage-fraction matrix over a grid shape. Only non-zero cells
// are stored; every other cell has weight 0.
type Weights struct {
	shape Shape
	cells []WeightedCell
}

// Shape is the grid shape the weights were computed for.
func (w Weights) Shape() Shape { return w.shape }

// Cells returns the non-zero cells in row-major order.
func (w Weights) Cells() []WeightedCell { return w.cells }

// At returns the weight of c.
func (w Weights) At(c Cell) float64 {
	for _, wc := range w.cells {
		if wc.Cell == c {
			return wc.Weight
		}
	}
	return 0
}

// Sum is the total weight over the grid.
func (w Weights) Sum() float64 {
	var s float64
	for _, wc := range w.cells {
		s += wc.Weight
	}
	return s
}

// ZonalWeight computes the fraction of each cell covered by g: 1 for cells
// fully inside, 0 outside, area(g ∩ cell)/area(cell) on the boundary.
// Multipolygons are reduced with ZonalPolygon first.
func ZonalWeight(g orb.Geometry, t Affine, shape Shape) (Weights, error) {
	poly, err := ZonalPolygon(g)
	if err != nil {
		return Weights{}, err
	}
	if planar.Area(poly) == 0 {
		return Weights{}, &domain.GeometryError{Reason: "polygon has zero area"}
	}
	cellArea := t.CellArea()
	if cellArea == 0 {
		return Weights{}, &domain.GeometryError{Reason: "grid cell has zero area"}
	}
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return Weights{}, &domain.GeometryError{Reason: "empty grid shape " + shape.String()}
	}

	w := Weights{shape: shape}
	bound := poly.Bound()
	r0, r1, c0, c1, ok := t.window(bound, shape)
	if !ok {
		return w, nil
	}

	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			cb := t.CellBounds(r, c)
			if !cb.Intersects(bound) {
				continue
			}
			// clip uses its input as scratch space.
			overlap := clip.Polygon(cb, poly.Clone())
			if overlap == nil {
				continue
			}
			frac := planar.Area(overlap) / cellArea
			if frac <= 0 {
				continue
			}
			if frac > 1-fullCoverEpsilon {
				frac = 1
			}
			w.cells = append(w.cells, WeightedCell{Cell: Cell{Row: r, Col: c}, Weight: frac})
		}
	}
	return w, nil
}

// CellsInside returns the cells whose centre lies inside g, in row-major order.
func CellsInside(g orb.Geometry, t Affine, shape Shape) ([]Cell, error) {
	var contains func(orb.Point) bool
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 {
			return nil, &domain.GeometryError{Reason: "empty polygon"}
		}
		contains = func(p orb.Point) bool { return planar.PolygonContains(g, p) }
	case orb.MultiPolygon:
		if len(g) == 0 {
			return nil, &domain.GeometryError{Reason: "empty multipolygon"}
		}
		contains = func(p orb.Point) bool { return planar.MultiPolygonContains(g, p) }
	default:
		return nil, &domain.GeometryError{Reason: "point extraction needs a polygon"}
	}
	if t.CellArea() == 0 {
		return nil, &domain.GeometryError{Reason: "grid cell has zero area"}
	}

	r0, r1, c0, c1, ok := t.window(g.Bound(), shape)
	if !ok {
		return nil, nil
	}
	var cells []Cell
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			if contains(t.CellCenter(r, c)) {
				cells = append(cells, Cell{Row: r, Col: c})
			}
		}
	}
	return cells, nil
}

// Nearest returns the index of the point closest to target, or -1 if points
// is empty. Ties go to the earlier point.
func Nearest(points []orb.Point, target orb.Point) int {
	best, bestD := -1, 0.0
	for i, p := range points {
		d := planar.DistanceSquared(p, target)
		if best < 0 || d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// Centroid returns the area centroid of a basin geometry.
func Centroid(g orb.Geometry) (orb.Point, error) {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return orb.Point{}, &domain.GeometryError{Reason: "centroid needs a polygon"}
	}
	c, area := planar.CentroidArea(g)
	if area == 0 {
		return orb.Point{}, &domain.GeometryError{Reason: "polygon has zero area"}
	}
	return c, nil
}
