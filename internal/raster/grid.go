package raster

import (
	"fmt"
	"math"
)

// Shape is a grid's size in rows (latitude) and columns (longitude).
type Shape struct {
	Rows int
	Cols int
}

// Contains reports whether (row, col) is a valid index.
func (s Shape) Contains(c Cell) bool {
	return c.Row >= 0 && c.Row < s.Rows && c.Col >= 0 && c.Col < s.Cols
}

// Cells is the total number of cells.
func (s Shape) Cells() int { return s.Rows * s.Cols }

func (s Shape) String() string { return fmt.Sprintf("%dx%d", s.Rows, s.Cols) }

// Cell is a (row, col) index.
type Cell struct {
	Row int
	Col int
}

// Grid is one decoded 2-D field, row-major with row 0 at the north edge.
// Undefined cells hold NaN.
type Grid struct {
	Shape     Shape
	Transform Affine
	Data      []float64
}

// NewGrid validates that data matches shape.
func NewGrid(shape Shape, transform Affine, data []float64) (*Grid, error) {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return nil, fmt.Errorf("invalid grid shape %s", shape)
	}
	if len(data) != shape.Cells() {
		return nil, fmt.Errorf("grid data has %d values, shape %s needs %d", len(data), shape, shape.Cells())
	}
	return &Grid{Shape: shape, Transform: transform, Data: data}, nil
}

// At returns the value at c, or NaN outside the grid.
func (g *Grid) At(c Cell) float64 {
	if !g.Shape.Contains(c) {
		return math.NaN()
	}
	return g.Data[c.Row*g.Shape.Cols+c.Col]
}

// Definition is the geometry of a grid without its values.
type Definition struct {
	Shape     Shape
	Transform Affine
}

// Definition returns the grid's geometry.
func (g *Grid) Definition() Definition {
	return Definition{Shape: g.Shape, Transform: g.Transform}
}
