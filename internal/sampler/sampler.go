// Package sampler reads point and area-weighted values out of a decoded grid.
package sampler

import (
	"math"

	"github.com/couchcryptid/nasa-access-etl/internal/raster"
)

// KelvinOffset is subtracted from GLDAS air temperature to get Celsius.
const KelvinOffset = 273.16

// SamplePoint returns the grid value at each cell, NaN where the cell is
// undefined or outside the grid.
func SamplePoint(g *raster.Grid, cells []raster.Cell) []float64 {
	out := make([]float64, len(cells))
	for i, c := range cells {
		out[i] = g.At(c)
	}
	return out
}

// SampleZonal returns the weighted mean of g over w. Undefined cells drop out
// of both sums; if nothing defined is left the sentinel is returned.
func SampleZonal(g *raster.Grid, w raster.Weights, sentinel float64) float64 {
	var num, den float64
	for _, wc := range w.Cells() {
		v := g.At(wc.Cell)
		if math.IsNaN(v) {
			continue
		}
		num += wc.Weight * v
		den += wc.Weight
	}
	if den == 0 {
		return sentinel
	}
	mean := num / den
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return sentinel
	}
	return mean
}

// MinMax returns the largest and smallest defined values. ok is false when
// every value is NaN.
func MinMax(values []float64) (maxV, minV float64, ok bool) {
	maxV, minV = math.Inf(-1), math.Inf(1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		ok = true
		maxV = math.Max(maxV, v)
		minV = math.Min(minV, v)
	}
	if !ok {
		return math.NaN(), math.NaN(), false
	}
	return maxV, minV, true
}

// KelvinToCelsius converts a GLDAS temperature.
func KelvinToCelsius(k float64) float64 {
	return k - KelvinOffset
}
