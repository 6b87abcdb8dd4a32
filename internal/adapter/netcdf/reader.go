// Package netcdf decodes precipitation and temperature grids from NetCDF
// files into north-up rasters.
package netcdf

import (
	"fmt"
	"math"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/raster"
)

// Reader decodes product files. It is stateless and safe for concurrent use.
type Reader struct{}

// NewReader creates a Reader.
func NewReader() *Reader { return &Reader{} }

// Read opens path and decodes the product's variable into a north-up grid.
// Fill and missing values become NaN.
func (r *Reader) Read(path string, p domain.Product) (*raster.Grid, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	lon, err := coordinate(nc, "lon")
	if err != nil {
		return nil, err
	}
	lat, err := coordinate(nc, "lat")
	if err != nil {
		return nil, err
	}

	v, err := nc.GetVariable(p.Variable)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", p.Variable, err)
	}
	rows, cols, data, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", p.Variable, err)
	}

	applyAttributes(data, v.Attributes)

	// Stored shape is [lon][lat] or [lat][lon]; either way we want [lat][lon].
	nLat, nLon := len(lat), len(lon)
	switch p.Axes {
	case domain.AxesLonLat:
		if rows != nLon || cols != nLat {
			return nil, fmt.Errorf("variable %s is %dx%d, coordinates are lon=%d lat=%d", p.Variable, rows, cols, nLon, nLat)
		}
		data = transpose(data, rows, cols)
	default:
		if rows != nLat || cols != nLon {
			return nil, fmt.Errorf("variable %s is %dx%d, coordinates are lat=%d lon=%d", p.Variable, rows, cols, nLat, nLon)
		}
	}
	if p.SouthUp {
		flipRows(data, nLat, nLon)
	}

	transform, err := raster.AffineFromCenters(lon, lat)
	if err != nil {
		return nil, err
	}
	return raster.NewGrid(raster.Shape{Rows: nLat, Cols: nLon}, transform, data)
}

func coordinate(nc api.Group, name string) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("coordinate %s: %w", name, err)
	}
	switch vals := raw.(type) {
	case []float64:
		return vals, nil
	case []float32:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("coordinate %s has unsupported type %T", name, raw)
	}
}

// flatten converts a 2-D variable, or a 3-D one with a single leading time
// step, to a row-major slice.
func flatten(raw any) (rows, cols int, data []float64, err error) {
	switch vals := raw.(type) {
	case [][]float32:
		return flatten2(vals)
	case [][]float64:
		return flatten2(vals)
	case [][]int16:
		return flatten2(vals)
	case [][][]float32:
		return flatten3(vals)
	case [][][]float64:
		return flatten3(vals)
	case [][][]int16:
		return flatten3(vals)
	default:
		return 0, 0, nil, fmt.Errorf("unsupported value type %T", raw)
	}
}

func flatten2[T float32 | float64 | int16](vals [][]T) (int, int, []float64, error) {
	if len(vals) == 0 || len(vals[0]) == 0 {
		return 0, 0, nil, fmt.Errorf("empty variable")
	}
	rows, cols := len(vals), len(vals[0])
	out := make([]float64, 0, rows*cols)
	for _, row := range vals {
		if len(row) != cols {
			return 0, 0, nil, fmt.Errorf("ragged variable")
		}
		for _, v := range row {
			out = append(out, float64(v))
		}
	}
	return rows, cols, out, nil
}

func flatten3[T float32 | float64 | int16](vals [][][]T) (int, int, []float64, error) {
	if len(vals) != 1 {
		return 0, 0, nil, fmt.Errorf("expected one time step, got %d", len(vals))
	}
	return flatten2(vals[0])
}

// applyAttributes unpacks scale_factor/add_offset and turns fill values into NaN.
func applyAttributes(data []float64, attrs api.AttributeMap) {
	if attrs == nil {
		return
	}
	var fills []float64
	for _, key := range []string{"_FillValue", "missing_value"} {
		if v, ok := attrs.Get(key); ok {
			fills = append(fills, numbers(v)...)
		}
	}
	scale, offset := 1.0, 0.0
	if v, ok := attrs.Get("scale_factor"); ok {
		if n := numbers(v); len(n) > 0 {
			scale = n[0]
		}
	}
	if v, ok := attrs.Get("add_offset"); ok {
		if n := numbers(v); len(n) > 0 {
			offset = n[0]
		}
	}

	for i, v := range data {
		if isFill(v, fills) {
			data[i] = math.NaN()
			continue
		}
		data[i] = v*scale + offset
	}
}

func isFill(v float64, fills []float64) bool {
	if math.IsNaN(v) {
		return true
	}
	for _, f := range fills {
		if v == f || (math.Abs(f) > 1e30 && math.Abs(v-f) <= math.Abs(f)*1e-6) {
			return true
		}
	}
	return false
}

// numbers reads an attribute value that may be a scalar or a slice.
func numbers(v any) []float64 {
	switch n := v.(type) {
	case float64:
		return []float64{n}
	case float32:
		return []float64{float64(n)}
	case int16:
		return []float64{float64(n)}
	case int32:
		return []float64{float64(n)}
	case int64:
		return []float64{float64(n)}
	case int8:
		return []float64{float64(n)}
	case []float64:
		return n
	case []float32:
		out := make([]float64, len(n))
		for i, f := range n {
			out[i] = float64(f)
		}
		return out
	case []int16:
		out := make([]float64, len(n))
		for i, f := range n {
			out[i] = float64(f)
		}
		return out
	case []int32:
		out := make([]float64, len(n))
		for i, f := range n {
			out[i] = float64(f)
		}
		return out
	}
	return nil
}

func transpose(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	for r := range rows {
		for c := range cols {
			out[c*rows+r] = data[r*cols+c]
		}
	}
	return out
}

func flipRows(data []float64, rows, cols int) {
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := data[top*cols : (top+1)*cols]
		b := data[bottom*cols : (bottom+1)*cols]
		for i := range a {
			a[i], b[i] = b[i], a[i]
		}
	}
}
