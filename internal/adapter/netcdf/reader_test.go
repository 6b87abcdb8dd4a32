package netcdf

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/raster"
)

// Classic-format tags and types.
const (
	ncDimension = 0x0A
	ncVariable  = 0x0B
	ncAttribute = 0x0C
	ncFloat     = 5
	ncDouble    = 6
)

type cdfDim struct {
	name string
	size int32
}

type cdfAttr struct {
	name  string
	value float32
}

type cdfVar struct {
	name  string
	dims  []int32
	typ   int32
	attrs []cdfAttr
	data  []byte
}

// writeClassic writes a minimal CDF-1 file with only fixed-size variables.
func writeClassic(t *testing.T, dims []cdfDim, vars []cdfVar) string {
	t.Helper()

	header := func(begins []int32) []byte {
		var b bytes.Buffer
		b.WriteString("CDF\x01")
		put(&b, int32(0))

		put(&b, int32(ncDimension))
		put(&b, int32(len(dims)))
		for _, d := range dims {
			putName(&b, d.name)
			put(&b, d.size)
		}

		put(&b, int32(0)) // no global attributes
		put(&b, int32(0))

		put(&b, int32(ncVariable))
		put(&b, int32(len(vars)))
		for i, v := range vars {
			putName(&b, v.name)
			put(&b, int32(len(v.dims)))
			for _, id := range v.dims {
				put(&b, id)
			}
			if len(v.attrs) == 0 {
				put(&b, int32(0))
				put(&b, int32(0))
			} else {
				put(&b, int32(ncAttribute))
				put(&b, int32(len(v.attrs)))
				for _, a := range v.attrs {
					putName(&b, a.name)
					put(&b, int32(ncFloat))
					put(&b, int32(1))
					put(&b, a.value)
				}
			}
			put(&b, v.typ)
			put(&b, int32(padded(len(v.data))))
			put(&b, begins[i])
		}
		return b.Bytes()
	}

	begins := make([]int32, len(vars))
	offset := int32(len(header(begins)))
	for i, v := range vars {
		begins[i] = offset
		offset += int32(padded(len(v.data)))
	}

	var file bytes.Buffer
	file.Write(header(begins))
	for _, v := range vars {
		file.Write(v.data)
		file.Write(make([]byte, padded(len(v.data))-len(v.data)))
	}

	path := filepath.Join(t.TempDir(), "grid.nc")
	require.NoError(t, os.WriteFile(path, file.Bytes(), 0o600))
	return path
}

func put(b *bytes.Buffer, v any) {
	_ = binary.Write(b, binary.BigEndian, v)
}

func putName(b *bytes.Buffer, name string) {
	put(b, int32(len(name)))
	b.WriteString(name)
	b.Write(make([]byte, padded(len(name))-len(name)))
}

func padded(n int) int { return (n + 3) &^ 3 }

func doubles(vals ...float64) []byte {
	var b bytes.Buffer
	for _, v := range vals {
		put(&b, v)
	}
	return b.Bytes()
}

func floats(vals ...float32) []byte {
	var b bytes.Buffer
	for _, v := range vals {
		put(&b, v)
	}
	return b.Bytes()
}

const fill = float32(-9999.9)

// lonLatFixture is a 3 lon x 2 lat grid stored [time][lon][lat] with
// ascending latitude, the way the daily precipitation products ship.
func lonLatFixture(t *testing.T) string {
	t.Helper()
	dims := []cdfDim{{"time", 1}, {"lon", 3}, {"lat", 2}}
	// value = 10*lonIndex + latIndex, one fill cell at lon 2, lat 0.
	values := floats(0, 1, 10, 11, fill, 21)
	return writeClassic(t, dims, []cdfVar{
		{name: "lon", dims: []int32{1}, typ: ncDouble, data: doubles(0.5, 1.5, 2.5)},
		{name: "lat", dims: []int32{2}, typ: ncDouble, data: doubles(0.5, 1.5)},
		{
			name:  "precipitationCal",
			dims:  []int32{0, 1, 2},
			typ:   ncFloat,
			attrs: []cdfAttr{{"_FillValue", fill}},
			data:  values,
		},
	})
}

func TestRead_LonLatSouthUp(t *testing.T) {
	path := lonLatFixture(t)

	grid, err := NewReader().Read(path, domain.IMERGProduct("https://example.test/"))
	require.NoError(t, err)

	assert.Equal(t, raster.Shape{Rows: 2, Cols: 3}, grid.Shape)
	assert.Equal(t, raster.Affine{A: 1, C: 0, E: -1, F: 2}, grid.Transform)

	// Row 0 is the northern latitude (index 1 in the file).
	assert.InDelta(t, 1.0, grid.At(raster.Cell{Row: 0, Col: 0}), 1e-6)
	assert.InDelta(t, 11.0, grid.At(raster.Cell{Row: 0, Col: 1}), 1e-6)
	assert.InDelta(t, 21.0, grid.At(raster.Cell{Row: 0, Col: 2}), 1e-6)
	assert.InDelta(t, 0.0, grid.At(raster.Cell{Row: 1, Col: 0}), 1e-6)
	assert.InDelta(t, 10.0, grid.At(raster.Cell{Row: 1, Col: 1}), 1e-6)
	assert.True(t, math.IsNaN(grid.At(raster.Cell{Row: 1, Col: 2})))
}

func TestRead_LatLon(t *testing.T) {
	dims := []cdfDim{{"time", 1}, {"lat", 2}, {"lon", 2}}
	path := writeClassic(t, dims, []cdfVar{
		{name: "lon", dims: []int32{2}, typ: ncFloat, data: floats(10.125, 10.375)},
		{name: "lat", dims: []int32{1}, typ: ncFloat, data: floats(-5.125, -4.875)},
		{
			name:  "Tair_f_inst",
			dims:  []int32{0, 1, 2},
			typ:   ncFloat,
			attrs: []cdfAttr{{"missing_value", fill}},
			// [lat][lon], south row first.
			data: floats(290, 291, 280, fill),
		},
	})

	grid, err := NewReader().Read(path, domain.GLDASProduct("https://example.test/"))
	require.NoError(t, err)
	require.Equal(t, raster.Shape{Rows: 2, Cols: 2}, grid.Shape)

	assert.InDelta(t, 280.0, grid.At(raster.Cell{Row: 0, Col: 0}), 1e-4)
	assert.True(t, math.IsNaN(grid.At(raster.Cell{Row: 0, Col: 1})))
	assert.InDelta(t, 290.0, grid.At(raster.Cell{Row: 1, Col: 0}), 1e-4)

	center := grid.Transform.CellCenter(0, 0)
	assert.InDelta(t, 10.125, center[0], 1e-6)
	assert.InDelta(t, -4.875, center[1], 1e-6)
}

func TestRead_ShapeMismatch(t *testing.T) {
	path := lonLatFixture(t)
	p := domain.IMERGProduct("https://example.test/")
	p.Axes = domain.AxesLatLon

	_, err := NewReader().Read(path, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coordinates are")
}

func TestRead_MissingVariable(t *testing.T) {
	path := lonLatFixture(t)
	_, err := NewReader().Read(path, domain.TRMMProduct("https://example.test/"))
	require.Error(t, err)
}

func TestRead_NotNetCDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.nc4")
	require.NoError(t, os.WriteFile(path, []byte("<html>login</html>"), 0o600))
	_, err := NewReader().Read(path, domain.IMERGProduct("https://example.test/"))
	require.Error(t, err)
}

func TestTransposeAndFlip(t *testing.T) {
	// 2x3 -> 3x2
	out := transpose([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, out)

	flipRows(out, 3, 2)
	assert.Equal(t, []float64{3, 6, 2, 5, 1, 4}, out)
}
