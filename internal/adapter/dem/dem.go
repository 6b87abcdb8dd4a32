// Package dem looks up terrain elevation from ESRI ASCII grids or GeoTIFFs
// with a world file. Both must be in lon/lat.
package dem

import (
	"bufio"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/raster"
)

// Surface is an in-memory elevation grid. It implements domain.ElevationSurface.
type Surface struct {
	grid *raster.Grid
}

// ElevationAt returns the elevation of the cell containing (lon, lat).
func (s *Surface) ElevationAt(lon, lat float64) (float64, error) {
	cell, err := s.grid.Transform.Index(lon, lat)
	if err != nil {
		return 0, err
	}
	if !s.grid.Shape.Contains(cell) {
		return 0, &domain.OutOfRangeSample{Lon: lon, Lat: lat, Reason: "outside the elevation grid"}
	}
	v := s.grid.At(cell)
	if math.IsNaN(v) {
		return 0, &domain.OutOfRangeSample{Lon: lon, Lat: lat, Reason: "no elevation data"}
	}
	return v, nil
}

// Load reads a DEM, choosing the format by extension.
func Load(path string) (*Surface, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc", ".txt":
		return LoadASCII(path)
	case ".tif", ".tiff":
		return LoadGeoTIFF(path)
	default:
		return nil, fmt.Errorf("unsupported DEM format %q", filepath.Ext(path))
	}
}

// LoadASCII reads an ESRI ASCII grid.
func LoadASCII(path string) (*Surface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dem: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64)
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("dem header: missing value for %s", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("dem header %s: %w", key, err)
		}
		header[key] = v
	}

	cols, rows := int(header["ncols"]), int(header["nrows"])
	cellsize := header["cellsize"]
	if cols <= 0 || rows <= 0 || cellsize <= 0 {
		return nil, fmt.Errorf("dem header: ncols, nrows and cellsize are required")
	}
	west, south := header["xllcorner"], header["yllcorner"]
	if v, ok := header["xllcenter"]; ok {
		west = v - cellsize/2
	}
	if v, ok := header["yllcenter"]; ok {
		south = v - cellsize/2
	}
	nodata, hasNodata := header["nodata_value"]

	data := make([]float64, 0, rows*cols)
	parse := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("dem value %q: %w", tok, err)
		}
		if hasNodata && v == nodata {
			v = math.NaN()
		}
		data = append(data, v)
		return nil
	}
	if first != "" {
		if err := parse(first); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dem: %w", err)
	}

	t := raster.BuildAffine(west, south+float64(rows)*cellsize, cellsize, -cellsize)
	g, err := raster.NewGrid(raster.Shape{Rows: rows, Cols: cols}, t, data)
	if err != nil {
		return nil, fmt.Errorf("dem: %w", err)
	}
	return &Surface{grid: g}, nil
}

// LoadGeoTIFF reads a single-band 8- or 16-bit GeoTIFF, georeferenced by the
// world file beside it (.tfw or .tifw). 16-bit samples are signed.
func LoadGeoTIFF(path string) (*Surface, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dem: %w", err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode dem: %w", err)
	}
	t, err := readWorldFile(path)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	data := make([]float64, 0, rows*cols)
	switch px := img.(type) {
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				data = append(data, float64(int16(px.Gray16At(x, y).Y)))
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				data = append(data, float64(px.GrayAt(x, y).Y))
			}
		}
	default:
		return nil, fmt.Errorf("dem: unsupported pixel layout %T", img)
	}

	g, err := raster.NewGrid(raster.Shape{Rows: rows, Cols: cols}, t, data)
	if err != nil {
		return nil, fmt.Errorf("dem: %w", err)
	}
	return &Surface{grid: g}, nil
}

// readWorldFile parses the six-line world file, whose origin is the centre
// of the upper-left pixel.
func readWorldFile(tiffPath string) (raster.Affine, error) {
	stem := strings.TrimSuffix(tiffPath, filepath.Ext(tiffPath))
	var data []byte
	var err error
	for _, ext := range []string{".tfw", ".tifw", ".wld"} {
		data, err = os.ReadFile(stem + ext)
		if err == nil {
			break
		}
	}
	if err != nil {
		return raster.Affine{}, fmt.Errorf("dem world file: %w", err)
	}

	fields := strings.Fields(string(data))
	if len(fields) != 6 {
		return raster.Affine{}, fmt.Errorf("dem world file: want 6 values, got %d", len(fields))
	}
	var v [6]float64
	for i, s := range fields {
		v[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return raster.Affine{}, fmt.Errorf("dem world file line %d: %w", i+1, err)
		}
	}
	a, d, b, e, c, f := v[0], v[1], v[2], v[3], v[4], v[5]
	centre := raster.Affine{A: a, B: b, C: c, D: d, E: e, F: f}
	return centre.Translate(-0.5, -0.5), nil
}
