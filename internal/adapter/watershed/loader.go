// Package watershed loads basin polygons from ESRI Shapefiles and GeoJSON.
// Coordinates are taken as lon/lat as stored.
package watershed

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// Load reads a watershed file, choosing the format by extension.
func Load(path string) (*domain.Watershed, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path)
	case ".geojson", ".json":
		return LoadGeoJSON(path)
	default:
		return nil, fmt.Errorf("unsupported watershed format %q", filepath.Ext(path))
	}
}

// LoadShapefile reads every polygon record of a shapefile in file order.
func LoadShapefile(path string) (*domain.Watershed, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	ws := &domain.Watershed{}
	for r.Next() {
		n, shape := r.Shape()
		var parts []int32
		var points []shp.Point
		switch s := shape.(type) {
		case *shp.Polygon:
			parts, points = s.Parts, s.Points
		case *shp.PolygonZ:
			parts, points = s.Parts, s.Points
		case *shp.PolygonM:
			parts, points = s.Parts, s.Points
		case *shp.Null:
			continue
		default:
			return nil, &domain.GeometryError{Reason: fmt.Sprintf("record %d is %T, not a polygon", n, shape)}
		}
		g, err := assemble(parts, points)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		ws.Basins = append(ws.Basins, domain.Basin{ID: len(ws.Basins), Geometry: g})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}
	if len(ws.Basins) == 0 {
		return nil, &domain.GeometryError{Reason: "watershed has no polygons"}
	}
	return ws, nil
}

// assemble turns shapefile rings into polygons. Clockwise rings start a new
// polygon; counter-clockwise rings are holes of the polygon before them.
func assemble(parts []int32, points []shp.Point) (orb.Geometry, error) {
	var mp orb.MultiPolygon
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || end-start < 4 {
			return nil, &domain.GeometryError{Reason: "degenerate ring"}
		}
		ring := make(orb.Ring, 0, end-start)
		for _, p := range points[start:end] {
			ring = append(ring, orb.Point{p.X, p.Y})
		}
		if len(mp) == 0 || ring.Orientation() == orb.CW {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		mp[len(mp)-1] = append(mp[len(mp)-1], ring)
	}
	return simplify(mp)
}

// LoadGeoJSON reads the polygon features of a FeatureCollection in order.
func LoadGeoJSON(path string) (*domain.Watershed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	ws := &domain.Watershed{}
	for i, f := range fc.Features {
		var g orb.Geometry
		switch geom := f.Geometry.(type) {
		case orb.Polygon:
			g = geom
		case orb.MultiPolygon:
			g, err = simplify(geom)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
		default:
			return nil, &domain.GeometryError{Reason: fmt.Sprintf("feature %d is not a polygon", i)}
		}
		ws.Basins = append(ws.Basins, domain.Basin{ID: len(ws.Basins), Geometry: g})
	}
	if len(ws.Basins) == 0 {
		return nil, &domain.GeometryError{Reason: "watershed has no polygons"}
	}
	return ws, nil
}

// simplify unwraps single-part multipolygons.
func simplify(mp orb.MultiPolygon) (orb.Geometry, error) {
	switch len(mp) {
	case 0:
		return nil, &domain.GeometryError{Reason: "empty multipolygon"}
	case 1:
		return mp[0], nil
	default:
		return mp, nil
	}
}
