package raster

import (
	"sort"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// ConvexHull returns the closed counter-clockwise hull ring of points
// (Andrew's monotone chain). Fewer than three distinct points give a
// degenerate ring.
func ConvexHull(points []orb.Point) orb.Ring {
	pts := make([]orb.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})
	pts = dedupe(pts)
	if len(pts) < 3 {
		ring := orb.Ring(pts)
		if len(pts) > 0 {
			ring = append(ring, pts[0])
		}
		return ring
	}

	hull := make([]orb.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// The last point repeats the first, which closes the ring.
	return orb.Ring(hull)
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

func dedupe(sorted []orb.Point) []orb.Point {
	out := sorted[:0]
	for i, p := range sorted {
		if i > 0 && p == sorted[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ZonalPolygon reduces a basin geometry to the single polygon weights are
// computed against. Multipolygons are replaced by the convex hull of all their
// outer rings, which overstates coverage near concave gaps between parts.
func ZonalPolygon(g orb.Geometry) (orb.Polygon, error) {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) < 3 {
			return nil, &domain.GeometryError{Reason: "empty polygon"}
		}
		return g, nil
	case orb.MultiPolygon:
		var pts []orb.Point
		for _, p := range g {
			if len(p) > 0 {
				pts = append(pts, p[0]...)
			}
		}
		if len(pts) < 3 {
			return nil, &domain.GeometryError{Reason: "empty multipolygon"}
		}
		return orb.Polygon{ConvexHull(pts)}, nil
	case nil:
		return nil, &domain.GeometryError{Reason: "missing geometry"}
	default:
		return nil, &domain.GeometryError{Reason: "unsupported geometry " + g.GeoJSONType()}
	}
}
