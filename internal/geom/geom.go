// Package geom implements the point-location primitives backing
// classification queries: a ray-casting point-in-ring test and a
// point-in-polygon test over GeoJSON Polygon/MultiPolygon geometries.
//
// Containment is advisory rather than authoritative, so every contract
// boundary favors silent exclusion: degenerate rings, nil geometries
// and unsupported geometry types all report "not contained" instead of
// returning an error.
package geom

import (
	"github.com/paulmach/orb"
)

// PointInRing reports whether p lies inside the closed ring using the
// classic even-odd crossing-number test. Behavior for points exactly on
// a ring edge or vertex is implementation-defined: the parity formula
// does not special-case boundary coincidence, and callers must not rely
// on either outcome there.
//
// Rings with fewer than 3 vertices never contain anything.
func PointInRing(p orb.Point, ring orb.Ring) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	x, y := p[0], p[1]
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		// Edge straddles the point's latitude and the point is left of
		// the crossing. The guard guarantees yi != yj, so the division
		// is safe.
		if ((yi > y) != (yj > y)) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// PointInPolygon reports whether p lies inside g. For Polygon only the
// outer ring is tested: interior holes are NOT subtracted, so a point
// inside a hole still reports as contained. Downstream display logic
// depends on that approximation, so it is contractual here. For
// MultiPolygon the parts are unioned (true if any part's outer ring
// contains the point). Any other geometry type, including nil, reports
// false.
func PointInPolygon(p orb.Point, g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.Polygon:
		if len(t) == 0 {
			return false
		}
		return PointInRing(p, t[0])
	case orb.MultiPolygon:
		for _, poly := range t {
			if len(poly) == 0 {
				continue
			}
			if PointInRing(p, poly[0]) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
