package crisis

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Point converts the location to an orb point (longitude first).
func (l Location) Point() orb.Point {
	return orb.Point{l.Longitude, l.Latitude}
}

// DistanceKm returns the great-circle distance between two locations in kilometers.
func DistanceKm(a, b Location) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point()) / 1000
}

// WithinRadius reports whether p lies within radiusKm of center.
// A bounding box rejects far points before the haversine distance is computed.
func WithinRadius(center, p Location, radiusKm float64) bool {
	if radiusKm <= 0 {
		return false
	}

	bound := geo.NewBoundAroundPoint(center.Point(), radiusKm*1000)
	if !bound.Contains(p.Point()) {
		return false
	}

	return DistanceKm(center, p) <= radiusKm
}
