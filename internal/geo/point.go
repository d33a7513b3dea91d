// Package geo holds farm geometry and the codec for persisted geolocation
// field values.
//
// Two persisted shapes exist:
//
//	farm_center_point  {"lat":9.01,"lng":38.76}
//	farm_polygon       {"type":"Polygon","coordinates":[[[lng,lat],...,[lng,lat]]]}
//
// In memory a polygon is a plain vertex slice without the closing duplicate;
// the ring is closed only when encoding.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Point is a WGS84 position.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within lat [-90,90] and lng [-180,180].
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Orb returns the point as an orb.Point ([lng, lat]).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// FromOrb converts an orb.Point ([lng, lat]) to a Point.
func FromOrb(o orb.Point) Point {
	return Point{Lat: o.Lat(), Lng: o.Lon()}
}

// Ring returns vertices as a closed orb.Ring.
func Ring(vertices []Point) orb.Ring {
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, v.Orb())
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// Bounds returns the bounding box of the points. ok is false for no points.
func Bounds(points []Point) (orb.Bound, bool) {
	if len(points) == 0 {
		return orb.Bound{}, false
	}
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = p.Orb()
	}
	return mp.Bound(), true
}
