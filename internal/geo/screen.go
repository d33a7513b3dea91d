package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// TileSize is the edge of a map tile in screen pixels.
const TileSize = 256

// MaxMercatorLat is the latitude at which Web Mercator is cut off.
const MaxMercatorLat = 85.05112878

// halfWorld is half the Web Mercator world width in meters.
const halfWorld = math.Pi * orb.EarthRadius

// Project returns the world pixel position of p at zoom, origin top-left,
// as both map vendors lay out their tiles.
func Project(p Point, zoom float64) orb.Point {
	lat := math.Max(-MaxMercatorLat, math.Min(MaxMercatorLat, p.Lat))
	m := project.Point(orb.Point{p.Lng, lat}, project.WGS84.ToMercator)
	scale := TileSize * math.Exp2(zoom)
	return orb.Point{
		(m[0] + halfWorld) / (2 * halfWorld) * scale,
		(halfWorld - m[1]) / (2 * halfWorld) * scale,
	}
}

// Unproject is the inverse of Project.
func Unproject(px orb.Point, zoom float64) Point {
	scale := TileSize * math.Exp2(zoom)
	m := orb.Point{
		px[0]/scale*2*halfWorld - halfWorld,
		halfWorld - px[1]/scale*2*halfWorld,
	}
	return FromOrb(project.Point(m, project.Mercator.ToWGS84))
}

// NearestEdge returns the ring edge closest to px and its distance. Edge i
// runs from ring[i] to ring[(i+1)%len(ring)]. On ties the lowest index wins.
// It returns -1 for rings with fewer than two points.
func NearestEdge(ring []orb.Point, px orb.Point) (int, float64) {
	n := len(ring)
	if n < 2 {
		return -1, math.Inf(1)
	}
	best, bestDist := -1, math.Inf(1)
	for i := 0; i < n; i++ {
		d := planar.DistanceFromSegment(ring[i], ring[(i+1)%n], px)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// InsertionIndex returns where a vertex clicked at px goes: right after the
// start of the nearest edge, provided that edge is within threshold pixels.
func InsertionIndex(ring []orb.Point, px orb.Point, threshold float64) (int, bool) {
	edge, dist := NearestEdge(ring, px)
	if edge < 0 || dist > threshold {
		return 0, false
	}
	return edge + 1, true
}

// AreaHectares returns the geodesic area enclosed by vertices.
func AreaHectares(vertices []Point) float64 {
	vertices = Normalize(vertices)
	if len(vertices) < 3 {
		return 0
	}
	return math.Abs(orbgeo.Area(orb.Polygon{Ring(vertices)})) / 10000
}
