package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestProject_Origin(t *testing.T) {
	px := Project(Point{}, 0)
	assert.InDelta(t, 128, px[0], 1e-9)
	assert.InDelta(t, 128, px[1], 1e-9)

	px = Project(Point{}, 3)
	assert.InDelta(t, 1024, px[0], 1e-9)
	assert.InDelta(t, 1024, px[1], 1e-9)
}

func TestProject_NorthIsUp(t *testing.T) {
	south := Project(Point{Lat: 9.0, Lng: 38.76}, 15)
	north := Project(Point{Lat: 9.1, Lng: 38.76}, 15)
	assert.Less(t, north[1], south[1])
}

func TestUnproject_Inverse(t *testing.T) {
	for _, p := range []Point{{9.010793, 38.761252}, {-33.9, 18.4}, {60, -120}} {
		back := Unproject(Project(p, 15), 15)
		assert.InDelta(t, p.Lat, back.Lat, 1e-9)
		assert.InDelta(t, p.Lng, back.Lng, 1e-9)
	}
}

var square = []orb.Point{{0, 0}, {0, 10}, {10, 10}, {10, 0}}

func TestInsertionIndex_SquareEdgeMidpoint(t *testing.T) {
	idx, ok := InsertionIndex(square, orb.Point{1, 5}, 10)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestInsertionIndex_ClosingEdge(t *testing.T) {
	idx, ok := InsertionIndex(square, orb.Point{5, -1}, 10)
	assert.True(t, ok)
	assert.Equal(t, 4, idx)
}

func TestInsertionIndex_BeyondThreshold(t *testing.T) {
	big := []orb.Point{{0, 0}, {0, 100}, {100, 100}, {100, 0}}
	_, ok := InsertionIndex(big, orb.Point{50, 50}, 10)
	assert.False(t, ok)
}

func TestNearestEdge_TieKeepsLowestIndex(t *testing.T) {
	// (0,0) is the shared endpoint of edge 0 and edge 3.
	edge, dist := NearestEdge(square, orb.Point{0, 0})
	assert.Equal(t, 0, edge)
	assert.Zero(t, dist)
}

func TestNearestEdge_TooFewPoints(t *testing.T) {
	edge, _ := NearestEdge([]orb.Point{{1, 1}}, orb.Point{1, 1})
	assert.Equal(t, -1, edge)
}

func TestAreaHectares(t *testing.T) {
	assert.Zero(t, AreaHectares(farm[:2]))

	// Roughly 0.001° x 0.001° near the equator is ~1.23 ha.
	sq := []Point{{0, 0}, {0, 0.001}, {0.001, 0.001}, {0.001, 0}}
	assert.InDelta(t, 1.23, AreaHectares(sq), 0.05)
}
