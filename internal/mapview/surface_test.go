package mapview

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
)

type sceneLog struct {
	mu     sync.Mutex
	scenes []Scene
}

func (l *sceneLog) publish(s Scene) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scenes = append(l.scenes, s)
}

func (l *sceneLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.scenes)
}

func (l *sceneLog) last() Scene {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scenes[len(l.scenes)-1]
}

func newTestSurface(log *sceneLog) *Surface {
	return NewSurface(NewLeaflet(DefaultLeafletConfig()), Container{ID: "map-1", Publish: log.publish})
}

func TestSurface_PublishesOverlays(t *testing.T) {
	log := &sceneLog{}
	s := newTestSurface(log)

	m := s.AddMarker(geo.Point{Lat: 9, Lng: 38}, MarkerOptions{Draggable: true})
	s.AddPolygon([]geo.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.001}, {Lat: 0.001, Lng: 0.001}}, PolygonStyle)
	line := s.AddPolyline([]geo.Point{{Lat: 1, Lng: 1}}, DraftStyle)

	scene := log.last()
	assert.Equal(t, VendorLeaflet, scene.Vendor)
	require.NotNil(t, scene.Tiles)
	require.Len(t, scene.Markers, 1)
	assert.Equal(t, MarkerPin, scene.Markers[0].Kind)
	assert.True(t, scene.Markers[0].Draggable)
	require.Len(t, scene.Polygons, 1)
	assert.Greater(t, scene.Polygons[0].AreaHa, 0.0)
	require.Len(t, scene.Polylines, 1)

	m.SetPosition(geo.Point{Lat: 10, Lng: 39})
	assert.Equal(t, geo.Point{Lat: 10, Lng: 39}, log.last().Markers[0].Position)

	line.SetPoints([]geo.Point{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}})
	assert.Len(t, log.last().Polylines[0].Points, 2)

	m.Remove()
	line.Remove()
	assert.Empty(t, log.last().Markers)
	assert.Empty(t, log.last().Polylines)
	assert.Len(t, log.last().Polygons, 1)
}

func TestSurface_DisposeStopsPublishing(t *testing.T) {
	log := &sceneLog{}
	s := newTestSurface(log)
	m := s.AddMarker(geo.Point{Lat: 9, Lng: 38}, MarkerOptions{})

	s.Dispose()
	n := log.len()
	assert.True(t, log.last().Disposed)
	assert.True(t, s.Disposed())

	m.SetPosition(geo.Point{Lat: 1, Lng: 1})
	s.SetView(geo.Point{}, 3)
	s.AddMarker(geo.Point{}, MarkerOptions{})
	s.Dispose()
	assert.Equal(t, n, log.len())
}

func TestSurface_FitBounds(t *testing.T) {
	s := newTestSurface(&sceneLog{})

	s.FitBounds([]geo.Point{{Lat: 0, Lng: 0}, {Lat: 0.01, Lng: 0.01}}, 40)
	center, zoom := s.View()
	assert.Equal(t, 14, zoom)
	assert.InDelta(t, 0.005, center.Lat, 1e-9)
	assert.InDelta(t, 0.005, center.Lng, 1e-9)

	s.FitBounds([]geo.Point{{Lat: 9, Lng: 38}}, 40)
	_, zoom = s.View()
	assert.Equal(t, 19, zoom)

	s.FitBounds(nil, 40)
	_, zoom = s.View()
	assert.Equal(t, 19, zoom)
}

func TestSurface_SetViewClampsZoom(t *testing.T) {
	s := newTestSurface(&sceneLog{})
	s.SetView(geo.Point{Lat: 9, Lng: 38}, 30)
	_, zoom := s.View()
	assert.Equal(t, 19, zoom)
}

func TestSurface_ProjectRoundTrip(t *testing.T) {
	s := newTestSurface(&sceneLog{})
	s.SetView(geo.Point{Lat: 9, Lng: 38}, 15)
	p := geo.Point{Lat: 9.0101, Lng: 38.7601}
	back := s.Unproject(s.Project(p))
	assert.InDelta(t, p.Lat, back.Lat, 1e-9)
	assert.InDelta(t, p.Lng, back.Lng, 1e-9)
}

func TestSurface_SyncViewIsQuiet(t *testing.T) {
	log := &sceneLog{}
	s := newTestSurface(log)
	s.SetView(geo.Point{Lat: 9, Lng: 38}, 18)
	seq := log.last().ViewSeq
	published := log.len()
	p := geo.Point{Lat: 9.0101, Lng: 38.7601}
	at18 := s.Project(p)

	user := geo.Point{Lat: 9.02, Lng: 38.75}
	s.SyncView(user, 15)

	assert.Equal(t, published, log.len(), "nothing is published")
	center, zoom := s.View()
	assert.Equal(t, user, center)
	assert.Equal(t, 15, zoom)
	at15 := s.Project(p)
	assert.InDelta(t, at18[0]/8, at15[0], 1e-6, "projection follows the user's zoom")

	s.AddMarker(p, MarkerOptions{})
	assert.Equal(t, seq, log.last().ViewSeq, "overlay changes keep the browser's view")

	s.FitBounds([]geo.Point{p, user}, 40)
	assert.Greater(t, log.last().ViewSeq, seq)
}

func TestSurface_SyncViewClampsAndIgnoresInvalid(t *testing.T) {
	s := newTestSurface(&sceneLog{})
	s.SetView(geo.Point{Lat: 9, Lng: 38}, 10)

	s.SyncView(geo.Point{Lat: 120, Lng: 38}, 12)
	_, zoom := s.View()
	assert.Equal(t, 10, zoom)

	s.SyncView(geo.Point{Lat: 9, Lng: 38}, 40)
	_, zoom = s.View()
	assert.Equal(t, 19, zoom)
}

func TestProvider_OneMapPerContainer(t *testing.T) {
	p := NewProvider(NewLeaflet(DefaultLeafletConfig()), nil)
	ctx := context.Background()

	first, err := p.Initialize(ctx, Container{ID: "c1"})
	require.NoError(t, err)
	second, err := p.Initialize(ctx, Container{ID: "c1"})
	require.NoError(t, err)

	assert.True(t, first.Disposed())
	assert.False(t, second.Disposed())
	got, ok := p.Mounted("c1")
	require.True(t, ok)
	assert.Same(t, second, got)

	other, err := p.Initialize(ctx, Container{ID: "c2"})
	require.NoError(t, err)
	assert.False(t, other.Disposed())
	assert.False(t, second.Disposed())
}

func TestProvider_LoadFailure(t *testing.T) {
	p := NewProvider(NewGoogle(GoogleConfig{}), NewLoader(nil))
	_, err := p.Initialize(context.Background(), Container{ID: "c1"})
	var le *LoadError
	require.ErrorAs(t, err, &le)
	_, ok := p.Mounted("c1")
	assert.False(t, ok)
}

func TestVendorFor(t *testing.T) {
	v, err := VendorFor(Config{})
	require.NoError(t, err)
	assert.Equal(t, VendorLeaflet, v.Name())
	assert.NoError(t, v.Validate())

	v, err = VendorFor(Config{Vendor: VendorGoogle, Google: GoogleConfig{APIKey: "k"}})
	require.NoError(t, err)
	assert.Contains(t, v.ScriptURL(), "libraries=drawing%2Cgeometry")
	assert.Contains(t, v.ScriptURL(), "key=k")

	_, err = VendorFor(Config{Vendor: "bing"})
	assert.Error(t, err)
}
