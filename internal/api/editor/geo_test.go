package editor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-farmgeo/internal/binding"
	"github.com/joeblew999/plat-farmgeo/internal/db"
	farmeditor "github.com/joeblew999/plat-farmgeo/internal/editor"
	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
	"github.com/joeblew999/plat-farmgeo/internal/service"
	"github.com/joeblew999/plat-farmgeo/internal/templates"
)

var triangle = []geo.Point{
	{Lat: 9.0100, Lng: 38.7600},
	{Lat: 9.0110, Lng: 38.7600},
	{Lat: 9.0110, Lng: 38.7610},
}

type fixture struct {
	api   humatest.TestAPI
	h     *GeoHandler
	farms *service.FarmService
	farm  service.Farm
}

func newFixture(t *testing.T, polygon string) *fixture {
	t.Helper()
	conn, err := db.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	farms := service.NewFarmService(conn)

	renderer, err := templates.New("")
	require.NoError(t, err)
	h := NewGeoHandler(GeoConfig{
		Farms:    farms,
		Provider: mapview.NewProvider(mapview.NewLeaflet(mapview.DefaultLeafletConfig()), nil),
		Settings: farmeditor.DefaultSettings(),
		Renderer: renderer,
		Width:    600,
		Height:   400,
	})
	t.Cleanup(h.Close)

	farm, err := farms.Create(context.Background(), service.Farm{Name: "Sebeta", Polygon: polygon})
	require.NoError(t, err)

	_, api := humatest.New(t)
	h.RegisterRoutes(api)
	return &fixture{api: api, h: h, farms: farms, farm: farm}
}

// mount does what the mount stream does before it starts writing.
func (f *fixture) mount(t *testing.T, field string) (*outbox, farmeditor.Editor) {
	t.Helper()
	o := f.h.open(binding.Key{DocID: f.farm.ID, Field: field}, 600, 400)
	ed, err := f.h.Binding().Mount(context.Background(), f.farms.Document(f.farm.ID), field)
	require.NoError(t, err)
	return o, ed
}

func (f *fixture) path(field, gesture string) string {
	return Base(f.farm.ID, field) + "/" + gesture
}

func TestGestures_DrawBoundary(t *testing.T) {
	f := newFixture(t, "")
	o, ed := f.mount(t, service.FieldPolygon)
	assert.Equal(t, farmeditor.ModeDrawing, ed.(*farmeditor.PolygonEditor).Mode())

	for _, p := range triangle {
		resp := f.api.Post(f.path(service.FieldPolygon, "click"), map[string]any{"lat": p.Lat, "lng": p.Lng})
		require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())
	}
	resp := f.api.Post(f.path(service.FieldPolygon, "finish"))
	require.Equal(t, http.StatusNoContent, resp.Code, resp.Body.String())

	stored, err := f.farms.GetField(context.Background(), f.farm.ID, service.FieldPolygon)
	require.NoError(t, err)
	assert.Equal(t, geo.EncodePolygon(triangle), stored)

	scene, _, _ := o.drain()
	require.NotNil(t, scene)
	require.Len(t, scene.Polygons, 1)
	assert.Equal(t, triangle, scene.Polygons[0].Points)
}

func TestGestures_EditVertices(t *testing.T) {
	f := newFixture(t, geo.EncodePolygon(append(triangle, geo.Point{Lat: 9.0100, Lng: 38.7610})))
	_, ed := f.mount(t, service.FieldPolygon)
	pe := ed.(*farmeditor.PolygonEditor)

	resp := f.api.Post(f.path(service.FieldPolygon, "toggle-edit"))
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, farmeditor.ModeEditing, pe.Mode())

	resp = f.api.Post(f.path(service.FieldPolygon, "handle/delete"), map[string]any{"index": 9})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = f.api.Post(f.path(service.FieldPolygon, "handle/delete"), map[string]any{"index": 3})
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Len(t, pe.Vertices(), 3)

	moved := geo.Point{Lat: 9.0095, Lng: 38.7595}
	resp = f.api.Post(f.path(service.FieldPolygon, "handle/drag"), map[string]any{"index": 0, "lat": moved.Lat, "lng": moved.Lng})
	require.Equal(t, http.StatusNoContent, resp.Code)
	resp = f.api.Post(f.path(service.FieldPolygon, "handle/drop"), map[string]any{"index": 0, "lat": moved.Lat, "lng": moved.Lng})
	require.Equal(t, http.StatusNoContent, resp.Code)

	stored, err := f.farms.GetField(context.Background(), f.farm.ID, service.FieldPolygon)
	require.NoError(t, err)
	assert.Equal(t, geo.EncodePolygon([]geo.Point{moved, triangle[1], triangle[2]}), stored)

	resp = f.api.Post(f.path(service.FieldPolygon, "clear"))
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, farmeditor.ModeDrawing, pe.Mode())
}

func TestGestures_ClickCarriesPageView(t *testing.T) {
	quad := append(append([]geo.Point{}, triangle...), geo.Point{Lat: 9.0100, Lng: 38.7610})
	f := newFixture(t, geo.EncodePolygon(quad))
	_, ed := f.mount(t, service.FieldPolygon)
	pe := ed.(*farmeditor.PolygonEditor)

	resp := f.api.Post(f.path(service.FieldPolygon, "toggle-edit"))
	require.Equal(t, http.StatusNoContent, resp.Code)

	center, fitted := ed.Map().View()
	zoom := float64(fitted - 3)
	a, b := geo.Project(quad[0], zoom), geo.Project(quad[1], zoom)
	click := geo.Unproject(orb.Point{(a[0]+b[0])/2 - 5, (a[1] + b[1]) / 2}, zoom)

	// Measured at the server's zoom the click is 40px off the edge.
	resp = f.api.Post(f.path(service.FieldPolygon, "click"), map[string]any{"lat": click.Lat, "lng": click.Lng})
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Len(t, pe.Vertices(), 4)

	view := map[string]any{"lat": center.Lat, "lng": center.Lng, "zoom": zoom}
	resp = f.api.Post(f.path(service.FieldPolygon, "click"), map[string]any{"lat": click.Lat, "lng": click.Lng, "view": view})
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Len(t, pe.Vertices(), 5)
	assert.Equal(t, click, pe.Vertices()[1])

	resp = f.api.Post(f.path(service.FieldPolygon, "view"), view)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	_, z := ed.Map().View()
	assert.Equal(t, fitted-3, z)
}

func TestGestures_PointMarker(t *testing.T) {
	f := newFixture(t, "")
	_, ed := f.mount(t, service.FieldCenterPoint)

	p := geo.Point{Lat: 9.03, Lng: 38.74}
	resp := f.api.Post(f.path(service.FieldCenterPoint, "marker/drop"), map[string]any{"lat": p.Lat, "lng": p.Lng})
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, geo.EncodePoint(&p), ed.Value())

	// Boundary only gestures are refused on a point field.
	resp = f.api.Post(f.path(service.FieldCenterPoint, "draw"))
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestGestures_NoSession(t *testing.T) {
	f := newFixture(t, "")
	resp := f.api.Post(f.path(service.FieldPolygon, "click"), map[string]any{"lat": 9.0, "lng": 38.0})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = f.api.Post(f.path(service.FieldPolygon, "locate/fix"), map[string]any{"id": "loc-1", "lat": 9.0, "lng": 38.0})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = f.api.Post(f.path(service.FieldPolygon, "view"), map[string]any{"lat": 9.0, "lng": 38.0, "zoom": 12})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestLocate_RoundTripThroughPage(t *testing.T) {
	f := newFixture(t, "")
	o, ed := f.mount(t, service.FieldCenterPoint)
	o.drain()

	resp := f.api.Post(f.path(service.FieldCenterPoint, "locate"))
	require.Equal(t, http.StatusNoContent, resp.Code)

	var req locateRequest
	require.Eventually(t, func() bool {
		_, _, locates := o.drain()
		if len(locates) == 0 {
			return false
		}
		req = locates[0]
		return true
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, o.container, req.Container)
	assert.True(t, req.EnableHighAccuracy)

	here := geo.Point{Lat: 8.99, Lng: 38.79}
	resp = f.api.Post(f.path(service.FieldCenterPoint, "locate/fix"), map[string]any{"id": req.ID, "lat": here.Lat, "lng": here.Lng, "accuracy": 12})
	require.Equal(t, http.StatusNoContent, resp.Code)

	require.Eventually(t, func() bool {
		return ed.Value() == geo.EncodePoint(&here)
	}, time.Second, 5*time.Millisecond)

	resp = f.api.Post(f.path(service.FieldCenterPoint, "locate/fix"), map[string]any{"id": req.ID, "lat": here.Lat, "lng": here.Lng})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestLocate_PageReportsDenied(t *testing.T) {
	f := newFixture(t, "")
	o, ed := f.mount(t, service.FieldPolygon)
	o.drain()

	resp := f.api.Post(f.path(service.FieldPolygon, "locate"))
	require.Equal(t, http.StatusNoContent, resp.Code)

	var id string
	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		if len(o.locates) == 0 {
			return false
		}
		id = o.locates[0].ID
		return true
	}, time.Second, 5*time.Millisecond)

	resp = f.api.Post(f.path(service.FieldPolygon, "locate/error"), map[string]any{"id": id, "code": 1, "message": "User denied Geolocation"})
	require.Equal(t, http.StatusNoContent, resp.Code)

	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.notices) > 0
	}, time.Second, 5*time.Millisecond)
	_, notices, _ := o.drain()
	assert.Equal(t, farmeditor.LevelError, notices[0].Level)
	assert.Equal(t, geo.Empty, ed.Value())
}

func TestUnmount(t *testing.T) {
	f := newFixture(t, "")
	o, ed := f.mount(t, service.FieldPolygon)

	resp := f.api.Post(f.path(service.FieldPolygon, "unmount"))
	require.Equal(t, http.StatusNoContent, resp.Code)

	assert.True(t, ed.Map().Disposed())
	_, ok := f.h.Binding().Session(binding.Key{DocID: f.farm.ID, Field: service.FieldPolygon})
	assert.False(t, ok)
	select {
	case <-o.done:
	default:
		t.Fatal("outbox should be closed")
	}
}

func TestWatch_ProgrammaticSetReachesEditor(t *testing.T) {
	f := newFixture(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.h.Watch(ctx)
	_, ed := f.mount(t, service.FieldPolygon)

	// Let Watch subscribe before publishing.
	require.Eventually(t, func() bool {
		if err := f.farms.SetField(ctx, f.farm.ID, service.FieldPolygon, geo.EncodePolygon(triangle)); err != nil {
			return false
		}
		return ed.Value() == geo.EncodePolygon(triangle)
	}, time.Second, 20*time.Millisecond)
	assert.Equal(t, farmeditor.ModeViewing, ed.(*farmeditor.PolygonEditor).Mode())
}

func TestOutbox(t *testing.T) {
	o := newOutbox("c", 600, 300)
	o.publish(mapview.Scene{Version: 2})
	o.publish(mapview.Scene{Version: 1})
	o.Notify(farmeditor.LevelInfo, "a")
	o.Notify(farmeditor.LevelWarn, "b")

	scene, notices, _ := o.drain()
	require.NotNil(t, scene)
	assert.Equal(t, 2, scene.Version)
	assert.Equal(t, []notice{{farmeditor.LevelInfo, "a"}, {farmeditor.LevelWarn, "b"}}, notices)

	o.publish(mapview.Scene{Version: 1})
	scene, _, _ = o.drain()
	assert.Nil(t, scene)

	o.close()
	o.close()
	assert.ErrorIs(t, o.requestFix("loc-1", farmeditor.DefaultSettings().Locate), errClosed)
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "geofarmab12farmpolygon", signalName(Slot("ab-12", service.FieldPolygon)))
}
