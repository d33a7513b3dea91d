package binding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-farmgeo/internal/db"
	"github.com/joeblew999/plat-farmgeo/internal/editor"
	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
	"github.com/joeblew999/plat-farmgeo/internal/service"
)

type memDoc struct {
	id string

	mu     sync.Mutex
	values map[string]string
	sets   []string
}

func newMemDoc(id string, values map[string]string) *memDoc {
	if values == nil {
		values = map[string]string{}
	}
	return &memDoc{id: id, values: values}
}

func (d *memDoc) ID() string { return d.id }

func (d *memDoc) Get(ctx context.Context, field string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.values[field], nil
}

func (d *memDoc) Set(ctx context.Context, field, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[field] = value
	d.sets = append(d.sets, field+"="+value)
	return nil
}

// poke changes a value behind the binding's back.
func (d *memDoc) poke(field, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[field] = value
}

func (d *memDoc) setCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sets)
}

var (
	pointField   = Field{Name: service.FieldCenterPoint, Kind: editor.KindPoint}
	polygonField = Field{Name: service.FieldPolygon, Kind: editor.KindPolygon, Fallback: service.FieldCenterPoint}

	square = []geo.Point{
		{Lat: 9.0100, Lng: 38.7600},
		{Lat: 9.0110, Lng: 38.7600},
		{Lat: 9.0110, Lng: 38.7610},
		{Lat: 9.0100, Lng: 38.7610},
	}
)

func newBinding(provider mapview.Provider) *Binding {
	b := New(func(key Key, f Field) editor.Env {
		return editor.Env{
			Provider:  provider,
			Container: mapview.Container{ID: key.DocID + "-" + key.Field},
			Settings:  editor.DefaultSettings(),
		}
	})
	b.Register(pointField)
	b.Register(polygonField)
	return b
}

func leaflet() *mapview.VendorProvider {
	return mapview.NewProvider(mapview.NewLeaflet(mapview.DefaultLeafletConfig()), nil)
}

func TestMount_ActivatesAndRegisters(t *testing.T) {
	b := newBinding(leaflet())
	doc := newMemDoc("farm-1", map[string]string{service.FieldPolygon: geo.EncodePolygon(square)})

	ed, err := b.Mount(context.Background(), doc, service.FieldPolygon)
	require.NoError(t, err)
	assert.Equal(t, editor.KindPolygon, ed.Kind())
	assert.Equal(t, geo.EncodePolygon(square), ed.Value())

	got, ok := b.Session(Key{DocID: "farm-1", Field: service.FieldPolygon})
	require.True(t, ok)
	assert.Same(t, ed, got)
}

func TestMount_ReplacesPreviousSession(t *testing.T) {
	b := newBinding(leaflet())
	doc := newMemDoc("farm-1", nil)
	ctx := context.Background()

	first, err := b.Mount(ctx, doc, service.FieldCenterPoint)
	require.NoError(t, err)
	firstMap := first.Map()

	second, err := b.Mount(ctx, doc, service.FieldCenterPoint)
	require.NoError(t, err)

	assert.True(t, firstMap.Disposed())
	assert.False(t, second.Map().Disposed())
	got, _ := b.Session(Key{DocID: "farm-1", Field: service.FieldCenterPoint})
	assert.Same(t, second, got)
}

func TestMount_UnregisteredField(t *testing.T) {
	b := newBinding(leaflet())
	_, err := b.Mount(context.Background(), newMemDoc("farm-1", nil), "name")
	assert.True(t, eris.Is(err, ErrNotGeoField))
}

func TestMount_LoadFailureLeavesNoSession(t *testing.T) {
	google := mapview.NewProvider(mapview.NewGoogle(mapview.GoogleConfig{}), mapview.NewLoader(nil))
	b := newBinding(google)

	_, err := b.Mount(context.Background(), newMemDoc("farm-1", nil), service.FieldPolygon)
	var le *mapview.LoadError
	require.ErrorAs(t, err, &le)
	_, ok := b.Session(Key{DocID: "farm-1", Field: service.FieldPolygon})
	assert.False(t, ok)
}

func TestMount_PolygonFallsBackToCenterPoint(t *testing.T) {
	b := newBinding(leaflet())
	doc := newMemDoc("farm-1", map[string]string{service.FieldCenterPoint: `{"lat":7.5,"lng":39.2}`})

	ed, err := b.Mount(context.Background(), doc, service.FieldPolygon)
	require.NoError(t, err)
	center, _ := ed.Map().View()
	assert.Equal(t, geo.Point{Lat: 7.5, Lng: 39.2}, center)
}

func TestWrite_CommitsThroughDocument(t *testing.T) {
	b := newBinding(leaflet())
	doc := newMemDoc("farm-1", nil)
	ctx := context.Background()

	ed, err := b.Mount(ctx, doc, service.FieldCenterPoint)
	require.NoError(t, err)
	p := geo.Point{Lat: 9.03, Lng: 38.74}
	require.NoError(t, ed.(*editor.PointEditor).Click(ctx, p, editor.ButtonPrimary))

	v, _ := doc.Get(ctx, service.FieldCenterPoint)
	assert.Equal(t, geo.EncodePoint(&p), v)
	assert.Equal(t, 1, doc.setCount())
}

func TestWrite_SuppressedWhenDocumentAlreadyHoldsValue(t *testing.T) {
	b := newBinding(leaflet())
	doc := newMemDoc("farm-1", nil)
	ctx := context.Background()

	ed, err := b.Mount(ctx, doc, service.FieldCenterPoint)
	require.NoError(t, err)

	p := geo.Point{Lat: 9.03, Lng: 38.74}
	doc.poke(service.FieldCenterPoint, geo.EncodePoint(&p))
	require.NoError(t, ed.(*editor.PointEditor).Click(ctx, p, editor.ButtonPrimary))

	assert.Zero(t, doc.setCount())
}

func TestChanged_PushesWithoutWriteBack(t *testing.T) {
	b := newBinding(leaflet())
	doc := newMemDoc("farm-1", map[string]string{service.FieldPolygon: geo.EncodePolygon(square)})
	ctx := context.Background()

	ed, err := b.Mount(ctx, doc, service.FieldPolygon)
	require.NoError(t, err)

	moved := append([]geo.Point{{Lat: 9.0095, Lng: 38.7595}}, square[1:]...)
	value := geo.EncodePolygon(moved)
	doc.poke(service.FieldPolygon, value)
	b.Changed(ctx, "farm-1", service.FieldPolygon, value)

	assert.Equal(t, value, ed.Value())
	assert.Equal(t, moved, ed.Map().Scene().Polygons[0].Points)
	assert.Zero(t, doc.setCount())
}

func TestChanged_ToleratesMissingSessionAndForeignFields(t *testing.T) {
	b := newBinding(leaflet())
	ctx := context.Background()

	assert.NotPanics(t, func() {
		b.Changed(ctx, "farm-9", service.FieldPolygon, geo.EncodePolygon(square))
		b.Changed(ctx, "farm-9", "name", "x")
	})
}

func TestUnmount_DisposesDocumentSessions(t *testing.T) {
	b := newBinding(leaflet())
	ctx := context.Background()
	doc1 := newMemDoc("farm-1", nil)
	doc2 := newMemDoc("farm-2", nil)

	p1, err := b.Mount(ctx, doc1, service.FieldCenterPoint)
	require.NoError(t, err)
	g1, err := b.Mount(ctx, doc1, service.FieldPolygon)
	require.NoError(t, err)
	other, err := b.Mount(ctx, doc2, service.FieldPolygon)
	require.NoError(t, err)
	m1, m2 := p1.Map(), g1.Map()

	b.Unmount("farm-1")

	assert.True(t, m1.Disposed())
	assert.True(t, m2.Disposed())
	assert.False(t, other.Map().Disposed())
	_, ok := b.Session(Key{DocID: "farm-1", Field: service.FieldPolygon})
	assert.False(t, ok)

	b.Close()
	_, ok = b.Session(Key{DocID: "farm-2", Field: service.FieldPolygon})
	assert.False(t, ok)
}

func TestRelease_OnlyCurrentSession(t *testing.T) {
	b := newBinding(leaflet())
	ctx := context.Background()
	doc := newMemDoc("farm-1", nil)

	first, err := b.Mount(ctx, doc, service.FieldCenterPoint)
	require.NoError(t, err)
	second, err := b.Mount(ctx, doc, service.FieldCenterPoint)
	require.NoError(t, err)

	key := Key{DocID: "farm-1", Field: service.FieldCenterPoint}
	assert.False(t, b.Release(key, first))
	assert.True(t, b.Release(key, second))
}

func TestWatch_FarmServiceRoundTrip(t *testing.T) {
	conn, err := db.Open("")
	require.NoError(t, err)
	defer conn.Close()
	farms := service.NewFarmService(conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f, err := farms.Create(ctx, service.Farm{Name: "Sebeta"})
	require.NoError(t, err)

	b := newBinding(leaflet())
	feed := farms.WatchFields()
	defer feed.Close()
	go b.Watch(ctx, feed)

	ed, err := b.Mount(ctx, farms.Document(f.ID), service.FieldPolygon)
	require.NoError(t, err)
	pe := ed.(*editor.PolygonEditor)

	// An editor commit reaches the record once; its echo changes nothing.
	for _, p := range square {
		require.NoError(t, pe.Click(ctx, p, editor.ButtonPrimary))
	}
	require.NoError(t, pe.FinishDrawing(ctx))
	stored, err := farms.GetField(ctx, f.ID, service.FieldPolygon)
	require.NoError(t, err)
	assert.Equal(t, geo.EncodePolygon(square), stored)

	// A programmatic set reaches the editor.
	tri := square[:3]
	require.NoError(t, farms.SetField(ctx, f.ID, service.FieldPolygon, geo.EncodePolygon(tri)))
	require.Eventually(t, func() bool {
		return ed.Value() == geo.EncodePolygon(tri)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, tri, pe.Vertices())
}
