package editor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/geolocate"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
)

type recordingWriter struct {
	mu     sync.Mutex
	values []string
}

func (w *recordingWriter) Write(ctx context.Context, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = append(w.values, value)
	return nil
}

func (w *recordingWriter) writes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.values...)
}

// flakyWriter fails the first n writes, n being failures.
type flakyWriter struct {
	recordingWriter
	failures int
	attempts int
}

func (w *flakyWriter) Write(ctx context.Context, value string) error {
	w.mu.Lock()
	w.attempts++
	fail := w.attempts <= w.failures
	w.mu.Unlock()
	if fail {
		return errors.New("document is locked")
	}
	return w.recordingWriter.Write(ctx, value)
}

type notice struct {
	level Level
	msg   string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) Notify(level Level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{level, msg})
}

func (n *recordingNotifier) levels() []Level {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Level
	for _, x := range n.notices {
		out = append(out, x.level)
	}
	return out
}

type fixture struct {
	provider *mapview.VendorProvider
	writer   *recordingWriter
	notifier *recordingNotifier
	env      Env
}

func newFixture() *fixture {
	f := &fixture{
		provider: mapview.NewProvider(mapview.NewLeaflet(mapview.DefaultLeafletConfig()), nil),
		writer:   &recordingWriter{},
		notifier: &recordingNotifier{},
	}
	f.env = Env{
		Provider:  f.provider,
		Container: mapview.Container{ID: "farm-1-polygon", Width: 600, Height: 400},
		Notifier:  f.notifier,
		Writer:    f.writer,
		Settings:  DefaultSettings(),
	}
	return f
}

func fixedLocator(p geo.Point) geolocate.Locator {
	return geolocate.LocatorFunc(func(ctx context.Context, opts geolocate.Options) (geolocate.Fix, error) {
		return geolocate.Fix{Point: p, Accuracy: 8}, nil
	})
}

func failingLocator(code geolocate.Code) geolocate.Locator {
	return geolocate.LocatorFunc(func(ctx context.Context, opts geolocate.Options) (geolocate.Fix, error) {
		return geolocate.Fix{}, &geolocate.Error{Code: code}
	})
}

// gatedProvider blocks Initialize until release is closed.
type gatedProvider struct {
	inner   mapview.Provider
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProvider) Name() string { return g.inner.Name() }

func (g *gatedProvider) Initialize(ctx context.Context, c mapview.Container) (mapview.Map, error) {
	close(g.entered)
	<-g.release
	return g.inner.Initialize(ctx, c)
}

var (
	triangle = []geo.Point{
		{Lat: 9.0100, Lng: 38.7600},
		{Lat: 9.0110, Lng: 38.7610},
		{Lat: 9.0100, Lng: 38.7620},
	}
	quad = []geo.Point{
		{Lat: 9.0100, Lng: 38.7600},
		{Lat: 9.0110, Lng: 38.7600},
		{Lat: 9.0110, Lng: 38.7610},
		{Lat: 9.0100, Lng: 38.7610},
	}
)

func activePolygon(t *testing.T, f *fixture, vs []geo.Point) *PolygonEditor {
	t.Helper()
	e := NewPolygonEditor(f.env)
	require.NoError(t, e.Activate(context.Background(), geo.EncodePolygon(vs)))
	return e
}
