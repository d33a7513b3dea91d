// Package workspace renders the read-only overview map of every farm.
package workspace

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/editor"
	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
	"github.com/joeblew999/plat-farmgeo/internal/service"
)

// overviewZoom is used before fitting to the farms.
const overviewZoom = 6

// PointSource lists farm center points.
type PointSource interface {
	CenterPoints(ctx context.Context) ([]service.FarmPoint, error)
}

// Widget draws one marker per farm.
type Widget struct {
	provider mapview.Provider
	points   PointSource
	settings editor.Settings
	log      *zap.Logger

	mu      sync.Mutex
	mounted map[string]mapview.Map
}

func NewWidget(provider mapview.Provider, points PointSource, settings editor.Settings) *Widget {
	return &Widget{
		provider: provider,
		points:   points,
		settings: settings,
		log:      zap.L().With(zap.String("component", "workspace")),
		mounted:  make(map[string]mapview.Map),
	}
}

// Render mounts the overview into c. Rendering the same container again
// replaces the previous map.
func (w *Widget) Render(ctx context.Context, c mapview.Container) (mapview.Map, error) {
	points, err := w.points.CenterPoints(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load farm points")
	}

	m, err := w.provider.Initialize(ctx, c)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	prev := w.mounted[c.ID]
	w.mounted[c.ID] = m
	w.mu.Unlock()
	if prev != nil && prev != m {
		prev.Dispose()
	}

	if len(points) == 0 {
		m.SetView(w.settings.DefaultCenter, w.settings.EmptyZoom)
		return m, nil
	}

	m.SetView(points[0].Point, overviewZoom)
	all := make([]geo.Point, len(points))
	for i, p := range points {
		all[i] = p.Point
		m.AddMarker(p.Point, mapview.MarkerOptions{Title: p.Name, Kind: mapview.MarkerFarm})
	}
	m.FitBounds(all, w.settings.FitPadding)
	w.log.Debug("overview rendered", zap.String("container", c.ID), zap.Int("farms", len(points)))
	return m, nil
}

// Release disposes the map on container id.
func (w *Widget) Release(id string) {
	w.mu.Lock()
	m := w.mounted[id]
	delete(w.mounted, id)
	w.mu.Unlock()
	if m != nil {
		m.Dispose()
	}
}
