package editor

import (
	"context"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
)

// PointEditor edits the farm center point with one draggable marker.
type PointEditor struct {
	session

	marker mapview.Marker
}

func NewPointEditor(env Env) *PointEditor {
	e := &PointEditor{}
	e.init(KindPoint, env)
	return e
}

// Activate places the marker on value, or on the default center when value
// holds no point.
func (e *PointEditor) Activate(ctx context.Context, value string) error {
	var at *geo.Point
	if p, ok := geo.DecodePoint(value); ok {
		at = &p
	}
	return e.open(ctx, func(m mapview.Map) {
		center, zoom := e.center(at, nil)
		if at != nil {
			e.value = geo.EncodePoint(at)
		}
		m.SetView(center, zoom)
		e.marker = m.AddMarker(center, mapview.MarkerOptions{
			Draggable: true,
			Title:     "Farm center",
			Kind:      mapview.MarkerPin,
		})
	})
}

// Position returns where the marker is.
func (e *PointEditor) Position() (geo.Point, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.marker == nil || e.disposed {
		return geo.Point{}, false
	}
	return e.marker.Position(), true
}

// Click moves the marker to p and saves it.
func (e *PointEditor) Click(ctx context.Context, p geo.Point, button Button) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.endDrag()
	if button != ButtonPrimary {
		return nil
	}
	e.place(ctx, p)
	return nil
}

// DragMarker follows a live drag without saving.
func (e *PointEditor) DragMarker(ctx context.Context, p geo.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.dragging = true
	e.marker.SetPosition(p)
	return nil
}

// DropMarker ends a drag at p and saves it, unless the field changed
// elsewhere during the drag.
func (e *PointEditor) DropMarker(ctx context.Context, p geo.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if v, ok := e.takePending(); ok {
		e.apply(v, true)
		e.env.Notifier.Notify(LevelWarn, locationChanged)
		return nil
	}
	e.place(ctx, p)
	return nil
}

const locationChanged = "The farm location was changed elsewhere. Your edit was discarded."

// endDrag ends a drag that never reached its drop. The marker goes back to
// the cached point, or to the value that arrived during the drag. Callers
// hold mu.
func (e *PointEditor) endDrag() {
	if !e.dragging {
		return
	}
	v, ok := e.takePending()
	if ok {
		e.env.Notifier.Notify(LevelWarn, locationChanged)
	} else {
		v = e.value
	}
	e.apply(v, true)
}

func (e *PointEditor) place(ctx context.Context, p geo.Point) {
	e.marker.SetPosition(p)
	e.persist(ctx, geo.EncodePoint(&p))
}

// Apply moves the marker to an externally set point without saving. A value
// that holds no point puts the marker back on the default center.
func (e *PointEditor) Apply(ctx context.Context, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready() != nil {
		return
	}
	if canonicalPoint(value) == e.value {
		return
	}
	if e.buffer(value) {
		return
	}
	e.apply(value, false)
}

func canonicalPoint(value string) string {
	p, ok := geo.DecodePoint(value)
	if !ok {
		return geo.Empty
	}
	return geo.EncodePoint(&p)
}

func (e *PointEditor) apply(value string, force bool) {
	canonical := canonicalPoint(value)
	if canonical == e.value && !force {
		return
	}
	e.value = canonical
	p, ok := geo.DecodePoint(canonical)
	if !ok {
		e.marker.SetPosition(e.env.Settings.DefaultCenter)
		return
	}
	e.marker.SetPosition(p)
	_, zoom := e.m.View()
	e.m.SetView(p, zoom)
}

// Locate moves the marker to the device position, marks it and saves it.
// On failure nothing changes.
func (e *PointEditor) Locate(ctx context.Context) error {
	fix, err := e.locate(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.endDrag()
	e.showHere(fix)
	e.m.SetView(fix.Point, e.env.Settings.LocateZoom)
	e.place(ctx, fix.Point)
	return nil
}
