package editor

import (
	"context"
	"slices"
	"strconv"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
)

// Mode is the state of a PolygonEditor.
type Mode string

const (
	ModeViewing Mode = "viewing"
	ModeDrawing Mode = "drawing"
	ModeEditing Mode = "editing"
)

// minVertices is the smallest ring that is a polygon.
const minVertices = 3

// PolygonEditor edits a farm boundary.
//
//	viewing --StartDrawing--> drawing --FinishDrawing(>=3)--> editing
//	viewing <--ToggleEdit--> editing
//	any --Clear--> drawing
//
// Vertex handles exist only in editing and the draft line only in drawing.
type PolygonEditor struct {
	session

	mode     Mode
	prev     Mode
	vertices []geo.Point

	shape   mapview.Polygon
	handles []mapview.Marker

	draft     []geo.Point
	draftLine mapview.Polyline
}

func NewPolygonEditor(env Env) *PolygonEditor {
	e := &PolygonEditor{}
	e.init(KindPolygon, env)
	return e
}

// Activate shows value and starts in viewing, or in drawing when there is no
// usable polygon. A malformed value is treated as no polygon.
func (e *PolygonEditor) Activate(ctx context.Context, value string) error {
	vs, err := geo.ParsePolygon(value)
	if err != nil && value != geo.Empty {
		e.log.Info("ignoring malformed polygon", zap.Error(err))
	}

	return e.open(ctx, func(m mapview.Map) {
		if len(vs) >= minVertices {
			e.vertices = vs
			e.value = geo.EncodePolygon(vs)
			e.shape = m.AddPolygon(vs, mapview.PolygonStyle)
			e.mode = ModeViewing
			m.FitBounds(vs, e.env.Settings.FitPadding)
			return
		}
		var first *geo.Point
		if len(vs) > 0 {
			first = &vs[0]
		}
		center, zoom := e.center(first, e.env.Fallback)
		m.SetView(center, zoom)
		e.startDrawing()
	})
}

// Mode returns the current state.
func (e *PolygonEditor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Vertices returns the committed vertices, or the live ones mid-drag.
func (e *PolygonEditor) Vertices() []geo.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.vertices)
}

// Draft returns the points placed so far while drawing.
func (e *PolygonEditor) Draft() []geo.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.draft)
}

// StartDrawing begins a new draft. The existing polygon stays visible until
// the draft is committed.
func (e *PolygonEditor) StartDrawing(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.endDrag()
	e.startDrawing()
	return nil
}

func (e *PolygonEditor) startDrawing() {
	if e.mode != ModeDrawing {
		e.prev = e.mode
	}
	if len(e.vertices) < minVertices {
		e.prev = ModeDrawing
	}
	e.hideHandles()
	e.dropDraft()
	e.m.SetDoubleClickZoom(false)
	e.mode = ModeDrawing
}

func (e *PolygonEditor) dropDraft() {
	e.draft = nil
	if e.draftLine != nil {
		e.draftLine.Remove()
		e.draftLine = nil
	}
}

// Click handles a map click. While drawing a primary click adds a draft
// point. While editing a primary click close to an edge inserts a vertex.
func (e *PolygonEditor) Click(ctx context.Context, p geo.Point, button Button) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.endDrag()
	if button != ButtonPrimary {
		return nil
	}

	switch e.mode {
	case ModeDrawing:
		e.draft = append(e.draft, p)
		if e.draftLine == nil {
			e.draftLine = e.m.AddPolyline(e.draft, mapview.DraftStyle)
		} else {
			e.draftLine.SetPoints(e.draft)
		}
	case ModeEditing:
		e.insertAt(ctx, p)
	}
	return nil
}

// insertAt measures edge distance in screen pixels so the hit area is the
// same at every zoom.
func (e *PolygonEditor) insertAt(ctx context.Context, p geo.Point) {
	ring := make([]orb.Point, len(e.vertices))
	for i, v := range e.vertices {
		ring[i] = e.m.Project(v)
	}
	idx, ok := geo.InsertionIndex(ring, e.m.Project(p), e.env.Settings.InsertThreshold)
	if !ok {
		return
	}
	e.vertices = slices.Insert(e.vertices, idx, p)
	e.shape.SetVertices(e.vertices)
	e.showHandles()
	e.commit(ctx)
}

// DoubleClick finishes the draft while drawing.
func (e *PolygonEditor) DoubleClick(ctx context.Context, p geo.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if e.mode != ModeDrawing {
		return nil
	}
	e.finishDrawing(ctx)
	return nil
}

// FinishDrawing commits a draft of three or more distinct points and enters
// editing. A shorter draft is dropped and the previous state restored.
func (e *PolygonEditor) FinishDrawing(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if e.mode != ModeDrawing {
		return nil
	}
	e.finishDrawing(ctx)
	return nil
}

func (e *PolygonEditor) finishDrawing(ctx context.Context) {
	// A double click arrives after the two clicks it is made of.
	pts := geo.Compact(e.draft)
	e.dropDraft()
	e.m.SetDoubleClickZoom(true)

	if len(pts) < minVertices {
		e.env.Notifier.Notify(LevelInfo, "A farm boundary needs at least 3 points")
		if e.prev == ModeDrawing || len(e.vertices) < minVertices {
			e.startDrawing()
			return
		}
		e.mode = e.prev
		if e.mode == ModeEditing {
			e.showHandles()
		}
		return
	}

	e.vertices = pts
	if e.shape == nil {
		e.shape = e.m.AddPolygon(pts, mapview.PolygonStyle)
	} else {
		e.shape.SetVertices(pts)
	}
	e.mode = ModeEditing
	e.showHandles()
	e.commit(ctx)
}

// ToggleEdit switches between viewing and editing.
func (e *PolygonEditor) ToggleEdit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.endDrag()
	switch e.mode {
	case ModeEditing:
		e.hideHandles()
		e.mode = ModeViewing
	case ModeViewing:
		if len(e.vertices) >= minVertices {
			e.showHandles()
			e.mode = ModeEditing
		}
	}
	return nil
}

func (e *PolygonEditor) showHandles() {
	e.hideHandles()
	e.handles = make([]mapview.Marker, len(e.vertices))
	for i, v := range e.vertices {
		e.handles[i] = e.m.AddMarker(v, mapview.MarkerOptions{
			Draggable: true,
			Title:     "Vertex " + strconv.Itoa(i+1),
			Kind:      mapview.MarkerHandle,
		})
	}
}

func (e *PolygonEditor) hideHandles() {
	for _, h := range e.handles {
		h.Remove()
	}
	e.handles = nil
}

func (e *PolygonEditor) vertex(i int) error {
	if e.mode != ModeEditing || i < 0 || i >= len(e.vertices) {
		return ErrNoVertex
	}
	return nil
}

// DragVertex moves vertex i live. Nothing is written and the view stays put.
func (e *PolygonEditor) DragVertex(ctx context.Context, i int, p geo.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.vertex(i); err != nil {
		return err
	}
	e.dragging = true
	e.moveVertex(i, p)
	return nil
}

func (e *PolygonEditor) moveVertex(i int, p geo.Point) {
	e.vertices[i] = p
	e.handles[i].SetPosition(p)
	e.shape.SetVertices(e.vertices)
}

const boundaryChanged = "The farm boundary was changed elsewhere. Your edit was discarded."

// endDrag ends a drag that never reached a successful drop. The ring goes
// back to the cached value, or to the value that arrived during the drag.
// Callers hold mu.
func (e *PolygonEditor) endDrag() {
	if !e.dragging {
		return
	}
	v, ok := e.takePending()
	if ok {
		e.env.Notifier.Notify(LevelWarn, boundaryChanged)
	} else {
		v = e.value
	}
	e.apply(v, true)
}

// DropVertex ends a drag of vertex i at p and commits the new ring. If the
// field changed elsewhere during the drag, that value wins and the drag is
// discarded.
func (e *PolygonEditor) DropVertex(ctx context.Context, i int, p geo.Point) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.vertex(i); err != nil {
		e.endDrag()
		return err
	}
	if v, ok := e.takePending(); ok {
		e.apply(v, true)
		e.env.Notifier.Notify(LevelWarn, boundaryChanged)
		return nil
	}
	e.moveVertex(i, p)
	e.commit(ctx)
	return nil
}

// DeleteVertex removes vertex i. Fewer than three remaining clears the
// polygon.
func (e *PolygonEditor) DeleteVertex(ctx context.Context, i int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.endDrag()
	if err := e.vertex(i); err != nil {
		return err
	}
	if len(e.vertices)-1 < minVertices {
		e.clear(ctx)
		return nil
	}
	e.vertices = slices.Delete(e.vertices, i, i+1)
	e.shape.SetVertices(e.vertices)
	e.showHandles()
	e.commit(ctx)
	return nil
}

// Clear removes the polygon, persists the empty value and starts drawing.
func (e *PolygonEditor) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.clear(ctx)
	return nil
}

func (e *PolygonEditor) clear(ctx context.Context) {
	e.removeShape()
	e.dragging, e.pending = false, nil
	e.persist(ctx, geo.Empty)
	e.startDrawing()
}

func (e *PolygonEditor) removeShape() {
	e.hideHandles()
	if e.shape != nil {
		e.shape.Remove()
		e.shape = nil
	}
	e.vertices = nil
}

// commit writes the ring and fits the view to it.
func (e *PolygonEditor) commit(ctx context.Context) {
	e.m.FitBounds(e.vertices, e.env.Settings.FitPadding)
	e.persist(ctx, geo.EncodePolygon(e.vertices))
}

// Apply shows an externally set value. An empty or malformed value leaves no
// polygon. Nothing is written.
func (e *PolygonEditor) Apply(ctx context.Context, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready() != nil {
		return
	}
	if e.canonical(value) == e.value {
		return
	}
	if e.buffer(value) {
		e.log.Debug("external polygon buffered during drag")
		return
	}
	e.apply(value, false)
}

func (e *PolygonEditor) canonical(value string) string {
	vs, ok := geo.DecodePolygon(value)
	if !ok {
		return geo.Empty
	}
	return geo.EncodePolygon(vs)
}

// apply replaces the shown polygon with value. force re-renders even when
// value matches the cache, which a discarded drag needs.
func (e *PolygonEditor) apply(value string, force bool) {
	canonical := e.canonical(value)
	if canonical == e.value && !force {
		return
	}
	e.value = canonical

	if canonical == geo.Empty {
		e.removeShape()
		e.startDrawing()
		return
	}

	vs, _ := geo.DecodePolygon(canonical)
	e.vertices = vs
	if e.shape == nil {
		e.shape = e.m.AddPolygon(vs, mapview.PolygonStyle)
	} else {
		e.shape.SetVertices(vs)
	}
	switch e.mode {
	case ModeDrawing:
		e.dropDraft()
		e.m.SetDoubleClickZoom(true)
		e.mode = ModeViewing
	case ModeEditing:
		e.showHandles()
	}
	e.m.FitBounds(vs, e.env.Settings.FitPadding)
}

// Locate pans to the device position and marks it. The polygon is not
// changed.
func (e *PolygonEditor) Locate(ctx context.Context) error {
	fix, err := e.locate(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ready(); err != nil {
		return err
	}
	e.showHere(fix)
	e.m.SetView(fix.Point, e.env.Settings.LocateZoom)
	return nil
}
