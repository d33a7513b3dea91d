package mapview

import (
	"math"
	"slices"
	"strconv"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
)

const (
	defaultWidth  = 600
	defaultHeight = 300
)

// Surface is the in-memory Map every vendor shares. The vendor only changes
// what the browser loads to draw it.
type Surface struct {
	mu sync.Mutex

	id        string
	vendor    Vendor
	width     int
	height    int
	publish   func(Scene)
	center    geo.Point
	zoom      int
	exact     float64 // zoom the browser shows, used for screen distances
	viewSeq   int
	dblZoom   bool
	disposed  bool
	seq       int
	version   int
	markers   []*marker
	polygons  []*shape
	polylines []*shape
}

// NewSurface mounts an empty map on c.
func NewSurface(v Vendor, c Container) *Surface {
	s := &Surface{
		id:      c.ID,
		vendor:  v,
		width:   c.Width,
		height:  c.Height,
		publish: c.Publish,
		zoom:    1,
		exact:   1,
		dblZoom: true,
	}
	if s.width <= 0 {
		s.width = defaultWidth
	}
	if s.height <= 0 {
		s.height = defaultHeight
	}
	return s
}

func (s *Surface) ID() string { return s.id }

// update runs fn under the lock and publishes the resulting scene after it
// is released, so Publish may call back into the surface.
func (s *Surface) update(fn func()) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	fn()
	s.version++
	scene := s.sceneLocked()
	publish := s.publish
	s.mu.Unlock()

	if publish != nil {
		publish(scene)
	}
}

func (s *Surface) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *Surface) SetView(center geo.Point, zoom int) {
	s.update(func() { s.moveTo(center, s.clampZoom(zoom)) })
}

// moveTo is a server initiated view change. Callers hold mu.
func (s *Surface) moveTo(center geo.Point, zoom int) {
	s.center = center
	s.zoom = zoom
	s.exact = float64(zoom)
	s.viewSeq++
}

// SyncView records the view the user panned or zoomed to. Nothing is
// published and the scene's view sequence is unchanged, so the browser
// keeps its own view.
func (s *Surface) SyncView(center geo.Point, zoom float64) {
	if !center.Valid() || math.IsNaN(zoom) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	zoom = max(0, min(zoom, float64(s.vendor.MaxZoom())))
	s.center = center
	s.zoom = int(math.Round(zoom))
	s.exact = zoom
}

func (s *Surface) View() (geo.Point, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.center, s.zoom
}

func (s *Surface) clampZoom(z int) int {
	return max(0, min(z, s.vendor.MaxZoom()))
}

func (s *Surface) SetDoubleClickZoom(enabled bool) {
	s.update(func() { s.dblZoom = enabled })
}

func (s *Surface) AddMarker(p geo.Point, opts MarkerOptions) Marker {
	m := &marker{surface: s, pos: p, opts: opts}
	if m.opts.Kind == "" {
		m.opts.Kind = MarkerPin
	}
	s.update(func() {
		m.id = s.nextID("marker")
		s.markers = append(s.markers, m)
	})
	return m
}

func (s *Surface) AddPolygon(vertices []geo.Point, style Style) Polygon {
	p := &shape{surface: s, points: slices.Clone(vertices), style: style, closed: true}
	s.update(func() {
		p.id = s.nextID("polygon")
		s.polygons = append(s.polygons, p)
	})
	return p
}

func (s *Surface) AddPolyline(points []geo.Point, style Style) Polyline {
	p := &shape{surface: s, points: slices.Clone(points), style: style}
	s.update(func() {
		p.id = s.nextID("polyline")
		s.polylines = append(s.polylines, p)
	})
	return p
}

func (s *Surface) FitBounds(points []geo.Point, padding int) {
	bound, ok := geo.Bounds(points)
	if !ok {
		return
	}
	s.update(func() { s.moveTo(geo.FromOrb(bound.Center()), s.fitZoom(bound, padding)) })
}

// fitZoom returns the largest zoom at which bound plus padding fits.
func (s *Surface) fitZoom(bound orb.Bound, padding int) int {
	w := float64(s.width - 2*padding)
	h := float64(s.height - 2*padding)
	if w <= 0 || h <= 0 {
		return 0
	}
	sw := geo.Project(geo.FromOrb(bound.Min), 0)
	ne := geo.Project(geo.FromOrb(bound.Max), 0)
	dx := math.Abs(ne[0] - sw[0])
	dy := math.Abs(sw[1] - ne[1])

	maxZoom := s.vendor.MaxZoom()
	if dx == 0 && dy == 0 {
		return maxZoom
	}
	zx := math.Inf(1)
	if dx > 0 {
		zx = math.Log2(w / dx)
	}
	zy := math.Inf(1)
	if dy > 0 {
		zy = math.Log2(h / dy)
	}
	z := int(math.Floor(math.Min(zx, zy)))
	return max(0, min(z, maxZoom))
}

func (s *Surface) Project(p geo.Point) orb.Point {
	return geo.Project(p, s.screenZoom())
}

func (s *Surface) Unproject(px orb.Point) geo.Point {
	return geo.Unproject(px, s.screenZoom())
}

func (s *Surface) screenZoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exact
}

// Scene returns a snapshot of the current state.
func (s *Surface) Scene() Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sceneLocked()
}

func (s *Surface) sceneLocked() Scene {
	scene := Scene{
		ID:              s.id,
		Vendor:          s.vendor.Name(),
		Script:          s.vendor.ScriptURL(),
		Tiles:           s.vendor.Tiles(),
		Center:          s.center,
		Zoom:            s.zoom,
		ViewSeq:         s.viewSeq,
		DoubleClickZoom: s.dblZoom,
		Markers:         make([]MarkerState, 0, len(s.markers)),
		Polygons:        make([]ShapeState, 0, len(s.polygons)),
		Polylines:       make([]ShapeState, 0, len(s.polylines)),
		Disposed:        s.disposed,
		Version:         s.version,
	}
	for _, m := range s.markers {
		scene.Markers = append(scene.Markers, MarkerState{
			ID:        m.id,
			Position:  m.pos,
			Draggable: m.opts.Draggable,
			Title:     m.opts.Title,
			Kind:      m.opts.Kind,
			Accuracy:  m.opts.Accuracy,
		})
	}
	for _, p := range s.polygons {
		scene.Polygons = append(scene.Polygons, ShapeState{
			ID:     p.id,
			Points: slices.Clone(p.points),
			Style:  p.style,
			AreaHa: geo.AreaHectares(p.points),
		})
	}
	for _, p := range s.polylines {
		scene.Polylines = append(scene.Polylines, ShapeState{
			ID:     p.id,
			Points: slices.Clone(p.points),
			Style:  p.style,
		})
	}
	return scene
}

func (s *Surface) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Dispose removes every overlay and publishes a final disposed scene.
// Later calls on the surface or its overlays are no-ops.
func (s *Surface) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.markers, s.polygons, s.polylines = nil, nil, nil
	s.version++
	scene := s.sceneLocked()
	publish := s.publish
	s.publish = nil
	s.mu.Unlock()

	if publish != nil {
		publish(scene)
	}
}

type marker struct {
	surface *Surface
	id      string
	pos     geo.Point
	opts    MarkerOptions
}

func (m *marker) ID() string { return m.id }

func (m *marker) Position() geo.Point {
	m.surface.mu.Lock()
	defer m.surface.mu.Unlock()
	return m.pos
}

func (m *marker) SetPosition(p geo.Point) {
	m.surface.update(func() { m.pos = p })
}

func (m *marker) Remove() {
	m.surface.update(func() {
		m.surface.markers = slices.DeleteFunc(m.surface.markers, func(o *marker) bool { return o == m })
	})
}

type shape struct {
	surface *Surface
	id      string
	points  []geo.Point
	style   Style
	closed  bool
}

func (p *shape) ID() string { return p.id }

func (p *shape) Vertices() []geo.Point { return p.Points() }

func (p *shape) Points() []geo.Point {
	p.surface.mu.Lock()
	defer p.surface.mu.Unlock()
	return slices.Clone(p.points)
}

func (p *shape) SetVertices(vs []geo.Point) { p.SetPoints(vs) }

func (p *shape) SetPoints(ps []geo.Point) {
	ps = slices.Clone(ps)
	p.surface.update(func() { p.points = ps })
}

func (p *shape) Remove() {
	s := p.surface
	s.update(func() {
		match := func(o *shape) bool { return o == p }
		if p.closed {
			s.polygons = slices.DeleteFunc(s.polygons, match)
		} else {
			s.polylines = slices.DeleteFunc(s.polylines, match)
		}
	})
}
