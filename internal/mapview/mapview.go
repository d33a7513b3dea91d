// Package mapview abstracts the interactive map behind one interface so the
// editors never talk to a specific vendor.
//
// A Map is a scene graph kept on the server: markers, polygons, polylines and
// the current view. Every change is published as a Scene snapshot through the
// Container, and the browser renders that snapshot with the vendor's own JS
// library (Google Maps or Leaflet).
package mapview

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
)

// Provider loads a vendor map library and creates maps.
type Provider interface {
	// Name is the vendor name, e.g. "google" or "leaflet".
	Name() string
	// Initialize loads the vendor library (once per process) and mounts a new
	// map into c. A map already mounted on c.ID is disposed first.
	Initialize(ctx context.Context, c Container) (Map, error)
}

// Map is a live map surface.
type Map interface {
	ID() string
	SetView(center geo.Point, zoom int)
	View() (geo.Point, int)
	AddMarker(p geo.Point, opts MarkerOptions) Marker
	AddPolygon(vertices []geo.Point, style Style) Polygon
	AddPolyline(points []geo.Point, style Style) Polyline
	// FitBounds picks the largest zoom at which points fit the container
	// with padding pixels on each side, and centers on them.
	FitBounds(points []geo.Point, padding int)
	// SyncView records the view the user moved to in the browser without
	// publishing a scene.
	SyncView(center geo.Point, zoom float64)
	// Project returns the world pixel position of p at the zoom the user
	// sees.
	Project(p geo.Point) orb.Point
	Unproject(px orb.Point) geo.Point
	SetDoubleClickZoom(enabled bool)
	Scene() Scene
	Disposed() bool
	Dispose()
}

// Marker is a point overlay.
type Marker interface {
	ID() string
	Position() geo.Point
	SetPosition(p geo.Point)
	Remove()
}

// Polygon is a closed shape overlay.
type Polygon interface {
	ID() string
	Vertices() []geo.Point
	SetVertices(vs []geo.Point)
	Remove()
}

// Polyline is an open line overlay.
type Polyline interface {
	ID() string
	Points() []geo.Point
	SetPoints(ps []geo.Point)
	Remove()
}

// Container is the host-provided mount point.
type Container struct {
	ID     string
	Width  int // pixels, defaults to 600
	Height int // pixels, defaults to 300
	// Publish receives every scene change. It must not block.
	Publish func(Scene)
}

// MarkerKind tells the renderer how to draw a marker.
type MarkerKind string

const (
	MarkerPin    MarkerKind = "pin"
	MarkerHandle MarkerKind = "handle"
	MarkerHere   MarkerKind = "here"
	MarkerFarm   MarkerKind = "farm"
)

// MarkerOptions configures AddMarker.
type MarkerOptions struct {
	Draggable bool
	Title     string
	Kind      MarkerKind
	// Accuracy draws a radius (meters) around MarkerHere markers.
	Accuracy float64
}

// Style configures shape overlays.
type Style struct {
	Stroke      string  `json:"stroke,omitempty"`
	Fill        string  `json:"fill,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`
	FillOpacity float64 `json:"fillOpacity,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
	Dashed      bool    `json:"dashed,omitempty"`
}

var (
	// PolygonStyle is the committed farm boundary.
	PolygonStyle = Style{Stroke: "#2266cc", Fill: "#3388ff", Opacity: 0.9, FillOpacity: 0.2, Weight: 2}
	// DraftStyle is the in-progress drawing line.
	DraftStyle = Style{Stroke: "#2266cc", Opacity: 0.8, Weight: 2, Dashed: true}
)
