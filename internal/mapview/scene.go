package mapview

import "github.com/joeblew999/plat-farmgeo/internal/geo"

// Scene is the serializable state of a Map, sent to the browser as a signal.
// ViewSeq changes only when the server moves the view; the browser applies
// Center and Zoom when it sees a new ViewSeq and keeps the user's view
// otherwise.
type Scene struct {
	ID              string        `json:"id"`
	Vendor          string        `json:"vendor"`
	Script          string        `json:"script"`
	Tiles           *TileLayer    `json:"tiles,omitempty"`
	Center          geo.Point     `json:"center"`
	Zoom            int           `json:"zoom"`
	ViewSeq         int           `json:"viewSeq"`
	DoubleClickZoom bool          `json:"doubleClickZoom"`
	Markers         []MarkerState `json:"markers"`
	Polygons        []ShapeState  `json:"polygons"`
	Polylines       []ShapeState  `json:"polylines"`
	Disposed        bool          `json:"disposed,omitempty"`
	Version         int           `json:"version"`
}

// TileLayer is set for tile based vendors.
type TileLayer struct {
	URL         string `json:"url"`
	Attribution string `json:"attribution"`
	MaxZoom     int    `json:"maxZoom"`
}

// MarkerState is one marker in a Scene.
type MarkerState struct {
	ID        string     `json:"id"`
	Position  geo.Point  `json:"position"`
	Draggable bool       `json:"draggable"`
	Title     string     `json:"title,omitempty"`
	Kind      MarkerKind `json:"kind"`
	Accuracy  float64    `json:"accuracy,omitempty"`
}

// ShapeState is one polygon or polyline in a Scene.
type ShapeState struct {
	ID     string      `json:"id"`
	Points []geo.Point `json:"points"`
	Style  Style       `json:"style"`
	AreaHa float64     `json:"areaHa,omitempty"`
}
