// Package editor implements the interactive geolocation editors for farm
// records: a point editor for the farm center and a polygon editor for the
// farm boundary.
//
// An editor session owns its map and overlays. It holds a cached copy of the
// field value and writes every committed change back through a Writer, once
// per change. Each session handles one event at a time.
package editor

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/geolocate"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
)

// Kind is the capability of a geo field.
type Kind string

const (
	KindPoint   Kind = "point"
	KindPolygon Kind = "polygon"
)

var (
	// ErrDisposed is returned by a session that has been torn down.
	ErrDisposed = eris.New("editor session disposed")
	// ErrNotActive is returned for gestures before activation completed.
	ErrNotActive = eris.New("editor session is not active")
	// ErrNoVertex is returned for a vertex index that does not exist.
	ErrNoVertex = eris.New("no such vertex")
)

// Editor is one mounted geo field editor.
type Editor interface {
	Kind() Kind
	// Activate decodes value, loads the map and builds the initial scene.
	Activate(ctx context.Context, value string) error
	// Apply pushes an externally changed value into the editor. It never
	// writes back.
	Apply(ctx context.Context, value string)
	// Locate moves the map to the device position.
	Locate(ctx context.Context) error
	// SyncView records the view the user sees, so screen distances are
	// measured the way the user perceives them.
	SyncView(center geo.Point, zoom float64)
	// Value is the editor's cached copy of the field.
	Value() string
	Map() mapview.Map
	Dispose()
}

// Writer persists a committed field value.
type Writer interface {
	Write(ctx context.Context, value string) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, value string) error

func (f WriterFunc) Write(ctx context.Context, value string) error { return f(ctx, value) }

// Button is the mouse button of a click.
type Button int

const (
	ButtonPrimary Button = iota
	ButtonSecondary
)

// Settings holds the editor defaults.
type Settings struct {
	DefaultCenter   geo.Point         `mapstructure:"default_center" yaml:"default_center"`
	EmptyZoom       int               `mapstructure:"empty_zoom" yaml:"empty_zoom"`
	FocusZoom       int               `mapstructure:"focus_zoom" yaml:"focus_zoom"`
	LocateZoom      int               `mapstructure:"locate_zoom" yaml:"locate_zoom"`
	InsertThreshold float64           `mapstructure:"insert_threshold" yaml:"insert_threshold"` // screen pixels
	FitPadding      int               `mapstructure:"fit_padding" yaml:"fit_padding"`           // screen pixels
	Locate          geolocate.Options `mapstructure:"locate" yaml:"locate"`
}

// DefaultSettings centers on Addis Ababa.
func DefaultSettings() Settings {
	return Settings{
		DefaultCenter:   geo.Point{Lat: 9.010793, Lng: 38.761252},
		EmptyZoom:       12,
		FocusZoom:       15,
		LocateZoom:      16,
		InsertThreshold: 10,
		FitPadding:      40,
		Locate:          geolocate.DefaultOptions(),
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if !s.DefaultCenter.Valid() || s.DefaultCenter == (geo.Point{}) {
		s.DefaultCenter = def.DefaultCenter
	}
	if s.EmptyZoom <= 0 {
		s.EmptyZoom = def.EmptyZoom
	}
	if s.FocusZoom <= 0 {
		s.FocusZoom = def.FocusZoom
	}
	if s.LocateZoom <= 0 {
		s.LocateZoom = def.LocateZoom
	}
	if s.InsertThreshold <= 0 {
		s.InsertThreshold = def.InsertThreshold
	}
	if s.FitPadding < 0 {
		s.FitPadding = def.FitPadding
	}
	if s.Locate.Timeout <= 0 {
		s.Locate.Timeout = 10 * time.Second
	}
	return s
}

// Env is everything a session depends on.
type Env struct {
	Provider  mapview.Provider
	Container mapview.Container
	Locator   geolocate.Locator
	Notifier  Notifier
	Writer    Writer
	Settings  Settings
	// Fallback centers an empty polygon map, usually the farm center point.
	Fallback *geo.Point
}
