package editor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/geolocate"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
	"github.com/joeblew999/plat-farmgeo/internal/metrics"
)

// session is the state both editors share. Every exported method of an
// editor takes mu for its whole duration, except while waiting on the map
// loader or the device location.
type session struct {
	env  Env
	kind Kind
	log  *zap.Logger

	mu       sync.Mutex
	m        mapview.Map
	active   bool
	disposed bool
	value    string

	// An external value that arrives mid-drag waits here until release.
	dragging bool
	pending  *string

	here mapview.Marker
}

func (s *session) init(kind Kind, env Env) {
	env.Settings = env.Settings.withDefaults()
	s.log = zap.L().With(zap.String("editor", string(kind)), zap.String("container", env.Container.ID))
	if env.Notifier == nil {
		env.Notifier = logNotifier{log: s.log}
	}
	s.env, s.kind = env, kind
}

func (s *session) Kind() Kind { return s.kind }

func (s *session) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *session) Map() mapview.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

// open initializes the map and runs build under the lock. If the session is
// disposed while the library loads, the new map is disposed and build never
// runs.
func (s *session) open(ctx context.Context, build func(m mapview.Map)) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.mu.Unlock()

	m, err := s.env.Provider.Initialize(ctx, s.env.Container)
	if err != nil {
		s.log.Error("map activation failed", zap.Error(err))
		s.env.Notifier.Notify(LevelError, "Map could not be loaded: "+err.Error())
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		m.Dispose()
		return ErrDisposed
	}
	s.m = m
	build(m)
	s.active = true
	metrics.ActiveSessions.WithLabelValues(string(s.kind)).Inc()
	return nil
}

func (s *session) SyncView(center geo.Point, zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready() == nil {
		s.m.SyncView(center, zoom)
	}
}

// ready reports whether gestures may be handled. Callers hold mu.
func (s *session) ready() error {
	switch {
	case s.disposed:
		return ErrDisposed
	case !s.active:
		return ErrNotActive
	}
	return nil
}

// persist writes value once. Writing the cached value again is a no-op. The
// cache only advances when the write succeeds, so a failed commit can be
// retried. Callers hold mu.
func (s *session) persist(ctx context.Context, value string) {
	if value == s.value {
		return
	}
	if s.env.Writer != nil {
		if err := s.env.Writer.Write(ctx, value); err != nil {
			s.log.Error("field write failed", zap.Error(err))
			s.env.Notifier.Notify(LevelError, "Could not save location: "+err.Error())
			return
		}
		metrics.FieldWrites.WithLabelValues(string(s.kind)).Inc()
	}
	s.value = value
}

// buffer holds value back while a drag is in flight and reports whether it
// did so. Callers hold mu.
func (s *session) buffer(value string) bool {
	if !s.dragging {
		return false
	}
	s.pending = &value
	return true
}

// takePending ends a drag and returns the value buffered during it.
func (s *session) takePending() (string, bool) {
	s.dragging = false
	if s.pending == nil {
		return "", false
	}
	v := *s.pending
	s.pending = nil
	return v, true
}

// locate waits for a fix without holding mu.
func (s *session) locate(ctx context.Context) (geolocate.Fix, error) {
	s.mu.Lock()
	err := s.ready()
	s.mu.Unlock()
	if err != nil {
		return geolocate.Fix{}, err
	}
	if s.env.Locator == nil {
		err := &geolocate.Error{Code: geolocate.Unsupported, Message: "geolocation is not available"}
		s.env.Notifier.Notify(LevelError, "Location unavailable: "+err.Error())
		return geolocate.Fix{}, err
	}
	fix, err := s.env.Locator.Locate(ctx, s.env.Settings.Locate)
	if err != nil {
		s.log.Info("locate failed", zap.Error(err))
		s.env.Notifier.Notify(LevelError, "Location unavailable: "+err.Error())
		return geolocate.Fix{}, err
	}
	return fix, nil
}

// showHere places or moves the "you are here" marker. Callers hold mu.
func (s *session) showHere(fix geolocate.Fix) {
	if s.here != nil {
		s.here.SetPosition(fix.Point)
		return
	}
	s.here = s.m.AddMarker(fix.Point, mapview.MarkerOptions{
		Title:    "You are here",
		Kind:     mapview.MarkerHere,
		Accuracy: fix.Accuracy,
	})
}

func (s *session) center(p *geo.Point, fallback *geo.Point) (geo.Point, int) {
	switch {
	case p != nil:
		return *p, s.env.Settings.FocusZoom
	case fallback != nil && fallback.Valid():
		return *fallback, s.env.Settings.FocusZoom
	default:
		return s.env.Settings.DefaultCenter, s.env.Settings.EmptyZoom
	}
}

// Dispose tears down the map. It is safe to call more than once and while
// activation is still loading.
func (s *session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	m := s.m
	s.m = nil
	s.here = nil
	s.pending = nil
	wasActive := s.active
	s.active = false
	s.mu.Unlock()

	if m != nil {
		m.Dispose()
	}
	if wasActive {
		metrics.ActiveSessions.WithLabelValues(string(s.kind)).Dec()
	}
}
