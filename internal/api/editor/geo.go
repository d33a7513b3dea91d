// Package editor contains the Datastar SSE handlers behind the farm map UI.
package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/binding"
	farmeditor "github.com/joeblew999/plat-farmgeo/internal/editor"
	"github.com/joeblew999/plat-farmgeo/internal/geo"
	"github.com/joeblew999/plat-farmgeo/internal/geolocate"
	"github.com/joeblew999/plat-farmgeo/internal/humastar"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
	"github.com/joeblew999/plat-farmgeo/internal/service"
	"github.com/joeblew999/plat-farmgeo/internal/templates"
)

const (
	sceneEvent  = "farmgeo-scene"
	locateEvent = "farmgeo-locate"
)

// GeoConfig wires a GeoHandler.
type GeoConfig struct {
	Farms    *service.FarmService
	Provider mapview.Provider
	Settings farmeditor.Settings
	Renderer *templates.Renderer
	// Width and Height are the default map size in pixels.
	Width  int
	Height int
}

// GeoHandler mounts the center point and boundary editors of a farm and
// relays browser gestures to them.
type GeoHandler struct {
	humastar.Handler
	farms    *service.FarmService
	provider mapview.Provider
	settings farmeditor.Settings
	width    int
	height   int
	binding  *binding.Binding
	log      *zap.Logger

	mu       sync.Mutex
	outboxes map[binding.Key]*outbox
}

func NewGeoHandler(cfg GeoConfig) *GeoHandler {
	h := &GeoHandler{
		Handler:  humastar.Handler{Renderer: cfg.Renderer},
		farms:    cfg.Farms,
		provider: cfg.Provider,
		settings: cfg.Settings,
		width:    cfg.Width,
		height:   cfg.Height,
		log:      zap.L().With(zap.String("component", "geo-handler")),
		outboxes: make(map[binding.Key]*outbox),
	}
	h.binding = binding.New(h.env)
	h.binding.Register(binding.Field{Name: service.FieldCenterPoint, Kind: farmeditor.KindPoint})
	h.binding.Register(binding.Field{Name: service.FieldPolygon, Kind: farmeditor.KindPolygon, Fallback: service.FieldCenterPoint})
	return h
}

// Binding returns the field binding the handler mounts editors through.
func (h *GeoHandler) Binding() *binding.Binding { return h.binding }

// Watch pushes stored field changes into open editors until ctx ends.
func (h *GeoHandler) Watch(ctx context.Context) {
	feed := h.farms.WatchFields()
	defer feed.Close()
	h.binding.Watch(ctx, feed)
}

// Close disposes every editor and ends every stream.
func (h *GeoHandler) Close() {
	h.binding.Close()
	h.mu.Lock()
	for k, o := range h.outboxes {
		o.close()
		delete(h.outboxes, k)
	}
	h.mu.Unlock()
}

// Slot is the id of the page element an editor is mounted into.
func Slot(farmID, field string) string {
	return "farm-" + farmID + "-" + field
}

// signalName turns a slot into a Datastar signal name.
func signalName(slot string) string {
	return "geo" + strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, slot)
}

// Base is the route prefix of one editor's gesture endpoints.
func Base(farmID, field string) string {
	return fmt.Sprintf("/api/v1/editor/farms/%s/%s", farmID, field)
}

// env builds the editor environment for key from its stream's outbox.
func (h *GeoHandler) env(key binding.Key, f binding.Field) farmeditor.Env {
	h.mu.Lock()
	o := h.outboxes[key]
	h.mu.Unlock()

	env := farmeditor.Env{
		Provider: h.provider,
		Settings: h.settings,
		Container: mapview.Container{
			ID:     Slot(key.DocID, key.Field) + "-map",
			Width:  h.width,
			Height: h.height,
		},
	}
	if o != nil {
		env.Container.Width, env.Container.Height = o.width, o.height
		env.Container.Publish = o.publish
		env.Notifier = o
		env.Locator = o.relay
	}
	return env
}

// open registers a fresh outbox for key and ends the stream holding the
// previous one.
func (h *GeoHandler) open(key binding.Key, width, height int) *outbox {
	o := newOutbox(Slot(key.DocID, key.Field)+"-map", width, height)
	h.mu.Lock()
	prev := h.outboxes[key]
	h.outboxes[key] = o
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return o
}

// release drops o if it is still the outbox of key.
func (h *GeoHandler) release(key binding.Key, o *outbox) {
	h.mu.Lock()
	if h.outboxes[key] == o {
		delete(h.outboxes, key)
	}
	h.mu.Unlock()
	o.close()
}

func (h *GeoHandler) outbox(key binding.Key) (*outbox, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	o, ok := h.outboxes[key]
	return o, ok
}

// Inputs

type KeyInput struct {
	ID    string `path:"id" doc:"Farm ID"`
	Field string `path:"field" enum:"farm_center_point,farm_polygon" doc:"Geo field name"`
}

func (i KeyInput) key() binding.Key { return binding.Key{DocID: i.ID, Field: i.Field} }

type MountInput struct {
	KeyInput
	Datastar string `query:"datastar" doc:"Datastar signals; mapwidth and mapheight override the map size"`
}

type PointBody struct {
	Lat    float64   `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude"`
	Lng    float64   `json:"lng" minimum:"-180" maximum:"180" doc:"Longitude"`
	Button int       `json:"button,omitempty" doc:"MouseEvent.button: 0 primary, 2 secondary"`
	View   *ViewBody `json:"view,omitempty" doc:"The map view when the click happened"`
}

// ViewBody is the center and zoom the browser map shows.
type ViewBody struct {
	Lat  float64 `json:"lat" minimum:"-90" maximum:"90"`
	Lng  float64 `json:"lng" minimum:"-180" maximum:"180"`
	Zoom float64 `json:"zoom" minimum:"0" maximum:"24"`
}

func (b *ViewBody) sync(ed farmeditor.Editor) {
	if b != nil {
		ed.SyncView(geo.Point{Lat: b.Lat, Lng: b.Lng}, b.Zoom)
	}
}

func (b PointBody) point() geo.Point { return geo.Point{Lat: b.Lat, Lng: b.Lng} }

func (b PointBody) button() farmeditor.Button {
	if b.Button == 0 {
		return farmeditor.ButtonPrimary
	}
	return farmeditor.ButtonSecondary
}

type VertexBody struct {
	Index int     `json:"index" minimum:"0" doc:"Vertex index"`
	Lat   float64 `json:"lat,omitempty" minimum:"-90" maximum:"90" doc:"Latitude"`
	Lng   float64 `json:"lng,omitempty" minimum:"-180" maximum:"180" doc:"Longitude"`
}

type FixBody struct {
	ID       string  `json:"id" doc:"Locate request id"`
	Lat      float64 `json:"lat" minimum:"-90" maximum:"90"`
	Lng      float64 `json:"lng" minimum:"-180" maximum:"180"`
	Accuracy float64 `json:"accuracy,omitempty" minimum:"0" doc:"Accuracy radius in meters"`
}

type FixErrorBody struct {
	ID      string `json:"id" doc:"Locate request id"`
	Code    int    `json:"code" minimum:"1" maximum:"4" doc:"GeolocationPositionError code"`
	Message string `json:"message,omitempty"`
}

// RegisterRoutes registers the editor stream and gesture routes.
func (h *GeoHandler) RegisterRoutes(api huma.API) {
	const base = "/api/v1/editor/farms/{id}/{field}"
	tags := huma.OperationTags("editor")

	huma.Get(api, base+"/mount", h.Mount, tags)
	huma.Post(api, base+"/unmount", h.Unmount, tags)

	huma.Post(api, base+"/view", h.View, tags)
	huma.Post(api, base+"/click", h.Click, tags)
	huma.Post(api, base+"/dblclick", h.DoubleClick, tags)
	huma.Post(api, base+"/draw", h.Draw, tags)
	huma.Post(api, base+"/finish", h.Finish, tags)
	huma.Post(api, base+"/toggle-edit", h.ToggleEdit, tags)
	huma.Post(api, base+"/clear", h.Clear, tags)
	huma.Post(api, base+"/handle/drag", h.DragVertex, tags)
	huma.Post(api, base+"/handle/drop", h.DropVertex, tags)
	huma.Post(api, base+"/handle/delete", h.DeleteVertex, tags)
	huma.Post(api, base+"/marker/drag", h.DragMarker, tags)
	huma.Post(api, base+"/marker/drop", h.DropMarker, tags)

	huma.Post(api, base+"/locate", h.Locate, tags)
	huma.Post(api, base+"/locate/fix", h.LocateFix, tags)
	huma.Post(api, base+"/locate/error", h.LocateError, tags)
}

// Mount streams one editor to the page: the field fragment first, then a
// scene event per map change plus notices and locate requests.
func (h *GeoHandler) Mount(ctx context.Context, input *MountInput) (*huma.StreamResponse, error) {
	if _, err := h.farms.Get(ctx, input.ID); err != nil {
		return nil, huma.Error404NotFound("farm not found")
	}
	f, ok := h.binding.Field(input.Field)
	if !ok {
		return nil, huma.Error404NotFound("not a geo field")
	}
	signals, err := humastar.QuerySignals(input.Datastar)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid datastar signals: " + err.Error())
	}
	width, height := h.width, h.height
	if w := signals.Int("mapwidth"); w > 0 {
		width = w
	}
	if ht := signals.Int("mapheight"); ht > 0 {
		height = ht
	}

	key := input.key()
	slot := Slot(input.ID, input.Field)
	signal := signalName(slot)

	return h.Stream(func(sse humastar.SSE) {
		o := h.open(key, width, height)
		defer h.release(key, o)

		initial, _ := json.Marshal(map[string]any{signal: notice{}})
		html, err := h.Renderer.Render("geo-field", map[string]any{
			"Kind":        string(f.Kind),
			"ContainerID": o.container,
			"Base":        Base(input.ID, input.Field),
			"Signal":      signal,
			"Signals":     string(initial),
			"Width":       width,
			"Height":      height,
		})
		if err != nil {
			h.log.Error("render geo field", zap.Error(err))
			sse.Error("Could not render the map")
			return
		}
		if err := sse.Patch(html, "#"+slot); err != nil {
			return
		}

		ed, err := h.binding.Mount(ctx, h.farms.Document(input.ID), input.Field)
		if err != nil {
			// Deliver the notice a failed activation queued.
			h.log.Warn("mount failed", zap.String("farm", input.ID), zap.String("field", input.Field), zap.Error(err))
			h.flush(sse, o, signal)
			return
		}
		defer func() {
			if h.binding.Release(key, ed) {
				ed.Dispose()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-o.done:
				h.flush(sse, o, signal)
				return
			case <-o.wake:
				if !h.flush(sse, o, signal) {
					return
				}
			}
		}
	}), nil
}

// flush writes everything queued on o. It reports false once the stream
// should end.
func (h *GeoHandler) flush(sse humastar.SSE, o *outbox, signal string) bool {
	scene, notices, locates := o.drain()
	for _, n := range notices {
		if err := sse.Signals(map[string]any{signal: n}); err != nil {
			return false
		}
	}
	if scene != nil {
		if err := sse.Event(sceneEvent, scene); err != nil {
			return false
		}
		if scene.Disposed {
			return false
		}
	}
	for _, l := range locates {
		if err := sse.Event(locateEvent, l); err != nil {
			return false
		}
	}
	return true
}

// Unmount disposes the editor and ends its stream.
func (h *GeoHandler) Unmount(ctx context.Context, input *KeyInput) (*struct{}, error) {
	key := input.key()
	if ed, ok := h.binding.Session(key); ok && h.binding.Release(key, ed) {
		ed.Dispose()
	}
	if o, ok := h.outbox(key); ok {
		h.release(key, o)
	}
	return &struct{}{}, nil
}

func (h *GeoHandler) session(key binding.Key) (farmeditor.Editor, error) {
	ed, ok := h.binding.Session(key)
	if !ok {
		return nil, huma.Error404NotFound("no editor is mounted for this field")
	}
	return ed, nil
}

func (h *GeoHandler) polygon(key binding.Key) (*farmeditor.PolygonEditor, error) {
	ed, err := h.session(key)
	if err != nil {
		return nil, err
	}
	pe, ok := ed.(*farmeditor.PolygonEditor)
	if !ok {
		return nil, huma.Error409Conflict("field is not a boundary")
	}
	return pe, nil
}

func (h *GeoHandler) point(key binding.Key) (*farmeditor.PointEditor, error) {
	ed, err := h.session(key)
	if err != nil {
		return nil, err
	}
	pe, ok := ed.(*farmeditor.PointEditor)
	if !ok {
		return nil, huma.Error409Conflict("field is not a center point")
	}
	return pe, nil
}

// gestureError maps editor errors onto HTTP errors.
func gestureError(err error) error {
	switch {
	case err == nil:
		return nil
	case eris.Is(err, farmeditor.ErrNoVertex):
		return huma.Error422UnprocessableEntity(err.Error())
	case eris.Is(err, farmeditor.ErrDisposed):
		return huma.Error410Gone("editor was disposed")
	case eris.Is(err, farmeditor.ErrNotActive):
		return huma.Error409Conflict("editor is not active")
	}
	return huma.Error500InternalServerError("gesture failed", err)
}

// noContent answers a gesture with 204 No Content unless it failed.
func noContent(err error) (*struct{}, error) {
	if err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

// View records where the user panned or zoomed to.
func (h *GeoHandler) View(ctx context.Context, input *struct {
	KeyInput
	Body ViewBody
}) (*struct{}, error) {
	ed, err := h.session(input.key())
	if err != nil {
		return nil, err
	}
	input.Body.sync(ed)
	return &struct{}{}, nil
}

func (h *GeoHandler) Click(ctx context.Context, input *struct {
	KeyInput
	Body PointBody
}) (*struct{}, error) {
	ed, err := h.session(input.key())
	if err != nil {
		return nil, err
	}
	input.Body.View.sync(ed)
	switch e := ed.(type) {
	case *farmeditor.PolygonEditor:
		return noContent(gestureError(e.Click(ctx, input.Body.point(), input.Body.button())))
	case *farmeditor.PointEditor:
		return noContent(gestureError(e.Click(ctx, input.Body.point(), input.Body.button())))
	}
	return &struct{}{}, nil
}

func (h *GeoHandler) DoubleClick(ctx context.Context, input *struct {
	KeyInput
	Body PointBody
}) (*struct{}, error) {
	pe, err := h.polygon(input.key())
	if err != nil {
		return nil, err
	}
	input.Body.View.sync(pe)
	return noContent(gestureError(pe.DoubleClick(ctx, input.Body.point())))
}

func (h *GeoHandler) Draw(ctx context.Context, input *KeyInput) (*struct{}, error) {
	pe, err := h.polygon(input.key())
	if err != nil {
		return nil, err
	}
	return noContent(gestureError(pe.StartDrawing(ctx)))
}

func (h *GeoHandler) Finish(ctx context.Context, input *KeyInput) (*struct{}, error) {
	pe, err := h.polygon(input.key())
	if err != nil {
		return nil, err
	}
	return noContent(gestureError(pe.FinishDrawing(ctx)))
}

func (h *GeoHandler) ToggleEdit(ctx context.Context, input *KeyInput) (*struct{}, error) {
	pe, err := h.polygon(input.key())
	if err != nil {
		return nil, err
	}
	return noContent(gestureError(pe.ToggleEdit(ctx)))
}

func (h *GeoHandler) Clear(ctx context.Context, input *KeyInput) (*struct{}, error) {
	pe, err := h.polygon(input.key())
	if err != nil {
		return nil, err
	}
	return noContent(gestureError(pe.Clear(ctx)))
}

func (h *GeoHandler) DragVertex(ctx context.Context, input *struct {
	KeyInput
	Body VertexBody
}) (*struct{}, error) {
	pe, err := h.polygon(input.key())
	if err != nil {
		return nil, err
	}
	p := geo.Point{Lat: input.Body.Lat, Lng: input.Body.Lng}
	return noContent(gestureError(pe.DragVertex(ctx, input.Body.Index, p)))
}

func (h *GeoHandler) DropVertex(ctx context.Context, input *struct {
	KeyInput
	Body VertexBody
}) (*struct{}, error) {
	pe, err := h.polygon(input.key())
	if err != nil {
		return nil, err
	}
	p := geo.Point{Lat: input.Body.Lat, Lng: input.Body.Lng}
	return noContent(gestureError(pe.DropVertex(ctx, input.Body.Index, p)))
}

func (h *GeoHandler) DeleteVertex(ctx context.Context, input *struct {
	KeyInput
	Body VertexBody
}) (*struct{}, error) {
	pe, err := h.polygon(input.key())
	if err != nil {
		return nil, err
	}
	return noContent(gestureError(pe.DeleteVertex(ctx, input.Body.Index)))
}

func (h *GeoHandler) DragMarker(ctx context.Context, input *struct {
	KeyInput
	Body PointBody
}) (*struct{}, error) {
	pe, err := h.point(input.key())
	if err != nil {
		return nil, err
	}
	return noContent(gestureError(pe.DragMarker(ctx, input.Body.point())))
}

func (h *GeoHandler) DropMarker(ctx context.Context, input *struct {
	KeyInput
	Body PointBody
}) (*struct{}, error) {
	pe, err := h.point(input.key())
	if err != nil {
		return nil, err
	}
	return noContent(gestureError(pe.DropMarker(ctx, input.Body.point())))
}

// Locate starts a geolocation and returns at once. The page answers the
// locate event through LocateFix or LocateError.
func (h *GeoHandler) Locate(ctx context.Context, input *KeyInput) (*struct{}, error) {
	ed, err := h.session(input.key())
	if err != nil {
		return nil, err
	}
	go func() {
		if err := ed.Locate(context.WithoutCancel(ctx)); err != nil {
			h.log.Debug("locate ended", zap.String("farm", input.ID), zap.Error(err))
		}
	}()
	return &struct{}{}, nil
}

func (h *GeoHandler) LocateFix(ctx context.Context, input *struct {
	KeyInput
	Body FixBody
}) (*struct{}, error) {
	o, ok := h.outbox(input.key())
	if !ok {
		return nil, huma.Error404NotFound("no editor is mounted for this field")
	}
	fix := geolocate.Fix{Point: geo.Point{Lat: input.Body.Lat, Lng: input.Body.Lng}, Accuracy: input.Body.Accuracy}
	if !o.relay.Deliver(input.Body.ID, fix) {
		return nil, huma.Error404NotFound("no such locate request")
	}
	return &struct{}{}, nil
}

func (h *GeoHandler) LocateError(ctx context.Context, input *struct {
	KeyInput
	Body FixErrorBody
}) (*struct{}, error) {
	o, ok := h.outbox(input.key())
	if !ok {
		return nil, huma.Error404NotFound("no editor is mounted for this field")
	}
	if !o.relay.Fail(input.Body.ID, geolocate.Code(input.Body.Code), input.Body.Message) {
		return nil, huma.Error404NotFound("no such locate request")
	}
	return &struct{}{}, nil
}
