package editor

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/humastar"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
	"github.com/joeblew999/plat-farmgeo/internal/service"
	"github.com/joeblew999/plat-farmgeo/internal/templates"
	"github.com/joeblew999/plat-farmgeo/internal/workspace"
)

// EventHandler streams the farm list and the overview map, and refreshes
// both whenever a farm changes.
type EventHandler struct {
	humastar.Handler
	farms  *service.FarmService
	widget *workspace.Widget
	height int
	log    *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(farms *service.FarmService, widget *workspace.Widget, renderer *templates.Renderer, height int) *EventHandler {
	return &EventHandler{
		Handler: humastar.Handler{Renderer: renderer},
		farms:   farms,
		widget:  widget,
		height:  height,
		log:     zap.L().With(zap.String("component", "events")),
	}
}

func (h *EventHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/editor/farms", h.Farms, huma.OperationTags("editor"))
	huma.Get(api, "/api/v1/editor/workspace/map", h.Workspace, huma.OperationTags("editor"))
}

func (h *EventHandler) renderFarmList(ctx context.Context) string {
	farms, err := h.farms.List(ctx)
	if err != nil {
		h.log.Error("list farms", zap.Error(err))
	}
	items := make([]any, len(farms))
	for i, f := range farms {
		items[i] = f
	}
	return h.RenderList("farm-row", items, "No farms yet.", "Create one through the API.")
}

// Farms streams the farm list.
func (h *EventHandler) Farms(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.farms.Events.Subscribe()
		defer h.farms.Events.Unsubscribe(ch)

		if err := sse.Patch(h.renderFarmList(ctx), "#farm-list"); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if ev.Resource != "farms" {
					continue
				}
				sse.Patch(h.renderFarmList(ctx), "#farm-list")
				sse.DispatchCustomEvent("resource-changed", map[string]any{
					"resource": ev.Resource,
					"action":   ev.Action,
					"id":       ev.ID,
				})
			}
		}
	}), nil
}

// Workspace streams the overview map with one marker per farm. Every farm
// change renders it again into the same container.
func (h *EventHandler) Workspace(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		ch := h.farms.Events.Subscribe()
		defer h.farms.Events.Unsubscribe(ch)

		// One container per stream so two open pages do not evict each other.
		container := "workspace-map-" + uuid.NewString()[:8]
		defer h.widget.Release(container)

		html, err := h.Renderer.Render("farm-map", map[string]any{
			"ContainerID": container,
			"Height":      h.height,
			"Base":        "/api/v1/editor/workspace",
		})
		if err != nil {
			h.log.Error("render workspace", zap.Error(err))
			return
		}
		if err := sse.Patch(html, "#workspace-slot"); err != nil {
			return
		}

		// Each render starts a new map, so it gets a new outbox.
		var o *outbox
		render := func() {
			o = newOutbox(container, 0, h.height)
			if _, err := h.widget.Render(ctx, mapview.Container{ID: container, Height: h.height, Publish: o.publish}); err != nil {
				h.log.Warn("render workspace map", zap.Error(err))
				sse.Error("The farm map could not be loaded")
			}
		}
		render()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-ch:
				if ev.Resource == "farms" {
					render()
				}
			case <-o.wake:
				scene, _, _ := o.drain()
				if scene == nil || scene.Disposed {
					continue
				}
				if err := sse.Event(sceneEvent, scene); err != nil {
					return
				}
			}
		}
	}), nil
}
