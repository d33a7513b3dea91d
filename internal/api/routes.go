// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/plat-farmgeo/internal/humastar"
	"github.com/joeblew999/plat-farmgeo/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Farms *service.FarmService
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Farm ID" example:"3f1c2e9a-7b4d-4e21-9c55-0a8d1f6b2e10"`
}

type FieldInput struct {
	IDInput
	Field string `path:"field" enum:"farm_center_point,farm_polygon" doc:"Geo field name"`
}

type FieldBody struct {
	Value string `json:"value" doc:"Field value: {lat,lng} JSON for the center point, a GeoJSON Polygon for the boundary, or empty to clear"`
}

// FarmBody is a farm plus the actions available on it.
type FarmBody struct {
	service.Farm
}

var farmActions = []humastar.ActionDef{
	{Rel: "edit", Pattern: "/api/v1/farms/%s", Method: http.MethodPut, Title: "Update farm"},
	{Rel: "delete", Pattern: "/api/v1/farms/%s", Method: http.MethodDelete, Title: "Delete farm"},
	{Rel: "edit-center", Pattern: "/api/v1/farms/%s/fields/farm_center_point", Method: http.MethodPatch, Title: "Set center point"},
	{Rel: "edit-boundary", Pattern: "/api/v1/farms/%s/fields/farm_polygon", Method: http.MethodPatch, Title: "Set boundary"},
}

// Actions lists what a client may do with the farm.
func (b FarmBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, farmActions)
}

type FarmOutput struct {
	Body FarmBody
}

type FarmsOutput struct {
	Body []service.Farm
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterRoutes registers every REST handler on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterFarms registers farm CRUD routes.
func (h *APIHandler) RegisterFarms(api huma.API) {
	huma.Get(api, "/api/v1/farms", h.GetFarms, huma.OperationTags("farms"))
	huma.Post(api, "/api/v1/farms", h.CreateFarm, huma.OperationTags("farms"), func(o *huma.Operation) {
		o.DefaultStatus = http.StatusCreated
	})
	huma.Get(api, "/api/v1/farms/points", h.GetFarmPoints, huma.OperationTags("farms"))
	huma.Get(api, "/api/v1/farms/{id}", h.GetFarm, huma.OperationTags("farms"))
	huma.Put(api, "/api/v1/farms/{id}", h.PutFarm, huma.OperationTags("farms"))
	huma.Delete(api, "/api/v1/farms/{id}", h.DeleteFarm, huma.OperationTags("farms"))
	huma.Patch(api, "/api/v1/farms/{id}/fields/{field}", h.PatchField, huma.OperationTags("farms"))
}

// farmError maps service errors onto HTTP errors.
func farmError(err error) error {
	switch {
	case eris.Is(err, service.ErrFarmNotFound):
		return huma.Error404NotFound("farm not found")
	case eris.Is(err, service.ErrUnknownField):
		return huma.Error422UnprocessableEntity("not a geo field")
	}
	return huma.Error500InternalServerError("farm store failed", err)
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetFarms(ctx context.Context, input *struct{}) (*FarmsOutput, error) {
	farms, err := h.svc.Farms.List(ctx)
	if err != nil {
		return nil, farmError(err)
	}
	return &FarmsOutput{Body: farms}, nil
}

func (h *APIHandler) CreateFarm(ctx context.Context, input *struct{ Body service.Farm }) (*FarmOutput, error) {
	created, err := h.svc.Farms.Create(ctx, input.Body)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &FarmOutput{Body: FarmBody{created}}, nil
}

func (h *APIHandler) GetFarmPoints(ctx context.Context, input *struct{}) (*struct{ Body []service.FarmPoint }, error) {
	points, err := h.svc.Farms.CenterPoints(ctx)
	if err != nil {
		return nil, farmError(err)
	}
	return &struct{ Body []service.FarmPoint }{Body: points}, nil
}

func (h *APIHandler) GetFarm(ctx context.Context, input *IDInput) (*FarmOutput, error) {
	farm, err := h.svc.Farms.Get(ctx, input.ID)
	if err != nil {
		return nil, farmError(err)
	}
	return &FarmOutput{Body: FarmBody{farm}}, nil
}

func (h *APIHandler) PutFarm(ctx context.Context, input *struct {
	IDInput
	Body service.Farm
}) (*FarmOutput, error) {
	updated, err := h.svc.Farms.Update(ctx, input.ID, input.Body)
	if err != nil {
		if eris.Is(err, service.ErrFarmNotFound) {
			return nil, farmError(err)
		}
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &FarmOutput{Body: FarmBody{updated}}, nil
}

func (h *APIHandler) DeleteFarm(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Farms.Delete(ctx, input.ID); err != nil {
		return nil, farmError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Farm deleted"}}, nil
}

// PatchField sets one geo field. Open editors on the farm follow the change.
func (h *APIHandler) PatchField(ctx context.Context, input *struct {
	FieldInput
	Body FieldBody
}) (*FarmOutput, error) {
	value := service.CanonicalField(input.Field, input.Body.Value)
	if err := h.svc.Farms.SetField(ctx, input.ID, input.Field, value); err != nil {
		return nil, farmError(err)
	}
	farm, err := h.svc.Farms.Get(ctx, input.ID)
	if err != nil {
		return nil, farmError(err)
	}
	return &FarmOutput{Body: FarmBody{farm}}, nil
}
