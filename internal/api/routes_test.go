package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-farmgeo/internal/db"
	"github.com/joeblew999/plat-farmgeo/internal/service"
)

func newTestAPI(t *testing.T) (humatest.TestAPI, *service.FarmService) {
	t.Helper()
	conn, err := db.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	farms := service.NewFarmService(conn)

	config := huma.DefaultConfig("test", "1.0.0")
	config.Transformers = append(config.Transformers, LinkTransformer())
	_, api := humatest.New(t, config)
	RegisterRoutes(api, &Services{Farms: farms})
	return api, farms
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.Get("/health")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"ok"`)
	assert.Contains(t, strings.Join(resp.Header().Values("Link"), ","), `rel="farms"`)
}

func TestFarmCRUD(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Post("/api/v1/farms", map[string]any{"name": "Sebeta plot 4", "farmer": "Abebe"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	created := decode[service.Farm](t, resp.Body.String())
	require.NotEmpty(t, created.ID)

	links := strings.Join(resp.Header().Values("Link"), ",")
	assert.Contains(t, links, `rel="edit-boundary"`)
	assert.Contains(t, links, "/api/v1/farms/"+created.ID)

	resp = api.Get("/api/v1/farms/" + created.ID)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "Abebe", decode[service.Farm](t, resp.Body.String()).Farmer)

	resp = api.Put("/api/v1/farms/"+created.ID, map[string]any{"name": "Sebeta plot 5"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "Sebeta plot 5", decode[service.Farm](t, resp.Body.String()).Name)

	resp = api.Get("/api/v1/farms")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[[]service.Farm](t, resp.Body.String()), 1)

	resp = api.Delete("/api/v1/farms/" + created.ID)
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = api.Get("/api/v1/farms/" + created.ID)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestCreateFarm_RequiresName(t *testing.T) {
	api, _ := newTestAPI(t)
	resp := api.Post("/api/v1/farms", map[string]any{"farmer": "Abebe"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestPatchField_CanonicalizesAndPublishes(t *testing.T) {
	api, farms := newTestAPI(t)
	resp := api.Post("/api/v1/farms", map[string]any{"name": "Bishoftu"})
	require.Equal(t, http.StatusCreated, resp.Code)
	id := decode[service.Farm](t, resp.Body.String()).ID

	events := farms.Fields.Subscribe()
	defer farms.Fields.Unsubscribe(events)

	resp = api.Patch("/api/v1/farms/"+id+"/fields/farm_center_point", map[string]any{"value": "8.75, 38.98"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.JSONEq(t, `{"lat":8.75,"lng":38.98}`, decode[service.Farm](t, resp.Body.String()).CenterPoint)

	ev := <-events
	assert.Equal(t, service.FieldEvent{FarmID: id, Field: service.FieldCenterPoint, Value: `{"lat":8.75,"lng":38.98}`}, ev)

	resp = api.Get("/api/v1/farms/points")
	require.Equal(t, http.StatusOK, resp.Code)
	points := decode[[]service.FarmPoint](t, resp.Body.String())
	require.Len(t, points, 1)
	assert.Equal(t, "Bishoftu", points[0].Name)
}

func TestPatchField_Errors(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Patch("/api/v1/farms/missing/fields/farm_polygon", map[string]any{"value": ""})
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.Patch("/api/v1/farms/missing/fields/name", map[string]any{"value": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}
