package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir string
	vendor  string
	dbOK    bool
}

func NewInfoHandler(dataDir, vendor string, dbOK bool) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, vendor: vendor, dbOK: dbOK}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name      string   `json:"name" doc:"Service name"`
	Version   string   `json:"version" doc:"Service version"`
	DataDir   string   `json:"data_dir" doc:"Data directory path"`
	MapVendor string   `json:"map_vendor" doc:"Active map vendor" example:"leaflet"`
	DB        bool     `json:"db" doc:"Whether database is available"`
	Features  []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:      "plat-farmgeo",
		Version:   "0.1.0",
		DataDir:   h.dataDir,
		MapVendor: h.vendor,
		DB:        h.dbOK,
		Features:  []string{"center-point", "boundary", "geolocation", "duckdb"},
	}}, nil
}
