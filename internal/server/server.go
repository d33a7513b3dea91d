package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-farmgeo/internal/api"
	"github.com/joeblew999/plat-farmgeo/internal/api/editor"
	"github.com/joeblew999/plat-farmgeo/internal/config"
	"github.com/joeblew999/plat-farmgeo/internal/db"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
	"github.com/joeblew999/plat-farmgeo/internal/metrics"
	"github.com/joeblew999/plat-farmgeo/internal/service"
	"github.com/joeblew999/plat-farmgeo/internal/templates"
	"github.com/joeblew999/plat-farmgeo/internal/workspace"
)

// Config holds the server configuration.
type Config struct {
	Host       string
	Port       string
	DataDir    string
	WebDir     string // Path to web/ directory for static files and template overrides
	ConfigFile string // Optional farmgeo.yaml path
	Dev        bool   // Re-read fragment overrides on every page request
}

// Server is the farm geolocation HTTP server.
type Server struct {
	config   Config
	settings *config.Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	farms    *service.FarmService
	provider *mapview.VendorProvider
	renderer *templates.Renderer
	frags    string
	geo      *editor.GeoHandler
	cancel   context.CancelFunc
}

// New creates a new server.
func New(cfg Config) (*Server, error) {
	settings, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := config.InitLogger(settings.Log); err != nil {
		return nil, err
	}
	log := zap.L()

	conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "farmgeo"})
	if err != nil {
		return nil, eris.Wrap(err, "open farm store")
	}

	loader := mapview.NewLoader(
		mapview.HTTPFetcher(&http.Client{Timeout: 15 * time.Second}),
		mapview.WithRetries(settings.Maps.LoadRetries),
	)
	provider, err := mapview.New(settings.Maps, loader)
	if err != nil {
		return nil, err
	}

	// Fragment templates: web/templates/fragments overrides the built-in set
	fragmentsDir := ""
	if cfg.WebDir != "" {
		dir := filepath.Join(cfg.WebDir, "templates", "fragments")
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fragmentsDir = dir
		}
	}
	renderer, err := templates.New(fragmentsDir)
	if err != nil {
		return nil, err
	}
	if fragmentsDir != "" {
		log.Info("loaded fragment templates", zap.String("dir", fragmentsDir))
	}

	mux := http.NewServeMux()

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-farmgeo API", "1.0.0")
	humaConfig.Info.Description = "Farm records with map-edited center points and boundaries."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:   cfg,
		settings: settings,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		db:       conn,
		farms:    service.NewFarmService(conn),
		provider: provider,
		renderer: renderer,
		frags:    fragmentsDir,
	}
	s.handler = metrics.Middleware(mux)

	s.geo = editor.NewGeoHandler(editor.GeoConfig{
		Farms:    s.farms,
		Provider: provider,
		Settings: settings.Editor.Settings,
		Renderer: renderer,
		Width:    settings.Editor.MapWidth,
		Height:   settings.Editor.MapHeight,
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.geo.Watch(ctx)

	s.routes()
	log.Info("server ready",
		zap.String("vendor", provider.Name()),
		zap.String("data_dir", cfg.DataDir))
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Close disposes every editor and closes server resources.
func (s *Server) Close() error {
	s.cancel()
	s.geo.Close()
	return db.Close()
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, &api.Services{Farms: s.farms})
	api.NewInfoHandler(s.config.DataDir, s.provider.Name(), s.db != nil).RegisterRoutes(s.humaAPI)

	// Editor SSE routes using Huma + Datastar SDK
	s.geo.RegisterRoutes(s.humaAPI)
	widget := workspace.NewWidget(s.provider, s.farms, s.settings.Editor.Settings)
	editor.NewEventHandler(s.farms, widget, s.renderer, s.settings.Editor.MapHeight).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", metrics.Handler())

	// Static files
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes
	s.mux.HandleFunc("GET /farms/{id}", s.handleFarm)
	s.mux.HandleFunc("/", s.handleRoot)
}

type pageField struct {
	Label string
	Slot  string
	Base  string
}

type pageData struct {
	Title     string
	Vendor    string
	ScriptURL string
	StyleURL  string
	Farm      *service.Farm
	Fields    []pageField
}

func (s *Server) page(title string) pageData {
	v := s.provider.Vendor()
	data := pageData{Title: title, Vendor: v.Name(), ScriptURL: v.ScriptURL()}
	if styled, ok := v.(interface{ StyleURL() string }); ok {
		data.StyleURL = styled.StyleURL()
	}
	return data
}

func (s *Server) render(w http.ResponseWriter, data pageData) {
	if s.config.Dev && s.frags != "" {
		if err := s.renderer.Reload(s.frags); err != nil {
			zap.L().Warn("reload fragment templates", zap.Error(err))
		}
	}
	html, err := s.renderer.Render("page", data)
	if err != nil {
		zap.L().Error("render page", zap.Error(err))
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.render(w, s.page("Farms"))
}

func (s *Server) handleFarm(w http.ResponseWriter, r *http.Request) {
	farm, err := s.farms.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if eris.Is(err, service.ErrFarmNotFound) {
			http.NotFound(w, r)
			return
		}
		zap.L().Error("load farm", zap.Error(err))
		http.Error(w, "farm unavailable", http.StatusInternalServerError)
		return
	}

	data := s.page(farm.Name)
	data.Farm = &farm
	data.Fields = []pageField{
		{Label: "Farm center", Slot: editor.Slot(farm.ID, service.FieldCenterPoint), Base: editor.Base(farm.ID, service.FieldCenterPoint)},
		{Label: "Farm boundary", Slot: editor.Slot(farm.ID, service.FieldPolygon), Base: editor.Base(farm.ID, service.FieldPolygon)},
	}
	s.render(w, data)
}
