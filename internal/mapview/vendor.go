package mapview

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Vendor describes a map backend the browser can render a Scene with.
type Vendor interface {
	Name() string
	// ScriptURL is the library the browser loads. The server fetches it once
	// to fail fast on bad credentials or an unreachable CDN.
	ScriptURL() string
	// Validate reports missing configuration before any network call.
	Validate() error
	MaxZoom() int
	Tiles() *TileLayer
}

const (
	VendorGoogle  = "google"
	VendorLeaflet = "leaflet"
)

// ErrMissingCredentials is returned when a vendor needs a key that is unset.
var ErrMissingCredentials = eris.New("map credentials are not configured")

// GoogleConfig configures the Google Maps JS backend.
type GoogleConfig struct {
	APIKey    string   `mapstructure:"api_key" yaml:"api_key"`
	Libraries []string `mapstructure:"libraries" yaml:"libraries"`
	ScriptURL string   `mapstructure:"script_url" yaml:"script_url"`
}

// Google renders with the Google Maps JavaScript API.
type Google struct {
	cfg GoogleConfig
}

// NewGoogle returns the Google vendor. Drawing and geometry libraries are
// always requested.
func NewGoogle(cfg GoogleConfig) *Google {
	libs := cfg.Libraries
	for _, need := range []string{"drawing", "geometry"} {
		found := false
		for _, l := range libs {
			if l == need {
				found = true
				break
			}
		}
		if !found {
			libs = append(libs, need)
		}
	}
	cfg.Libraries = libs
	if cfg.ScriptURL == "" {
		cfg.ScriptURL = "https://maps.googleapis.com/maps/api/js"
	}
	return &Google{cfg: cfg}
}

func (g *Google) Name() string { return VendorGoogle }

func (g *Google) ScriptURL() string {
	q := url.Values{}
	q.Set("key", g.cfg.APIKey)
	q.Set("libraries", strings.Join(g.cfg.Libraries, ","))
	return g.cfg.ScriptURL + "?" + q.Encode()
}

func (g *Google) Validate() error {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return eris.Wrap(ErrMissingCredentials, "google maps api key is empty")
	}
	return nil
}

func (g *Google) MaxZoom() int { return 21 }

func (g *Google) Tiles() *TileLayer { return nil }

// LeafletConfig configures the Leaflet backend.
type LeafletConfig struct {
	ScriptURL   string `mapstructure:"script_url" yaml:"script_url"`
	StyleURL    string `mapstructure:"style_url" yaml:"style_url"`
	TileURL     string `mapstructure:"tile_url" yaml:"tile_url"`
	Attribution string `mapstructure:"attribution" yaml:"attribution"`
	MaxZoom     int    `mapstructure:"max_zoom" yaml:"max_zoom"`
}

// DefaultLeafletConfig uses OpenStreetMap tiles and the unpkg Leaflet build.
func DefaultLeafletConfig() LeafletConfig {
	return LeafletConfig{
		ScriptURL:   "https://unpkg.com/leaflet@1.9.4/dist/leaflet.js",
		StyleURL:    "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css",
		TileURL:     "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "&copy; OpenStreetMap contributors",
		MaxZoom:     19,
	}
}

// Leaflet renders with Leaflet and a raster tile server.
type Leaflet struct {
	cfg LeafletConfig
}

func NewLeaflet(cfg LeafletConfig) *Leaflet {
	if cfg.MaxZoom <= 0 {
		cfg.MaxZoom = 19
	}
	return &Leaflet{cfg: cfg}
}

func (l *Leaflet) Name() string { return VendorLeaflet }

func (l *Leaflet) ScriptURL() string { return l.cfg.ScriptURL }

func (l *Leaflet) StyleURL() string { return l.cfg.StyleURL }

func (l *Leaflet) Validate() error {
	if l.cfg.ScriptURL == "" {
		return eris.New("leaflet script url is empty")
	}
	if l.cfg.TileURL == "" {
		return eris.New("leaflet tile url is empty")
	}
	if strings.TrimSpace(l.cfg.Attribution) == "" {
		return eris.Errorf("leaflet tiles %s have no attribution", l.cfg.TileURL)
	}
	return nil
}

func (l *Leaflet) MaxZoom() int { return l.cfg.MaxZoom }

func (l *Leaflet) Tiles() *TileLayer {
	return &TileLayer{URL: l.cfg.TileURL, Attribution: l.cfg.Attribution, MaxZoom: l.cfg.MaxZoom}
}
