// Package config loads the editor and map settings and sets up logging.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joeblew999/plat-farmgeo/internal/editor"
	"github.com/joeblew999/plat-farmgeo/internal/mapview"
)

// Config is the file and environment configuration.
type Config struct {
	Maps   mapview.Config `yaml:"maps" mapstructure:"maps"`
	Editor EditorConfig   `yaml:"editor" mapstructure:"editor"`
	Log    LogConfig      `yaml:"log" mapstructure:"log"`
}

// EditorConfig configures both geo editors.
type EditorConfig struct {
	editor.Settings `yaml:",inline" mapstructure:",squash"`
	// MapHeight is the editor map height in pixels.
	MapHeight int `yaml:"map_height" mapstructure:"map_height"`
	MapWidth  int `yaml:"map_width" mapstructure:"map_width"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from path (or ./farmgeo.yaml when path is empty)
// and FARMGEO_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("farmgeo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("FARMGEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	def := editor.DefaultSettings()
	leaflet := mapview.DefaultLeafletConfig()
	v.SetDefault("maps.vendor", mapview.VendorLeaflet)
	v.SetDefault("maps.load_retries", 3)
	v.SetDefault("maps.google.api_key", "")
	v.SetDefault("maps.google.libraries", []string{"drawing", "geometry"})
	v.SetDefault("maps.leaflet.script_url", leaflet.ScriptURL)
	v.SetDefault("maps.leaflet.style_url", leaflet.StyleURL)
	v.SetDefault("maps.leaflet.tile_url", leaflet.TileURL)
	v.SetDefault("maps.leaflet.max_zoom", leaflet.MaxZoom)
	v.SetDefault("editor.default_center.lat", def.DefaultCenter.Lat)
	v.SetDefault("editor.default_center.lng", def.DefaultCenter.Lng)
	v.SetDefault("editor.empty_zoom", def.EmptyZoom)
	v.SetDefault("editor.focus_zoom", def.FocusZoom)
	v.SetDefault("editor.locate_zoom", def.LocateZoom)
	v.SetDefault("editor.insert_threshold", def.InsertThreshold)
	v.SetDefault("editor.fit_padding", def.FitPadding)
	v.SetDefault("editor.locate.high_accuracy", def.Locate.HighAccuracy)
	v.SetDefault("editor.locate.timeout", def.Locate.Timeout)
	v.SetDefault("editor.locate.maximum_age", def.Locate.MaximumAge)
	v.SetDefault("editor.map_height", 300)
	v.SetDefault("editor.map_width", 600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	// The default attribution only describes the default tiles.
	if cfg.Maps.Leaflet.TileURL == leaflet.TileURL && cfg.Maps.Leaflet.Attribution == "" {
		cfg.Maps.Leaflet.Attribution = leaflet.Attribution
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
