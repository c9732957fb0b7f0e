// Package config handles configuration loading for the VoxelView server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Scene  SceneConfig  `yaml:"scene"`
	Viewer ViewerConfig `yaml:"viewer"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ImageSizeMB     int `yaml:"image_size_mb"`
	ImageTTLMinutes int `yaml:"image_ttl_minutes"`
	SceneCacheSize  int `yaml:"scene_cache_size"`
}

// RenderConfig contains slice rendering settings.
type RenderConfig struct {
	ImageSize       int    `yaml:"image_size"`
	DefaultColormap string `yaml:"default_colormap"`
}

// SceneConfig controls how 3D scene documents reference plotly.js.
// When PlotlyJS is "local", PlotlyAssetPath must exist at render time.
type SceneConfig struct {
	PlotlyJS        string `yaml:"plotly_js"`
	PlotlyAssetPath string `yaml:"plotly_asset_path"`
}

// ViewerConfig contains interaction settings.
type ViewerConfig struct {
	DebounceMS int `yaml:"debounce_ms"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			MaxUploadMB: 512,
		},
		Cache: CacheConfig{
			ImageSizeMB:     256,
			ImageTTLMinutes: 10,
			SceneCacheSize:  32,
		},
		Render: RenderConfig{
			ImageSize:       512,
			DefaultColormap: "gray",
		},
		Scene: SceneConfig{
			PlotlyJS: "cdn",
		},
		Viewer: ViewerConfig{
			DebounceMS: 150,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = defaults.Server.MaxUploadMB
	}
	if cfg.Cache.ImageSizeMB == 0 {
		cfg.Cache.ImageSizeMB = defaults.Cache.ImageSizeMB
	}
	if cfg.Cache.ImageTTLMinutes == 0 {
		cfg.Cache.ImageTTLMinutes = defaults.Cache.ImageTTLMinutes
	}
	if cfg.Cache.SceneCacheSize == 0 {
		cfg.Cache.SceneCacheSize = defaults.Cache.SceneCacheSize
	}
	if cfg.Render.ImageSize == 0 {
		cfg.Render.ImageSize = defaults.Render.ImageSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Scene.PlotlyJS == "" {
		cfg.Scene.PlotlyJS = defaults.Scene.PlotlyJS
	}
	if cfg.Viewer.DebounceMS == 0 {
		cfg.Viewer.DebounceMS = defaults.Viewer.DebounceMS
	}
}
