package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lykmapipo/osm-analytics/internal/broadcaster"
	"github.com/lykmapipo/osm-analytics/internal/engine"
	"github.com/lykmapipo/osm-analytics/internal/hotprojects"
	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/search"
	"github.com/lykmapipo/osm-analytics/internal/server"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

// Config holds all application configuration
type Config struct {
	Server      server.Config      `json:"server" yaml:"server"`
	Engine      engine.Config      `json:"engine" yaml:"engine"`
	Search      search.Config      `json:"search" yaml:"search"`
	HotProjects hotprojects.Config `json:"hotProjects" yaml:"hotProjects"`
	Broadcaster broadcaster.Config `json:"broadcaster" yaml:"broadcaster"`
	Layers      []models.Layer     `json:"layers" yaml:"layers"`
	LogLevel    string             `json:"logLevel" yaml:"logLevel"`
}

// DefaultConfig returns default configuration for the entire application
func DefaultConfig() Config {
	return Config{
		Server:      server.DefaultConfig(),
		Engine:      engine.DefaultConfig(),
		Search:      search.DefaultConfig(),
		HotProjects: hotprojects.DefaultConfig(),
		Broadcaster: broadcaster.DefaultConfig(),
		Layers:      models.DefaultLayers(),
		LogLevel:    "INFO",
	}
}

// Load returns the default configuration overlaid with the YAML file at path
// (skipped when path is empty) and then with environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, utils.WrapError(err, utils.ErrorTypeConfig, "CONFIG_READ_FAILED", "failed to read config file", "CONFIG").
				WithContext("path", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, utils.WrapError(err, utils.ErrorTypeConfig, "CONFIG_PARSE_FAILED", "failed to parse config file", "CONFIG").
				WithContext("path", path)
		}
		utils.LogInfo("CONFIG", "Loaded configuration from %s", path)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.HotProjects.SourceURL == "" && cfg.HotProjects.SourceFile == "" {
		utils.LogWarn("CONFIG", "No hot projects source configured, hot regions will not resolve")
	}
	return cfg, nil
}

// applyEnv overrides settings from PORT, SEARCH_BASE_URL, HOT_PROJECTS_URL
// and LOG_LEVEL
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if !strings.Contains(port, ":") {
			port = ":" + port
		}
		cfg.Server.Port = port
		utils.LogDebug("CONFIG", "PORT overrides server.port: %s", port)
	}
	if url := os.Getenv("SEARCH_BASE_URL"); url != "" {
		cfg.Search.BaseURL = url
		utils.LogDebug("CONFIG", "SEARCH_BASE_URL overrides search.baseUrl")
	}
	if url := os.Getenv("HOT_PROJECTS_URL"); url != "" {
		cfg.HotProjects.SourceURL = url
		utils.LogDebug("CONFIG", "HOT_PROJECTS_URL overrides hotProjects.sourceUrl")
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

// Validate checks settings that would otherwise fail later at runtime
func (c Config) Validate() error {
	if len(c.Layers) == 0 {
		return invalid("at least one layer must be configured")
	}
	seen := make(map[string]bool, len(c.Layers))
	for _, l := range c.Layers {
		if l.Name == "" {
			return invalid("layer without a name")
		}
		if seen[l.Name] {
			return invalid(fmt.Sprintf("duplicate layer %q", l.Name))
		}
		seen[l.Name] = true
	}
	if c.Search.BaseURL == "" {
		return invalid("search.baseUrl is required")
	}
	if c.Engine.Stats.MaxSamples < 0 || c.Engine.Stats.SamplingThreshold < 0 {
		return invalid("engine.stats values must not be negative")
	}
	return nil
}

func invalid(message string) *utils.AppError {
	return utils.NewAppError(utils.ErrorTypeConfig, "CONFIG_INVALID", message, "CONFIG")
}
