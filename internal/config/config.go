// Package config provides configuration loading and structs for the Mitsukeru server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/ranking"
	"github.com/hyperjump/mitsukeru/internal/recommend"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the database and holds index paths.
type StorageConfig struct {
	Driver         string `yaml:"driver"` // sqlite or postgres
	DatabasePath   string `yaml:"database_path"`
	PostgresURL    string `yaml:"postgres_url"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// CatalogConfig holds catalog import and watch settings.
type CatalogConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Watch       *bool    `yaml:"watch"`
	Workers     int      `yaml:"workers"`
}

// WatchOrDefault returns whether to watch catalog directories; defaults to true when unset.
func (c *CatalogConfig) WatchOrDefault() bool {
	if c.Watch != nil {
		return *c.Watch
	}
	return true
}

// LocationConfig is a fixed coordinate.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// PipelineConfig tunes the filter pipeline.
type PipelineConfig struct {
	ranking.Overrides `yaml:",inline"`
	RelaxEmptyCutoff  *bool `yaml:"relax_empty_cutoff"`
}

// RecommendConfig tunes the recommendation score.
type RecommendConfig struct {
	Alpha         *float64 `yaml:"alpha"`
	Beta          *float64 `yaml:"beta"`
	MinSimilarity *float64 `yaml:"min_similarity"`
}

// DiscoveryConfig holds ranking and recommendation tuning. Unset fields keep
// the built-in defaults.
type DiscoveryConfig struct {
	FallbackLocation *LocationConfig   `yaml:"fallback_location"`
	Search           ranking.Overrides `yaml:"search"`
	Pipeline         PipelineConfig    `yaml:"pipeline"`
	Recommend        RecommendConfig   `yaml:"recommend"`
}

// Fallback returns the reference point used when a query carries no address.
func (d *DiscoveryConfig) Fallback() models.Address {
	if d.FallbackLocation == nil {
		return models.Address{Latitude: 51.5074, Longitude: -0.1278}
	}
	return models.Address{Latitude: d.FallbackLocation.Latitude, Longitude: d.FallbackLocation.Longitude}
}

// SearchParams returns the search ranker tuning.
func (d *DiscoveryConfig) SearchParams() ranking.Params {
	return ranking.DefaultSearchParams().Apply(d.Search)
}

// PipelineParams returns the filter pipeline tuning.
func (d *DiscoveryConfig) PipelineParams() ranking.Params {
	return ranking.PipelineParams().Apply(d.Pipeline.Overrides)
}

// RelaxEmptyCutoffOrDefault defaults to true when unset.
func (d *DiscoveryConfig) RelaxEmptyCutoffOrDefault() bool {
	if d.Pipeline.RelaxEmptyCutoff != nil {
		return *d.Pipeline.RelaxEmptyCutoff
	}
	return true
}

// RecommendParams returns the recommendation tuning.
func (d *DiscoveryConfig) RecommendParams() recommend.Params {
	p := recommend.DefaultParams()
	if d.Recommend.Alpha != nil {
		p.Alpha = *d.Recommend.Alpha
	}
	if d.Recommend.Beta != nil {
		p.Beta = *d.Recommend.Beta
	}
	if d.Recommend.MinSimilarity != nil {
		p.MinSimilarity = *d.Recommend.MinSimilarity
	}
	return p
}

// Validate checks settings that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	for name, p := range map[string]ranking.Params{
		"search":   c.Discovery.SearchParams(),
		"pipeline": c.Discovery.PipelineParams(),
	} {
		if p.Alpha < 0 || p.Alpha > 1 {
			return fmt.Errorf("discovery.%s.alpha must be between 0 and 1", name)
		}
		if p.Beta < 0 {
			return fmt.Errorf("discovery.%s.beta must not be negative", name)
		}
	}
	if r := c.Discovery.RecommendParams(); r.Alpha < 0 || r.Alpha > 1 {
		return fmt.Errorf("discovery.recommend.alpha must be between 0 and 1")
	}
	return nil
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	for i := range cfg.Catalog.Directories {
		cfg.Catalog.Directories[i] = expandPath(cfg.Catalog.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
