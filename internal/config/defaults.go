package config

import "github.com/hyperjump/mitsukeru/internal/catalog"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/mitsukeru/data/db/mitsukeru.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/mitsukeru/data/indices/businesses"
	}
	if cfg.Catalog.Extensions == nil {
		cfg.Catalog.Extensions = append([]string(nil), catalog.DefaultExtensions...)
	}
	if cfg.Catalog.Workers == 0 {
		cfg.Catalog.Workers = 4
	}
	// Watch defaults to true when directories are configured.
	if len(cfg.Catalog.Directories) > 0 && cfg.Catalog.Watch == nil {
		t := true
		cfg.Catalog.Watch = &t
	}
}
