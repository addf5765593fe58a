package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("driver should default to sqlite, got %q", cfg.Storage.Driver)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, `
debug: true
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/mitsukeru.db"
  bleve_index_path: "./data/indices/businesses"
catalog:
  directories: ["./catalogs"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "db", "mitsukeru.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "data", "indices", "businesses"); cfg.Storage.BleveIndexPath != want {
		t.Errorf("bleve_index_path = %s, want %s", cfg.Storage.BleveIndexPath, want)
	}
	if len(cfg.Catalog.Directories) != 1 || cfg.Catalog.Directories[0] != filepath.Join(dir, "catalogs") {
		t.Errorf("catalog directories = %v", cfg.Catalog.Directories)
	}
}

func TestLoad_discoveryTuning(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "test.db"
discovery:
  fallback_location: { latitude: 53.48, longitude: -2.24 }
  search: { gamma: 5 }
  pipeline: { cutoff: 2.5, relax_empty_cutoff: false }
  recommend: { min_similarity: 0.8 }
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	d := cfg.Discovery

	if fb := d.Fallback(); fb.Latitude != 53.48 || fb.Longitude != -2.24 {
		t.Errorf("fallback = %+v", fb)
	}

	search := d.SearchParams()
	if search.Gamma != 5 || search.Alpha != 0.5 || search.Cutoff == nil || *search.Cutoff != 1 {
		t.Errorf("search params = %+v", search)
	}

	pipeline := d.PipelineParams()
	if pipeline.Gamma != 10 || pipeline.Cutoff == nil || *pipeline.Cutoff != 2.5 {
		t.Errorf("pipeline params = %+v", pipeline)
	}
	if d.RelaxEmptyCutoffOrDefault() {
		t.Error("relax_empty_cutoff should be false")
	}

	rec := d.RecommendParams()
	if rec.MinSimilarity != 0.8 || rec.Alpha != 0.7 || rec.Beta != 0.1 {
		t.Errorf("recommend params = %+v", rec)
	}
}

func TestDiscoveryConfig_Defaults(t *testing.T) {
	var d DiscoveryConfig
	if fb := d.Fallback(); fb.Latitude != 51.5074 || fb.Longitude != -0.1278 {
		t.Errorf("fallback = %+v", fb)
	}
	if p := d.PipelineParams(); p.Gamma != 10 || *p.Cutoff != 1.7 {
		t.Errorf("pipeline = %+v", p)
	}
	if p := d.SearchParams(); p.Gamma != 3 || *p.Cutoff != 1 {
		t.Errorf("search = %+v", p)
	}
	if !d.RelaxEmptyCutoffOrDefault() {
		t.Error("relax_empty_cutoff should default to true")
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "storage: { driver: mysql }"},
		{"postgres without url", "storage: { driver: postgres }"},
		{"alpha out of range", "discovery: { pipeline: { alpha: 2 } }"},
		{"negative beta", "discovery: { search: { beta: -1 } }"},
		{"recommend alpha", "discovery: { recommend: { alpha: -0.5 } }"},
		{"malformed yaml", "server: [port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default driver: got %s", cfg.Storage.Driver)
	}
	if len(cfg.Catalog.Extensions) != 4 || cfg.Catalog.Extensions[3] != ".xlsx" {
		t.Errorf("catalog extensions: got %v", cfg.Catalog.Extensions)
	}
	if cfg.Catalog.Workers != 4 {
		t.Errorf("catalog workers: got %d", cfg.Catalog.Workers)
	}
	if cfg.Catalog.Watch != nil {
		t.Error("watch should stay unset without directories")
	}
}

func TestApplyDefaults_WatchWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Catalog: CatalogConfig{Directories: []string{"/tmp/catalogs"}}}
	ApplyDefaults(cfg)
	if cfg.Catalog.Watch == nil || !*cfg.Catalog.Watch {
		t.Error("watch should default to true when directories are set")
	}
}

func TestCatalogConfig_WatchOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		c := &CatalogConfig{}
		if got := c.WatchOrDefault(); !got {
			t.Errorf("WatchOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		c := &CatalogConfig{Watch: &f}
		if got := c.WatchOrDefault(); got {
			t.Errorf("WatchOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{Driver: "sqlite", DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
