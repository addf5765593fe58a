// Package main is the Mitsukeru CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/mitsukeru/internal/catalog"
	"github.com/hyperjump/mitsukeru/internal/cli"
	"github.com/hyperjump/mitsukeru/internal/config"
	"github.com/hyperjump/mitsukeru/internal/discovery"
	"github.com/hyperjump/mitsukeru/internal/keyword"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/recommend"
	"github.com/hyperjump/mitsukeru/internal/server"
	"github.com/hyperjump/mitsukeru/internal/session"
	"github.com/hyperjump/mitsukeru/internal/storage"
	"github.com/hyperjump/mitsukeru/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/mitsukeru/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default config falls back to built-in defaults.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "import":
		runImport()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("mitsukeru version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (catalog changes, ranking decisions, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if len(cfg.Catalog.Directories) > 0 {
		if _, err := components.Importer.ImportPaths(ctx, existingPaths(cfg.Catalog.Directories)...); err != nil {
			logger.Warn("initial catalog import failed", zap.Error(err))
		}
		if cfg.Catalog.WatchOrDefault() {
			w := catalog.WatchImporter(ctx, components.Importer, cfg.Catalog.Directories, catalog.WithLogger(logger))
			if err := w.Start(ctx); err != nil {
				logger.Fatal("Failed to start catalog watcher", zap.Error(err))
			}
			defer w.Stop()
		}
	}

	srv := server.NewServer(
		components.Storage,
		components.NameIndex,
		components.Pipeline,
		components.Recommender,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// existingPaths drops paths that do not exist yet; the watcher creates them.
func existingPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: mitsukeru search [flags] [query]\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. An empty query lists businesses near the reference point.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Without -lat/-lon the configured fallback location is used and distances are
reported from each business's own location.

Examples:
  mitsukeru search box braids
  mitsukeru search -lat 51.5074 -lon -0.1278 -radius 5 braids
  mitsukeru search -sort rating -rating 4 nails
  mitsukeru search -sort recommended -user cust-42 -lat 51.5 -lon -0.12 fade
  mitsukeru search -output json braids
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// searchFlags are the raw discovery flags before parsing.
type searchFlags struct {
	lat, lon string
	radius   string
	rating   string
	sortBy   string
}

// buildFilters turns command-line values into discovery filters. Latitude and
// longitude must be given together.
func buildFilters(query string, f searchFlags) (models.Filters, error) {
	filter := models.Filters{SearchInput: query}
	var err error
	if filter.Radius, err = models.ParseRadius(f.radius); err != nil {
		return filter, err
	}
	if filter.Rating, err = models.ParseMinRating(f.rating); err != nil {
		return filter, err
	}
	if filter.SortBy, err = models.ParseSortBy(f.sortBy); err != nil {
		return filter, err
	}
	if f.lat == "" && f.lon == "" {
		return filter, nil
	}
	if f.lat == "" || f.lon == "" {
		return filter, fmt.Errorf("-lat and -lon must be given together")
	}
	var addr models.Address
	if addr.Latitude, err = strconv.ParseFloat(f.lat, 64); err != nil {
		return filter, fmt.Errorf("invalid latitude %q", f.lat)
	}
	if addr.Longitude, err = strconv.ParseFloat(f.lon, 64); err != nil {
		return filter, fmt.Errorf("invalid longitude %q", f.lon)
	}
	if addr.Latitude < -90 || addr.Latitude > 90 || addr.Longitude < -180 || addr.Longitude > 180 {
		return filter, fmt.Errorf("coordinates (%v, %v) out of range", addr.Latitude, addr.Longitude)
	}
	filter.Address = &addr
	return filter, nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage when server is not running)")
	lat := fs.String("lat", "", "latitude of the reference point")
	lon := fs.String("lon", "", "longitude of the reference point")
	radius := fs.String("radius", "any", "maximum distance in miles: 1, 5, 10, 25 or any")
	rating := fs.String("rating", "any", "minimum rating: 1-5 or any")
	sortBy := fs.String("sort", "distance", "sort order: distance, rating or recommended")
	user := fs.String("user", "", "customer id for recommended sort")
	outputFormat := fs.String("output", "text", "output format: text (human-readable), compact (one business per line), or json (parseable)")
	debug := fs.Bool("debug", false, "enable debug logging (direct mode)")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	filter, err := buildFilters(buildSearchQuery(fs.Args()), searchFlags{
		lat: *lat, lon: *lon, radius: *radius, rating: *rating, sortBy: *sortBy,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid search: %v\n", err)
		printSearchUsage(fs)
		os.Exit(1)
	}

	var result *discovery.Result
	if *serverURL != "" {
		// Use HTTP API when server is running (avoids Bleve/SQLite lock conflict).
		result, err = discoverViaHTTP(*serverURL, filter, *user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		result, err = discoverDirect(*configPath, *debug, filter, *user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteResults(os.Stdout, result, filter, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func discoverDirect(configPath string, debug bool, filter models.Filters, user string) (*discovery.Result, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewCommandLogger(cfg.Debug || debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx := session.WithUserID(context.Background(), user)
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	businesses, err := components.Storage.ListBusinesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	return components.Pipeline.Filter(ctx, businesses, filter)
}

// discoverRequest mirrors the server's discover body.
type discoverRequest struct {
	SearchInput string           `json:"search_input"`
	Address     *models.Address  `json:"address,omitempty"`
	Radius      models.Radius    `json:"radius"`
	Rating      models.MinRating `json:"rating"`
	SortBy      models.SortBy    `json:"sort_by"`
}

type discoverResponse struct {
	Results []struct {
		Business models.BusinessSummary `json:"business"`
		Distance *float64               `json:"distance"`
	} `json:"results"`
	Relaxed     bool  `json:"relaxed"`
	QueryTimeMs int64 `json:"query_time_ms"`
}

// toResult converts a server response back into a pipeline result. A null
// distance becomes +Inf.
func (r *discoverResponse) toResult() *discovery.Result {
	res := &discovery.Result{
		Businesses: make([]models.RankedBusiness, len(r.Results)),
		Relaxed:    r.Relaxed,
		QueryTime:  time.Duration(r.QueryTimeMs) * time.Millisecond,
	}
	for i, item := range r.Results {
		d := math.Inf(1)
		if item.Distance != nil {
			d = *item.Distance
		}
		res.Businesses[i] = models.RankedBusiness{Business: item.Business, Distance: d}
	}
	return res
}

func discoverViaHTTP(serverURL string, filter models.Filters, user string) (*discovery.Result, error) {
	body, err := json.Marshal(discoverRequest{
		SearchInput: filter.SearchInput,
		Address:     filter.Address,
		Radius:      filter.Radius,
		Rating:      filter.Rating,
		SortBy:      filter.SortBy,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/v1/discover", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out discoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.toResult(), nil
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	workers := fs.Int("workers", 0, "parallel file parsers (default from config)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	paths := fs.Args()
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		paths = cfg.Catalog.Directories
	}
	if len(paths) == 0 {
		fmt.Println("Usage: mitsukeru import [flags] <file-or-directory>...")
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Catalog.Workers = *workers
	}

	logger, err := utils.NewCommandLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fmt.Printf("Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	stats, err := components.Importer.ImportPaths(ctx, paths...)
	if err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d file(s): %d businesses, %d profiles, %d appointments\n",
		stats.Files, stats.Businesses, stats.Profiles, stats.Appointments)
	for _, f := range stats.Failed {
		fmt.Printf("  skipped (invalid): %s\n", f)
	}
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Businesses     int64                  `json:"businesses"`
	Profiles       int64                  `json:"profiles"`
	Appointments   int64                  `json:"appointments"`
	NameIndexSize  *uint64                `json:"name_index_size,omitempty"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status *statusResponse
	var err error
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		status, err = statusDirect(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		writeStatusText(os.Stdout, status)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func writeStatusText(w io.Writer, status *statusResponse) {
	fmt.Fprintf(w, "businesses:         %d   # count of stored businesses\n", status.Businesses)
	fmt.Fprintf(w, "profiles:           %d   # customer taste profiles\n", status.Profiles)
	fmt.Fprintf(w, "appointments:       %d   # booking history used for recommendations\n", status.Appointments)
	if status.NameIndexSize != nil {
		fmt.Fprintf(w, "name_index_size:    %d   # businesses searchable by name\n", *status.NameIndexSize)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # storage + indices on disk\n", *status.DiskUsageBytes)
	}
	if len(status.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		for _, key := range []string{"storage_driver", "database_path", "bleve_index_path"} {
			if v, ok := status.Config[key]; ok {
				fmt.Fprintf(w, "%-20s%v\n", key+":", v)
			}
		}
	}
}

func statusDirect(configPath string) (*statusResponse, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewCommandLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	status := &statusResponse{Config: map[string]interface{}{
		"storage_driver":   cfg.Storage.Driver,
		"bleve_index_path": cfg.Storage.BleveIndexPath,
	}}
	if cfg.Storage.Driver == "sqlite" {
		status.Config["database_path"] = cfg.Storage.DatabasePath
	}
	if status.Businesses, err = components.Storage.CountBusinesses(ctx); err != nil {
		return nil, fmt.Errorf("count businesses: %w", err)
	}
	if status.Profiles, err = components.Storage.CountProfiles(ctx); err != nil {
		return nil, fmt.Errorf("count profiles: %w", err)
	}
	if status.Appointments, err = components.Storage.CountAppointments(ctx); err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	if n, err := components.NameIndex.DocCount(); err == nil {
		status.NameIndexSize = &n
	}
	if diskBytes, err := storage.DiskUsage(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Storage
	NameIndex   keyword.NameIndex
	Recommender *recommend.Recommender
	Pipeline    *discovery.Pipeline
	Importer    *catalog.Importer
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.NameIndex != nil {
		_ = c.NameIndex.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DatabasePath, cfg.Storage.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if p := cfg.Storage.BleveIndexPath; p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}
	nameIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize name index: %w", err)
	}

	recommender := recommend.New(store, store,
		recommend.WithLogger(logger),
		recommend.WithParams(cfg.Discovery.RecommendParams()))
	pipeline := discovery.NewPipeline(recommender,
		discovery.WithLogger(logger),
		discovery.WithParams(cfg.Discovery.PipelineParams()),
		discovery.WithFallbackLocation(cfg.Discovery.Fallback()),
		discovery.WithRelaxEmptyCutoff(cfg.Discovery.RelaxEmptyCutoffOrDefault()))
	importer := catalog.NewImporter(store, nameIndex,
		catalog.WithImportLogger(logger),
		catalog.WithWorkers(cfg.Catalog.Workers),
		catalog.WithExtensions(cfg.Catalog.Extensions))

	return &Components{
		Storage:     store,
		NameIndex:   nameIndex,
		Recommender: recommender,
		Pipeline:    pipeline,
		Importer:    importer,
	}, nil
}

func printUsage() {
	fmt.Println(`mitsukeru - Local business discovery and ranking engine

Usage:
  mitsukeru server [flags]             Start the HTTP server
  mitsukeru search [flags] [query]     Discover businesses
  mitsukeru import [flags] <path>...   Import catalog files (yaml, json, xlsx)
  mitsukeru status [flags]             Show storage and index status
  mitsukeru version                    Show version
  mitsukeru help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/mitsukeru/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to use direct storage.
  --lat, --lon       Reference point; defaults to the configured fallback location
  --radius string    1, 5, 10, 25 or any (default: any)
  --rating string    Minimum rating 1-5 or any (default: any)
  --sort string      distance, rating or recommended (default: distance)
  --user string      Customer id used by the recommended sort
  --output string    text, compact or json (default: text)

Import Flags:
  --config string    Config file path
  --workers int      Parallel file parsers

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage.
  --output string    Output format: text or json (default: text)

Examples:
  mitsukeru server
  mitsukeru import ./catalogs
  mitsukeru search -lat 51.5074 -lon -0.1278 -radius 5 braids
  mitsukeru search -sort recommended -user cust-42 fade
  mitsukeru search --server "" --output json nails
  mitsukeru status --output json`)
}
