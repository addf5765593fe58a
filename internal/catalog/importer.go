package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/keyword"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/storage"
)

// Stats summarizes an import run.
type Stats struct {
	Files        int
	Businesses   int
	Profiles     int
	Appointments int
	Failed       []string
}

func (s *Stats) add(c *models.Catalog) {
	s.Files++
	s.Businesses += len(c.Businesses)
	s.Profiles += len(c.Profiles)
	s.Appointments += len(c.Appointments)
}

// Importer loads catalog files into storage and refreshes the name index.
type Importer struct {
	store      storage.Storage
	index      keyword.NameIndex
	extensions []string
	workers    int
	logger     *zap.Logger
	mu         sync.Mutex // serializes writes and index rebuilds
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithImportLogger sets the importer logger.
func WithImportLogger(logger *zap.Logger) ImporterOption {
	return func(im *Importer) {
		if logger != nil {
			im.logger = logger
		}
	}
}

// WithWorkers sets how many files are parsed concurrently.
func WithWorkers(n int) ImporterOption {
	return func(im *Importer) {
		if n > 0 {
			im.workers = n
		}
	}
}

// WithExtensions restricts directory imports to the given extensions.
func WithExtensions(extensions []string) ImporterOption {
	return func(im *Importer) {
		if len(extensions) > 0 {
			im.extensions = extensions
		}
	}
}

// NewImporter creates an importer. index may be nil.
func NewImporter(store storage.Storage, index keyword.NameIndex, opts ...ImporterOption) *Importer {
	im := &Importer{
		store:      store,
		index:      index,
		extensions: DefaultExtensions,
		workers:    4,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Extensions returns the file extensions the importer reads.
func (im *Importer) Extensions() []string {
	return im.extensions
}

// ImportPaths imports every file and directory in paths and rebuilds the
// name index once at the end. Files that fail to parse are recorded in
// Stats.Failed; storage errors abort the import.
func (im *Importer) ImportPaths(ctx context.Context, paths ...string) (*Stats, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := im.collect(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	parsed := im.parseAll(ctx, files)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	im.mu.Lock()
	defer im.mu.Unlock()

	stats := &Stats{}
	for i, path := range files {
		res := parsed[i]
		if res.err != nil {
			im.logger.Warn("Skipping catalog file", zap.String("path", path), zap.Error(res.err))
			stats.Failed = append(stats.Failed, path)
			continue
		}
		if err := im.store.ImportCatalog(ctx, res.catalog); err != nil {
			return stats, fmt.Errorf("import %s: %w", path, err)
		}
		stats.add(res.catalog)
		im.logger.Debug("Imported catalog file",
			zap.String("path", path),
			zap.Int("businesses", len(res.catalog.Businesses)),
			zap.Int("profiles", len(res.catalog.Profiles)),
			zap.Int("appointments", len(res.catalog.Appointments)))
	}

	if err := im.reindexLocked(ctx); err != nil {
		return stats, err
	}
	im.logger.Info("Catalog import finished",
		zap.Int("files", stats.Files),
		zap.Int("businesses", stats.Businesses),
		zap.Int("failed", len(stats.Failed)))
	return stats, nil
}

// ImportFile imports a single catalog file.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Stats, error) {
	catalog, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	if err := im.store.ImportCatalog(ctx, catalog); err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	stats := &Stats{}
	stats.add(catalog)
	if err := im.reindexLocked(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// Reindex rebuilds the name index from storage.
func (im *Importer) Reindex(ctx context.Context) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.reindexLocked(ctx)
}

func (im *Importer) reindexLocked(ctx context.Context) error {
	if im.index == nil {
		return nil
	}
	businesses, err := im.store.ListBusinesses(ctx)
	if err != nil {
		return fmt.Errorf("list businesses: %w", err)
	}
	if err := im.index.Rebuild(ctx, businesses); err != nil {
		return fmt.Errorf("rebuild name index: %w", err)
	}
	return nil
}

// collect returns the catalog files under dir in lexical order.
func (im *Importer) collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !matchExtension(path, im.extensions) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

type parseResult struct {
	catalog *models.Catalog
	err     error
}

// parseAll parses files on a worker pool. Results keep the order of files.
func (im *Importer) parseAll(ctx context.Context, files []string) []parseResult {
	results := make([]parseResult, len(files))
	if len(files) == 0 {
		return results
	}

	pool, err := ants.NewPool(im.workers)
	if err != nil {
		im.logger.Warn("Worker pool unavailable, parsing sequentially", zap.Error(err))
		for i, path := range files {
			results[i].catalog, results[i].err = ParseFile(path)
		}
		return results
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, path := range files {
		i, path := i, path
		if ctx.Err() != nil {
			results[i].err = ctx.Err()
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i].catalog, results[i].err = ParseFile(path)
		}); err != nil {
			wg.Done()
			results[i].err = err
		}
	}
	wg.Wait()
	return results
}
