// Package catalog imports business catalogs from YAML, JSON and Excel files
// and keeps them in sync with watched directories.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/mitsukeru/internal/models"
)

// ErrUnsupportedFormat is returned for files whose extension has no parser.
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// DefaultExtensions lists the file types the importer reads.
var DefaultExtensions = []string{".yaml", ".yml", ".json", ".xlsx"}

// ParseFile reads the catalog at path. The format is chosen by extension.
func ParseFile(path string) (*models.Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	catalog, err := Parse(content, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return catalog, nil
}

// Parse decodes catalog content in the format named by ext.
func Parse(content []byte, ext string) (*models.Catalog, error) {
	var catalog models.Catalog
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(&catalog); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&catalog); err != nil {
			return nil, err
		}
	case ".xlsx":
		c, err := parseExcel(content)
		if err != nil {
			return nil, err
		}
		catalog = *c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err := validate(&catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func validate(c *models.Catalog) error {
	for i, b := range c.Businesses {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("business %d: name is required", i+1)
		}
		if b.Rating < 0 || b.Rating > 5 {
			return fmt.Errorf("business %q: rating %v out of range 0-5", b.Name, b.Rating)
		}
		for _, loc := range b.Locations {
			if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
				return fmt.Errorf("business %q: invalid location (%v, %v)", b.Name, loc.Latitude, loc.Longitude)
			}
		}
	}
	for i, p := range c.Profiles {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("profile %d: id is required", i+1)
		}
	}
	for i, a := range c.Appointments {
		if a.BusinessID == 0 || strings.TrimSpace(a.CustomerID) == "" {
			return fmt.Errorf("appointment %d: business_id and customer_id are required", i+1)
		}
	}
	return nil
}

// matchExtension reports whether path has one of extensions, ignoring case
// and the leading dot. An empty list matches everything.
func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}
