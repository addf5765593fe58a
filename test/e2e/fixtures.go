// Package e2e provides end-to-end tests; this file encodes catalogs in every supported format.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/mitsukeru/internal/models"
)

// SupportedCatalogExtensions is the list of catalog formats used in E2E file-based tests.
var SupportedCatalogExtensions = []string{".yaml", ".json", ".xlsx"}

// EncodeCatalog returns the file bytes of c in the format named by ext.
func EncodeCatalog(ext string, c *models.Catalog) ([]byte, error) {
	switch ext {
	case ".yaml", ".yml":
		return yaml.Marshal(c)
	case ".json":
		return json.MarshalIndent(c, "", "  ")
	case ".xlsx":
		return encodeXlsx(c)
	default:
		return nil, fmt.Errorf("unsupported catalog extension %q", ext)
	}
}

func encodeXlsx(c *models.Catalog) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheets := map[string][][]interface{}{
		"businesses":   {{"id", "owner_id", "name", "rating", "tags", "services", "styles"}},
		"locations":    {{"business_id", "latitude", "longitude", "enabled"}},
		"profiles":     {{"id", "embedding"}},
		"appointments": {{"id", "business_id", "customer_id", "starts_at"}},
	}
	for _, b := range c.Businesses {
		sheets["businesses"] = append(sheets["businesses"], []interface{}{
			b.ID, b.OwnerID, b.Name, b.Rating,
			strings.Join(b.Tags, "|"), strings.Join(b.Services, "|"), strings.Join(b.Styles, "|"),
		})
		for _, loc := range b.Locations {
			sheets["locations"] = append(sheets["locations"], []interface{}{
				b.ID, loc.Latitude, loc.Longitude, strconv.FormatBool(loc.Enabled),
			})
		}
	}
	for _, p := range c.Profiles {
		parts := make([]string, len(p.Embedding))
		for i, v := range p.Embedding {
			parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		sheets["profiles"] = append(sheets["profiles"], []interface{}{p.ID, strings.Join(parts, "|")})
	}
	for _, a := range c.Appointments {
		sheets["appointments"] = append(sheets["appointments"], []interface{}{
			a.ID, a.BusinessID, a.CustomerID, a.StartsAt.UTC().Format(time.RFC3339),
		})
	}

	for name, rows := range sheets {
		if len(rows) == 1 {
			continue
		}
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
		for i := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(name, cell, &rows[i]); err != nil {
				return nil, err
			}
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
