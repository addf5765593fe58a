package catalog

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/mitsukeru/internal/models"
)

// listSeparator splits multi-valued cells such as tags and services.
const listSeparator = "|"

// sheet holds the rows of one worksheet keyed by lowercase header name.
type sheet struct {
	name    string
	columns map[string]int
	rows    [][]string
}

func (s *sheet) cell(row []string, column string) string {
	i, ok := s.columns[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (s *sheet) list(row []string, column string) []string {
	raw := s.cell(row, column)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, listSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *sheet) integer(row []string, column string, line int) (int64, error) {
	raw := s.cell(row, column)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// spreadsheet numbers may come back as "12.0"
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("sheet %s row %d: %s %q is not an integer", s.name, line, column, raw)
		}
		n = int64(f)
	}
	return n, nil
}

func (s *sheet) float(row []string, column string, line int) (float64, error) {
	raw := s.cell(row, column)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("sheet %s row %d: %s %q is not a number", s.name, line, column, raw)
	}
	return f, nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "", "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%q is not a boolean", raw)
	}
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a timestamp", raw)
}

// readSheets loads every worksheet whose first row is a header.
func readSheets(f *excelize.File) (map[string]*sheet, error) {
	sheets := make(map[string]*sheet)
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", name, err)
		}
		if len(rows) == 0 {
			continue
		}
		s := &sheet{name: name, columns: make(map[string]int), rows: rows[1:]}
		for i, h := range rows[0] {
			s.columns[strings.ToLower(strings.TrimSpace(h))] = i
		}
		sheets[strings.ToLower(name)] = s
	}
	return sheets, nil
}

// parseExcel reads a workbook with the sheets businesses, locations, profiles
// and appointments. Missing sheets are treated as empty.
func parseExcel(content []byte) (*models.Catalog, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets, err := readSheets(f)
	if err != nil {
		return nil, err
	}

	var catalog models.Catalog
	if s, ok := sheets["businesses"]; ok {
		for i, row := range s.rows {
			line := i + 2
			if s.cell(row, "name") == "" {
				continue
			}
			id, err := s.integer(row, "id", line)
			if err != nil {
				return nil, err
			}
			rating, err := s.float(row, "rating", line)
			if err != nil {
				return nil, err
			}
			catalog.Businesses = append(catalog.Businesses, models.BusinessSummary{
				ID:                  id,
				OwnerID:             s.cell(row, "owner_id"),
				Name:                s.cell(row, "name"),
				Tags:                s.list(row, "tags"),
				Services:            s.list(row, "services"),
				ServiceDescriptions: s.list(row, "service_descriptions"),
				Styles:              s.list(row, "styles"),
				StyleDescriptions:   s.list(row, "style_descriptions"),
				Variants:            s.list(row, "variants"),
				Rating:              rating,
			})
		}
	}

	if s, ok := sheets["locations"]; ok {
		index := models.IndexByID(catalog.Businesses)
		for i, row := range s.rows {
			line := i + 2
			if s.cell(row, "business_id") == "" {
				continue
			}
			id, err := s.integer(row, "business_id", line)
			if err != nil {
				return nil, err
			}
			pos, ok := index[id]
			if !ok || id == 0 {
				return nil, fmt.Errorf("sheet %s row %d: unknown business_id %d", s.name, line, id)
			}
			lat, err := s.float(row, "latitude", line)
			if err != nil {
				return nil, err
			}
			lon, err := s.float(row, "longitude", line)
			if err != nil {
				return nil, err
			}
			enabled, err := parseBool(s.cell(row, "enabled"))
			if err != nil {
				return nil, fmt.Errorf("sheet %s row %d: enabled %w", s.name, line, err)
			}
			catalog.Businesses[pos].Locations = append(catalog.Businesses[pos].Locations,
				models.Location{Latitude: lat, Longitude: lon, Enabled: enabled})
		}
	}

	if s, ok := sheets["profiles"]; ok {
		for i, row := range s.rows {
			line := i + 2
			id := s.cell(row, "id")
			if id == "" {
				continue
			}
			var embedding []float32
			for _, part := range s.list(row, "embedding") {
				v, err := strconv.ParseFloat(part, 32)
				if err != nil {
					return nil, fmt.Errorf("sheet %s row %d: embedding value %q is not a number", s.name, line, part)
				}
				embedding = append(embedding, float32(v))
			}
			catalog.Profiles = append(catalog.Profiles, models.Profile{ID: id, Embedding: embedding})
		}
	}

	if s, ok := sheets["appointments"]; ok {
		for i, row := range s.rows {
			line := i + 2
			if s.cell(row, "business_id") == "" {
				continue
			}
			id, err := s.integer(row, "id", line)
			if err != nil {
				return nil, err
			}
			businessID, err := s.integer(row, "business_id", line)
			if err != nil {
				return nil, err
			}
			appt := models.Appointment{ID: id, BusinessID: businessID, CustomerID: s.cell(row, "customer_id")}
			if raw := s.cell(row, "starts_at"); raw != "" {
				if appt.StartsAt, err = parseTime(raw); err != nil {
					return nil, fmt.Errorf("sheet %s row %d: starts_at %w", s.name, line, err)
				}
			}
			catalog.Appointments = append(catalog.Appointments, appt)
		}
	}

	return &catalog, nil
}
