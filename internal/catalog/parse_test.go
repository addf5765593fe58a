package catalog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const sampleYAML = `
businesses:
  - id: 1
    name: Braid Studio
    tags: [braids, natural hair]
    services: [box braids]
    rating: 4
    locations:
      - {latitude: 51.52, longitude: -0.13}
      - {latitude: 51.40, longitude: -0.30, enabled: false}
  - id: 2
    name: Nail Bar
    rating: 5
profiles:
  - id: u1
    embedding: [0.1, 0.9]
appointments:
  - business_id: 1
    customer_id: u1
    starts_at: 2024-03-01T10:00:00Z
`

const sampleJSON = `{
  "businesses": [
    {"id": 7, "name": "Lash Lounge", "styles": ["classic"], "rating": 3.5,
     "locations": [{"latitude": 53.48, "longitude": -2.24}]}
  ],
  "appointments": [
    {"business_id": 7, "customer_id": "u2", "starts_at": "2024-03-02T09:30:00Z"}
  ]
}`

func TestParse_YAML(t *testing.T) {
	c, err := Parse([]byte(sampleYAML), ".yaml")
	require.NoError(t, err)

	require.Len(t, c.Businesses, 2)
	braid := c.Businesses[0]
	assert.Equal(t, "Braid Studio", braid.Name)
	assert.Equal(t, []string{"braids", "natural hair"}, braid.Tags)
	require.Len(t, braid.Locations, 2)
	assert.True(t, braid.Locations[0].Enabled)
	assert.False(t, braid.Locations[1].Enabled)

	require.Len(t, c.Profiles, 1)
	assert.Equal(t, []float32{0.1, 0.9}, c.Profiles[0].Embedding)

	require.Len(t, c.Appointments, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), c.Appointments[0].StartsAt.UTC())
}

func TestParse_JSON(t *testing.T) {
	c, err := Parse([]byte(sampleJSON), ".JSON")
	require.NoError(t, err)
	require.Len(t, c.Businesses, 1)
	assert.Equal(t, int64(7), c.Businesses[0].ID)
	assert.True(t, c.Businesses[0].Locations[0].Enabled)
	require.Len(t, c.Appointments, 1)
	assert.Equal(t, "u2", c.Appointments[0].CustomerID)
}

func TestParse_Empty(t *testing.T) {
	c, err := Parse(nil, ".yml")
	require.NoError(t, err)
	assert.Empty(t, c.Businesses)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
	}{
		{"unknown field", "businesses:\n  - name: x\n    colour: red\n", ".yaml"},
		{"missing name", "businesses:\n  - rating: 3\n", ".yaml"},
		{"rating out of range", `{"businesses":[{"name":"x","rating":6}]}`, ".json"},
		{"bad latitude", `{"businesses":[{"name":"x","locations":[{"latitude":91,"longitude":0}]}]}`, ".json"},
		{"blank profile", "profiles:\n  - embedding: [1]\n", ".yaml"},
		{"appointment without customer", "appointments:\n  - business_id: 1\n", ".yaml"},
		{"malformed json", `{"businesses": [`, ".json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), tt.ext)
			assert.Error(t, err)
		})
	}
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse([]byte("x"), ".csv")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func writeWorkbook(t *testing.T, sheets map[string][][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	require.NoError(t, f.DeleteSheet("Sheet1"))
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParse_Excel(t *testing.T) {
	content := writeWorkbook(t, map[string][][]any{
		"businesses": {
			{"id", "name", "tags", "services", "rating"},
			{1, "Braid Studio", "braids | natural hair", "box braids", 4},
			{2, "Nail Bar", "", "gel|acrylic", 4.5},
		},
		"locations": {
			{"business_id", "latitude", "longitude", "enabled"},
			{1, 51.52, -0.13, ""},
			{1, 51.40, -0.30, "no"},
			{2, 52.2, 0.12, "yes"},
		},
		"profiles": {
			{"id", "embedding"},
			{"u1", "0.5|0.25"},
		},
		"Appointments": {
			{"id", "business_id", "customer_id", "starts_at"},
			{10, 1, "u1", "2024-03-01 10:00"},
		},
	})

	c, err := Parse(content, ".xlsx")
	require.NoError(t, err)

	require.Len(t, c.Businesses, 2)
	assert.Equal(t, []string{"braids", "natural hair"}, c.Businesses[0].Tags)
	assert.Nil(t, c.Businesses[1].Tags)
	assert.Equal(t, []string{"gel", "acrylic"}, c.Businesses[1].Services)
	assert.Equal(t, 4.5, c.Businesses[1].Rating)
	require.Len(t, c.Businesses[0].Locations, 2)
	assert.True(t, c.Businesses[0].Locations[0].Enabled)
	assert.False(t, c.Businesses[0].Locations[1].Enabled)
	require.Len(t, c.Businesses[1].Locations, 1)

	require.Len(t, c.Profiles, 1)
	assert.Equal(t, []float32{0.5, 0.25}, c.Profiles[0].Embedding)

	require.Len(t, c.Appointments, 1)
	assert.Equal(t, int64(10), c.Appointments[0].ID)
	assert.Equal(t, 2024, c.Appointments[0].StartsAt.Year())
}

func TestParse_ExcelUnknownBusiness(t *testing.T) {
	content := writeWorkbook(t, map[string][][]any{
		"businesses": {{"id", "name"}, {1, "Braid Studio"}},
		"locations":  {{"business_id", "latitude", "longitude"}, {9, 51.5, -0.1}},
	})
	_, err := Parse(content, ".xlsx")
	assert.Error(t, err)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))
	c, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, c.Businesses, 2)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.yaml", []string{".yaml"}, true},
		{"/a/b.YAML", []string{"yaml"}, true},
		{"/a/b.md", []string{".yaml"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}
