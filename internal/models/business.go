// Package models defines the data structures used by business discovery.
package models

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Location is a physical site where a business takes bookings.
type Location struct {
	Latitude  float64 `json:"latitude" yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" yaml:"longitude" validate:"gte=-180,lte=180"`
	Enabled   bool    `json:"enabled" yaml:"enabled"`
}

// UnmarshalYAML decodes a location. An omitted enabled field means enabled.
func (l *Location) UnmarshalYAML(value *yaml.Node) error {
	type plain Location
	p := plain{Enabled: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*l = Location(p)
	return nil
}

// UnmarshalJSON decodes a location. An omitted enabled field means enabled.
func (l *Location) UnmarshalJSON(data []byte) error {
	type plain Location
	p := plain{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Location(p)
	return nil
}

// BusinessSummary is the read-only projection of a business used for discovery.
// It is built fresh for each query and never mutated by the ranking code.
type BusinessSummary struct {
	ID                  int64      `json:"id" yaml:"id"`
	OwnerID             string     `json:"owner_id" yaml:"owner_id"`
	Name                string     `json:"name" yaml:"name" validate:"required"`
	Tags                []string   `json:"tags" yaml:"tags"`
	Services            []string   `json:"services" yaml:"services"`
	ServiceDescriptions []string   `json:"service_descriptions" yaml:"service_descriptions"`
	Styles              []string   `json:"styles" yaml:"styles"`
	StyleDescriptions   []string   `json:"style_descriptions" yaml:"style_descriptions"`
	Variants            []string   `json:"variants" yaml:"variants"`
	Rating              float64    `json:"rating" yaml:"rating" validate:"gte=0,lte=5"`
	Locations           []Location `json:"locations" yaml:"locations" validate:"dive"`
}

// Features returns every text attribute matched against a search query, name first.
// The result always has at least one element.
func (b *BusinessSummary) Features() []string {
	n := 1 + len(b.Tags) + len(b.Services) + len(b.ServiceDescriptions) +
		len(b.Styles) + len(b.StyleDescriptions) + len(b.Variants)
	features := make([]string, 0, n)
	features = append(features, b.Name)
	features = append(features, b.Tags...)
	features = append(features, b.Services...)
	features = append(features, b.ServiceDescriptions...)
	features = append(features, b.Styles...)
	features = append(features, b.StyleDescriptions...)
	features = append(features, b.Variants...)
	return features
}

// Address is a reference point for distance calculations: the user's current
// position or a searched place.
type Address struct {
	Latitude  float64 `json:"latitude" yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" yaml:"longitude" validate:"gte=-180,lte=180"`
	City      string  `json:"city,omitempty" yaml:"city,omitempty"`
	Postcode  string  `json:"postcode,omitempty" yaml:"postcode,omitempty"`
	Country   string  `json:"country,omitempty" yaml:"country,omitempty"`
	Locality  string  `json:"locality,omitempty" yaml:"locality,omitempty"`
}

// IndexByID maps each business id to its position in businesses.
// When ids repeat, the first position wins.
func IndexByID(businesses []BusinessSummary) map[int64]int {
	index := make(map[int64]int, len(businesses))
	for i := range businesses {
		if _, ok := index[businesses[i].ID]; !ok {
			index[businesses[i].ID] = i
		}
	}
	return index
}
