package e2e

import (
	"testing"

	"github.com/hyperjump/mitsukeru/internal/geo"
	"github.com/hyperjump/mitsukeru/internal/keyword"
)

func TestBuildCorpus(t *testing.T) {
	c := BuildCorpus()
	if want := len(neighbourhoods) * len(categories); len(c.Businesses) != want {
		t.Fatalf("businesses: got %d, want %d", len(c.Businesses), want)
	}
	if len(c.TestCases) != 2*len(c.Businesses) {
		t.Errorf("test cases: got %d", len(c.TestCases))
	}
	names := make(map[string]bool)
	for i, b := range c.Businesses {
		if b.ID != int64(i+1) {
			t.Errorf("business %d has id %d", i, b.ID)
		}
		if names[b.Name] {
			t.Errorf("duplicate name %q", b.Name)
		}
		names[b.Name] = true
		if b.Rating < 1 || b.Rating > 5 {
			t.Errorf("%s: rating %v out of range", b.Name, b.Rating)
		}
	}
	if c.Businesses[c.Favourite-1].Name != "Camden Spa Retreat" || c.Businesses[c.Snubbed-1].Name != "Camden Nail Bar" {
		t.Error("favourite and snubbed businesses moved")
	}
}

func TestBuildCorpus_MisspellingsAreTwoEditsAway(t *testing.T) {
	c := BuildCorpus()
	for _, tc := range c.TestCases {
		if tc.Description != "transposed letters" {
			continue
		}
		name := c.Businesses[tc.ExpectedID-1].Name
		if d := keyword.LevenshteinDistance(tc.Query, name); d != 2 {
			t.Errorf("%q -> %q: distance %d, want 2", name, tc.Query, d)
		}
	}
}

func TestBuildCorpus_NeighbourhoodsAreApart(t *testing.T) {
	c := BuildCorpus()
	for i, a := range c.Neighbourhoods {
		for _, id := range c.InNeighbourhood(i) {
			loc := c.Businesses[id-1].Locations[0]
			if d := geo.Distance(a.Address.Latitude, a.Address.Longitude, loc.Latitude, loc.Longitude); d > 0.25 {
				t.Errorf("%s is %.2f miles from %s", c.Businesses[id-1].Name, d, a.Name)
			}
		}
		for j, b := range c.Neighbourhoods {
			if i == j {
				continue
			}
			if d := geo.Distance(a.Address.Latitude, a.Address.Longitude, b.Address.Latitude, b.Address.Longitude); d < 1.25 {
				t.Errorf("%s and %s are only %.2f miles apart", a.Name, b.Name, d)
			}
		}
	}
}
