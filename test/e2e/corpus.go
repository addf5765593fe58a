// Package e2e provides end-to-end tests with a city-wide business corpus and
// multiple discovery queries.
package e2e

import (
	"fmt"
	"time"

	"github.com/hyperjump/mitsukeru/internal/models"
)

// Neighbourhood is a named reference point in the corpus city.
type Neighbourhood struct {
	Name    string
	Address models.Address
}

// QueryTestCase defines a discovery query and the business that must come first.
type QueryTestCase struct {
	Query       string
	Address     models.Address
	ExpectedID  int64
	Description string
}

// Corpus holds businesses, recommendation history and query test cases for E2E tests.
type Corpus struct {
	Neighbourhoods []Neighbourhood
	Businesses     []models.BusinessSummary
	Profiles       []models.Profile
	Appointments   []models.Appointment
	TestCases      []QueryTestCase
	// Favourite is the business a profile similar to CurrentUser booked repeatedly.
	Favourite int64
	// Snubbed is the business only a dissimilar profile booked.
	Snubbed     int64
	CurrentUser string
}

var neighbourhoods = []Neighbourhood{
	{"Camden", models.Address{Latitude: 51.5390, Longitude: -0.1426}},
	{"Shoreditch", models.Address{Latitude: 51.5265, Longitude: -0.0780}},
	{"Brixton", models.Address{Latitude: 51.4613, Longitude: -0.1156}},
	{"Hackney", models.Address{Latitude: 51.5450, Longitude: -0.0553}},
	{"Peckham", models.Address{Latitude: 51.4740, Longitude: -0.0690}},
	{"Islington", models.Address{Latitude: 51.5362, Longitude: -0.1033}},
}

var categories = []string{
	"Braid Studio", "Nail Bar", "Barber Shop", "Lash Lounge",
	"Brow Bar", "Spa Retreat", "Hair Salon", "Makeup Atelier",
}

// BuildCorpus returns one business per neighbourhood and category. Businesses
// sit within a fifth of a mile north of their neighbourhood centre, and every
// name is unique so exact and misspelled name queries have one right answer.
func BuildCorpus() *Corpus {
	c := &Corpus{Neighbourhoods: neighbourhoods, CurrentUser: "me"}
	var id int64
	for n, hood := range neighbourhoods {
		for k, category := range categories {
			id++
			b := models.BusinessSummary{
				ID:      id,
				OwnerID: fmt.Sprintf("owner-%d", id),
				Name:    hood.Name + " " + category,
				Rating:  float64(1 + (n+k)%5),
				Locations: []models.Location{{
					Latitude:  hood.Address.Latitude + float64(k)*0.0004,
					Longitude: hood.Address.Longitude,
					Enabled:   true,
				}},
			}
			// Every third business also has a closed branch far away.
			if id%3 == 0 {
				b.Locations = append(b.Locations, models.Location{Latitude: 53.4808, Longitude: -2.2426})
			}
			c.Businesses = append(c.Businesses, b)
			c.TestCases = append(c.TestCases,
				QueryTestCase{
					Query:       b.Name,
					Address:     hood.Address,
					ExpectedID:  id,
					Description: "exact name",
				},
				QueryTestCase{
					Query:       misspell(b.Name, len(hood.Name)+2),
					Address:     hood.Address,
					ExpectedID:  id,
					Description: "transposed letters",
				},
			)
		}
	}

	// Camden Spa Retreat is booked by a profile close to the current user;
	// Camden Nail Bar only by one pointing elsewhere.
	c.Favourite = 6
	c.Snubbed = 2
	c.Profiles = []models.Profile{
		{ID: "me", Embedding: []float32{1, 0, 0}},
		{ID: "neighbour", Embedding: []float32{0.8, 0.6, 0}},
		{ID: "stranger", Embedding: []float32{0, 0, 1}},
	}
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		c.Appointments = append(c.Appointments, models.Appointment{
			BusinessID: c.Favourite, CustomerID: "neighbour", StartsAt: start.AddDate(0, 0, 7*i),
		})
	}
	for i := 0; i < 10; i++ {
		c.Appointments = append(c.Appointments, models.Appointment{
			BusinessID: c.Snubbed, CustomerID: "stranger", StartsAt: start.AddDate(0, 0, i),
		})
	}
	return c
}

// InNeighbourhood returns the ids of the businesses built for neighbourhood n.
func (c *Corpus) InNeighbourhood(n int) []int64 {
	ids := make([]int64, len(categories))
	for k := range categories {
		ids[k] = int64(n*len(categories) + k + 1)
	}
	return ids
}

// Catalogs splits the corpus into one catalog per neighbourhood plus a final
// catalog holding profiles and appointments.
func (c *Corpus) Catalogs() []*models.Catalog {
	out := make([]*models.Catalog, 0, len(c.Neighbourhoods)+1)
	for n := range c.Neighbourhoods {
		start := n * len(categories)
		out = append(out, &models.Catalog{Businesses: c.Businesses[start : start+len(categories)]})
	}
	out = append(out, &models.Catalog{Profiles: c.Profiles, Appointments: c.Appointments})
	return out
}

// misspell swaps the runes at i and i+1.
func misspell(s string, i int) string {
	r := []rune(s)
	if i < 0 || i+1 >= len(r) {
		return s
	}
	r[i], r[i+1] = r[i+1], r[i]
	return string(r)
}
