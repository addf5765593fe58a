// Package geo provides great-circle distance helpers.
package geo

import (
	"math"

	"github.com/hyperjump/mitsukeru/internal/models"
)

// EarthRadiusMiles is the mean Earth radius used by Distance.
const EarthRadiusMiles = 3959.0

// Distance returns the haversine great-circle distance in miles between two
// points given in decimal degrees. NaN inputs yield NaN.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMiles * c
}

// MinDistance returns the distance from (lat, lon) to the nearest location.
// When enabledOnly is set, disabled locations are ignored. Returns +Inf when no
// location qualifies.
func MinDistance(lat, lon float64, locations []models.Location, enabledOnly bool) float64 {
	best := math.Inf(1)
	for _, loc := range locations {
		if enabledOnly && !loc.Enabled {
			continue
		}
		if d := Distance(lat, lon, loc.Latitude, loc.Longitude); d < best {
			best = d
		}
	}
	return best
}

// WithinRadius reports whether any location lies within radius miles of
// (lat, lon). The boundary is inclusive.
func WithinRadius(lat, lon float64, locations []models.Location, radius float64) bool {
	for _, loc := range locations {
		if Distance(lat, lon, loc.Latitude, loc.Longitude) <= radius {
			return true
		}
	}
	return false
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
