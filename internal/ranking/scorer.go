// Package ranking scores businesses against a text query and a location and
// ranks them by the combined cost.
package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/hyperjump/mitsukeru/internal/geo"
	"github.com/hyperjump/mitsukeru/internal/keyword"
	"github.com/hyperjump/mitsukeru/internal/models"
)

// Score is the relevance cost of one business for one query. Lower is better.
type Score struct {
	// Semantic is the mean edit distance of the closest feature matches.
	Semantic float64
	// Distance is the miles to the nearest enabled location, +Inf when none.
	Distance float64
	// Combined is alpha*Semantic + (1-alpha)*exp(beta*Distance).
	Combined float64
}

// ScoreBusiness computes the combined text and proximity cost of b for query,
// measured from (lat, lon).
func ScoreBusiness(query string, b *models.BusinessSummary, lat, lon float64, p Params) Score {
	semantic := SemanticScore(query, b.Features(), p.Gamma)
	distance := geo.MinDistance(lat, lon, b.Locations, true)
	return Score{
		Semantic: semantic,
		Distance: distance,
		Combined: Combine(semantic, distance, p),
	}
}

// SemanticScore returns the average case-insensitive edit distance between
// query and its gamma closest features. With gamma <= 0 or fewer features
// than gamma, all features are averaged. An empty feature list scores +Inf.
func SemanticScore(query string, features []string, gamma int) float64 {
	if len(features) == 0 {
		return math.Inf(1)
	}
	q := strings.ToLower(query)
	distances := make([]int, len(features))
	for i, f := range features {
		distances[i] = keyword.LevenshteinDistance(q, strings.ToLower(f))
	}
	sort.Ints(distances)

	k := gamma
	if k <= 0 || k > len(distances) {
		k = len(distances)
	}
	sum := 0
	for _, d := range distances[:k] {
		sum += d
	}
	return float64(sum) / float64(k)
}

// Combine blends a semantic score and a distance into one cost.
func Combine(semantic, distance float64, p Params) float64 {
	score := p.Alpha * semantic
	// A zero proximity weight must not turn an infinite distance into NaN.
	if w := 1 - p.Alpha; w != 0 {
		score += w * ProximityCost(distance, p.Beta)
	}
	return score
}

// ProximityCost is exp(beta*distance). An unreachable business (+Inf miles)
// costs +Inf for every beta, including zero.
func ProximityCost(distance, beta float64) float64 {
	if math.IsInf(distance, 1) {
		return math.Inf(1)
	}
	return math.Exp(beta * distance)
}
