package ranking

import (
	"sort"

	"github.com/hyperjump/mitsukeru/internal/models"
)

// Ranker scores businesses against a query and location and keeps those within
// the cutoff.
type Ranker struct {
	params Params
}

// NewRanker creates a Ranker. A nil params uses DefaultSearchParams.
func NewRanker(params *Params) *Ranker {
	p := DefaultSearchParams()
	if params != nil {
		p = *params
	}
	return &Ranker{params: p}
}

// Params returns the ranker's tuning.
func (r *Ranker) Params() Params {
	return r.params
}

// Scored references a business by its position in the ranked input slice.
type Scored struct {
	Index int
	Score Score
}

// Rank scores every business, drops those whose combined score exceeds the
// cutoff, and returns the rest in ascending score order. Ties keep input order.
func (r *Ranker) Rank(query string, location models.Address, businesses []models.BusinessSummary) []Scored {
	results := make([]Scored, 0, len(businesses))
	for i := range businesses {
		s := ScoreBusiness(query, &businesses[i], location.Latitude, location.Longitude, r.params)
		if r.params.Cutoff != nil && s.Combined > *r.params.Cutoff {
			continue
		}
		results = append(results, Scored{Index: i, Score: s})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score.Combined < results[j].Score.Combined
	})
	return results
}

// Search returns the businesses that pass the cutoff, most relevant first.
func (r *Ranker) Search(query string, location models.Address, businesses []models.BusinessSummary) []models.BusinessSummary {
	return Collect(businesses, r.Rank(query, location, businesses))
}

// SearchBusinesses ranks businesses with params, or DefaultSearchParams when
// params is nil.
func SearchBusinesses(query string, location models.Address, businesses []models.BusinessSummary, params *Params) []models.BusinessSummary {
	return NewRanker(params).Search(query, location, businesses)
}

// Collect resolves scored positions back to businesses, preserving order.
func Collect(businesses []models.BusinessSummary, scored []Scored) []models.BusinessSummary {
	out := make([]models.BusinessSummary, len(scored))
	for i, s := range scored {
		out[i] = businesses[s.Index]
	}
	return out
}

// Paginate returns a page of results. A limit of zero or less means no limit.
func Paginate[T any](results []T, offset, limit int) []T {
	if offset >= len(results) || offset < 0 {
		return nil
	}
	end := len(results)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return results[offset:end]
}
