// Package discovery runs the filter pipeline: relevance ranking, radius and
// rating filters, then the requested ordering.
package discovery

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/geo"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/ranking"
)

// DefaultFallbackLocation is used when a query carries no address.
var DefaultFallbackLocation = models.Address{Latitude: 51.5074, Longitude: -0.1278}

// Recommender reorders businesses for the recommended sort. Implementations
// must return the input unchanged when they have nothing to contribute.
type Recommender interface {
	Recommend(ctx context.Context, businesses []models.BusinessSummary, address *models.Address) []models.BusinessSummary
}

// Result is the outcome of one pipeline run.
type Result struct {
	Businesses []models.RankedBusiness
	// Relaxed is set when the relevance cutoff would have removed every
	// candidate and the full ranked list was used instead.
	Relaxed   bool
	QueryTime time.Duration
}

// Pipeline filters and orders businesses for a discovery query.
type Pipeline struct {
	ranker      *ranking.Ranker
	recommender Recommender
	fallback    models.Address
	relax       bool
	logger      *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithParams replaces ranking.PipelineParams.
func WithParams(params ranking.Params) Option {
	return func(p *Pipeline) {
		p.ranker = ranking.NewRanker(&params)
	}
}

// WithFallbackLocation sets the reference point used when a query has no address.
func WithFallbackLocation(addr models.Address) Option {
	return func(p *Pipeline) {
		p.fallback = addr
	}
}

// WithRelaxEmptyCutoff controls whether an all-eliminating cutoff falls back
// to the full ranked list.
func WithRelaxEmptyCutoff(relax bool) Option {
	return func(p *Pipeline) {
		p.relax = relax
	}
}

// NewPipeline creates a pipeline. recommender may be nil, in which case the
// recommended sort keeps relevance order.
func NewPipeline(recommender Recommender, opts ...Option) *Pipeline {
	params := ranking.PipelineParams()
	p := &Pipeline{
		ranker:      ranking.NewRanker(&params),
		recommender: recommender,
		fallback:    DefaultFallbackLocation,
		relax:       true,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Params returns the ranking tuning used by the pipeline.
func (p *Pipeline) Params() ranking.Params {
	return p.ranker.Params()
}

// Filter runs the pipeline over businesses. The input slice is not modified.
// An error is returned only when ctx is done.
func (p *Pipeline) Filter(ctx context.Context, businesses []models.BusinessSummary, filter models.Filters) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref := p.fallback
	if filter.Address != nil {
		ref = *filter.Address
	}

	ranked, relaxed := p.rank(filter.SearchInput, ref, businesses)

	kept := make([]models.BusinessSummary, 0, len(ranked))
	for _, b := range ranked {
		if !filter.Radius.IsAny() && !geo.WithinRadius(ref.Latitude, ref.Longitude, b.Locations, filter.Radius.Miles()) {
			continue
		}
		if !filter.Rating.Admits(b.Rating) {
			continue
		}
		kept = append(kept, b)
	}

	switch filter.SortBy {
	case models.SortByRating:
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].Rating > kept[j].Rating
		})
	case models.SortByRecommended:
		if p.recommender != nil {
			kept = p.recommender.Recommend(ctx, kept, filter.Address)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	default:
		sortByDistance(kept, ref)
	}

	out := make([]models.RankedBusiness, len(kept))
	for i, b := range kept {
		out[i] = models.RankedBusiness{Business: b, Distance: resultDistance(filter.Address, b.Locations)}
	}

	p.logger.Debug("Discovery completed",
		zap.String("query", filter.SearchInput),
		zap.Int("candidates", len(businesses)),
		zap.Int("results", len(out)),
		zap.Bool("relaxed", relaxed),
		zap.String("sort_by", string(filter.SortBy)))

	return &Result{Businesses: out, Relaxed: relaxed, QueryTime: time.Since(start)}, nil
}

// rank returns the relevance-ordered candidates. When the cutoff leaves none
// and relaxing is enabled, the uncut ranking is returned with relaxed set.
func (p *Pipeline) rank(query string, ref models.Address, businesses []models.BusinessSummary) ([]models.BusinessSummary, bool) {
	scored := p.ranker.Rank(query, ref, businesses)
	params := p.ranker.Params()
	if len(scored) > 0 || len(businesses) == 0 || !p.relax || params.Cutoff == nil {
		return ranking.Collect(businesses, scored), false
	}

	params.Cutoff = nil
	scored = ranking.NewRanker(&params).Rank(query, ref, businesses)
	p.logger.Debug("Relevance cutoff removed every candidate, relaxing",
		zap.String("query", query),
		zap.Int("candidates", len(businesses)))
	return ranking.Collect(businesses, scored), true
}

// sortByDistance orders businesses by their nearest location to ref, in
// place. Businesses without locations go last.
func sortByDistance(businesses []models.BusinessSummary, ref models.Address) {
	dist := make([]float64, len(businesses))
	order := make([]int, len(businesses))
	for i := range businesses {
		dist[i] = geo.MinDistance(ref.Latitude, ref.Longitude, businesses[i].Locations, false)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dist[order[a]] < dist[order[b]]
	})
	sorted := make([]models.BusinessSummary, len(businesses))
	for i, idx := range order {
		sorted[i] = businesses[idx]
	}
	copy(businesses, sorted)
}

// resultDistance is the distance reported with each result. Without an
// address every business is measured from its own location.
func resultDistance(address *models.Address, locations []models.Location) float64 {
	if address == nil {
		if len(locations) == 0 {
			return math.Inf(1)
		}
		return 0
	}
	return geo.MinDistance(address.Latitude, address.Longitude, locations, false)
}

// FilterBusiness runs a pipeline with default settings.
func FilterBusiness(ctx context.Context, businesses []models.BusinessSummary, filter models.Filters, recommender Recommender) ([]models.RankedBusiness, error) {
	res, err := NewPipeline(recommender).Filter(ctx, businesses, filter)
	if err != nil {
		return nil, err
	}
	return res.Businesses, nil
}
