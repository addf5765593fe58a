// Package recommend reorders businesses by how often users with similar
// profiles have visited them.
//
// Every lookup is allowed to fail. A failure, or an empty answer, leaves the
// input order untouched; the reason is logged at warn level and never returned.
package recommend

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/geo"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/ranking"
)

// ProfileStore answers embedding lookups for the current user and their peers.
type ProfileStore interface {
	CurrentUserEmbedding(ctx context.Context) ([]float32, error)
	FindSimilarProfiles(ctx context.Context, embedding []float32, minSimilarity float64) ([]models.SimilarProfile, error)
}

// AppointmentStore counts past visits per business.
type AppointmentStore interface {
	CountVisitsByBusiness(ctx context.Context, customerIDs []string) ([]models.VisitCount, error)
}

// Params tunes the recommendation score.
type Params struct {
	Alpha         float64 `yaml:"alpha" json:"alpha"`
	Beta          float64 `yaml:"beta" json:"beta"`
	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`
}

// DefaultParams returns alpha 0.7, beta 0.1 and a similarity threshold of 0.5.
func DefaultParams() Params {
	return Params{Alpha: 0.7, Beta: 0.1, MinSimilarity: 0.5}
}

// Recommender reorders businesses using collaborative visit frequency.
type Recommender struct {
	profiles     ProfileStore
	appointments AppointmentStore
	params       Params
	logger       *zap.Logger
}

// Option configures a Recommender.
type Option func(*Recommender)

// WithLogger sets the logger used for degradation warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recommender) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithParams overrides DefaultParams.
func WithParams(p Params) Option {
	return func(r *Recommender) {
		r.params = p
	}
}

// New creates a Recommender over the given stores.
func New(profiles ProfileStore, appointments AppointmentStore, opts ...Option) *Recommender {
	r := &Recommender{
		profiles:     profiles,
		appointments: appointments,
		params:       DefaultParams(),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Params returns the recommender's tuning.
func (r *Recommender) Params() Params {
	return r.params
}

// Recommend returns businesses reordered by recommendation score, lowest first.
// When address is nil or any lookup yields nothing, businesses is returned as is.
func (r *Recommender) Recommend(ctx context.Context, businesses []models.BusinessSummary, address *models.Address) []models.BusinessSummary {
	return r.RecommendWithParams(ctx, businesses, address, r.params)
}

// RecommendWithParams is Recommend with explicit tuning.
func (r *Recommender) RecommendWithParams(ctx context.Context, businesses []models.BusinessSummary, address *models.Address, p Params) []models.BusinessSummary {
	if address == nil {
		return businesses
	}
	if len(businesses) == 0 {
		return businesses
	}
	if r.profiles == nil || r.appointments == nil {
		r.logger.Warn("Recommendation stores not configured")
		return businesses
	}

	embedding, err := r.profiles.CurrentUserEmbedding(ctx)
	if err != nil {
		r.logger.Warn("User embedding unavailable", zap.String("step", "embedding"), zap.Error(err))
		return businesses
	}
	if len(embedding) == 0 {
		r.logger.Warn("User embedding is empty", zap.String("step", "embedding"))
		return businesses
	}

	similar, err := r.profiles.FindSimilarProfiles(ctx, embedding, p.MinSimilarity)
	if err != nil {
		r.logger.Warn("Similar profile lookup failed", zap.String("step", "similar_profiles"), zap.Error(err))
		return businesses
	}
	if len(similar) == 0 {
		r.logger.Warn("No similar profiles found",
			zap.String("step", "similar_profiles"),
			zap.Float64("min_similarity", p.MinSimilarity))
		return businesses
	}

	customerIDs := make([]string, len(similar))
	for i, s := range similar {
		customerIDs[i] = s.ProfileID
	}

	visits, err := r.appointments.CountVisitsByBusiness(ctx, customerIDs)
	if err != nil {
		r.logger.Warn("Visit count lookup failed", zap.String("step", "visits"), zap.Error(err))
		return businesses
	}
	if len(visits) == 0 {
		r.logger.Warn("No visits recorded for similar profiles",
			zap.String("step", "visits"),
			zap.Int("profiles", len(customerIDs)))
		return businesses
	}

	frequency := make(map[int64]int, len(visits))
	for _, v := range visits {
		frequency[v.BusinessID] += v.Visits
	}

	scores := make([]float64, len(businesses))
	order := make([]int, len(businesses))
	for i := range businesses {
		minDist := geo.MinDistance(address.Latitude, address.Longitude, businesses[i].Locations, false)
		scores[i] = Score(frequency[businesses[i].ID], minDist, p)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})

	out := make([]models.BusinessSummary, len(order))
	for i, idx := range order {
		out[i] = businesses[idx]
	}

	r.logger.Debug("Recommendations applied",
		zap.Int("businesses", len(out)),
		zap.Int("similar_profiles", len(similar)),
		zap.Int("visited_businesses", len(frequency)))
	return out
}

// Score is -alpha*frequency + (1-alpha)*exp(beta*minDistance). Lower is better.
func Score(frequency int, minDistance float64, p Params) float64 {
	score := -p.Alpha * float64(frequency)
	if w := 1 - p.Alpha; w != 0 {
		score += w * ranking.ProximityCost(minDistance, p.Beta)
	}
	return score
}
