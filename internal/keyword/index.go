package keyword

import (
	"context"

	"github.com/hyperjump/mitsukeru/internal/models"
)

// SuggestOptions are optional parameters for Suggest. Nil means defaults.
type SuggestOptions struct {
	// Fuzziness is the maximum edit distance for fuzzy term matches (1 or 2).
	// Default is 2.
	Fuzziness int
	// NameBoost multiplies matches in the business name. Default is 3.
	NameBoost float64
}

// NameIndex answers type-ahead lookups over business names and tags.
type NameIndex interface {
	Index(ctx context.Context, business *models.BusinessSummary) error
	Rebuild(ctx context.Context, businesses []models.BusinessSummary) error
	Suggest(ctx context.Context, query string, limit int, opts *SuggestOptions) ([]*Suggestion, error)
	Delete(ctx context.Context, id int64) error
	DocCount() (uint64, error)
	Close() error
}

// Suggestion is a single name index hit.
type Suggestion struct {
	BusinessID int64
	Score      float64
}
