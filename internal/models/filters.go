package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const anyValue = "any"

// Radius is the maximum distance in miles between the reference point and a
// business location. RadiusAny disables the filter.
type Radius int

// RadiusAny disables radius filtering.
const RadiusAny Radius = 0

// Radii lists the selectable radius values in miles.
var Radii = []Radius{1, 5, 10, 25}

// ParseRadius parses "1", "5", "10", "25" or "any". The empty string means any.
func ParseRadius(s string) (Radius, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == anyValue {
		return RadiusAny, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return RadiusAny, fmt.Errorf("%w: %q", ErrInvalidRadius, s)
	}
	for _, r := range Radii {
		if int(r) == n {
			return r, nil
		}
	}
	return RadiusAny, fmt.Errorf("%w: %d", ErrInvalidRadius, n)
}

// IsAny reports whether the radius filter is disabled.
func (r Radius) IsAny() bool { return r == RadiusAny }

// Miles returns the radius in miles.
func (r Radius) Miles() float64 { return float64(r) }

func (r Radius) String() string {
	if r.IsAny() {
		return anyValue
	}
	return strconv.Itoa(int(r))
}

// MarshalJSON encodes the radius as a number, or "any".
func (r Radius) MarshalJSON() ([]byte, error) {
	if r.IsAny() {
		return json.Marshal(anyValue)
	}
	return json.Marshal(int(r))
}

// UnmarshalJSON accepts a number or a string.
func (r *Radius) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRadius(unquote(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MinRating is the lowest accepted business rating. RatingAny disables the filter.
type MinRating int

// RatingAny disables rating filtering.
const RatingAny MinRating = 0

// ParseMinRating parses "1" through "5" or "any". The empty string means any.
func ParseMinRating(s string) (MinRating, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == anyValue {
		return RatingAny, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 5 {
		return RatingAny, fmt.Errorf("%w: %q", ErrInvalidRating, s)
	}
	return MinRating(n), nil
}

// IsAny reports whether the rating filter is disabled.
func (m MinRating) IsAny() bool { return m == RatingAny }

// Admits reports whether a business with the given rating passes the filter.
func (m MinRating) Admits(rating float64) bool {
	return m.IsAny() || rating >= float64(m)
}

func (m MinRating) String() string {
	if m.IsAny() {
		return anyValue
	}
	return strconv.Itoa(int(m))
}

// MarshalJSON encodes the rating as a number, or "any".
func (m MinRating) MarshalJSON() ([]byte, error) {
	if m.IsAny() {
		return json.Marshal(anyValue)
	}
	return json.Marshal(int(m))
}

// UnmarshalJSON accepts a number or a string.
func (m *MinRating) UnmarshalJSON(data []byte) error {
	parsed, err := ParseMinRating(unquote(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SortBy selects the final ordering applied by the filter pipeline.
type SortBy string

const (
	// SortByDistance orders by nearest location, closest first.
	SortByDistance SortBy = "distance"
	// SortByRating orders by rating, highest first.
	SortByRating SortBy = "rating"
	// SortByRecommended orders by collaborative-filtering recommendation.
	SortByRecommended SortBy = "recommended"
)

// ParseSortBy parses a sort strategy. The empty string means distance.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(strings.TrimSpace(strings.ToLower(s))) {
	case "", SortByDistance:
		return SortByDistance, nil
	case SortByRating:
		return SortByRating, nil
	case SortByRecommended:
		return SortByRecommended, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortBy, s)
	}
}

// Filters is the configuration of one discovery query.
type Filters struct {
	SearchInput string    `json:"search_input"`
	Address     *Address  `json:"address,omitempty"`
	Radius      Radius    `json:"radius"`
	Rating      MinRating `json:"rating"`
	SortBy      SortBy    `json:"sort_by"`
}

func unquote(data []byte) string {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}
