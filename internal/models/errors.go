package models

import "errors"

var (
	// ErrInvalidRadius is returned when a radius is not one of 1, 5, 10, 25 or "any".
	ErrInvalidRadius = errors.New("invalid radius")
	// ErrInvalidRating is returned when a minimum rating is not 1-5 or "any".
	ErrInvalidRating = errors.New("invalid rating")
	// ErrInvalidSortBy is returned for an unknown sort strategy.
	ErrInvalidSortBy = errors.New("invalid sort_by")
)
