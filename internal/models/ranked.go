package models

import "time"

// RankedBusiness pairs a business with its minimum distance in miles from the
// query's reference point. Distance is +Inf when the business has no locations.
type RankedBusiness struct {
	Business BusinessSummary
	Distance float64
}

// SimilarProfile is a profile whose embedding is close to the current user's.
type SimilarProfile struct {
	ProfileID  string  `json:"profile_id"`
	Similarity float64 `json:"similarity"`
}

// VisitCount is the number of past appointments at one business.
type VisitCount struct {
	BusinessID int64 `json:"business_id"`
	Visits     int   `json:"visits"`
}

// Profile is a customer profile with its taste embedding.
type Profile struct {
	ID        string    `json:"id" yaml:"id"`
	Embedding []float32 `json:"embedding" yaml:"embedding"`
}

// Appointment is a past or upcoming booking.
type Appointment struct {
	ID         int64     `json:"id,omitempty" yaml:"id,omitempty"`
	BusinessID int64     `json:"business_id" yaml:"business_id"`
	CustomerID string    `json:"customer_id" yaml:"customer_id"`
	StartsAt   time.Time `json:"starts_at" yaml:"starts_at"`
}

// Catalog is the unit of bulk import: businesses plus the profile and
// appointment history used for recommendations.
type Catalog struct {
	Businesses   []BusinessSummary `json:"businesses" yaml:"businesses"`
	Profiles     []Profile         `json:"profiles" yaml:"profiles"`
	Appointments []Appointment     `json:"appointments" yaml:"appointments"`
}
