// Package storage defines persistence for businesses, customer profiles and
// appointment history.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/mitsukeru/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoEmbedding is returned when the current user has no stored embedding.
	ErrNoEmbedding = errors.New("no embedding stored for user")
)

// Storage defines business, profile and appointment persistence operations.
type Storage interface {
	// Business operations
	UpsertBusiness(ctx context.Context, business *models.BusinessSummary) error
	GetBusiness(ctx context.Context, id int64) (*models.BusinessSummary, error)
	DeleteBusiness(ctx context.Context, id int64) error
	ListBusinesses(ctx context.Context) ([]models.BusinessSummary, error)

	// Profile operations
	UpsertProfile(ctx context.Context, profile *models.Profile) error
	CurrentUserEmbedding(ctx context.Context) ([]float32, error)
	FindSimilarProfiles(ctx context.Context, embedding []float32, minSimilarity float64) ([]models.SimilarProfile, error)

	// Appointment operations
	CreateAppointment(ctx context.Context, appt *models.Appointment) error
	CountVisitsByBusiness(ctx context.Context, customerIDs []string) ([]models.VisitCount, error)

	// Batch operations
	ImportCatalog(ctx context.Context, catalog *models.Catalog) error

	// Stats
	CountBusinesses(ctx context.Context) (int64, error)
	CountProfiles(ctx context.Context) (int64, error)
	CountAppointments(ctx context.Context) (int64, error)

	Close() error
}

// Open returns the Storage implementation for driver: "sqlite" (the default)
// or "postgres".
func Open(ctx context.Context, driver, databasePath, postgresURL string) (Storage, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStorage(databasePath)
	case "postgres":
		if postgresURL == "" {
			return nil, fmt.Errorf("postgres driver requires postgres_url")
		}
		return NewPostgresStorage(ctx, postgresURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
