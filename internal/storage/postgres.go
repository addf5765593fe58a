package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/session"
)

// PostgresStorage implements Storage on PostgreSQL. Profile similarity is
// computed in the database with the pgvector extension.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to connString and initializes the schema.
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS businesses (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			services TEXT[] NOT NULL DEFAULT '{}',
			service_descriptions TEXT[] NOT NULL DEFAULT '{}',
			styles TEXT[] NOT NULL DEFAULT '{}',
			style_descriptions TEXT[] NOT NULL DEFAULT '{}',
			variants TEXT[] NOT NULL DEFAULT '{}',
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS locations (
			business_id BIGINT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (business_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			embedding vector NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS appointments (
			id BIGSERIAL PRIMARY KEY,
			business_id BIGINT NOT NULL,
			customer_id TEXT NOT NULL,
			starts_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_customer ON appointments(customer_id)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// pgExecer is satisfied by *pgxpool.Pool and pgx.Tx.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// vectorLiteral renders an embedding in pgvector's text form, e.g. [1,0.5,0].
func vectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// UpsertBusiness inserts or replaces a business and its locations.
func (s *PostgresStorage) UpsertBusiness(ctx context.Context, business *models.BusinessSummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := pgUpsertBusiness(ctx, tx, business); err != nil {
		return err
	}
	if err := pgSyncSequence(ctx, tx, "businesses"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func pgUpsertBusiness(ctx context.Context, tx pgExecer, b *models.BusinessSummary) error {
	args := []any{
		b.OwnerID, b.Name,
		nonNil(b.Tags), nonNil(b.Services), nonNil(b.ServiceDescriptions),
		nonNil(b.Styles), nonNil(b.StyleDescriptions), nonNil(b.Variants),
		b.Rating, time.Now(),
	}

	if b.ID == 0 {
		err := tx.QueryRow(ctx,
			`INSERT INTO businesses (owner_id, name, tags, services, service_descriptions, styles, style_descriptions, variants, rating, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`, args...,
		).Scan(&b.ID)
		if err != nil {
			return err
		}
	} else {
		_, err := tx.Exec(ctx,
			`INSERT INTO businesses (id, owner_id, name, tags, services, service_descriptions, styles, style_descriptions, variants, rating, updated_at)
			 VALUES ($11, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (id) DO UPDATE SET
				owner_id = EXCLUDED.owner_id, name = EXCLUDED.name, tags = EXCLUDED.tags,
				services = EXCLUDED.services, service_descriptions = EXCLUDED.service_descriptions,
				styles = EXCLUDED.styles, style_descriptions = EXCLUDED.style_descriptions,
				variants = EXCLUDED.variants, rating = EXCLUDED.rating, updated_at = EXCLUDED.updated_at`,
			append(args, b.ID)...)
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM locations WHERE business_id = $1`, b.ID); err != nil {
		return err
	}
	for i, loc := range b.Locations {
		if _, err := tx.Exec(ctx,
			`INSERT INTO locations (business_id, position, latitude, longitude, enabled) VALUES ($1, $2, $3, $4, $5)`,
			b.ID, i, loc.Latitude, loc.Longitude, loc.Enabled,
		); err != nil {
			return err
		}
	}
	return nil
}

// pgSyncSequence moves a serial sequence past explicitly inserted ids.
func pgSyncSequence(ctx context.Context, tx pgExecer, table string) error {
	_, err := tx.Exec(ctx, fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), GREATEST((SELECT COALESCE(MAX(id), 0) FROM %[1]s), 1))`, table))
	return err
}

const pgBusinessColumns = `id, owner_id, name, tags, services, service_descriptions, styles, style_descriptions, variants, rating`

func pgScanBusiness(row pgx.Row) (models.BusinessSummary, error) {
	var b models.BusinessSummary
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Tags, &b.Services, &b.ServiceDescriptions,
		&b.Styles, &b.StyleDescriptions, &b.Variants, &b.Rating)
	return b, err
}

// GetBusiness returns a business with its locations.
func (s *PostgresStorage) GetBusiness(ctx context.Context, id int64) (*models.BusinessSummary, error) {
	b, err := pgScanBusiness(s.pool.QueryRow(ctx, `SELECT `+pgBusinessColumns+` FROM businesses WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("business %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT latitude, longitude, enabled FROM locations WHERE business_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var loc models.Location
		if err := rows.Scan(&loc.Latitude, &loc.Longitude, &loc.Enabled); err != nil {
			return nil, err
		}
		b.Locations = append(b.Locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBusiness removes a business and its locations.
func (s *PostgresStorage) DeleteBusiness(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM businesses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("business %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListBusinesses returns every business with its locations, ordered by id.
func (s *PostgresStorage) ListBusinesses(ctx context.Context) ([]models.BusinessSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgBusinessColumns+` FROM businesses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	businesses := make([]models.BusinessSummary, 0)
	for rows.Next() {
		b, err := pgScanBusiness(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		businesses = append(businesses, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	index := models.IndexByID(businesses)
	locRows, err := s.pool.Query(ctx,
		`SELECT business_id, latitude, longitude, enabled FROM locations ORDER BY business_id, position`)
	if err != nil {
		return nil, err
	}
	defer locRows.Close()
	for locRows.Next() {
		var id int64
		var loc models.Location
		if err := locRows.Scan(&id, &loc.Latitude, &loc.Longitude, &loc.Enabled); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			businesses[i].Locations = append(businesses[i].Locations, loc)
		}
	}
	return businesses, locRows.Err()
}

// UpsertProfile inserts or replaces a profile embedding.
func (s *PostgresStorage) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	return pgUpsertProfile(ctx, s.pool, profile)
}

func pgUpsertProfile(ctx context.Context, tx pgExecer, p *models.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if len(p.Embedding) == 0 {
		return fmt.Errorf("profile %s: embedding is empty", p.ID)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO profiles (id, embedding, updated_at) VALUES ($1, $2::text::vector, $3)
		 ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`,
		p.ID, vectorLiteral(p.Embedding), time.Now())
	return err
}

// CurrentUserEmbedding returns the embedding of the user carried by ctx.
func (s *PostgresStorage) CurrentUserEmbedding(ctx context.Context) ([]float32, error) {
	userID, err := session.UserID(ctx)
	if err != nil {
		return nil, err
	}
	var raw pgtype.Text
	err = s.pool.QueryRow(ctx, `SELECT embedding::text FROM profiles WHERE id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !raw.Valid) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNoEmbedding)
	}
	if err != nil {
		return nil, err
	}
	// pgvector's text form is a JSON array.
	var embedding []float32
	if err := json.Unmarshal([]byte(raw.String), &embedding); err != nil {
		return nil, fmt.Errorf("failed to parse embedding: %w", err)
	}
	return embedding, nil
}

// FindSimilarProfiles returns profiles whose cosine similarity to embedding is
// strictly greater than minSimilarity, most similar first.
func (s *PostgresStorage) FindSimilarProfiles(ctx context.Context, embedding []float32, minSimilarity float64) ([]models.SimilarProfile, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, similarity FROM (
			SELECT id,
				CASE WHEN vector_dims(embedding) = $2
					THEN 1 - (embedding <=> $1::text::vector) END AS similarity
			FROM profiles
		) candidates
		WHERE similarity > $3
		ORDER BY similarity DESC, id`,
		vectorLiteral(embedding), len(embedding), minSimilarity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var similar []models.SimilarProfile
	for rows.Next() {
		var p models.SimilarProfile
		if err := rows.Scan(&p.ProfileID, &p.Similarity); err != nil {
			return nil, err
		}
		similar = append(similar, p)
	}
	return similar, rows.Err()
}

// CreateAppointment records an appointment.
func (s *PostgresStorage) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	return pgCreateAppointment(ctx, s.pool, appt)
}

func pgCreateAppointment(ctx context.Context, tx pgExecer, a *models.Appointment) error {
	if a.StartsAt.IsZero() {
		a.StartsAt = time.Now()
	}
	if a.ID != 0 {
		_, err := tx.Exec(ctx,
			`INSERT INTO appointments (id, business_id, customer_id, starts_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET business_id = EXCLUDED.business_id,
				customer_id = EXCLUDED.customer_id, starts_at = EXCLUDED.starts_at`,
			a.ID, a.BusinessID, a.CustomerID, a.StartsAt)
		return err
	}
	return tx.QueryRow(ctx,
		`INSERT INTO appointments (business_id, customer_id, starts_at) VALUES ($1, $2, $3) RETURNING id`,
		a.BusinessID, a.CustomerID, a.StartsAt,
	).Scan(&a.ID)
}

// CountVisitsByBusiness counts appointments per business for the given customers.
func (s *PostgresStorage) CountVisitsByBusiness(ctx context.Context, customerIDs []string) ([]models.VisitCount, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT business_id, COUNT(*) FROM appointments
		 WHERE customer_id = ANY($1)
		 GROUP BY business_id ORDER BY business_id`, customerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.VisitCount
	for rows.Next() {
		var vc models.VisitCount
		var visits int64
		if err := rows.Scan(&vc.BusinessID, &visits); err != nil {
			return nil, err
		}
		vc.Visits = int(visits)
		counts = append(counts, vc)
	}
	return counts, rows.Err()
}

// ImportCatalog writes every record of catalog in a single transaction.
func (s *PostgresStorage) ImportCatalog(ctx context.Context, catalog *models.Catalog) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := range catalog.Businesses {
		if err := pgUpsertBusiness(ctx, tx, &catalog.Businesses[i]); err != nil {
			return fmt.Errorf("business %q: %w", catalog.Businesses[i].Name, err)
		}
	}
	for i := range catalog.Profiles {
		if err := pgUpsertProfile(ctx, tx, &catalog.Profiles[i]); err != nil {
			return fmt.Errorf("profile %q: %w", catalog.Profiles[i].ID, err)
		}
	}
	for i := range catalog.Appointments {
		if err := pgCreateAppointment(ctx, tx, &catalog.Appointments[i]); err != nil {
			return fmt.Errorf("appointment %d: %w", catalog.Appointments[i].ID, err)
		}
	}
	for _, table := range []string{"businesses", "appointments"} {
		if err := pgSyncSequence(ctx, tx, table); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// CountBusinesses returns the total number of businesses.
func (s *PostgresStorage) CountBusinesses(ctx context.Context) (int64, error) {
	return s.count(ctx, "businesses")
}

// CountProfiles returns the total number of profiles.
func (s *PostgresStorage) CountProfiles(ctx context.Context) (int64, error) {
	return s.count(ctx, "profiles")
}

// CountAppointments returns the total number of appointments.
func (s *PostgresStorage) CountAppointments(ctx context.Context) (int64, error) {
	return s.count(ctx, "appointments")
}

func (s *PostgresStorage) count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}
