package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/session"
	"github.com/hyperjump/mitsukeru/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS businesses (
		id INTEGER PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		tags TEXT,
		services TEXT,
		service_descriptions TEXT,
		styles TEXT,
		style_descriptions TEXT,
		variants TEXT,
		rating REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS locations (
		business_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (business_id, position),
		FOREIGN KEY (business_id) REFERENCES businesses(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS appointments (
		id INTEGER PRIMARY KEY,
		business_id INTEGER NOT NULL,
		customer_id TEXT NOT NULL,
		starts_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_appointments_customer ON appointments(customer_id);
	CREATE INDEX IF NOT EXISTS idx_appointments_business ON appointments(business_id);
	`
	_, err := db.Exec(schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertBusiness inserts or replaces a business and its locations. A zero ID
// is assigned by the database and written back to business.ID.
func (s *SQLiteStorage) UpsertBusiness(ctx context.Context, business *models.BusinessSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertBusiness(ctx, tx, business); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertBusiness(ctx context.Context, tx execer, b *models.BusinessSummary) error {
	lists := make([]any, 0, 6)
	for _, list := range [][]string{b.Tags, b.Services, b.ServiceDescriptions, b.Styles, b.StyleDescriptions, b.Variants} {
		data, err := json.Marshal(list)
		if err != nil {
			return fmt.Errorf("failed to marshal business attributes: %w", err)
		}
		lists = append(lists, string(data))
	}

	args := []any{b.OwnerID, b.Name}
	args = append(args, lists...)
	args = append(args, b.Rating, time.Now())

	if b.ID == 0 {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO businesses (owner_id, name, tags, services, service_descriptions, styles, style_descriptions, variants, rating, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		b.ID = id
	} else {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO businesses (id, owner_id, name, tags, services, service_descriptions, styles, style_descriptions, variants, rating, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				owner_id = excluded.owner_id, name = excluded.name, tags = excluded.tags,
				services = excluded.services, service_descriptions = excluded.service_descriptions,
				styles = excluded.styles, style_descriptions = excluded.style_descriptions,
				variants = excluded.variants, rating = excluded.rating, updated_at = excluded.updated_at`,
			append([]any{b.ID}, args...)...)
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE business_id = ?`, b.ID); err != nil {
		return err
	}
	for i, loc := range b.Locations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO locations (business_id, position, latitude, longitude, enabled) VALUES (?, ?, ?, ?, ?)`,
			b.ID, i, loc.Latitude, loc.Longitude, loc.Enabled,
		); err != nil {
			return err
		}
	}
	return nil
}

const businessColumns = `id, owner_id, name, tags, services, service_descriptions, styles, style_descriptions, variants, rating`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBusiness(row rowScanner) (models.BusinessSummary, error) {
	var b models.BusinessSummary
	var tags, services, serviceDescs, styles, styleDescs, variants sql.NullString
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &tags, &services, &serviceDescs, &styles, &styleDescs, &variants, &b.Rating); err != nil {
		return b, err
	}
	targets := []struct {
		raw sql.NullString
		dst *[]string
	}{
		{tags, &b.Tags},
		{services, &b.Services},
		{serviceDescs, &b.ServiceDescriptions},
		{styles, &b.Styles},
		{styleDescs, &b.StyleDescriptions},
		{variants, &b.Variants},
	}
	for _, t := range targets {
		if !t.raw.Valid || t.raw.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(t.raw.String), t.dst); err != nil {
			return b, fmt.Errorf("failed to unmarshal business %d attributes: %w", b.ID, err)
		}
	}
	return b, nil
}

// GetBusiness returns a business with its locations.
func (s *SQLiteStorage) GetBusiness(ctx context.Context, id int64) (*models.BusinessSummary, error) {
	b, err := scanBusiness(s.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("business %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT latitude, longitude, enabled FROM locations WHERE business_id = ? ORDER BY position`, id)
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
func (s *SQLiteStorage) DeleteBusiness(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM businesses WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("business %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListBusinesses returns every business with its locations, ordered by id.
func (s *SQLiteStorage) ListBusinesses(ctx context.Context) ([]models.BusinessSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+businessColumns+` FROM businesses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	businesses := make([]models.BusinessSummary, 0)
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		businesses = append(businesses, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	index := models.IndexByID(businesses)
	locRows, err := s.db.QueryContext(ctx,
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
func (s *SQLiteStorage) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	return upsertProfile(ctx, s.db, profile)
}

func upsertProfile(ctx context.Context, tx execer, p *models.Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id is required")
	}
	data, err := json.Marshal(p.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO profiles (id, embedding, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, updated_at = excluded.updated_at`,
		p.ID, string(data), time.Now())
	return err
}

// CurrentUserEmbedding returns the embedding of the user carried by ctx.
func (s *SQLiteStorage) CurrentUserEmbedding(ctx context.Context) ([]float32, error) {
	userID, err := session.UserID(ctx)
	if err != nil {
		return nil, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT embedding FROM profiles WHERE id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNoEmbedding)
	}
	if err != nil {
		return nil, err
	}
	var embedding []float32
	if err := json.Unmarshal([]byte(raw), &embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNoEmbedding)
	}
	return embedding, nil
}

// FindSimilarProfiles returns profiles whose cosine similarity to embedding is
// strictly greater than minSimilarity, most similar first. Profiles with a
// different dimension are skipped.
func (s *SQLiteStorage) FindSimilarProfiles(ctx context.Context, embedding []float32, minSimilarity float64) ([]models.SimilarProfile, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	idx, err := vector.NewMemoryIndex(len(embedding))
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM profiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil || len(vec) != len(embedding) {
			continue
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := idx.Add(ctx, ids, vectors); err != nil {
		return nil, err
	}

	hits, err := idx.SearchAbove(ctx, embedding, minSimilarity)
	if err != nil {
		return nil, err
	}
	similar := make([]models.SimilarProfile, len(hits))
	for i, h := range hits {
		similar[i] = models.SimilarProfile{ProfileID: h.ID, Similarity: h.Score}
	}
	return similar, nil
}

// CreateAppointment records an appointment. A zero ID is assigned by the database.
func (s *SQLiteStorage) CreateAppointment(ctx context.Context, appt *models.Appointment) error {
	return createAppointment(ctx, s.db, appt)
}

func createAppointment(ctx context.Context, tx execer, a *models.Appointment) error {
	if a.StartsAt.IsZero() {
		a.StartsAt = time.Now()
	}
	if a.ID != 0 {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO appointments (id, business_id, customer_id, starts_at) VALUES (?, ?, ?, ?)`,
			a.ID, a.BusinessID, a.CustomerID, a.StartsAt)
		return err
	}
	result, err := tx.ExecContext(ctx,
		`INSERT INTO appointments (business_id, customer_id, starts_at) VALUES (?, ?, ?)`,
		a.BusinessID, a.CustomerID, a.StartsAt)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// CountVisitsByBusiness counts appointments per business for the given customers.
func (s *SQLiteStorage) CountVisitsByBusiness(ctx context.Context, customerIDs []string) ([]models.VisitCount, error) {
	if len(customerIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(customerIDs)), ",")
	args := make([]any, len(customerIDs))
	for i, id := range customerIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT business_id, COUNT(*) FROM appointments
		 WHERE customer_id IN (`+placeholders+`)
		 GROUP BY business_id ORDER BY business_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.VisitCount
	for rows.Next() {
		var vc models.VisitCount
		if err := rows.Scan(&vc.BusinessID, &vc.Visits); err != nil {
			return nil, err
		}
		counts = append(counts, vc)
	}
	return counts, rows.Err()
}

// ImportCatalog writes every record of catalog in a single transaction.
func (s *SQLiteStorage) ImportCatalog(ctx context.Context, catalog *models.Catalog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range catalog.Businesses {
		if err := upsertBusiness(ctx, tx, &catalog.Businesses[i]); err != nil {
			return fmt.Errorf("business %q: %w", catalog.Businesses[i].Name, err)
		}
	}
	for i := range catalog.Profiles {
		if err := upsertProfile(ctx, tx, &catalog.Profiles[i]); err != nil {
			return fmt.Errorf("profile %q: %w", catalog.Profiles[i].ID, err)
		}
	}
	for i := range catalog.Appointments {
		if err := createAppointment(ctx, tx, &catalog.Appointments[i]); err != nil {
			return fmt.Errorf("appointment %d: %w", catalog.Appointments[i].ID, err)
		}
	}
	return tx.Commit()
}

// CountBusinesses returns the total number of businesses.
func (s *SQLiteStorage) CountBusinesses(ctx context.Context) (int64, error) {
	return s.count(ctx, "businesses")
}

// CountProfiles returns the total number of profiles.
func (s *SQLiteStorage) CountProfiles(ctx context.Context) (int64, error) {
	return s.count(ctx, "profiles")
}

// CountAppointments returns the total number of appointments.
func (s *SQLiteStorage) CountAppointments(ctx context.Context) (int64, error) {
	return s.count(ctx, "appointments")
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
