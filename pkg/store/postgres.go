package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/platewatch/platewatch/pkg/models"
	"github.com/platewatch/platewatch/pkg/retry"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	// Test connection. The database may still be starting when the
	// service comes up, so the first ping retries with backoff.
	pingCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := retry.Do(pingCtx, retry.DefaultConfig(), db.Ping); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plate_records (
		id TEXT PRIMARY KEY,
		plate_text TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		image_path TEXT,
		detected_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plate_records_text ON plate_records(plate_text);
	CREATE INDEX IF NOT EXISTS idx_plate_records_detected_at ON plate_records(detected_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateRecord adds a record to the store
func (s *PostgresStore) CreateRecord(rec *models.PlateRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO plate_records (id, plate_text, confidence, image_path, detected_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.PlateText, rec.Confidence, rec.ImagePath, rec.DetectedAt)
	return err
}

// GetRecord retrieves a record by ID
func (s *PostgresStore) GetRecord(id string) (*models.PlateRecord, error) {
	var rec models.PlateRecord
	var imagePath sql.NullString

	err := s.db.QueryRow(`
		SELECT id, plate_text, confidence, image_path, detected_at
		FROM plate_records WHERE id = $1
	`, id).Scan(&rec.ID, &rec.PlateText, &rec.Confidence, &imagePath, &rec.DetectedAt)

	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.ImagePath = imagePath.String
	return &rec, nil
}

// ListRecords returns records newest first, optionally filtered by plate
func (s *PostgresStore) ListRecords(opts ListOptions) ([]models.PlateRecord, error) {
	query := `SELECT id, plate_text, confidence, image_path, detected_at FROM plate_records`
	args := []interface{}{}

	if opts.Plate != "" {
		args = append(args, opts.Plate)
		query += fmt.Sprintf(` WHERE plate_text = $%d`, len(args))
	}
	query += ` ORDER BY detected_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountRecords returns the number of records matching the filter
func (s *PostgresStore) CountRecords(opts ListOptions) (int, error) {
	query := `SELECT COUNT(*) FROM plate_records`
	args := []interface{}{}
	if opts.Plate != "" {
		query += ` WHERE plate_text = $1`
		args = append(args, opts.Plate)
	}

	var count int
	err := s.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

// ListOlderThan returns up to limit records detected before cutoff,
// oldest first
func (s *PostgresStore) ListOlderThan(cutoff time.Time, limit int) ([]models.PlateRecord, error) {
	query := `
		SELECT id, plate_text, confidence, image_path, detected_at
		FROM plate_records WHERE detected_at < $1
		ORDER BY detected_at ASC
	`
	args := []interface{}{cutoff}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteRecord removes a record by ID
func (s *PostgresStore) DeleteRecord(id string) error {
	result, err := s.db.Exec(`DELETE FROM plate_records WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies database connectivity
func (s *PostgresStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Vacuum reclaims dead rows and refreshes planner statistics
func (s *PostgresStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM ANALYZE plate_records")
	return err
}
