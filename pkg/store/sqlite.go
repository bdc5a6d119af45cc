package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platewatch/platewatch/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite connection string with parameters for concurrent access
	// - _journal_mode=WAL: Enable Write-Ahead Logging for better concurrency
	// - _busy_timeout=10000: Wait up to 10 seconds when database is locked
	// - _synchronous=NORMAL: Balance between safety and performance
	// - _cache_size=-8000: 8MB memory cache for better performance
	// - _txlock=immediate: Acquire write lock at transaction start to reduce conflicts
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_cache_size=-8000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plate_records (
		id TEXT PRIMARY KEY,
		plate_text TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		image_path TEXT,
		detected_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plate_records_text ON plate_records(plate_text);
	CREATE INDEX IF NOT EXISTS idx_plate_records_detected_at ON plate_records(detected_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateRecord adds a record to the store
func (s *SQLiteStore) CreateRecord(rec *models.PlateRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO plate_records (id, plate_text, confidence, image_path, detected_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.PlateText, rec.Confidence, rec.ImagePath, rec.DetectedAt)
	return err
}

// GetRecord retrieves a record by ID
func (s *SQLiteStore) GetRecord(id string) (*models.PlateRecord, error) {
	var rec models.PlateRecord
	var imagePath sql.NullString

	err := s.db.QueryRow(`
		SELECT id, plate_text, confidence, image_path, detected_at
		FROM plate_records WHERE id = ?
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
func (s *SQLiteStore) ListRecords(opts ListOptions) ([]models.PlateRecord, error) {
	query := `SELECT id, plate_text, confidence, image_path, detected_at FROM plate_records`
	args := []interface{}{}

	if opts.Plate != "" {
		query += ` WHERE plate_text = ?`
		args = append(args, opts.Plate)
	}
	query += ` ORDER BY detected_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountRecords returns the number of records matching the filter
func (s *SQLiteStore) CountRecords(opts ListOptions) (int, error) {
	query := `SELECT COUNT(*) FROM plate_records`
	args := []interface{}{}
	if opts.Plate != "" {
		query += ` WHERE plate_text = ?`
		args = append(args, opts.Plate)
	}

	var count int
	err := s.db.QueryRow(query, args...).Scan(&count)
	return count, err
}

// ListOlderThan returns up to limit records detected before cutoff,
// oldest first
func (s *SQLiteStore) ListOlderThan(cutoff time.Time, limit int) ([]models.PlateRecord, error) {
	query := `
		SELECT id, plate_text, confidence, image_path, detected_at
		FROM plate_records WHERE detected_at < ?
		ORDER BY detected_at ASC
	`
	args := []interface{}{cutoff}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// DeleteRecord removes a record by ID
func (s *SQLiteStore) DeleteRecord(id string) error {
	result, err := s.db.Exec(`DELETE FROM plate_records WHERE id = ?`, id)
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies database connectivity
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// Vacuum reclaims unused database pages
func (s *SQLiteStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

// scanRecords reads plate records off an open result set
func scanRecords(rows *sql.Rows) ([]models.PlateRecord, error) {
	records := []models.PlateRecord{}
	for rows.Next() {
		var rec models.PlateRecord
		var imagePath sql.NullString

		if err := rows.Scan(&rec.ID, &rec.PlateText, &rec.Confidence, &imagePath, &rec.DetectedAt); err != nil {
			return nil, err
		}
		rec.ImagePath = imagePath.String
		records = append(records, rec)
	}
	return records, rows.Err()
}
