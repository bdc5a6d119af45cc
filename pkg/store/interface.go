package store

import (
	"errors"
	"strings"
	"time"

	"github.com/platewatch/platewatch/pkg/models"
)

var (
	ErrRecordNotFound      = errors.New("record not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for plate record persistence.
// SQLite, PostgreSQL and the in-memory store implement it.
type Store interface {
	CreateRecord(rec *models.PlateRecord) error
	GetRecord(id string) (*models.PlateRecord, error)
	ListRecords(opts ListOptions) ([]models.PlateRecord, error)
	CountRecords(opts ListOptions) (int, error)
	ListOlderThan(cutoff time.Time, limit int) ([]models.PlateRecord, error)
	DeleteRecord(id string) error

	// Lifecycle
	Close() error
	HealthCheck() error
	Vacuum() error
}

// ListOptions narrows and pages ListRecords/CountRecords.
// Offset only applies when Limit is set.
type ListOptions struct {
	Plate  string // exact plate_text match when non-empty
	Limit  int    // 0 means unbounded
	Offset int
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite", "postgres" or "memory"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "sqlite":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "platewatch.db"
		}
		return NewSQLiteStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}

// NewFromURL selects a backend from a DATABASE_URL-style value:
// postgres:// DSNs go to PostgreSQL, sqlite:// prefixes and bare file
// paths go to SQLite, the empty string yields the in-memory store.
func NewFromURL(databaseURL string) (Store, error) {
	switch {
	case databaseURL == "":
		return NewMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewPostgresStore(Config{DSN: databaseURL})
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(databaseURL, "sqlite://"))
	default:
		return NewSQLiteStore(databaseURL)
	}
}

// Ensure all implementations satisfy the interface
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
