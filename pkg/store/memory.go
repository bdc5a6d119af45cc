package store

import (
	"sort"
	"sync"
	"time"

	"github.com/platewatch/platewatch/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store.
// Used for tests and when no DATABASE_URL is configured.
type MemoryStore struct {
	records map[string]*models.PlateRecord
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.PlateRecord),
	}
}

// CreateRecord adds a record to the store
func (s *MemoryStore) CreateRecord(rec *models.PlateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// GetRecord retrieves a record by ID
func (s *MemoryStore) GetRecord(id string) (*models.PlateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListRecords returns records newest first, optionally filtered by plate
func (s *MemoryStore) ListRecords(opts ListOptions) ([]models.PlateRecord, error) {
	s.mu.RLock()
	matched := s.match(opts.Plate)
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DetectedAt.After(matched[j].DetectedAt)
	})

	if opts.Limit <= 0 {
		return matched, nil
	}

	if opts.Offset >= len(matched) {
		return []models.PlateRecord{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[opts.Offset:end], nil
}

// CountRecords returns the number of records matching the filter
func (s *MemoryStore) CountRecords(opts ListOptions) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts.Plate == "" {
		return len(s.records), nil
	}
	count := 0
	for _, rec := range s.records {
		if rec.PlateText == opts.Plate {
			count++
		}
	}
	return count, nil
}

// ListOlderThan returns up to limit records detected before cutoff,
// oldest first
func (s *MemoryStore) ListOlderThan(cutoff time.Time, limit int) ([]models.PlateRecord, error) {
	s.mu.RLock()
	var matched []models.PlateRecord
	for _, rec := range s.records {
		if rec.DetectedAt.Before(cutoff) {
			matched = append(matched, *rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DetectedAt.Before(matched[j].DetectedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// DeleteRecord removes a record by ID
func (s *MemoryStore) DeleteRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.records, id)
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the in-memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// Vacuum is a no-op for the in-memory store
func (s *MemoryStore) Vacuum() error {
	return nil
}

func (s *MemoryStore) match(plate string) []models.PlateRecord {
	matched := make([]models.PlateRecord, 0, len(s.records))
	for _, rec := range s.records {
		if plate != "" && rec.PlateText != plate {
			continue
		}
		matched = append(matched, *rec)
	}
	return matched
}
