// Package cleanup removes plate records and their stored images once
// they age past the configured retention window, and periodically runs
// store maintenance.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/platewatch/platewatch/internal/objstore"
	"github.com/platewatch/platewatch/pkg/logging"
	"github.com/platewatch/platewatch/pkg/models"
)

// Config defines the retention policy and maintenance intervals.
type Config struct {
	// RetentionDays is how long plate records are kept. Zero or
	// negative disables the manager entirely.
	RetentionDays int

	CleanupInterval time.Duration
	VacuumInterval  time.Duration

	// BatchSize bounds how many records a single list call returns
	// during a sweep.
	BatchSize int

	// InitialDelay postpones the first sweep after Start so the
	// service can finish warming up.
	InitialDelay time.Duration
}

// normalize fills in defaults for unset fields.
func (c Config) normalize() Config {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	if c.VacuumInterval <= 0 {
		c.VacuumInterval = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Minute
	}
	return c
}

// Store is the subset of the record store the manager needs.
type Store interface {
	ListOlderThan(cutoff time.Time, limit int) ([]models.PlateRecord, error)
	DeleteRecord(id string) error
	Vacuum() error
}

// StatsRecorder receives sweep and vacuum counts, typically the
// metrics collector.
type StatsRecorder interface {
	RecordCleanup(records, files int)
	RecordVacuum()
}

// Stats tracks what the manager has done so far.
type Stats struct {
	LastCleanupTime     time.Time
	LastVacuumTime      time.Time
	TotalRecordsDeleted int64
	TotalFilesRemoved   int64
	TotalVacuumRuns     int64
	LastCleanupDuration time.Duration
	LastVacuumDuration  time.Duration
}

// Manager deletes expired plate records and their image files in the
// background.
type Manager struct {
	cfg     Config
	store   Store
	images  *objstore.Store
	metrics StatsRecorder
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New creates a retention manager. It does nothing until Start is
// called.
func New(cfg Config, st Store, images *objstore.Store, log *logging.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg.normalize(),
		store:  st,
		images: images,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetStatsRecorder wires in a metrics sink. Must be called before
// Start.
func (m *Manager) SetStatsRecorder(r StatsRecorder) {
	m.metrics = r
}

// Start launches the sweep and vacuum loops. A no-op when retention is
// disabled.
func (m *Manager) Start() {
	if m.cfg.RetentionDays <= 0 {
		m.log.Info("retention cleanup disabled")
		return
	}

	m.log.Info("starting retention cleanup", map[string]interface{}{
		"retention_days": m.cfg.RetentionDays,
		"interval":       m.cfg.CleanupInterval.String(),
	})

	m.wg.Add(2)
	go m.cleanupLoop()
	go m.vacuumLoop()
}

// Stop cancels the loops and waits for them to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	// First sweep runs after a short delay rather than waiting a full
	// interval.
	select {
	case <-m.ctx.Done():
		return
	case <-time.After(m.cfg.InitialDelay):
		m.sweep()
	}

	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) vacuumLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.VacuumInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.vacuum()
		}
	}
}

// sweep deletes records older than the retention cutoff in batches,
// removing each record's stored image along the way.
func (m *Manager) sweep() {
	start := time.Now()
	cutoff := start.Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)

	var deleted, filesRemoved int
	for m.ctx.Err() == nil {
		records, err := m.store.ListOlderThan(cutoff, m.cfg.BatchSize)
		if err != nil {
			m.log.Error("retention list failed", map[string]interface{}{"error": err.Error()})
			break
		}
		if len(records) == 0 {
			break
		}

		progress := 0
		for _, rec := range records {
			if err := m.store.DeleteRecord(rec.ID); err != nil {
				m.log.Warn("retention delete failed", map[string]interface{}{
					"id":    rec.ID,
					"error": err.Error(),
				})
				continue
			}
			progress++
			deleted++
			if m.removeImage(rec.ImagePath) {
				filesRemoved++
			}
		}
		// Every record in the batch failed to delete; stop rather
		// than spin on the same batch.
		if progress == 0 {
			break
		}
		if len(records) < m.cfg.BatchSize {
			break
		}
	}

	duration := time.Since(start)

	m.mu.Lock()
	m.stats.LastCleanupTime = time.Now()
	m.stats.LastCleanupDuration = duration
	m.stats.TotalRecordsDeleted += int64(deleted)
	m.stats.TotalFilesRemoved += int64(filesRemoved)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordCleanup(deleted, filesRemoved)
	}

	m.log.Info("retention sweep complete", map[string]interface{}{
		"deleted":  deleted,
		"files":    filesRemoved,
		"duration": duration.String(),
	})
}

// removeImage deletes the stored image a record points at, remote or
// local depending on the URL shape. Reports whether anything was
// removed.
func (m *Manager) removeImage(imagePath string) bool {
	if imagePath == "" || m.images == nil {
		return false
	}
	if key := objstore.KeyFromURL(imagePath); key != "" {
		if err := m.images.RemoveObject(m.ctx, key); err != nil {
			m.log.Warn("retention object removal failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			return false
		}
		return true
	}
	filename := objstore.ExtractFilename(imagePath)
	if filename == "" {
		return false
	}
	if err := m.images.RemoveLocal(filename); err != nil {
		m.log.Warn("retention file removal failed", map[string]interface{}{
			"filename": filename,
			"error":    err.Error(),
		})
		return false
	}
	return true
}

func (m *Manager) vacuum() {
	start := time.Now()

	if err := m.store.Vacuum(); err != nil {
		m.log.Error("store vacuum failed", map[string]interface{}{"error": err.Error()})
		return
	}

	duration := time.Since(start)

	m.mu.Lock()
	m.stats.LastVacuumTime = time.Now()
	m.stats.LastVacuumDuration = duration
	m.stats.TotalVacuumRuns++
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordVacuum()
	}

	m.log.Info("store vacuum complete", map[string]interface{}{"duration": duration.String()})
}

// CleanupNow triggers an immediate sweep.
func (m *Manager) CleanupNow() {
	m.sweep()
}

// VacuumNow triggers an immediate vacuum.
func (m *Manager) VacuumNow() {
	m.vacuum()
}

// GetStats returns a snapshot of the manager's counters.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
