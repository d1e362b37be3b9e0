package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Run is the stored summary row of a report.
type Run struct {
	ID                     string `gorm:"primaryKey"`
	TestName               string `gorm:"index"`
	CreatedAt              time.Time
	NumWorkers             int
	CacheMode              string
	AssignmentMode         string
	NumStrategies          int
	TotalMemoryMB          float64
	AvgMemoryMB            float64
	MemoryRedundancyFactor float64
	TotalExecutionSeconds  float64
	WallClockSeconds       float64
	// Payload is the full report as JSON.
	Payload []byte
	Tiers   []TierRate `gorm:"foreignKey:RunID"`
}

// TierRate is one aggregated hit rate of a run.
type TierRate struct {
	ID     uint   `gorm:"primaryKey"`
	RunID  string `gorm:"index"`
	Tier   string
	Hits   int64
	Misses int64
	Rate   float64
}

// ErrRunNotFound is returned by Get for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Store keeps run summaries in SQLite.
type Store struct {
	db *gorm.DB
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&Run{}, &TierRate{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Save stores r and its aggregated hit rates in one transaction.
func (s *Store) Save(r *Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	agg := r.AggregateMetrics
	run := Run{
		ID:                     r.RunID,
		TestName:               r.TestName,
		CreatedAt:              r.Timestamp,
		NumWorkers:             r.Configuration.NumWorkers,
		CacheMode:              r.Configuration.CacheMode,
		AssignmentMode:         r.Configuration.AssignmentMode,
		NumStrategies:          r.Configuration.NumStrategies,
		TotalMemoryMB:          agg.TotalMemoryMB,
		AvgMemoryMB:            agg.AvgMemoryMB,
		MemoryRedundancyFactor: agg.MemoryRedundancyFactor,
		TotalExecutionSeconds:  agg.TotalExecutionSeconds,
		WallClockSeconds:       r.TotalWallClockSeconds,
		Payload:                payload,
	}

	tiers := make([]string, 0, len(agg.CacheHitRates))
	for tier := range agg.CacheHitRates {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		hr := agg.CacheHitRates[tier]
		run.Tiers = append(run.Tiers, TierRate{Tier: tier, Hits: hr.Hits, Misses: hr.Misses, Rate: hr.Rate})
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&run).Error
	})
}

// Get loads a run with its hit rates.
func (s *Store) Get(id string) (*Run, error) {
	var run Run
	err := s.db.Preload("Tiers", func(db *gorm.DB) *gorm.DB {
		return db.Order("tier")
	}).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Report decodes the full report stored with run id.
func (s *Store) Report(id string) (*Report, error) {
	run, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(run.Payload, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &r, nil
}

// List returns the newest runs first, without payloads.
func (s *Store) List(limit int) ([]Run, error) {
	var runs []Run
	q := s.db.Omit("payload").Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
