package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"makerd/internal/domain"
)

// Storage persists completed uptime hours and confirmed fills so that
// history survives process restarts.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a SQLite storage instance at the default OS path.
func NewStorage() (*Storage, error) {
	dbPath, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB path: %w", err)
	}
	return NewStorageAt(dbPath)
}

// NewStorageAt opens (or creates) the database at an explicit path.
// Use ":memory:" in tests.
func NewStorageAt(dbPath string) (*Storage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure Go SQLite
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.UptimeHourRecord{}, &domain.FillRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "makerd", "data", "makerd.db"), nil
}

// SaveUptimeHour upserts a completed hour record.
func (s *Storage) SaveUptimeHour(rec *domain.UptimeHourRecord) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

// RecentUptimeHours returns up to limit completed hours for a symbol,
// newest first.
func (s *Storage) RecentUptimeHours(symbol string, limit int) ([]domain.UptimeHourRecord, error) {
	var recs []domain.UptimeHourRecord
	err := s.db.
		Where("symbol = ?", symbol).
		Order("hour_start DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// SaveFill appends a confirmed fill.
func (s *Storage) SaveFill(fill domain.Fill) error {
	rec := domain.FillRecord{
		OrderID:  fill.OrderID,
		Symbol:   fill.Symbol,
		Side:     string(fill.Side),
		Price:    fill.Price,
		Size:     fill.Size,
		FilledAt: fill.FilledAt,
	}
	return s.db.Create(&rec).Error
}

// FillsSince returns fills for a symbol executed after the given time.
func (s *Storage) FillsSince(symbol string, since time.Time) ([]domain.FillRecord, error) {
	var recs []domain.FillRecord
	err := s.db.
		Where("symbol = ? AND filled_at > ?", symbol, since).
		Order("filled_at ASC").
		Find(&recs).Error
	return recs, err
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
