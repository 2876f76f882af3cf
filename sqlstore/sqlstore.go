// Package sqlstore persists the registration record in SQLite through GORM.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	registrar "github.com/turkkalori/fcm-registrar"
)

// recordID is the primary key of the only row the store ever writes.
const recordID = 1

type recordRow struct {
	ID             uint `gorm:"primaryKey;autoIncrement:false"`
	Token          string
	State          string
	InstanceID     string
	Attempts       int
	ObservedAt     time.Time
	LastSentAt     *time.Time
	AcknowledgedAt *time.Time
	LastError      string
	UpdatedAt      time.Time
}

func (recordRow) TableName() string { return "registration_records" }

// Store is a registrar.Store backed by a single-row SQL table.
type Store struct {
	db *gorm.DB
}

var _ registrar.Store = (*Store)(nil)

// Open opens (or creates) the SQLite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	return New(db)
}

// New wraps an existing GORM handle and migrates the record table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&recordRow{}); err != nil {
		return nil, fmt.Errorf("migrating registration_records: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the stored record, or registrar.ErrNoRecord.
func (s *Store) Load(ctx context.Context) (registrar.Record, error) {
	var row recordRow
	err := s.db.WithContext(ctx).First(&row, recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return registrar.Record{}, registrar.ErrNoRecord
	}
	if err != nil {
		return registrar.Record{}, fmt.Errorf("loading registration record: %w", err)
	}
	return registrar.Record{
		Token:          row.Token,
		State:          registrar.State(row.State),
		InstanceID:     row.InstanceID,
		Attempts:       row.Attempts,
		ObservedAt:     row.ObservedAt,
		LastSentAt:     row.LastSentAt,
		AcknowledgedAt: row.AcknowledgedAt,
		LastError:      row.LastError,
	}, nil
}

// Save upserts the record row.
func (s *Store) Save(ctx context.Context, rec registrar.Record) error {
	row := recordRow{
		ID:             recordID,
		Token:          rec.Token,
		State:          string(rec.State),
		InstanceID:     rec.InstanceID,
		Attempts:       rec.Attempts,
		ObservedAt:     rec.ObservedAt,
		LastSentAt:     rec.LastSentAt,
		AcknowledgedAt: rec.AcknowledgedAt,
		LastError:      rec.LastError,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving registration record: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
