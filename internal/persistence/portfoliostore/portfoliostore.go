// Package portfoliostore is the optional durable store for daily
// portfolio snapshots and the emergency-stop audit trail
// (SPEC_FULL.md §6): a distinct persistence concern from the trade
// collections in internal/persistence/tradestore, so it earns its own
// gorm.io/gorm model set rather than reusing sqlx for everything.
package portfoliostore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// DailySnapshot is one row per trading day's closing portfolio state.
type DailySnapshot struct {
	ID            uint      `gorm:"primaryKey"`
	Date          string    `gorm:"uniqueIndex;size:10"` // YYYY-MM-DD
	StartValue    float64
	CurrentValue  float64
	PeakValue     float64
	Drawdown      float64
	DailyPnL      float64
	TradeCount    int
	EmergencyStop bool
	RecordedAt    time.Time
}

// EmergencyStopEvent is one row per latch/reset transition (spec §4.B
// "always logged").
type EmergencyStopEvent struct {
	ID         uint `gorm:"primaryKey"`
	Action     string // LATCH or RESET
	Reason     string
	OperatorID string
	At         time.Time
}

// Store wraps a *gorm.DB. A nil *Store is a valid no-op, matching
// tradestore's "optional" framing (spec §6).
type Store struct {
	db *gorm.DB
}

// New wraps db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate runs gorm's AutoMigrate for both models.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).AutoMigrate(&DailySnapshot{}, &EmergencyStopEvent{}); err != nil {
		return fmt.Errorf("portfoliostore: migrate: %w", err)
	}
	return nil
}

// RecordSnapshot upserts today's snapshot by date (spec §4.B
// diagnostics mirrored to durable storage once per day, on the Clock
// Service's trim-daily tick).
func (s *Store) RecordSnapshot(ctx context.Context, snap DailySnapshot) error {
	if s == nil || s.db == nil {
		return nil
	}
	snap.RecordedAt = time.Now()
	err := s.db.WithContext(ctx).
		Where(DailySnapshot{Date: snap.Date}).
		Assign(snap).
		FirstOrCreate(&DailySnapshot{}).Error
	if err != nil {
		return fmt.Errorf("portfoliostore: record snapshot %s: %w", snap.Date, err)
	}
	return nil
}

// RecordEmergencyEvent appends to the emergency-stop audit log (spec
// §4.B "always logged").
func (s *Store) RecordEmergencyEvent(ctx context.Context, action, reason, operatorID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	ev := EmergencyStopEvent{Action: action, Reason: reason, OperatorID: operatorID, At: time.Now()}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("portfoliostore: record emergency event: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit most-recent daily snapshots,
// newest first, for the diagnostics HTTP surface.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]DailySnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var out []DailySnapshot
	err := s.db.WithContext(ctx).Order("date DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("portfoliostore: recent snapshots: %w", err)
	}
	return out, nil
}
