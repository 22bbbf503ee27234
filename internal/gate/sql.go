package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps gate state in the relay database.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore returns a store backed by the processed_events and
// contact_throttles tables.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gate: sql store: db is required")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) EventExpiry(ctx context.Context, eventID string) (time.Time, bool, error) {
	var ev models.ProcessedEvent
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("gate: sql: lookup event: %w", err)
	}
	return ev.ExpiresAt, true, nil
}

func (s *SQLStore) PutEvent(ctx context.Context, eventID string, expiresAt time.Time) error {
	ev := models.ProcessedEvent{EventID: eventID, ExpiresAt: expiresAt}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(&ev).Error
	if err != nil {
		return fmt.Errorf("gate: sql: put event: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteEvent(ctx context.Context, eventID string) error {
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).Delete(&models.ProcessedEvent{}).Error; err != nil {
		return fmt.Errorf("gate: sql: delete event: %w", err)
	}
	return nil
}

func (s *SQLStore) SweepEvents(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("gate: sql: sweep: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQLStore) GetThrottle(ctx context.Context, address string) (ThrottleState, bool, error) {
	var row models.ContactThrottle
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ThrottleState{Address: address}, false, nil
	}
	if err != nil {
		return ThrottleState{}, false, fmt.Errorf("gate: sql: lookup throttle: %w", err)
	}
	return fromRow(row), true, nil
}

// UpdateThrottle reads and writes the row inside one transaction, locking it
// FOR UPDATE on databases that support row locks.
func (s *SQLStore) UpdateThrottle(ctx context.Context, address string, fn func(*ThrottleState) bool) (ThrottleState, error) {
	var result ThrottleState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.ContactThrottle
		q := tx
		if tx.Dialector.Name() != "sqlite" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.Where("address = ?", address).First(&row).Error
		st := ThrottleState{Address: address}
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			st = fromRow(row)
		}
		if !fn(&st) {
			result = st
			return nil
		}
		row = models.ContactThrottle{
			Address:       address,
			LastSentAt:    st.LastSentAt,
			DayBucket:     st.DayBucket,
			CountInBucket: st.CountInBucket,
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		result = st
		return nil
	})
	if err != nil {
		return ThrottleState{}, fmt.Errorf("gate: sql: update throttle %s: %w", address, err)
	}
	return result, nil
}

func fromRow(row models.ContactThrottle) ThrottleState {
	return ThrottleState{
		Address:       row.Address,
		LastSentAt:    row.LastSentAt,
		DayBucket:     row.DayBucket,
		CountInBucket: row.CountInBucket,
	}
}
