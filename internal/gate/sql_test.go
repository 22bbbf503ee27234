package gate

import (
	"context"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openGateTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.ProcessedEvent{}, &models.ContactThrottle{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestNewSQLStore_RequiresDB(t *testing.T) {
	if _, err := NewSQLStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestSQLStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewSQLStore(openGateTestDB(t))
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestSQLStore_PutEventUpserts(t *testing.T) {
	ctx := context.Background()
	s, _ := NewSQLStore(openGateTestDB(t))
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	if err := s.PutEvent(ctx, "msg:1", first); err != nil {
		t.Fatal(err)
	}
	if err := s.PutEvent(ctx, "msg:1", second); err != nil {
		t.Fatalf("second PutEvent: %v", err)
	}
	exp, ok, err := s.EventExpiry(ctx, "msg:1")
	if err != nil || !ok {
		t.Fatalf("EventExpiry = %v, %v", ok, err)
	}
	if !exp.Equal(second) {
		t.Errorf("expiry = %v, want %v", exp, second)
	}
}

func TestSQLStore_UpdateThrottleSkipWrite(t *testing.T) {
	ctx := context.Background()
	s, _ := NewSQLStore(openGateTestDB(t))

	_, err := s.UpdateThrottle(ctx, "+1", func(st *ThrottleState) bool {
		st.CountInBucket = 99
		return false
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetThrottle(ctx, "+1"); ok {
		t.Error("throttle row written although fn returned false")
	}
}
