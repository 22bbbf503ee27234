package handoff

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/switchyard/internal/models"
)

func openCaseTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.HandoffCase{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestCaseStore(t *testing.T) *CaseStore {
	t.Helper()
	s, err := NewCaseStore(openCaseTestDB(t))
	if err != nil {
		t.Fatalf("NewCaseStore: %v", err)
	}
	return s
}

func TestCaseStore_OpenCreates(t *testing.T) {
	s := newTestCaseStore(t)
	c, created, err := s.Open(context.Background(), "loc_1", "+15551234567", "conv-1", "wants a human")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}
	if len(c.ID) != 26 {
		t.Errorf("ID = %q, want 26-char ULID", c.ID)
	}
	if c.Status != models.CaseOpen {
		t.Errorf("Status = %q, want open", c.Status)
	}
}

func TestCaseStore_OpenReusesActiveCase(t *testing.T) {
	s := newTestCaseStore(t)
	ctx := context.Background()

	first, _, _ := s.Open(ctx, "loc_1", "+1555", "conv-1", "first")
	second, created, err := s.Open(ctx, "loc_1", "+1555", "conv-1", "second")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("second Open created=%v id=%s, want reuse of %s", created, second.ID, first.ID)
	}

	// Assigned still counts as active.
	if _, err := s.Assign(ctx, first.ID, "dana"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	third, created, _ := s.Open(ctx, "loc_1", "+1555", "conv-1", "third")
	if created || third.ID != first.ID {
		t.Errorf("Open after assign created a new case")
	}

	// Another contact gets its own case.
	other, created, _ := s.Open(ctx, "loc_1", "+1666", "conv-2", "other")
	if !created || other.ID == first.ID {
		t.Errorf("different contact reused case")
	}
}

func TestCaseStore_OpenAfterResolveCreatesNew(t *testing.T) {
	s := newTestCaseStore(t)
	ctx := context.Background()

	first, _, _ := s.Open(ctx, "loc_1", "+1555", "", "")
	if _, err := s.Resolve(ctx, first.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, created, _ := s.Open(ctx, "loc_1", "+1555", "", "")
	if !created || second.ID == first.ID {
		t.Error("expected a fresh case after resolve")
	}
}

func TestCaseStore_Transitions(t *testing.T) {
	s := newTestCaseStore(t)
	ctx := context.Background()
	c, _, _ := s.Open(ctx, "loc_1", "+1555", "", "")

	assigned, err := s.Assign(ctx, c.ID, "dana")
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if assigned.Status != models.CaseAssigned || assigned.AssignedTo != "dana" {
		t.Errorf("after assign: %+v", assigned)
	}

	resolved, err := s.Resolve(ctx, c.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != models.CaseResolved || resolved.ResolvedAt == nil {
		t.Errorf("after resolve: %+v", resolved)
	}

	if _, err := s.Assign(ctx, c.ID, "eli"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Assign resolved: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := s.Resolve(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resolve resolved: err = %v, want ErrInvalidTransition", err)
	}
}

func TestCaseStore_NotFound(t *testing.T) {
	s := newTestCaseStore(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("Get: err = %v, want ErrCaseNotFound", err)
	}
	if _, err := s.Resolve(ctx, "nope"); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("Resolve: err = %v, want ErrCaseNotFound", err)
	}
	if _, err := s.Assign(ctx, "nope", ""); err == nil {
		t.Error("Assign with empty assignee should fail")
	}
}

func TestCaseStore_ListFilters(t *testing.T) {
	s := newTestCaseStore(t)
	ctx := context.Background()
	a, _, _ := s.Open(ctx, "loc_1", "+1", "", "")
	s.Open(ctx, "loc_1", "+2", "", "")
	s.Open(ctx, "loc_2", "+3", "", "")
	s.Resolve(ctx, a.ID)

	all, err := s.List(ctx, CaseFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
	open, _ := s.List(ctx, CaseFilter{Status: models.CaseOpen})
	if len(open) != 2 {
		t.Errorf("len(open) = %d, want 2", len(open))
	}
	tenant, _ := s.List(ctx, CaseFilter{TenantID: "loc_2"})
	if len(tenant) != 1 || tenant[0].ContactAddress != "+3" {
		t.Errorf("tenant filter = %+v", tenant)
	}
	limited, _ := s.List(ctx, CaseFilter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}
