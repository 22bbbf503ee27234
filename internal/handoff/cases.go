package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/zulandar/switchyard/internal/models"
)

var (
	ErrCaseNotFound      = errors.New("handoff: case not found")
	ErrInvalidTransition = errors.New("handoff: invalid case transition")
)

// CaseFilter narrows List. Empty fields match everything.
type CaseFilter struct {
	TenantID string
	Status   string
	Contact  string
	Limit    int
}

// CaseStore persists handoff cases.
type CaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCaseStore creates a CaseStore.
func NewCaseStore(db *gorm.DB) (*CaseStore, error) {
	if db == nil {
		return nil, fmt.Errorf("handoff: case store: db is required")
	}
	return &CaseStore{db: db, now: time.Now}, nil
}

// Open returns the contact's active case, creating one when none exists.
// A case is active while open or assigned. created reports whether a new
// case was inserted.
func (s *CaseStore) Open(ctx context.Context, tenantID, contact, conversationRef, summary string) (c *models.HandoffCase, created bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.HandoffCase
		result := tx.Where("tenant_id = ? AND contact_address = ? AND status IN ?",
			tenantID, contact, []string{models.CaseOpen, models.CaseAssigned}).
			Order("created_at ASC").First(&existing)
		if result.Error == nil {
			if err := tx.Model(&existing).Update("updated_at", s.now()).Error; err != nil {
				return fmt.Errorf("touch case: %w", err)
			}
			c = &existing
			return nil
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check existing case: %w", result.Error)
		}

		c = &models.HandoffCase{
			ID:              ulid.Make().String(),
			TenantID:        tenantID,
			ContactAddress:  contact,
			ConversationRef: conversationRef,
			Summary:         summary,
			Status:          models.CaseOpen,
		}
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("create case: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("handoff: open case: %w", err)
	}
	return c, created, nil
}

// Get loads one case.
func (s *CaseStore) Get(ctx context.Context, id string) (*models.HandoffCase, error) {
	var c models.HandoffCase
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("handoff: get case %s: %w", id, ErrCaseNotFound)
		}
		return nil, fmt.Errorf("handoff: get case %s: %w", id, err)
	}
	return &c, nil
}

// List returns cases newest first.
func (s *CaseStore) List(ctx context.Context, f CaseFilter) ([]models.HandoffCase, error) {
	q := s.db.WithContext(ctx).Model(&models.HandoffCase{})
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Contact != "" {
		q = q.Where("contact_address = ?", f.Contact)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.HandoffCase
	if err := q.Order("created_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("handoff: list cases: %w", err)
	}
	return out, nil
}

// Assign hands an active case to an operator. Reassigning is allowed;
// resolved cases cannot be assigned.
func (s *CaseStore) Assign(ctx context.Context, id, assignee string) (*models.HandoffCase, error) {
	if assignee == "" {
		return nil, fmt.Errorf("handoff: assign case %s: assignee is required", id)
	}
	return s.transition(ctx, id, "assign", []string{models.CaseOpen, models.CaseAssigned}, map[string]interface{}{
		"status":      models.CaseAssigned,
		"assigned_to": assignee,
		"updated_at":  s.now(),
	})
}

// Resolve closes an active case.
func (s *CaseStore) Resolve(ctx context.Context, id string) (*models.HandoffCase, error) {
	now := s.now()
	return s.transition(ctx, id, "resolve", []string{models.CaseOpen, models.CaseAssigned}, map[string]interface{}{
		"status":      models.CaseResolved,
		"resolved_at": now,
		"updated_at":  now,
	})
}

func (s *CaseStore) transition(ctx context.Context, id, op string, from []string, updates map[string]interface{}) (*models.HandoffCase, error) {
	var c models.HandoffCase
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCaseNotFound
			}
			return err
		}
		result := tx.Model(&models.HandoffCase{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, c.Status)
		}
		return tx.Where("id = ?", id).First(&c).Error
	})
	if err != nil {
		return nil, fmt.Errorf("handoff: %s case %s: %w", op, id, err)
	}
	return &c, nil
}
