package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLVault persists credentials in the tenant_credentials table.
type SQLVault struct {
	db *gorm.DB
}

// NewSQLVault creates a SQLVault.
func NewSQLVault(db *gorm.DB) (*SQLVault, error) {
	if db == nil {
		return nil, fmt.Errorf("vault: db is required")
	}
	return &SQLVault{db: db}, nil
}

// Save upserts the credential for cred.TenantID.
func (v *SQLVault) Save(ctx context.Context, cred Credential) error {
	if cred.TenantID == "" {
		return fmt.Errorf("vault: save: tenant id is required")
	}
	if cred.AccessToken == "" {
		return fmt.Errorf("vault: save %s: access token is required", cred.TenantID)
	}
	row := models.TenantCredential{
		TenantID:     cred.TenantID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Scope:        cred.Scope,
		Expiry:       cred.Expiry,
	}
	err := v.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "token_type", "scope", "expiry", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("vault: save %s: %w", cred.TenantID, err)
	}
	return nil
}

// Get returns the credential for tenantID or ErrTenantNotOnboarded.
func (v *SQLVault) Get(ctx context.Context, tenantID string) (Credential, error) {
	var row models.TenantCredential
	err := v.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credential{}, fmt.Errorf("vault: get %s: %w", tenantID, ErrTenantNotOnboarded)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("vault: get %s: %w", tenantID, err)
	}
	return fromRow(row), nil
}

// Delete removes the credential for tenantID.
func (v *SQLVault) Delete(ctx context.Context, tenantID string) error {
	res := v.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Delete(&models.TenantCredential{})
	if res.Error != nil {
		return fmt.Errorf("vault: delete %s: %w", tenantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("vault: delete %s: %w", tenantID, ErrTenantNotOnboarded)
	}
	return nil
}

// List returns every stored credential ordered by tenant.
func (v *SQLVault) List(ctx context.Context) ([]Credential, error) {
	var rows []models.TenantCredential
	if err := v.db.WithContext(ctx).Order("tenant_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("vault: list: %w", err)
	}
	out := make([]Credential, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func fromRow(r models.TenantCredential) Credential {
	return Credential{
		TenantID:     r.TenantID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Scope:        r.Scope,
		Expiry:       r.Expiry,
		UpdatedAt:    r.UpdatedAt,
	}
}
