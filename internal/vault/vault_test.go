package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openVaultTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.TenantCredential{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func vaults(t *testing.T) map[string]Vault {
	sv, err := NewSQLVault(openVaultTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Vault{"sql": sv, "memory": NewMemoryVault()}
}

func TestVault_GetUnknownTenant(t *testing.T) {
	for name, v := range vaults(t) {
		t.Run(name, func(t *testing.T) {
			_, err := v.Get(context.Background(), "loc_missing")
			if !errors.Is(err, ErrTenantNotOnboarded) {
				t.Errorf("err = %v, want ErrTenantNotOnboarded", err)
			}
		})
	}
}

func TestVault_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	for name, v := range vaults(t) {
		t.Run(name, func(t *testing.T) {
			exp := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
			if err := v.Save(ctx, Credential{TenantID: "loc_1", AccessToken: "a1", RefreshToken: "r1", Expiry: exp}); err != nil {
				t.Fatal(err)
			}
			if err := v.Save(ctx, Credential{TenantID: "loc_1", AccessToken: "a2", RefreshToken: "r2", Expiry: exp.Add(time.Hour)}); err != nil {
				t.Fatal(err)
			}
			got, err := v.Get(ctx, "loc_1")
			if err != nil {
				t.Fatal(err)
			}
			if got.AccessToken != "a2" || got.RefreshToken != "r2" {
				t.Errorf("got %+v, want second write", got)
			}
			if !got.Expiry.Equal(exp.Add(time.Hour)) {
				t.Errorf("Expiry = %v", got.Expiry)
			}
			list, err := v.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 {
				t.Errorf("List len = %d, want 1", len(list))
			}
		})
	}
}

func TestVault_SaveValidation(t *testing.T) {
	ctx := context.Background()
	for name, v := range vaults(t) {
		t.Run(name, func(t *testing.T) {
			if err := v.Save(ctx, Credential{AccessToken: "x"}); err == nil {
				t.Error("expected error without tenant id")
			}
			if err := v.Save(ctx, Credential{TenantID: "loc"}); err == nil {
				t.Error("expected error without access token")
			}
		})
	}
}

func TestVault_Delete(t *testing.T) {
	ctx := context.Background()
	for name, v := range vaults(t) {
		t.Run(name, func(t *testing.T) {
			_ = v.Save(ctx, Credential{TenantID: "loc_1", AccessToken: "a"})
			if err := v.Delete(ctx, "loc_1"); err != nil {
				t.Fatal(err)
			}
			if _, err := v.Get(ctx, "loc_1"); !errors.Is(err, ErrTenantNotOnboarded) {
				t.Errorf("Get after delete err = %v", err)
			}
			if err := v.Delete(ctx, "loc_1"); !errors.Is(err, ErrTenantNotOnboarded) {
				t.Errorf("second Delete err = %v", err)
			}
		})
	}
}

func TestNewSQLVault_RequiresDB(t *testing.T) {
	if _, err := NewSQLVault(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestCredential_Token(t *testing.T) {
	c := Credential{AccessToken: "a", RefreshToken: "r"}
	tok := c.Token()
	if tok.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", tok.TokenType)
	}
	if tok.AccessToken != "a" || tok.RefreshToken != "r" {
		t.Errorf("token = %+v", tok)
	}
}

func TestFromToken_KeepsPreviousRefreshAndScope(t *testing.T) {
	prev := Credential{TenantID: "loc", RefreshToken: "old-r", Scope: "conversations.write"}
	tok := &oauth2.Token{AccessToken: "new-a", TokenType: "Bearer"}
	c := FromToken("loc", tok, prev)
	if c.RefreshToken != "old-r" {
		t.Errorf("RefreshToken = %q, want old-r", c.RefreshToken)
	}
	if c.Scope != "conversations.write" {
		t.Errorf("Scope = %q", c.Scope)
	}

	tok = tok.WithExtra(map[string]interface{}{"scope": "contacts.readonly"})
	if c := FromToken("loc", tok, prev); c.Scope != "contacts.readonly" {
		t.Errorf("Scope = %q, want contacts.readonly", c.Scope)
	}
}
