package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root", Name: "switchyard"},
			want: "root@tcp(127.0.0.1:3306)/switchyard?parseTime=true",
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{Host: "10.0.0.5", Port: 3307, User: "relay", Password: "pw", Name: "sy"},
			want: "relay:pw@tcp(10.0.0.5:3307)/sy?parseTime=true",
		},
		{
			name: "server level",
			cfg:  config.DatabaseConfig{Host: "db.internal", Port: 3306, User: "root"},
			want: "root@tcp(db.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err)
	}
}

func TestConnect_MySQLError(t *testing.T) {
	// Port 1 is unlikely to have a MySQL server.
	_, err := Connect(config.DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 1, User: "root", Name: "none"})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: connect mysql") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: connect mysql")
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 6 {
		t.Errorf("AllModels() returned %d models, want 6", got)
	}
}

func TestAutoMigrate_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sy.db")
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}

	// Migrating twice is a no-op.
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
	if err := gdb.Create(&models.HandoffCase{ID: "01HZZZZZZZZZZZZZZZZZZZZZZZ", ContactAddress: "+1"}).Error; err != nil {
		t.Fatalf("insert case: %v", err)
	}
}
