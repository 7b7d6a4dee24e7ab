package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DatabaseConfig
		database string
		want     []string
	}{
		{
			name:     "default local",
			cfg:      config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root"},
			database: "switchboard",
			want:     []string{"root@tcp(127.0.0.1:3306)/switchboard?", "parseTime=true"},
		},
		{
			name:     "with password",
			cfg:      config.DatabaseConfig{Host: "db.internal", Port: 3307, User: "sb", Password: "pw"},
			database: "sb_prod",
			want:     []string{"sb:pw@tcp(db.internal:3307)/sb_prod?"},
		},
		{
			name:     "admin dsn has no database",
			cfg:      config.DatabaseConfig{Host: "10.0.0.5", Port: 3306, User: "root"},
			database: "",
			want:     []string{"root@tcp(10.0.0.5:3306)/?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg, tt.database)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("DSN() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := SQLiteDSN(":memory:"); got != ":memory:" {
		t.Errorf("SQLiteDSN(:memory:) = %q", got)
	}
	if got := SQLiteDSN("sb.db"); !strings.Contains(got, "_busy_timeout=5000") {
		t.Errorf("SQLiteDSN(sb.db) = %q, want busy timeout", got)
	}
}

func TestConnect_SQLiteMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sb.db")
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !IsSQLite(gdb) {
		t.Error("IsSQLite = false, want true")
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T missing after migrate", m)
		}
	}
	if _, err := Ping(context.Background(), gdb); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := DropAll(gdb); err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	if gdb.Migrator().HasTable(&models.CallSession{}) {
		t.Error("call_sessions still present after DropAll")
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "postgres"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Fatalf("err = %v, want unsupported driver", err)
	}
}

func TestAllModels_Count(t *testing.T) {
	if n := len(AllModels()); n != 6 {
		t.Errorf("AllModels() returned %d models, want 6", n)
	}
}
