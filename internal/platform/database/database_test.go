package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/R3E-Network/ajax_layer/internal/config"
)

func TestOpenRejectsBadConfig(t *testing.T) {
	cases := map[string]config.DatabaseConfig{
		"no driver":   {DSN: "x"},
		"unsupported": {Driver: "mysql", DSN: "x"},
		"no dsn":      {Driver: "postgres"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Open(context.Background(), cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestOpenSQLite(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "ajax.db") + "?_pragma=foreign_keys(1)"
	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if got := db.Rebind("SELECT ? "); got != "SELECT ? " {
		t.Fatalf("sqlite must keep question placeholders, got %q", got)
	}
	var one int
	if err := db.GetContext(context.Background(), &one, "SELECT 1"); err != nil || one != 1 {
		t.Fatalf("select: %v %d", err, one)
	}
}
