package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"unified-ai/backend/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	if err := Run("  ", Up, 0); err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, d := range []string{"", "UP", "sideways"} {
		if err := Run("postgres://localhost/test", Direction(d), 0); err == nil {
			t.Errorf("Run with direction %q should return error", d)
		}
	}
}

func TestRun_NegativeSteps(t *testing.T) {
	if err := Run("postgres://localhost/test", Up, -1); err == nil {
		t.Fatal("Run with negative steps should return error")
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := ParseDirection("down"); err != nil || d != Down {
		t.Fatalf("ParseDirection(down) = %q, %v", d, err)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Fatalf("migrations: %d up, %d down", ups, downs)
	}
}
