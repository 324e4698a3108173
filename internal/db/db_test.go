package db_test

import (
	"path/filepath"
	"testing"

	"github.com/journi/jobwatch/internal/assets"
	"github.com/journi/jobwatch/internal/db"
	"github.com/journi/jobwatch/internal/logging"
	"github.com/journi/jobwatch/internal/testutil"
)

func TestMigrationsCreateTables(t *testing.T) {
	database := testutil.SetupTestDB(t)

	for _, table := range []string{"progress_events", "followed_jobs"} {
		var name string
		err := database.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s missing after migrations: %v", table, err)
		}
	}
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobwatch.db")
	database, err := db.InitDB(path)
	if err != nil {
		t.Fatalf("InitDB() returned an error: %v", err)
	}
	defer database.Close()

	logger := logging.NewTest(t)
	if err := db.RunMigrations(database, assets.MigrationsFS, logger); err != nil {
		t.Fatalf("First RunMigrations() returned an error: %v", err)
	}
	if err := db.RunMigrations(database, assets.MigrationsFS, logger); err != nil {
		t.Fatalf("Second RunMigrations() returned an error: %v", err)
	}
}

func TestInitDBRejectsUnreachablePath(t *testing.T) {
	_, err := db.InitDB(filepath.Join(t.TempDir(), "missing", "dir", "jobwatch.db"))
	if err == nil {
		t.Fatal("Expected an error for a database in a missing directory")
	}
}
