package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations dir failed validation: %v", err)
	}
}

func TestMigrationsCoverCoreTables(t *testing.T) {
	entries, err := os.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	var all strings.Builder
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := os.ReadFile(filepath.Join("migrations", e.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		all.Write(b)
	}

	sql := all.String()
	for _, table := range []string{
		"jobs",
		"bids",
		"job_offers",
		"transactions",
		"milestones",
		"additional_tasks",
		"disputes",
		"payout_profiles",
		"platform_settings",
		"outbox_events",
		"outbox_dlq",
	} {
		if !strings.Contains(sql, "CREATE TABLE "+table) {
			t.Errorf("no migration creates table %q", table)
		}
	}

	if !strings.Contains(sql, "ck_txn_total") {
		t.Error("transactions migration missing fee reconciliation check")
	}
}
