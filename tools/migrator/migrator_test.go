package migrator

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// =============================================================================
// Test Helpers
// =============================================================================

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeMigration(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write migration %s: %v", name, err)
	}
}

// migrationDir writes a small realistic migration set and returns its path.
func migrationDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeMigration(t, dir, "001_automations.sql", `-- +migrate Up
CREATE TABLE automations (
    id TEXT PRIMARY KEY,
    source_database_id TEXT NOT NULL
);`)
	writeMigration(t, dir, "002_entities.sql", `-- +migrate Up
-- +migrate Depends: 1
CREATE TABLE entities (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL
);`)
	writeMigration(t, dir, "003_indexes.sql", `-- +migrate Up notransaction
CREATE INDEX idx_entities_source ON entities(source_id);`)
	return dir
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return true
}

func currentVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	v, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	return v
}

// =============================================================================
// Parser Tests
// =============================================================================

func TestParseMigrationFile(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_row_mappings.sql", `-- +migrate Up
-- +migrate Depends: 1

CREATE TABLE row_mappings (
    id TEXT PRIMARY KEY,
    checksum TEXT NOT NULL
);`)

	m, err := ParseMigrationFile(filepath.Join(dir, "002_row_mappings.sql"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Version != 2 {
		t.Errorf("expected version 2, got %d", m.Version)
	}
	if m.Name != "row_mappings" {
		t.Errorf("expected name row_mappings, got %q", m.Name)
	}
	if len(m.DependsOn) != 1 || m.DependsOn[0] != 1 {
		t.Errorf("expected dependency on 1, got %v", m.DependsOn)
	}
	if m.NoTransaction {
		t.Error("expected transactional migration")
	}
	if !strings.Contains(m.SQL, "CREATE TABLE row_mappings") {
		t.Errorf("SQL body not captured: %q", m.SQL)
	}
	if strings.Contains(m.SQL, "+migrate") {
		t.Errorf("directives leaked into SQL body: %q", m.SQL)
	}
}

func TestParseMigrationFile_NoTransaction(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "004_index.sql", "-- +migrate Up notransaction\nCREATE INDEX idx ON a(id);")

	m, err := ParseMigrationFile(filepath.Join(dir, "004_index.sql"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.NoTransaction {
		t.Error("expected NoTransaction")
	}
}

func TestParseMigrationFile_MultipleDependencies(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "005_combined.sql", "-- +migrate Up\n-- +migrate Depends: 1 2\nCREATE TABLE c (id INTEGER);")

	m, err := ParseMigrationFile(filepath.Join(dir, "005_combined.sql"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.DependsOn) != 2 || m.DependsOn[0] != 1 || m.DependsOn[1] != 2 {
		t.Errorf("expected dependencies [1 2], got %v", m.DependsOn)
	}
}

func TestParseMigrationFile_Errors(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		content  string
		want     string
	}{
		{"bad filename", "first.sql", "-- +migrate Up\nCREATE TABLE a (id INTEGER);", "NNN_name.sql"},
		{"short version", "1_short.sql", "-- +migrate Up\nCREATE TABLE a (id INTEGER);", "NNN_name.sql"},
		{"missing up directive", "001_noup.sql", "CREATE TABLE a (id INTEGER);", "+migrate Up"},
		{"empty body", "001_empty.sql", "-- +migrate Up\n-- just a comment\n", "no SQL body"},
		{"empty depends", "001_dep.sql", "-- +migrate Up\n-- +migrate Depends:\nCREATE TABLE a (id INTEGER);", "Depends"},
		{"non-numeric depends", "001_dep.sql", "-- +migrate Up\n-- +migrate Depends: abc\nCREATE TABLE a (id INTEGER);", "Depends"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeMigration(t, dir, tc.filename, tc.content)

			_, err := ParseMigrationFile(filepath.Join(dir, tc.filename))
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %q", tc.want, err.Error())
			}
		})
	}
}

// =============================================================================
// Loader Tests
// =============================================================================

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations(migrationDir(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("expected version %d at position %d, got %d", i+1, i, m.Version)
		}
	}
	if !migrations[2].NoTransaction {
		t.Error("expected migration 3 to opt out of the transaction")
	}
}

func TestLoadMigrations_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_only.sql", "-- +migrate Up\nCREATE TABLE a (id INTEGER);")
	writeMigration(t, dir, "README.md", "# migrations")
	writeMigration(t, dir, "notes.sql", "not a migration")

	migrations, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 1 {
		t.Errorf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_EmptyDirectory(t *testing.T) {
	migrations, err := LoadMigrations(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_MissingDirectory(t *testing.T) {
	if _, err := LoadMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLoadMigrations_VersionGap(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_first.sql", "-- +migrate Up\nCREATE TABLE a (id INTEGER);")
	writeMigration(t, dir, "003_third.sql", "-- +migrate Up\nCREATE TABLE b (id INTEGER);")

	_, err := LoadMigrations(dir)
	if err == nil || !strings.Contains(err.Error(), "contiguous") {
		t.Errorf("expected contiguity error, got %v", err)
	}
}

func TestLoadMigrations_UnknownDependency(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_first.sql", "-- +migrate Up\nCREATE TABLE a (id INTEGER);")
	writeMigration(t, dir, "002_second.sql", "-- +migrate Up\n-- +migrate Depends: 9\nCREATE TABLE b (id INTEGER);")

	_, err := LoadMigrations(dir)
	if err == nil || !strings.Contains(err.Error(), "unknown version 9") {
		t.Errorf("expected unknown dependency error, got %v", err)
	}
}

func TestLoadMigrations_ForwardDependency(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_first.sql", "-- +migrate Up\n-- +migrate Depends: 2\nCREATE TABLE a (id INTEGER);")
	writeMigration(t, dir, "002_second.sql", "-- +migrate Up\nCREATE TABLE b (id INTEGER);")

	_, err := LoadMigrations(dir)
	if err == nil || !strings.Contains(err.Error(), "cannot depend") {
		t.Errorf("expected forward dependency error, got %v", err)
	}
}

// =============================================================================
// Execution Tests
// =============================================================================

func TestRunMigrations_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := RunMigrations(db, migrationDir(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !tableExists(t, db, "automations") || !tableExists(t, db, "entities") {
		t.Error("expected migrated tables to exist")
	}
	if v := currentVersion(t, db); v != 3 {
		t.Errorf("expected version 3, got %d", v)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t)
	dir := migrationDir(t)

	for i := 0; i < 3; i++ {
		if err := RunMigrations(db, dir); err != nil {
			t.Fatalf("unexpected error on run %d: %v", i+1, err)
		}
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if count != 3 {
		t.Errorf("expected 3 migration records, got %d", count)
	}
}

func TestRunMigrations_ResumesPartialHistory(t *testing.T) {
	db := openTestDB(t)
	dir := migrationDir(t)

	// Record migration 1 as already applied by hand.
	if err := ensureVersionTable(db); err != nil {
		t.Fatalf("failed to create version table: %v", err)
	}
	if _, err := db.Exec("CREATE TABLE automations (id TEXT PRIMARY KEY, source_database_id TEXT NOT NULL)"); err != nil {
		t.Fatalf("failed to pre-create table: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (1)"); err != nil {
		t.Fatalf("failed to record version: %v", err)
	}

	if err := RunMigrations(db, dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := currentVersion(t, db); v != 3 {
		t.Errorf("expected version 3, got %d", v)
	}
}

func TestRunMigrations_FailureStopsAndRollsBack(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "001_good.sql", "-- +migrate Up\nCREATE TABLE good (id INTEGER);")
	writeMigration(t, dir, "002_bad.sql", "-- +migrate Up\nCREATE TABLE partial (id INTEGER);\nTHIS IS NOT SQL;")
	writeMigration(t, dir, "003_never.sql", "-- +migrate Up\nCREATE TABLE never (id INTEGER);")

	err := RunMigrations(db, dir)
	if err == nil {
		t.Fatal("expected migration failure")
	}

	if v := currentVersion(t, db); v != 1 {
		t.Errorf("expected version 1 after failure, got %d", v)
	}
	// The failed migration rolled back, the later one never ran.
	if tableExists(t, db, "partial") {
		t.Error("expected failed migration to roll back")
	}
	if tableExists(t, db, "never") {
		t.Error("expected later migration to not run")
	}
}

func TestRunMigrations_RejectsStalePending(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "001_first.sql", "-- +migrate Up\nCREATE TABLE a (id INTEGER);")
	writeMigration(t, dir, "002_second.sql", "-- +migrate Up\nCREATE TABLE b (id INTEGER);")

	// Database claims only version 2 has been applied.
	if err := ensureVersionTable(db); err != nil {
		t.Fatalf("failed to create version table: %v", err)
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (2)"); err != nil {
		t.Fatalf("failed to record version: %v", err)
	}

	err := RunMigrations(db, dir)
	if err == nil || !strings.Contains(err.Error(), "already applied") {
		t.Errorf("expected stale history error, got %v", err)
	}
}

func TestRunMigrations_NoTransactionStillRecorded(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()
	writeMigration(t, dir, "001_table.sql", "-- +migrate Up\nCREATE TABLE rows (id INTEGER, label TEXT);")
	writeMigration(t, dir, "002_index.sql", "-- +migrate Up notransaction\nCREATE INDEX idx_rows_label ON rows(label);")

	if err := RunMigrations(db, dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_rows_label'").Scan(&count)
	if count != 1 {
		t.Error("expected index to be created")
	}
	if v := currentVersion(t, db); v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
}

// =============================================================================
// Version Tracking Tests
// =============================================================================

func TestGetCurrentVersion_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	v, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0 {
		t.Errorf("expected version 0, got %d", v)
	}
}

func TestGetAppliedMigrations(t *testing.T) {
	db := openTestDB(t)

	// Missing table reads as empty history.
	applied, err := GetAppliedMigrations(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected no applied migrations, got %v", applied)
	}

	if err := RunMigrations(db, migrationDir(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	applied, err = GetAppliedMigrations(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 3 || applied[0] != 1 || applied[2] != 3 {
		t.Errorf("expected [1 2 3], got %v", applied)
	}
}

// RealMigrationsApply guards the checked-in migration files themselves.
func TestRealMigrationsApply(t *testing.T) {
	db := openTestDB(t)

	if err := RunMigrations(db, "../../migrations"); err != nil {
		t.Fatalf("checked-in migrations failed: %v", err)
	}

	for _, table := range []string{"accounts", "automations", "mapping_configs", "cached_entities", "row_mappings", "sync_stats"} {
		if !tableExists(t, db, table) {
			t.Errorf("expected table %s from checked-in migrations", table)
		}
	}
}
