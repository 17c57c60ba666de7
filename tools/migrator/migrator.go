package migrator

import (
	"database/sql"
	"fmt"
	"strings"
)

// advisoryLockKey identifies the postgres advisory lock held while
// migrations run. Arbitrary but must be stable across releases.
const advisoryLockKey = 7420251

// RunMigrations applies every pending migration in dir, in version order.
// Safe to call on every startup.
func RunMigrations(db *sql.DB, dir string) error {
	driver := detectDriver(db)

	if err := ensureVersionTable(db); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	if err := lock(db, driver); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer unlock(db, driver)

	migrations, err := LoadMigrations(dir)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	maxApplied := 0
	for _, v := range applied {
		done[v] = true
		if v > maxApplied {
			maxApplied = v
		}
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		// A pending migration below the high-water mark means the
		// directory and the database disagree about history.
		if m.Version < maxApplied {
			return fmt.Errorf("cannot apply migration %d: version %d is already applied", m.Version, maxApplied)
		}
		for _, dep := range m.DependsOn {
			if !done[dep] {
				return fmt.Errorf("migration %d depends on version %d which has not been applied", m.Version, dep)
			}
		}
		if err := apply(db, driver, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		done[m.Version] = true
	}
	return nil
}

// GetCurrentVersion returns the highest applied migration version,
// or 0 for a fresh database.
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// GetAppliedMigrations returns the applied versions in ascending order.
func GetAppliedMigrations(db *sql.DB) ([]int, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		if isMissingTable(err) {
			return []int{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// apply runs one migration and records it. Transactional unless the
// migration opted out with notransaction.
func apply(db *sql.DB, driver string, m Migration) error {
	record := "INSERT INTO schema_migrations (version) VALUES (" + placeholder(driver) + ")"

	if m.NoTransaction {
		if _, err := db.Exec(m.SQL); err != nil {
			return err
		}
		_, err := db.Exec(record, m.Version)
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(record, m.Version); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func placeholder(driver string) string {
	if driver == "postgres" {
		return "$1"
	}
	return "?"
}

// lock serializes concurrent migrators. Postgres gets an advisory lock,
// sqlite relies on its file-level locking.
func lock(db *sql.DB, driver string) error {
	if driver == "postgres" {
		_, err := db.Exec("SELECT pg_advisory_lock($1)", advisoryLockKey)
		return err
	}
	return nil
}

func unlock(db *sql.DB, driver string) error {
	if driver == "postgres" {
		_, err := db.Exec("SELECT pg_advisory_unlock($1)", advisoryLockKey)
		return err
	}
	return nil
}

// detectDriver probes the connection since sql.DB does not expose the
// driver name. Only sqlite3 and postgres are supported.
func detectDriver(db *sql.DB) string {
	var out string
	if err := db.QueryRow("SELECT sqlite_version()").Scan(&out); err == nil {
		return "sqlite3"
	}
	if err := db.QueryRow("SELECT version()").Scan(&out); err == nil &&
		strings.Contains(strings.ToLower(out), "postgresql") {
		return "postgres"
	}
	return "sqlite3"
}

func isMissingTable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "does not exist")
}
