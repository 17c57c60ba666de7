package migrator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one schema change loaded from a NNN_name.sql file.
type Migration struct {
	Version       int
	Name          string
	SQL           string
	NoTransaction bool
	DependsOn     []int
}

var (
	migrationFilePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upDirective          = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
	dependsDirective     = regexp.MustCompile(`^--\s*\+migrate\s+Depends:\s*(.*)$`)
)

// ParseMigrationFile reads one migration file. The filename carries the
// version and name, the body carries the directives and the SQL:
//
//	-- +migrate Up [notransaction]
//	-- +migrate Depends: 1 2
//	CREATE TABLE ...
func ParseMigrationFile(path string) (*Migration, error) {
	base := filepath.Base(path)
	parts := migrationFilePattern.FindStringSubmatch(base)
	if parts == nil {
		return nil, fmt.Errorf("migration filename %q does not match NNN_name.sql", base)
	}
	version, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("bad version prefix in %q: %w", base, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read migration %s: %w", base, err)
	}

	m := &Migration{Version: version, Name: parts[2]}
	lines := strings.Split(string(raw), "\n")

	// Scan for the Up directive. Everything before it is ignored.
	body := -1
	for i, line := range lines {
		sub := upDirective.FindStringSubmatch(line)
		if sub == nil {
			continue
		}
		if strings.TrimSpace(sub[1]) == "notransaction" {
			m.NoTransaction = true
		}
		body = i + 1
		break
	}
	if body < 0 {
		return nil, fmt.Errorf("migration %s has no '-- +migrate Up' directive", base)
	}

	// Directives and plain comments may follow the Up line. The SQL body
	// starts at the first line that is neither.
	start := body
	for i := body; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if sub := dependsDirective.FindStringSubmatch(line); sub != nil {
			deps, err := parseDepends(sub[1])
			if err != nil {
				return nil, fmt.Errorf("migration %s: %w", base, err)
			}
			m.DependsOn = append(m.DependsOn, deps...)
			start = i + 1
			continue
		}
		if line == "" || strings.HasPrefix(line, "--") {
			start = i + 1
			continue
		}
		start = i
		break
	}

	m.SQL = strings.TrimSpace(strings.Join(lines[start:], "\n"))
	if m.SQL == "" {
		return nil, fmt.Errorf("migration %s has no SQL body", base)
	}
	return m, nil
}

func parseDepends(list string) ([]int, error) {
	fields := strings.Fields(list)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty Depends directive")
	}
	deps := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad Depends version %q", f)
		}
		deps = append(deps, v)
	}
	return deps, nil
}

// LoadMigrations reads every migration in dir, sorted by version.
// Versions must form a contiguous 1..N sequence and every dependency
// must point at an existing earlier migration.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !migrationFilePattern.MatchString(entry.Name()) {
			continue
		}
		m, err := ParseMigrationFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	known := make(map[int]bool, len(migrations))
	for i, m := range migrations {
		if known[m.Version] {
			return nil, fmt.Errorf("duplicate migration version %d", m.Version)
		}
		if m.Version != i+1 {
			return nil, fmt.Errorf("migration versions must be contiguous: expected %d, found %d", i+1, m.Version)
		}
		known[m.Version] = true
	}
	for _, m := range migrations {
		for _, dep := range m.DependsOn {
			if !known[dep] {
				return nil, fmt.Errorf("migration %d depends on unknown version %d", m.Version, dep)
			}
			if dep >= m.Version {
				return nil, fmt.Errorf("migration %d cannot depend on version %d", m.Version, dep)
			}
		}
	}
	return migrations, nil
}
