package db

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors returned by the store. Callers match with errors.Is
// or the helpers below.
var (
	ErrNotFound   = errors.New("db: not found")
	ErrStaleState = errors.New("db: state transition not allowed")
)

// Config holds database connection configuration
type Config struct {
	Driver          string        `toml:"driver"`
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `toml:"conn_max_idle_time"`
	MigrationsDir   string        `toml:"migrations_dir"`
	SkipMigrations  bool          `toml:"skip_migrations"`
}

// DB is the persistent store behind the sync pipeline
type DB struct {
	*sql.DB
	driver string
}

// Tx is a transaction against the store
type Tx struct {
	*sql.Tx
	driver string
}

// Open connects and verifies the connection. Queue workers hit sqlite
// concurrently, so foreign keys and a busy timeout are enabled up front.
func Open(driver, dsn string) (*DB, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	if driver == "sqlite3" {
		for _, pragma := range []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA busy_timeout = 5000",
		} {
			if _, err := conn.Exec(pragma); err != nil {
				conn.Close()
				return nil, err
			}
		}
	}

	return &DB{DB: conn, driver: driver}, nil
}

// OpenWithConfig opens a connection and applies the pool settings.
// Zero values leave the sql.DB defaults alone.
func OpenWithConfig(cfg Config) (*DB, error) {
	db, err := Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return db, nil
}

// Queries are written with ? placeholders; rebind rewrites them to the
// $1..$n form postgres expects. Other drivers take ? natively.
func rebind(driver, query string) string {
	if driver != "postgres" || !strings.ContainsRune(query, '?') {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Exec runs a statement with driver-appropriate placeholders
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.DB.Exec(rebind(db.driver, query), args...)
}

// Query runs a query with driver-appropriate placeholders
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return db.DB.Query(rebind(db.driver, query), args...)
}

// QueryRow runs a single-row query with driver-appropriate placeholders
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	return db.DB.QueryRow(rebind(db.driver, query), args...)
}

// Exec runs a statement with driver-appropriate placeholders
func (tx *Tx) Exec(query string, args ...any) (sql.Result, error) {
	return tx.Tx.Exec(rebind(tx.driver, query), args...)
}

// QueryRow runs a single-row query with driver-appropriate placeholders
func (tx *Tx) QueryRow(query string, args ...any) *sql.Row {
	return tx.Tx.QueryRow(rebind(tx.driver, query), args...)
}

// Begin starts a transaction
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, driver: db.driver}, nil
}

// WithTransaction runs fn inside a transaction, committing on success
// and rolling back on error or panic
func (db *DB) WithTransaction(fn func(*Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// IsNotFound reports whether err means the row does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
