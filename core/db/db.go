package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// DB wraps a database/sql pool and provides transaction support.
// It serves as the main entry point for database operations.
type DB struct {
	pool   *sql.DB
	driver string
}

type Config struct {
	// Driver is "sqlite3" for the embedded single-file store or "pgx" for PostgreSQL.
	Driver string

	DSN string

	// Ignored for sqlite3, which always runs with a single connection.
	MaxConns int32
}

// New creates a new DB instance with the given configuration.
func New(ctx context.Context, cfg Config) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	dsn := cfg.DSN
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	pool, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// One writer for the embedded store; also keeps in-memory databases alive.
		pool.SetMaxOpenConns(1)
		pool.SetMaxIdleConns(1)
		pool.SetConnMaxLifetime(0)
	default:
		if cfg.MaxConns > 0 {
			pool.SetMaxOpenConns(int(cfg.MaxConns))
		} else {
			pool.SetMaxOpenConns(10)
		}
		pool.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool, driver: driver}, nil
}

func (db *DB) Close() error {
	return db.pool.Close()
}

// Driver reports the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Queries returns a new Queries instance for non-transactional operations.
func (db *DB) Queries() *Queries {
	return newQueries(db.pool, db.driver)
}

// WithTx executes the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
//
// Usage:
//
//	err := db.WithTx(ctx, func(q *db.Queries) error {
//	    stores := store.NewStores(q)
//	    if err := stores.Jobs().Create(ctx, job); err != nil { return err }
//	    return stores.JobExecutions().Create(ctx, exec)
//	})
func (db *DB) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := db.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	// Always attempt rollback on defer - it's a no-op if already committed
	defer tx.Rollback() //nolint:errcheck

	if err := fn(newQueries(tx, db.driver)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// sqliteDSN adds the pragmas the store relies on unless the caller set them.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "file:erp.db"
	}
	params := []string{"_busy_timeout=5000", "_foreign_keys=on"}
	if !strings.Contains(dsn, "mode=memory") && !strings.Contains(dsn, ":memory:") {
		params = append(params, "_journal_mode=WAL")
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range params {
		key := p[:strings.Index(p, "=")+1]
		if strings.Contains(dsn, key) {
			continue
		}
		dsn += sep + p
		sep = "&"
	}
	return dsn
}
