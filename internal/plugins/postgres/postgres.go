package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Khambazarov/hello-word-sub000/internal/config"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// New opens the account store. Postgres (pgx) in production, sqlite3 for
// local development and tests.
func New(ctx context.Context, cfg config.UsersConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Pool tuning
	if cfg.Driver == DriverSQLite {
		// every sqlite connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
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
	// Health check
	pingCtx := ctx
	if cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT UNIQUE NOT NULL,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	avatar TEXT,
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	volume INTEGER NOT NULL DEFAULT 50,
	language TEXT NOT NULL DEFAULT 'en',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`

// Migrate creates the account tables, adjusting column types per driver.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	query := schema
	if driver != DriverSQLite {
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMPTZ")
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("postgres: migrate users: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(driver, query string) string {
	if driver == DriverSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
