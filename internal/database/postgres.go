package database

import (
	"context"
	"fmt"
	"time"

	"github.com/drluca/shopstream/auditservice/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // The blank import is for the PostgreSQL driver
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	collection TEXT        NOT NULL,
	field      TEXT        NOT NULL,
	value      TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, field)
)`

// xmax is zero only for a freshly inserted row, so the upsert reports
// whether the field was new.
const upsertRecord = `
INSERT INTO audit_records (collection, field, value, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (collection, field) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
RETURNING (xmax = 0) AS inserted`

// DB is a PostgreSQL-backed audit store.
type DB struct {
	SQL *sqlx.DB
}

// New creates a new database connection pool and ensures the audit table exists.
func New(ctx context.Context, cfg config.Config) (*DB, error) {
	log.Info().Str("host", cfg.DBHost).Int("port", cfg.DBPort).Msg("Connecting to database...")
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	store := &DB{SQL: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Msg("Database connection successful.")
	return store, nil
}

// Migrate creates the audit table if missing.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.SQL.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("could not create audit_records table: %w", err)
	}
	return nil
}

// RecordField upserts one audit field.
func (db *DB) RecordField(ctx context.Context, collection, field, value string) (bool, error) {
	var inserted bool
	if err := db.SQL.GetContext(ctx, &inserted, upsertRecord, collection, field, value); err != nil {
		return false, fmt.Errorf("could not upsert %s[%s]: %w", collection, field, err)
	}
	return inserted, nil
}

// Close gracefully closes the database connection.
func (db *DB) Close() error {
	log.Info().Msg("Closing database connection.")
	return db.SQL.Close()
}
